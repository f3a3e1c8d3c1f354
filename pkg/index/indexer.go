package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
	"github.com/Protocol-Lattice/repochat/pkg/concurrent"
	"github.com/Protocol-Lattice/repochat/pkg/embed"
)

// RetryOptions controls how often a failed embedding batch is retried.
// MaxAttempts below 2 disables retries.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Jitter      time.Duration
}

// Options tunes an Indexer.
type Options struct {
	// BatchSize is the number of chunks sent per embedding request.
	BatchSize int
	// Workers bounds the number of embedding requests in flight.
	Workers int
	Retry   RetryOptions
	// Reuse skips the build when the store already holds the records of an
	// identical build: same embedder and same chunks.
	Reuse bool
	// EmbedderID names the embedding provider, model and dimensions. It is
	// part of the build fingerprint.
	EmbedderID string
}

// DefaultOptions embeds sequentially in batches of 64 with no retries.
func DefaultOptions() Options {
	return Options{BatchSize: 64, Workers: 1, Retry: RetryOptions{MaxAttempts: 1}}
}

// Stats summarises a build.
type Stats struct {
	Chunks   int
	Batches  int
	Reused   bool
	Duration time.Duration
}

// Indexer embeds chunks and writes them to a Store.
type Indexer struct {
	store    Store
	embedder embed.Embedder
	opts     Options
	logger   *log.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger overrides the progress logger.
func WithLogger(l *log.Logger) Option {
	return func(ix *Indexer) {
		if l == nil {
			l = log.New(io.Discard, "", 0)
		}
		ix.logger = l
	}
}

// NewIndexer wires a store and an embedder.
func NewIndexer(store Store, embedder embed.Embedder, opts Options, options ...Option) *Indexer {
	def := DefaultOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	ix := &Indexer{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   log.New(os.Stderr, "index: ", log.LstdFlags),
	}
	for _, o := range options {
		o(ix)
	}
	return ix
}

// Store returns the underlying store.
func (ix *Indexer) Store() Store { return ix.store }

// Build replaces the store contents with one record per chunk. On any failure
// the store is reset and an *IndexingError is returned.
func (ix *Indexer) Build(ctx context.Context, chunks []chunker.Chunk) (Stats, error) {
	start := time.Now()
	if ix.store == nil || ix.embedder == nil {
		return Stats{}, &IndexingError{Stage: StageValidate, Err: errors.New("indexer requires a store and an embedder")}
	}
	if err := checkUnique(chunks); err != nil {
		return Stats{}, &IndexingError{Stage: StageValidate, Err: err}
	}

	fp := Fingerprint(ix.opts.EmbedderID, chunks)
	if ix.opts.Reuse && ix.reusable(ctx, fp, len(chunks)) {
		ix.logger.Printf("reusing %d stored vectors", len(chunks))
		return Stats{Chunks: len(chunks), Reused: true, Duration: time.Since(start)}, nil
	}

	if err := ix.store.Reset(ctx); err != nil {
		return Stats{}, &IndexingError{Stage: StageReset, Err: err}
	}

	batches := batch(chunks, ix.opts.BatchSize)
	ix.logger.Printf("embedding %d chunks in %d batches (workers=%d)", len(chunks), len(batches), ix.opts.Workers)

	_, err := concurrent.ParallelMap(ctx, batches, func(ctx context.Context, b []chunker.Chunk) (struct{}, error) {
		records, err := ix.embedBatch(ctx, b)
		if err != nil {
			return struct{}{}, &IndexingError{Stage: StageEmbed, Err: err}
		}
		if err := ix.store.Upsert(ctx, records); err != nil {
			return struct{}{}, &IndexingError{Stage: StageStore, Err: err}
		}
		return struct{}{}, nil
	}, ix.opts.Workers)
	if err != nil {
		return Stats{}, ix.fail(err)
	}

	n, err := ix.store.Count(ctx)
	if err != nil {
		return Stats{}, ix.fail(&IndexingError{Stage: StageVerify, Err: err})
	}
	if n != len(chunks) {
		return Stats{}, ix.fail(&IndexingError{Stage: StageVerify, Err: fmt.Errorf("store holds %d vectors, expected %d", n, len(chunks))})
	}

	if f, ok := ix.store.(Fingerprinter); ok {
		if err := f.SetFingerprint(ctx, fp); err != nil {
			return Stats{}, ix.fail(&IndexingError{Stage: StageStore, Err: err})
		}
	}

	stats := Stats{Chunks: len(chunks), Batches: len(batches), Duration: time.Since(start)}
	ix.logger.Printf("indexed %d chunks in %s", stats.Chunks, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// reusable reports whether the store already holds exactly this build.
func (ix *Indexer) reusable(ctx context.Context, fp string, want int) bool {
	f, ok := ix.store.(Fingerprinter)
	if !ok {
		ix.logger.Printf("store cannot record what it was built from, rebuilding")
		return false
	}
	n, err := ix.store.Count(ctx)
	if err != nil || n == 0 {
		return false
	}
	stored, err := f.Fingerprint(ctx)
	if err != nil {
		ix.logger.Printf("reading stored fingerprint: %v", err)
		return false
	}
	if stored != fp || n != want {
		ix.logger.Printf("stored index was built from other chunks or another embedder, rebuilding")
		return false
	}
	return true
}

// Fingerprint identifies a build by embedder and chunk contents. Two builds
// with equal fingerprints produce the same records.
func Fingerprint(embedderID string, chunks []chunker.Chunk) string {
	h := sha256.New()
	io.WriteString(h, embedderID)
	h.Write([]byte{0})
	for _, c := range chunks {
		io.WriteString(h, c.ID)
		h.Write([]byte{0})
		io.WriteString(h, c.Text)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (ix *Indexer) fail(err error) error {
	var ie *IndexingError
	if !errors.As(err, &ie) {
		ie = &IndexingError{Stage: StageEmbed, Err: err}
	}
	// The caller's context may already be cancelled; the cleanup still has to run.
	cleanup, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if rerr := ix.store.Reset(cleanup); rerr != nil {
		ix.logger.Printf("reset after failed build: %v", rerr)
		ie.Err = errors.Join(ie.Err, fmt.Errorf("reset: %w", rerr))
	}
	return ie
}

func (ix *Indexer) embedBatch(ctx context.Context, chunks []chunker.Chunk) ([]Record, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	retry := ix.opts.Retry
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attempts++
		vecs, err := embed.EmbedAll(ctx, ix.embedder, texts)
		if err == nil {
			err = checkVectors(vecs, chunks)
		}
		if err == nil {
			records := make([]Record, len(chunks))
			for i, c := range chunks {
				records[i] = Record{ID: c.ID, Vector: vecs[i], Chunk: c}
			}
			return records, nil
		}
		if attempts >= retry.MaxAttempts {
			return nil, err
		}
		delay := retry.BaseDelay * time.Duration(attempts)
		if retry.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(retry.Jitter)))
		}
		ix.logger.Printf("embedding attempt %d failed, retrying in %s: %v", attempts, delay, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func checkVectors(vecs [][]float32, chunks []chunker.Chunk) error {
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding for chunk %s", chunks[i].ID)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("%w: chunk %s has %d dims, expected %d", ErrDimensionMismatch, chunks[i].ID, len(v), len(vecs[0]))
		}
	}
	return nil
}

func checkUnique(chunks []chunker.Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.ID == "" {
			return errors.New("chunk without id")
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate chunk id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}

func batch(chunks []chunker.Chunk, size int) [][]chunker.Chunk {
	var out [][]chunker.Chunk
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		out = append(out, chunks[start:end])
	}
	return out
}
