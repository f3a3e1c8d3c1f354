// Package pipeline wires the setup stages (acquire, load, chunk, index) and
// the chat stack built on top of the resulting index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/Protocol-Lattice/repochat/pkg/chat"
	"github.com/Protocol-Lattice/repochat/pkg/chunker"
	"github.com/Protocol-Lattice/repochat/pkg/config"
	"github.com/Protocol-Lattice/repochat/pkg/embed"
	"github.com/Protocol-Lattice/repochat/pkg/index"
	"github.com/Protocol-Lattice/repochat/pkg/loader"
	"github.com/Protocol-Lattice/repochat/pkg/memory"
	"github.com/Protocol-Lattice/repochat/pkg/models"
	"github.com/Protocol-Lattice/repochat/pkg/retriever"
	"github.com/Protocol-Lattice/repochat/pkg/source"
	"github.com/Protocol-Lattice/repochat/pkg/usage"
)

// Option customises a run.
type Option func(*runner)

type runner struct {
	cfg       *config.Config
	out       io.Writer
	logger    *log.Logger
	warn      *log.Logger
	embedder  embed.Embedder
	store     index.Store
	chatModel models.ChatModel
	fetchers  map[string]source.Fetcher
}

// WithOutput receives the setup usage report. Defaults to stdout.
func WithOutput(w io.Writer) Option { return func(r *runner) { r.out = w } }

// WithLogger sets the logger handed to every stage for progress messages.
func WithLogger(l *log.Logger) Option { return func(r *runner) { r.logger = l } }

// WithWarnLogger sets the logger used for skipped files.
func WithWarnLogger(l *log.Logger) Option { return func(r *runner) { r.warn = l } }

// WithEmbedder bypasses the configured embedding provider.
func WithEmbedder(e embed.Embedder) Option { return func(r *runner) { r.embedder = e } }

// WithStore bypasses the configured index backend.
func WithStore(s index.Store) Option { return func(r *runner) { r.store = s } }

// WithChatModel bypasses the configured chat provider. The model is still
// metered.
func WithChatModel(m models.ChatModel) Option { return func(r *runner) { r.chatModel = m } }

// WithFetcher registers a fetcher for remote codebases.
func WithFetcher(method string, f source.Fetcher) Option {
	return func(r *runner) { r.fetchers[method] = f }
}

func newRunner(cfg *config.Config, opts []Option) *runner {
	r := &runner{
		cfg:      cfg,
		out:      os.Stdout,
		logger:   log.New(io.Discard, "", 0),
		warn:     log.New(os.Stderr, "loader: ", log.LstdFlags),
		fetchers: map[string]source.Fetcher{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *runner) prefixed(prefix string) *log.Logger {
	return log.New(r.logger.Writer(), prefix, r.logger.Flags())
}

// Indexed is the outcome of the setup stages.
type Indexed struct {
	Root     string
	Report   loader.Report
	Chunks   int
	Stats    index.Stats
	Store    index.Store
	Embedder embed.Embedder
	// Usage is what embedding the codebase cost.
	Usage usage.Counters
}

// Close releases the store and, when it holds resources, the embedder.
func (ix *Indexed) Close() error {
	var errs []error
	if ix.Store != nil {
		errs = append(errs, ix.Store.Close())
	}
	if c, ok := ix.Embedder.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Index acquires, loads, chunks and embeds the configured codebase. The
// store is closed again when any stage fails.
func Index(ctx context.Context, cfg *config.Config, opts ...Option) (*Indexed, error) {
	return newRunner(cfg, opts).index(ctx)
}

func (r *runner) index(ctx context.Context) (*Indexed, error) {
	cfg := r.cfg
	srcOpts := []source.Option{source.WithLogger(r.prefixed("source: "))}
	for method, f := range r.fetchers {
		srcOpts = append(srcOpts, source.WithFetcher(method, f))
	}
	acq := source.New(source.Options{
		WorkDir: cfg.WorkDir,
		Method:  cfg.Acquire.Method,
		Ref:     cfg.Acquire.Ref,
		Depth:   cfg.Acquire.Depth,
	}, srcOpts...)
	root, err := acq.Acquire(ctx, cfg.Codebase)
	if err != nil {
		return nil, err
	}

	ld, err := loader.New(loader.Options{
		Suffixes:         cfg.Loader.Suffixes,
		Language:         cfg.Loader.Language,
		ParserThreshold:  cfg.Loader.ParserThreshold,
		Exclude:          cfg.Loader.Exclude,
		RespectGitignore: cfg.Loader.RespectGitignore,
		MaxFileBytes:     cfg.Loader.MaxFileBytes,
	}, loader.WithLogger(r.warn))
	if err != nil {
		return nil, err
	}
	docs, report, err := ld.Load(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", root, err)
	}
	r.logger.Printf("loaded %d documents from %d files (%d skipped)", len(docs), report.Files, report.Skipped)

	ch, err := chunker.New(chunker.Options{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
		Language:     cfg.Chunker.Language,
		Redact:       cfg.Chunker.Redact,
	})
	if err != nil {
		return nil, err
	}
	chunks := ch.Chunk(docs)
	r.logger.Printf("split into %d chunks", len(chunks))

	acct := usage.NewAccountant(cfg.Prices())
	emb := r.embedder
	if emb == nil {
		if emb, err = embed.New(ctx, embed.Config{
			Provider:   cfg.Embedder.Provider,
			Model:      cfg.Embedder.Model,
			Dimensions: cfg.Embedder.Dimensions,
		}, acct); err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
	}

	store := r.store
	if store == nil {
		if store, err = index.Open(ctx, cfg.Index.Config); err != nil {
			closeEmbedder(emb)
			return nil, fmt.Errorf("open index: %w", err)
		}
	}

	ixOpts := index.DefaultOptions()
	ixOpts.BatchSize = cfg.Embedder.BatchSize
	ixOpts.Workers = cfg.Embedder.Workers
	ixOpts.Retry.MaxAttempts = cfg.Embedder.MaxAttempts
	ixOpts.Reuse = cfg.Index.Reuse
	ixOpts.EmbedderID = fmt.Sprintf("%s/%s/%d", cfg.Embedder.Provider, cfg.Embedder.Model, cfg.Embedder.Dimensions)
	stats, err := index.NewIndexer(store, emb, ixOpts, index.WithLogger(r.prefixed("index: "))).Build(ctx, chunks)
	if err != nil {
		_ = store.Close()
		closeEmbedder(emb)
		return nil, err
	}

	return &Indexed{
		Root:     root,
		Report:   report,
		Chunks:   len(chunks),
		Stats:    stats,
		Store:    store,
		Embedder: emb,
		Usage:    acct.Totals(),
	}, nil
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func closeEmbedder(e embed.Embedder) {
	if c, ok := e.(io.Closer); ok {
		_ = c.Close()
	}
}

// Session is a ready-to-query chat stack over an index.
type Session struct {
	*Indexed
	Orchestrator *chat.Orchestrator
	Memory       *memory.ConversationMemory
	Retriever    *retriever.Retriever
	// Accountant collects the usage of every chat call made after setup.
	Accountant *usage.Accountant
}

// Setup indexes the codebase, reports what embedding cost, then builds the
// retriever, memory and orchestrator. Every chat call goes through one
// metered model so the session totals cover answers, condensation and
// summaries alike.
func Setup(ctx context.Context, cfg *config.Config, opts ...Option) (*Session, error) {
	r := newRunner(cfg, opts)
	ix, err := r.index(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(r.out, "Setting up codebase used %s\n", ix.Usage)

	s, err := r.chatStack(ctx, ix)
	if err != nil {
		_ = ix.Close()
		return nil, err
	}
	return s, nil
}

func (r *runner) chatStack(ctx context.Context, ix *Indexed) (*Session, error) {
	cfg := r.cfg
	acct := usage.NewAccountant(cfg.Prices())
	settings := models.Settings{Temperature: cfg.Chat.Temperature}

	base := r.chatModel
	if base == nil {
		m, err := models.NewLLMProvider(ctx, cfg.Chat.Provider, cfg.Chat.Model, settings)
		if err != nil {
			return nil, fmt.Errorf("chat model: %w", err)
		}
		base = m
	}
	model := usage.Meter(base, acct, cfg.Chat.Model)

	queries := embed.NewCached(ix.Embedder, cfg.Embedder.Provider+"/"+cfg.Embedder.Model, cfg.Embedder.QueryCache, 0)
	ret, err := retriever.New(ix.Store, queries, cfg.Retrieval, retriever.WithLogger(r.prefixed("retriever: ")))
	if err != nil {
		return nil, err
	}

	mem, err := memory.New(model, memory.Options{
		Strategy: cfg.Memory.Strategy,
		Timeout:  secs(cfg.Memory.TimeoutSecs),
	}, memory.WithLogger(r.prefixed("memory: ")))
	if err != nil {
		return nil, err
	}

	chatOpts := []chat.Option{chat.WithLogger(r.prefixed("chat: "))}
	if cfg.Chat.CondenseModel != "" && r.chatModel == nil {
		cm, err := models.NewLLMProvider(ctx, cfg.Chat.Provider, cfg.Chat.CondenseModel, settings)
		if err != nil {
			return nil, fmt.Errorf("condense model: %w", err)
		}
		chatOpts = append(chatOpts, chat.WithCondenser(usage.Meter(cm, acct, cfg.Chat.CondenseModel)))
	}
	orch, err := chat.New(model, ret, mem, chat.Options{
		SystemPrompt: cfg.Chat.SystemPrompt,
		Condense:     cfg.Chat.Condense,
		Timeout:      cfg.Chat.Timeout(),
	}, chatOpts...)
	if err != nil {
		return nil, err
	}

	return &Session{
		Indexed:      ix,
		Orchestrator: orch,
		Memory:       mem,
		Retriever:    ret,
		Accountant:   acct,
	}, nil
}
