package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
	"github.com/Protocol-Lattice/repochat/pkg/embed"
)

var quiet = WithLogger(log.New(io.Discard, "", 0))

func testChunks(n int) []chunker.Chunk {
	out := make([]chunker.Chunk, n)
	for i := range out {
		out[i] = chunker.Chunk{
			ID:         fmt.Sprintf("file%d.py#0.0", i),
			Text:       fmt.Sprintf("def handler_%d(): return %d", i, i),
			SourcePath: fmt.Sprintf("file%d.py", i),
		}
	}
	return out
}

// failingEmbedder fails every call after the first ok calls.
type failingEmbedder struct {
	ok    int32
	calls atomic.Int32
}

func (f *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) > f.ok {
		return nil, errors.New("embedding service unavailable")
	}
	return embed.DummyEmbedding(text, 16), nil
}

// flakyEmbedder fails the first failures calls then recovers.
type flakyEmbedder struct {
	failures int32
	calls    atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("transient")
	}
	return embed.DummyEmbedding(text, 16), nil
}

func TestBuildIndexesEveryChunkOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	chunks := testChunks(10)
	ix := NewIndexer(store, embed.NewDummyEmbedder(32), Options{BatchSize: 3, Workers: 4}, quiet)

	stats, err := ix.Build(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.Chunks)
	assert.Equal(t, 4, stats.Batches)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	known := make(map[string]chunker.Chunk, len(chunks))
	for _, c := range chunks {
		known[c.ID] = c
	}
	hits, err := store.Search(ctx, embed.DummyEmbedding("handler", 32), 100)
	require.NoError(t, err)
	require.Len(t, hits, 10)
	for _, h := range hits {
		orig, ok := known[h.ID]
		require.True(t, ok, "indexed record %s has no source chunk", h.ID)
		assert.Equal(t, orig.Text, h.Chunk.Text)
		assert.Equal(t, orig.SourcePath, h.Chunk.SourcePath)
	}
}

func TestBuildReplacesPreviousContents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	ix := NewIndexer(store, embed.NewDummyEmbedder(8), DefaultOptions(), quiet)

	_, err := ix.Build(ctx, testChunks(5))
	require.NoError(t, err)
	_, err = ix.Build(ctx, testChunks(2))
	require.NoError(t, err)

	n, _ := store.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestBuildFailureLeavesNothingQueryable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	emb := &failingEmbedder{ok: 3}
	ix := NewIndexer(store, emb, Options{BatchSize: 2}, quiet)

	_, err := ix.Build(ctx, testChunks(8))
	require.Error(t, err)

	var ie *IndexingError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageEmbed, ie.Stage)
	assert.ErrorContains(t, err, "embedding service unavailable")

	n, _ := store.Count(ctx)
	assert.Zero(t, n)
	hits, err := store.Search(ctx, embed.DummyEmbedding("handler", 16), 8)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestBuildDoesNotRetryByDefault(t *testing.T) {
	emb := &flakyEmbedder{failures: 1}
	ix := NewIndexer(NewMemoryStore(), emb, Options{BatchSize: 10}, quiet)

	_, err := ix.Build(context.Background(), testChunks(1))
	require.Error(t, err)
	assert.EqualValues(t, 1, emb.calls.Load())
}

func TestBuildRetriesWhenConfigured(t *testing.T) {
	emb := &flakyEmbedder{failures: 2}
	ix := NewIndexer(NewMemoryStore(), emb, Options{
		BatchSize: 10,
		Retry:     RetryOptions{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}, quiet)

	stats, err := ix.Build(context.Background(), testChunks(1))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
	assert.EqualValues(t, 3, emb.calls.Load())
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	chunks := testChunks(3)
	chunks[2].ID = chunks[0].ID
	ix := NewIndexer(NewMemoryStore(), embed.NewDummyEmbedder(8), DefaultOptions(), quiet)

	_, err := ix.Build(context.Background(), chunks)
	var ie *IndexingError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageValidate, ie.Stage)
}

func TestBuildReusesIdenticalBuild(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	opts := Options{EmbedderID: "dummy//8"}
	_, err := NewIndexer(store, embed.NewDummyEmbedder(8), opts, quiet).Build(ctx, testChunks(4))
	require.NoError(t, err)

	emb := &failingEmbedder{ok: 0}
	opts.Reuse = true
	stats, err := NewIndexer(store, emb, opts, quiet).Build(ctx, testChunks(4))
	require.NoError(t, err)
	assert.True(t, stats.Reused)
	assert.Equal(t, 4, stats.Chunks)
	assert.Zero(t, emb.calls.Load())
}

func TestBuildRebuildsWhenFingerprintDiffers(t *testing.T) {
	edited := testChunks(3)
	edited[1].Text = "def handler_1(): return 'changed'"

	tests := []struct {
		name       string
		embedderID string
		dims       int
		chunks     []chunker.Chunk
	}{
		{"other chunks", "dummy//8", 8, testChunks(2)},
		{"edited chunk", "dummy//8", 8, edited},
		{"other model same dims", "openai/text-embedding-ada-002/8", 8, testChunks(3)},
		{"other dims", "dummy//16", 16, testChunks(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := NewMemoryStore()
			_, err := NewIndexer(store, embed.NewDummyEmbedder(8), Options{EmbedderID: "dummy//8"}, quiet).Build(ctx, testChunks(3))
			require.NoError(t, err)

			opts := Options{Reuse: true, EmbedderID: tt.embedderID}
			stats, err := NewIndexer(store, embed.NewDummyEmbedder(tt.dims), opts, quiet).Build(ctx, tt.chunks)
			require.NoError(t, err)
			assert.False(t, stats.Reused)
			assert.Equal(t, len(tt.chunks), stats.Chunks)

			n, err := store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, len(tt.chunks), n)
			hits, err := store.Search(ctx, embed.DummyEmbedding("query", tt.dims), 10)
			require.NoError(t, err, "queries use the new embedder's dimensions")
			assert.Len(t, hits, len(tt.chunks))
		})
	}
}

// plainStore hides the fingerprint methods of the memory store.
type plainStore struct{ Store }

func TestBuildNeverReusesStoreWithoutFingerprint(t *testing.T) {
	ctx := context.Background()
	store := plainStore{NewMemoryStore()}
	_, err := NewIndexer(store, embed.NewDummyEmbedder(8), DefaultOptions(), quiet).Build(ctx, testChunks(2))
	require.NoError(t, err)

	stats, err := NewIndexer(store, embed.NewDummyEmbedder(8), Options{Reuse: true}, quiet).Build(ctx, testChunks(2))
	require.NoError(t, err)
	assert.False(t, stats.Reused)
}

func TestFailedBuildLeavesNoFingerprint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := NewIndexer(store, embed.NewDummyEmbedder(16), Options{EmbedderID: "x"}, quiet).Build(ctx, testChunks(3))
	require.NoError(t, err)

	_, err = NewIndexer(store, &failingEmbedder{ok: 1}, Options{EmbedderID: "x", BatchSize: 1}, quiet).Build(ctx, testChunks(3))
	require.Error(t, err)
	fp, err := store.Fingerprint(ctx)
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("openai/text-embedding-3-small/0", testChunks(2))
	assert.Equal(t, a, Fingerprint("openai/text-embedding-3-small/0", testChunks(2)))
	assert.NotEqual(t, a, Fingerprint("openai/text-embedding-ada-002/0", testChunks(2)))
	assert.NotEqual(t, a, Fingerprint("openai/text-embedding-3-small/0", testChunks(3)))
	assert.Len(t, a, 64)
}

func TestBuildEmptyInput(t *testing.T) {
	stats, err := NewIndexer(NewMemoryStore(), embed.NewDummyEmbedder(8), DefaultOptions(), quiet).Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Chunks)
}

type brokenStore struct {
	*MemoryStore
	resets int
}

func (b *brokenStore) Upsert(context.Context, []Record) error { return errors.New("disk full") }

func (b *brokenStore) Reset(ctx context.Context) error {
	b.resets++
	return b.MemoryStore.Reset(ctx)
}

func TestBuildStoreFailure(t *testing.T) {
	store := &brokenStore{MemoryStore: NewMemoryStore()}
	ix := NewIndexer(store, embed.NewDummyEmbedder(8), DefaultOptions(), quiet)

	_, err := ix.Build(context.Background(), testChunks(2))
	var ie *IndexingError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, StageStore, ie.Stage)
	assert.Equal(t, 2, store.resets, "reset before the build and after the failure")
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
