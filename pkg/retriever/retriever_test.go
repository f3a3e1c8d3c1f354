package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
	"github.com/Protocol-Lattice/repochat/pkg/embed"
	"github.com/Protocol-Lattice/repochat/pkg/index"
)

var quiet = WithLogger(log.New(io.Discard, "", 0))

func buildIndex(t *testing.T, texts ...string) (index.Store, embed.Embedder) {
	t.Helper()
	emb := embed.NewDummyEmbedder(64)
	store := index.NewMemoryStore()
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{ID: fmt.Sprintf("c%d", i), Text: text, SourcePath: fmt.Sprintf("f%d.py", i)}
	}
	_, err := index.NewIndexer(store, emb, index.DefaultOptions(), index.WithLogger(log.New(io.Discard, "", 0))).
		Build(context.Background(), chunks)
	require.NoError(t, err)
	return store, emb
}

func corpus(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("def parse_config_%d(path): load yaml file %d", i, i)
	}
	return out
}

func ids(hits []index.Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestRetrieveReturnsMinKN(t *testing.T) {
	for _, n := range []int{0, 1, 5, 8, 9, 30} {
		for _, st := range []string{SearchMMR, SearchSimilarity} {
			t.Run(fmt.Sprintf("%s/%d", st, n), func(t *testing.T) {
				store, emb := buildIndex(t, corpus(n)...)
				r, err := New(store, emb, Options{SearchType: st, K: 8}, quiet)
				require.NoError(t, err)

				hits, err := r.Retrieve(context.Background(), "how is the config file parsed?")
				require.NoError(t, err)
				assert.Len(t, hits, min(8, n))

				seen := map[string]bool{}
				for _, h := range hits {
					assert.False(t, seen[h.ID], "duplicate %s", h.ID)
					seen[h.ID] = true
					assert.NotEmpty(t, h.Chunk.Text)
				}
			})
		}
	}
}

func TestRetrieveBlankQuery(t *testing.T) {
	store, emb := buildIndex(t, corpus(3)...)
	r, err := New(store, emb, DefaultOptions(), quiet)
	require.NoError(t, err)

	for _, q := range []string{"", "   ", "\n\t"} {
		hits, err := r.Retrieve(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, hits)
	}
}

func TestRetrieveIsRepeatable(t *testing.T) {
	store, emb := buildIndex(t, corpus(25)...)
	r, err := New(store, emb, DefaultOptions(), quiet)
	require.NoError(t, err)

	first, err := r.Retrieve(context.Background(), "where is parse_config_3 defined")
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "where is parse_config_3 defined")
	require.NoError(t, err)
	assert.Equal(t, ids(first), ids(second))
}

func TestSimilarityPutsBestMatchFirst(t *testing.T) {
	store, emb := buildIndex(t, "func main() { serve http }", "class Parser: tokenize grammar", "README install steps")
	r, err := New(store, emb, Options{SearchType: SearchSimilarity, K: 2}, quiet)
	require.NoError(t, err)

	hits, err := r.Retrieve(context.Background(), "tokenize grammar parser")
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ID)
}

func TestMMRPrefersDiversity(t *testing.T) {
	hits := []index.Hit{
		{Record: index.Record{ID: "a", Vector: []float32{1, 0}}, Score: 0.99},
		{Record: index.Record{ID: "a-copy", Vector: []float32{1, 0}}, Score: 0.98},
		{Record: index.Record{ID: "b", Vector: []float32{0, 1}}, Score: 0.60},
	}
	got := mmrSelect(hits, 2, 0.5)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	// Pure relevance ignores redundancy.
	got = mmrSelect(hits, 2, 1)
	assert.Equal(t, []string{"a", "a-copy"}, ids(got))
}

func TestDedupe(t *testing.T) {
	hits := []index.Hit{{Record: index.Record{ID: "x"}}, {Record: index.Record{ID: "y"}}, {Record: index.Record{ID: "x"}}}
	assert.Equal(t, []string{"x", "y"}, ids(dedupe(hits)))
}

func TestNewRejectsUnknownSearchType(t *testing.T) {
	_, err := New(index.NewMemoryStore(), embed.NewDummyEmbedder(4), Options{SearchType: "bm25"})
	assert.Error(t, err)
}

func TestNewFillsDefaults(t *testing.T) {
	r, err := New(index.NewMemoryStore(), embed.NewDummyEmbedder(4), Options{K: 30}, quiet)
	require.NoError(t, err)
	opts := r.Options()
	assert.Equal(t, SearchMMR, opts.SearchType)
	assert.Equal(t, 30, opts.K)
	assert.Equal(t, 30, opts.FetchK)
	assert.Equal(t, 0.5, opts.Lambda)
}

type errEmbedder struct{}

func (errEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

func TestRetrieveEmbedFailure(t *testing.T) {
	r, err := New(index.NewMemoryStore(), errEmbedder{}, DefaultOptions(), quiet)
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "anything")
	assert.ErrorContains(t, err, "quota exceeded")
}
