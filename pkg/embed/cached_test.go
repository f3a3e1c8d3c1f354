package embed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedEmbedderSkipsRepeatedTexts(t *testing.T) {
	inner := &stubEmbedder{}
	e := NewCached(inner, "stub", 8, 0)
	ctx := context.Background()

	a, err := e.Embed(ctx, "where is main?")
	require.NoError(t, err)
	a[0] = 99 // callers may not corrupt the cached copy

	b, err := e.Embed(ctx, "where is main?")
	require.NoError(t, err)
	assert.Equal(t, []float32{14}, b)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedEmbedderBatchOnlySendsMisses(t *testing.T) {
	inner := &stubEmbedder{}
	e := NewCached(inner, "stub", 8, 0)
	ctx := context.Background()

	_, err := e.Embed(ctx, "bb")
	require.NoError(t, err)

	vecs, err := EmbedAll(ctx, e, []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
	assert.Equal(t, 3, inner.calls, "bb came from the cache")
}

func TestCachedEmbedderErrorsAreNotCached(t *testing.T) {
	inner := &stubEmbedder{err: errors.New("rate limited")}
	e := NewCached(inner, "stub", 8, 0)
	_, err := e.Embed(context.Background(), "q")
	require.Error(t, err)

	inner.err = nil
	v, err := e.Embed(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, v)
	assert.Equal(t, 2, inner.calls)
}

func TestNewCachedDisabled(t *testing.T) {
	inner := &stubEmbedder{}
	assert.Same(t, inner, NewCached(inner, "stub", 0, 0))
}

func TestCachedEmbedderKeepsQueriesApart(t *testing.T) {
	inner := &stubEmbedder{}
	e := NewCached(inner, "stub", 8, 0)
	ctx := context.Background()

	_, err := e.Embed(ctx, "main")
	require.NoError(t, err)
	_, err = Query(ctx, e, "main")
	require.NoError(t, err)
	_, err = Query(ctx, e, "main")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "one document and one query embedding")
}
