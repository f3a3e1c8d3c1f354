package embed

import (
	"context"
	"time"

	"github.com/Protocol-Lattice/repochat/pkg/cache"
)

// CachedEmbedder remembers the vectors of recently embedded texts. Repeated
// and condensed follow up questions then skip the provider round trip.
type CachedEmbedder struct {
	inner Embedder
	// Namespace separates providers or models sharing one process.
	namespace string
	cache     *cache.LRU[[]float32]
}

// NewCached wraps e with an LRU of size entries. A size below one disables
// caching and returns e unchanged.
func NewCached(e Embedder, namespace string, size int, ttl time.Duration) Embedder {
	if size < 1 || e == nil {
		return e
	}
	return &CachedEmbedder{inner: e, namespace: namespace, cache: cache.New[[]float32](size, ttl)}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.cached(ctx, cache.Key(c.namespace, text), text, c.inner.Embed)
}

// EmbedQuery caches query vectors apart from document vectors of the same text.
func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.cached(ctx, cache.Key(c.namespace, "query", text), text, func(ctx context.Context, text string) ([]float32, error) {
		return Query(ctx, c.inner, text)
	})
}

func (c *CachedEmbedder) cached(ctx context.Context, key, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	if v, ok := c.cache.Get(key); ok {
		return clone(v), nil
	}
	v, err := fn(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, clone(v))
	return v, nil
}

// EmbedBatch serves cached texts locally and sends the rest to the wrapped
// embedder in one call.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := c.cache.Get(cache.Key(c.namespace, t)); ok {
			out[i] = clone(v)
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := EmbedAll(ctx, c.inner, missing)
	if err != nil {
		return nil, err
	}
	for j, i := range missingIdx {
		out[i] = vecs[j]
		c.cache.Set(cache.Key(c.namespace, missing[j]), clone(vecs[j]))
	}
	return out, nil
}

// Unwrap returns the wrapped embedder.
func (c *CachedEmbedder) Unwrap() Embedder { return c.inner }

func clone(v []float32) []float32 { return append([]float32(nil), v...) }
