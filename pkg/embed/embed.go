// Package embed turns text into vectors through pluggable providers.
package embed

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/Protocol-Lattice/repochat/pkg/usage"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by providers that accept several inputs per
// request. The returned slice is aligned with texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// QueryEmbedder is implemented by providers that embed search queries
// differently from the documents they are matched against.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Query embeds a search query, preferring the provider's query mode.
func Query(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if q, ok := e.(QueryEmbedder); ok {
		return q.EmbedQuery(ctx, text)
	}
	return e.Embed(ctx, text)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// Config selects and tunes a provider.
type Config struct {
	Provider string
	Model    string
	// Dimensions only applies to the dummy provider.
	Dimensions int
}

// New builds the embedder named by cfg.Provider. Token usage reported by the
// provider is charged to acct when it is non-nil.
func New(ctx context.Context, cfg Config, acct *usage.Accountant) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		oe := NewOpenAIEmbedder(cfg.Model)
		oe.Accountant = acct
		e = oe
	case "google", "gemini", "vertex", "vertexai":
		var ge *GeminiEmbedder
		if ge, err = NewGeminiEmbedder(ctx, cfg.Model); err == nil {
			e = ge
		}
	case "ollama":
		var oe *OllamaEmbedder
		if oe, err = NewOllamaEmbedder(cfg.Model); err == nil {
			e = oe
		}
	case "voyage", "claude", "anthropic":
		var ve *VoyageEmbedder
		if ve, err = NewVoyageEmbedder(cfg.Model); err == nil {
			e = ve
		}
	case "fastembed":
		var fe *FastEmbedder
		if fe, err = NewFastEmbed(ctx, &FastEmbedOptions{Model: cfg.Model, CacheDir: ".fastembed"}); err == nil {
			e = fe
		}
	case "dummy":
		e = NewDummyEmbedder(cfg.Dimensions)
	default:
		err = fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EmbedAll embeds texts through the batch API when the provider has one and
// one call per text otherwise.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if b, ok := e.(BatchEmbedder); ok {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embed batch: got %d vectors for %d inputs", len(vecs), len(texts))
		}
		return vecs, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ---------- Dummy (offline) ----------

// DummyEmbedder hashes lower-cased word tokens into a fixed number of buckets
// and L2-normalises the result. Texts sharing words end up close together,
// which is enough for offline runs and tests.
type DummyEmbedder struct {
	Dim int
}

func NewDummyEmbedder(dim int) DummyEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return DummyEmbedder{Dim: dim}
}

func (d DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text, d.Dim), nil
}

func (d DummyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = DummyEmbedding(t, d.Dim)
	}
	return out, nil
}

// DummyEmbedding is the deterministic vector used by DummyEmbedder.
func DummyEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func f64toF32(v []float64) []float32 {
	r := make([]float32, len(v))
	for i, x := range v {
		r[i] = float32(x)
	}
	return r
}
