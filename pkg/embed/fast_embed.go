//go:build fastembed

package embed

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	fastembed "github.com/anush008/fastembed-go"
)

type FastEmbedder struct {
	m  *fastembed.FlagEmbedding
	bs int
}

func NewFastEmbed(ctx context.Context, opt *FastEmbedOptions) (*FastEmbedder, error) {
	init := &fastembed.InitOptions{Model: fastembed.BGESmallENV15}
	if opt != nil {
		if opt.Model != "" {
			init.Model = fastembed.EmbeddingModel(opt.Model)
		}
		init.CacheDir = opt.CacheDir
		init.MaxLength = opt.MaxLength
	}
	m, err := fastembed.NewFlagEmbedding(init)
	if err != nil {
		return nil, fmt.Errorf("fastembed init: %w", err)
	}
	// Batch heuristic: keep it modest for desktop CPUs
	bs := 64
	if opt != nil && opt.BatchSize > 0 {
		bs = opt.BatchSize
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	return &FastEmbedder{m: m, bs: bs}, nil
}

func (e *FastEmbedder) Close() error {
	if e.m != nil {
		e.m.Destroy()
	}
	return nil
}

// EmbedBatch embeds passages, adding the "passage: " prefix the BGE models expect.
func (e *FastEmbedder) EmbedBatch(ctx context.Context, docs []string) ([][]float32, error) {
	inputs := make([]string, len(docs))
	for i, d := range docs {
		if strings.HasPrefix(d, "passage:") {
			inputs[i] = d
		} else {
			inputs[i] = "passage: " + d
		}
	}
	out, err := e.m.PassageEmbed(inputs, e.bs)
	if err != nil {
		return nil, fmt.Errorf("passage embed: %w", err)
	}
	return out, nil
}

// Embed embeds a single query string.
func (e *FastEmbedder) Embed(ctx context.Context, q string) ([]float32, error) {
	return e.m.QueryEmbed(q)
}
