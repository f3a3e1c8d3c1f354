//go:build !fastembed

package embed

import (
	"context"
	"errors"
)

var errNoFastEmbed = errors.New("fastembed support not included; rebuild with -tags fastembed")

type FastEmbedder struct{}

func NewFastEmbed(ctx context.Context, opt *FastEmbedOptions) (*FastEmbedder, error) {
	return nil, errNoFastEmbed
}

func (*FastEmbedder) Close() error { return nil }

func (*FastEmbedder) EmbedBatch(ctx context.Context, docs []string) ([][]float32, error) {
	return nil, errNoFastEmbed
}

func (*FastEmbedder) Embed(ctx context.Context, q string) ([]float32, error) {
	return nil, errNoFastEmbed
}
