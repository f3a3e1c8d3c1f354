// Package retriever finds the indexed chunks most relevant to a question.
package retriever

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"strings"

	"github.com/Protocol-Lattice/repochat/pkg/embed"
	"github.com/Protocol-Lattice/repochat/pkg/index"
)

// Search strategies.
const (
	SearchMMR        = "mmr"
	SearchSimilarity = "similarity"
)

// Options tunes retrieval.
type Options struct {
	SearchType string `yaml:"search_type"`
	// K is the number of chunks returned.
	K int `yaml:"k"`
	// FetchK is the candidate pool MMR re-ranks.
	FetchK int `yaml:"fetch_k"`
	// Lambda trades relevance (1) against diversity (0).
	Lambda float64 `yaml:"lambda"`
}

// DefaultOptions returns MMR with k=8 over 20 candidates.
func DefaultOptions() Options {
	return Options{SearchType: SearchMMR, K: 8, FetchK: 20, Lambda: 0.5}
}

// Retriever embeds a query with the indexing embedder and searches the store.
type Retriever struct {
	store    index.Store
	embedder embed.Embedder
	opts     Options
	logger   *log.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger overrides the retriever's logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Retriever) {
		if l == nil {
			l = log.New(io.Discard, "", 0)
		}
		r.logger = l
	}
}

// New validates opts and fills unset fields from DefaultOptions.
func New(store index.Store, embedder embed.Embedder, opts Options, options ...Option) (*Retriever, error) {
	def := DefaultOptions()
	if opts.SearchType == "" {
		opts.SearchType = def.SearchType
	}
	opts.SearchType = strings.ToLower(opts.SearchType)
	if opts.SearchType != SearchMMR && opts.SearchType != SearchSimilarity {
		return nil, fmt.Errorf("retriever: unknown search type %q", opts.SearchType)
	}
	if opts.K <= 0 {
		opts.K = def.K
	}
	if opts.FetchK <= 0 {
		opts.FetchK = def.FetchK
	}
	if opts.FetchK < opts.K {
		opts.FetchK = opts.K
	}
	if opts.Lambda <= 0 || opts.Lambda > 1 {
		opts.Lambda = def.Lambda
	}
	r := &Retriever{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   log.New(os.Stderr, "retriever: ", log.LstdFlags),
	}
	for _, o := range options {
		o(r)
	}
	return r, nil
}

// Options returns the effective options.
func (r *Retriever) Options() Options { return r.opts }

// Retrieve returns at most K distinct chunks, most relevant first. A blank
// query yields no chunks and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]index.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := embed.Query(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetch := r.opts.K
	if r.opts.SearchType == SearchMMR {
		fetch = r.opts.FetchK
	}
	hits, err := r.store.Search(ctx, vec, fetch)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	hits = dedupe(hits)

	if r.opts.SearchType == SearchMMR {
		hits = mmrSelect(hits, r.opts.K, r.opts.Lambda)
	} else if len(hits) > r.opts.K {
		hits = hits[:r.opts.K]
	}
	r.logger.Printf("retrieved %d chunks (%s)", len(hits), r.opts.SearchType)
	return hits, nil
}

func dedupe(hits []index.Hit) []index.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if _, dup := seen[h.ID]; dup {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}

// mmrSelect picks limit hits greedily, scoring each candidate by
// lambda*relevance - (1-lambda)*max similarity to what is already picked.
// Relevance is the store's score for the query.
func mmrSelect(hits []index.Hit, limit int, lambda float64) []index.Hit {
	if limit >= len(hits) {
		out := make([]index.Hit, len(hits))
		copy(out, hits)
		return out
	}
	remaining := make([]index.Hit, len(hits))
	copy(remaining, hits)
	selected := make([]index.Hit, 0, limit)
	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			var maxSim float64
			if len(selected) > 0 {
				maxSim = math.Inf(-1)
				for _, sel := range selected {
					if sim := index.CosineSimilarity(cand.Vector, sel.Vector); sim > maxSim {
						maxSim = sim
					}
				}
			}
			score := lambda*cand.Score - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}
