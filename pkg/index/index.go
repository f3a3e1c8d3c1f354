// Package index stores chunk embeddings and answers nearest-neighbour queries.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
)

// Record is one embedded chunk.
type Record struct {
	ID     string
	Vector []float32
	Chunk  chunker.Chunk
}

// Hit is a search result. Score is a cosine similarity, higher is closer.
type Hit struct {
	Record
	Score float64
}

// Store persists records and searches them by vector.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	// Search returns at most limit hits ordered by descending score. Returned
	// records carry their stored vectors.
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	// Reset removes every record.
	Reset(ctx context.Context) error
	Close() error
}

// Fingerprinter is implemented by stores that remember which build filled
// them. Reset clears the fingerprint. The indexer only reuses a populated
// store whose fingerprint matches the current build.
type Fingerprinter interface {
	// Fingerprint returns "" when none is stored.
	Fingerprint(ctx context.Context) (string, error)
	SetFingerprint(ctx context.Context, fp string) error
}

// ErrDimensionMismatch is returned when a vector does not match the store's
// dimensionality.
var ErrDimensionMismatch = errors.New("index: vector dimension mismatch")

// IndexingError reports a failed build. The store holds no records afterwards.
type IndexingError struct {
	Stage string
	Err   error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing failed during %s: %v", e.Stage, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// Indexing stages.
const (
	StageValidate = "validate"
	StageReset    = "reset"
	StageEmbed    = "embed"
	StageStore    = "store"
	StageVerify   = "verify"
)
