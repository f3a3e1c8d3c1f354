package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Protocol-Lattice/repochat/pkg/chunker"
)

// MemoryStore keeps records in process. It is the default backend and lives
// only as long as the session.
type MemoryStore struct {
	mu          sync.RWMutex
	dim         int
	order       []string
	records     map[string]Record
	fingerprint string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Upsert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]Record)
	}
	for _, r := range records {
		if s.dim == 0 {
			s.dim = len(r.Vector)
		}
		if len(r.Vector) != s.dim {
			return fmt.Errorf("%w: %s has %d dims, store has %d", ErrDimensionMismatch, r.ID, len(r.Vector), s.dim)
		}
		if _, ok := s.records[r.ID]; !ok {
			s.order = append(s.order, r.ID)
		}
		r.Vector = append([]float32(nil), r.Vector...)
		r.Chunk = cloneChunk(r.Chunk)
		s.records[r.ID] = r
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, limit int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || len(s.order) == 0 {
		return nil, nil
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dims, store has %d", ErrDimensionMismatch, len(vector), s.dim)
	}
	hits := make([]Hit, 0, len(s.order))
	for _, id := range s.order {
		rec := s.records[id]
		hits = append(hits, Hit{Record: rec, Score: CosineSimilarity(vector, rec.Vector)})
	}
	// Stable keeps insertion order between equal scores so repeated queries agree.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Record)
	s.order = nil
	s.dim = 0
	s.fingerprint = ""
	return nil
}

func (s *MemoryStore) Fingerprint(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint, nil
}

func (s *MemoryStore) SetFingerprint(_ context.Context, fp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fp
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneChunk(c chunker.Chunk) chunker.Chunk {
	if c.Metadata != nil {
		md := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			md[k] = v
		}
		c.Metadata = md
	}
	return c
}

var (
	_ Store         = (*MemoryStore)(nil)
	_ Fingerprinter = (*MemoryStore)(nil)
)
