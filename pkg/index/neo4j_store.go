package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// ErrNeo4jUnavailable is returned when no driver is configured.
var ErrNeo4jUnavailable = errors.New("neo4j driver not configured")

// Neo4jStore keeps chunks as nodes with an embedding property served by a
// native vector index (Neo4j 5.11+).
type Neo4jStore struct {
	driver   neo4jDriver
	database string
	label    string
	index    string

	mu    sync.Mutex
	ready bool
	seq   int64
}

// NewNeo4jStore stores nodes labelled after collection in database.
func NewNeo4jStore(driver neo4jDriver, database, collection string) (*Neo4jStore, error) {
	if driver == nil {
		return nil, ErrNeo4jUnavailable
	}
	label := neo4jLabel(collection)
	return &Neo4jStore{
		driver:   driver,
		database: database,
		label:    label,
		index:    strings.ToLower(label) + "_embedding",
	}, nil
}

// neo4jLabel keeps letters, digits and underscores so the label can be
// formatted into Cypher safely.
func neo4jLabel(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || unicode.IsDigit([]rune(b.String())[0]) {
		return "RepochatChunk" + b.String()
	}
	return b.String()
}

func (s *Neo4jStore) run(ctx context.Context, mode Neo4jAccessMode, query string, params map[string]any, each func(neo4jRecord) error) error {
	session := s.driver.NewSession(ctx, Neo4jSessionConfig{AccessMode: mode, DatabaseName: s.database})
	defer session.Close(ctx)

	res, err := session.Run(ctx, query, params)
	if err != nil {
		return err
	}
	for res.Next(ctx) {
		if each == nil {
			continue
		}
		if err := each(res.Record()); err != nil {
			return err
		}
	}
	if err := res.Err(); err != nil {
		return err
	}
	return res.Consume(ctx)
}

func (s *Neo4jStore) ensureIndex(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	// Index options cannot be parameterised.
	query := fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (c:%s) ON (c.embedding) "+
		"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		s.index, s.label, dim)
	if err := s.run(ctx, AccessModeWrite, query, nil, nil); err != nil {
		return fmt.Errorf("neo4j create vector index: %w", err)
	}
	s.ready = true
	return nil
}

func (s *Neo4jStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureIndex(ctx, len(records[0].Vector)); err != nil {
		return err
	}
	s.mu.Lock()
	base := s.seq
	s.seq += int64(len(records))
	s.mu.Unlock()

	rows := make([]any, len(records))
	for i, r := range records {
		md, err := marshalMetadata(r.Chunk.Metadata)
		if err != nil {
			return err
		}
		rows[i] = map[string]any{
			"id":          r.ID,
			"seq":         base + int64(i),
			"source_path": r.Chunk.SourcePath,
			"chunk_index": int64(r.Chunk.Index),
			"byte_offset": int64(r.Chunk.Offset),
			"content":     r.Chunk.Text,
			"metadata":    md,
			"embedding":   float64Embedding(r.Vector),
		}
	}
	query := fmt.Sprintf(`UNWIND $rows AS row
MERGE (c:%s {id: row.id})
SET c.seq = row.seq, c.source_path = row.source_path, c.chunk_index = row.chunk_index,
    c.byte_offset = row.byte_offset, c.content = row.content, c.metadata = row.metadata,
    c.embedding = row.embedding`, s.label)
	if err := s.run(ctx, AccessModeWrite, query, map[string]any{"rows": rows}, nil); err != nil {
		return fmt.Errorf("neo4j upsert: %w", err)
	}
	return nil
}

func (s *Neo4jStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	const query = `CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score
RETURN node.id AS id, node.source_path AS source_path, node.chunk_index AS chunk_index,
       node.byte_offset AS byte_offset, node.content AS content, node.metadata AS metadata,
       node.embedding AS embedding, score
ORDER BY score DESC, node.seq ASC`
	params := map[string]any{"index": s.index, "k": int64(limit), "vector": float64Embedding(vector)}

	var hits []Hit
	err := s.run(ctx, AccessModeRead, query, params, func(rec neo4jRecord) error {
		p := payload{
			ID:         recordString(rec, "id"),
			SourcePath: recordString(rec, "source_path"),
			Index:      int(recordInt(rec, "chunk_index")),
			Offset:     int(recordInt(rec, "byte_offset")),
			Text:       recordString(rec, "content"),
			Metadata:   unmarshalMetadata(recordString(rec, "metadata")),
		}
		score, _ := recordValue(rec, "score").(float64)
		hits = append(hits, Hit{
			Record: Record{ID: p.ID, Vector: recordVector(rec, "embedding"), Chunk: p.chunk()},
			// queryNodes reports (1 + cosine) / 2.
			Score: 2*score - 1,
		})
		return nil
	})
	if err != nil {
		if isMissingNeo4jIndex(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("neo4j search: %w", err)
	}
	return hits, nil
}

func (s *Neo4jStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.run(ctx, AccessModeRead, fmt.Sprintf("MATCH (c:%s) RETURN count(c) AS n", s.label), nil, func(rec neo4jRecord) error {
		n = recordInt(rec, "n")
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("neo4j count: %w", err)
	}
	return int(n), nil
}

// Reset deletes every chunk node and drops the vector index.
func (s *Neo4jStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.run(ctx, AccessModeWrite, fmt.Sprintf("MATCH (c:%s) DETACH DELETE c", s.label), nil, nil); err != nil {
		return fmt.Errorf("neo4j reset: %w", err)
	}
	if err := s.run(ctx, AccessModeWrite, fmt.Sprintf("DROP INDEX %s IF EXISTS", s.index), nil, nil); err != nil {
		return fmt.Errorf("neo4j reset: %w", err)
	}
	if err := s.run(ctx, AccessModeWrite, "MATCH (m:RepochatIndexMeta {collection: $collection}) DELETE m",
		map[string]any{"collection": s.label}, nil); err != nil {
		return fmt.Errorf("neo4j reset: %w", err)
	}
	s.ready = false
	s.seq = 0
	return nil
}

func (s *Neo4jStore) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.run(ctx, AccessModeRead, "MATCH (m:RepochatIndexMeta {collection: $collection}) RETURN m.fingerprint AS fingerprint",
		map[string]any{"collection": s.label}, func(rec neo4jRecord) error {
			fp = recordString(rec, "fingerprint")
			return nil
		})
	if err != nil {
		return "", fmt.Errorf("neo4j fingerprint: %w", err)
	}
	return fp, nil
}

func (s *Neo4jStore) SetFingerprint(ctx context.Context, fp string) error {
	err := s.run(ctx, AccessModeWrite, "MERGE (m:RepochatIndexMeta {collection: $collection}) SET m.fingerprint = $fingerprint",
		map[string]any{"collection": s.label, "fingerprint": fp}, nil)
	if err != nil {
		return fmt.Errorf("neo4j set fingerprint: %w", err)
	}
	return nil
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func isMissingNeo4jIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such vector schema index") || strings.Contains(msg, "no such index")
}

func recordValue(rec neo4jRecord, key string) any {
	if rec == nil {
		return nil
	}
	v, _ := rec.Get(key)
	return v
}

func recordString(rec neo4jRecord, key string) string {
	s, _ := recordValue(rec, key).(string)
	return s
}

func recordInt(rec neo4jRecord, key string) int64 {
	switch v := recordValue(rec, key).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func recordVector(rec neo4jRecord, key string) []float32 {
	switch v := recordValue(rec, key).(type) {
	case []float64:
		return float32Embedding(v)
	case []any:
		out := make([]float32, 0, len(v))
		for _, x := range v {
			if f, ok := x.(float64); ok {
				out = append(out, float32(f))
			}
		}
		return out
	}
	return nil
}

var (
	_ Store         = (*Neo4jStore)(nil)
	_ Fingerprinter = (*Neo4jStore)(nil)
)
