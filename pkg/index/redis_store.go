package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// HNSW build parameters
	defaultEFConstruction = 200
	defaultM              = 16

	// Field names in the Redis hash
	fieldContent    = "content"
	fieldVector     = "vector"
	fieldSource     = "source_path"
	fieldChunkIndex = "chunk_index"
	fieldOffset     = "byte_offset"
	fieldMetadata   = "metadata"
	fieldID         = "chunk_id"
)

// RedisConfig holds connection and index settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	IndexName string
}

// RedisStore keeps chunks as hashes searched through a RediSearch HNSW index.
// The index is created on the first upsert, sized to the first vector.
type RedisStore struct {
	client    *redis.Client
	indexName string
	prefix    string
	idsKey    string
	metaKey   string

	mu    sync.Mutex
	ready bool
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.IndexName == "" {
		cfg.IndexName = "repochat"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		// FT.SEARCH replies are parsed in their RESP2 array form.
		Protocol: 2,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{
		client:    client,
		indexName: cfg.IndexName,
		prefix:    cfg.IndexName + ":chunk:",
		idsKey:    cfg.IndexName + ":ids",
		metaKey:   cfg.IndexName + ":fingerprint",
	}, nil
}

// ensureIndex creates the HNSW vector index if it doesn't exist.
func (s *RedisStore) ensureIndex(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if _, err := s.client.Do(ctx, "FT.INFO", s.indexName).Result(); err == nil {
		s.ready = true
		return nil
	}
	_, err := s.client.Do(ctx, "FT.CREATE", s.indexName,
		"ON", "HASH",
		"PREFIX", "1", s.prefix,
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", "COSINE",
		"EF_CONSTRUCTION", strconv.Itoa(defaultEFConstruction),
		"M", strconv.Itoa(defaultM),
		fieldContent, "TEXT",
		fieldSource, "TAG",
		fieldChunkIndex, "NUMERIC",
	).Result()
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	s.ready = true
	return nil
}

func (s *RedisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureIndex(ctx, len(records[0].Vector)); err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	for _, r := range records {
		md, err := marshalMetadata(r.Chunk.Metadata)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, s.prefix+r.ID,
			fieldID, r.ID,
			fieldContent, r.Chunk.Text,
			fieldVector, float32sToBytes(r.Vector),
			fieldSource, r.Chunk.SourcePath,
			fieldChunkIndex, r.Chunk.Index,
			fieldOffset, r.Chunk.Offset,
			fieldMetadata, md,
		)
		pipe.SAdd(ctx, s.idsKey, r.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf("*=>[KNN %d @%s $query_vector AS score]", limit, fieldVector)
	result, err := s.client.Do(ctx, "FT.SEARCH", s.indexName, query,
		"PARAMS", "2", "query_vector", float32sToBytes(vector),
		"SORTBY", "score",
		"LIMIT", "0", strconv.Itoa(limit),
		"DIALECT", "2",
	).Result()
	if err != nil {
		if isUnknownIndex(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return parseRedisSearch(result)
}

// parseRedisSearch reads the RESP2 reply: a total count followed by
// (key, [field, value, ...]) pairs.
func parseRedisSearch(result any) ([]Hit, error) {
	values, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected search reply %T", result)
	}
	var hits []Hit
	for i := 1; i+1 < len(values); i += 2 {
		fields, ok := values[i+1].([]any)
		if !ok {
			continue
		}
		m := make(map[string]string, len(fields)/2)
		for j := 0; j+1 < len(fields); j += 2 {
			k, _ := fields[j].(string)
			v, _ := fields[j+1].(string)
			m[k] = v
		}
		idx, _ := strconv.Atoi(m[fieldChunkIndex])
		off, _ := strconv.Atoi(m[fieldOffset])
		distance, err := strconv.ParseFloat(m["score"], 64)
		if err != nil {
			return nil, fmt.Errorf("parse score for %s: %w", m[fieldID], err)
		}
		p := payload{
			ID:         m[fieldID],
			Text:       m[fieldContent],
			SourcePath: m[fieldSource],
			Index:      idx,
			Offset:     off,
			Metadata:   unmarshalMetadata(m[fieldMetadata]),
		}
		hits = append(hits, Hit{
			Record: Record{ID: p.ID, Vector: bytesToFloat32s([]byte(m[fieldVector])), Chunk: p.chunk()},
			// RediSearch reports cosine distance.
			Score: 1 - distance,
		})
	}
	return hits, nil
}

func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.idsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return int(n), nil
}

// Reset drops the index together with its hashes.
func (s *RedisStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Do(ctx, "FT.DROPINDEX", s.indexName, "DD").Err(); err != nil && !isUnknownIndex(err) {
		return fmt.Errorf("redis reset: %w", err)
	}
	if err := s.client.Del(ctx, s.idsKey, s.metaKey).Err(); err != nil {
		return fmt.Errorf("redis reset: %w", err)
	}
	s.ready = false
	return nil
}

func (s *RedisStore) Fingerprint(ctx context.Context) (string, error) {
	fp, err := s.client.Get(ctx, s.metaKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis fingerprint: %w", err)
	}
	return fp, nil
}

func (s *RedisStore) SetFingerprint(ctx context.Context, fp string) error {
	if err := s.client.Set(ctx, s.metaKey, fp, 0).Err(); err != nil {
		return fmt.Errorf("redis set fingerprint: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

var (
	_ Store         = (*RedisStore)(nil)
	_ Fingerprinter = (*RedisStore)(nil)
)
