package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps vectors in a pgvector column and lets the server rank
// them by cosine distance.
type PostgresStore struct {
	DB    *pgxpool.Pool
	table string
	name  string
}

// NewPostgresStore connects to Postgres and makes sure the pgvector extension
// and the chunk table exist.
func NewPostgresStore(ctx context.Context, connStr, table string) (*PostgresStore, error) {
	if table == "" {
		table = "repochat_chunks"
	}
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	ps := &PostgresStore{DB: db, table: pgx.Identifier{table}.Sanitize(), name: table}
	if err := ps.CreateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return ps, nil
}

// CreateSchema ensures pgvector and the chunk table are available.
func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %s (
	seq BIGSERIAL,
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	byte_offset INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	embedding vector NOT NULL
);
CREATE TABLE IF NOT EXISTS repochat_index_meta (
	collection TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL
);`, ps.table)
	if _, err := ps.DB.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, source_path, chunk_index, byte_offset, content, metadata, embedding)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::vector)
ON CONFLICT (id) DO UPDATE SET
	source_path = EXCLUDED.source_path,
	chunk_index = EXCLUDED.chunk_index,
	byte_offset = EXCLUDED.byte_offset,
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	embedding = EXCLUDED.embedding`, ps.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		md, err := marshalMetadata(r.Chunk.Metadata)
		if err != nil {
			return err
		}
		batch.Queue(query, r.ID, r.Chunk.SourcePath, r.Chunk.Index, r.Chunk.Offset, r.Chunk.Text, md, vectorLiteral(r.Vector))
	}
	br := ps.DB.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres upsert %s: %w", r.ID, err)
		}
	}
	return nil
}

func (ps *PostgresStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`
SELECT id, source_path, chunk_index, byte_offset, content, metadata::text, embedding::text,
	1 - (embedding <=> $1::vector) AS score
FROM %s
ORDER BY embedding <=> $1::vector, seq
LIMIT $2`, ps.table)
	rows, err := ps.DB.Query(ctx, query, vectorLiteral(vector), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			p         payload
			md, vtext string
			score     float64
		)
		if err := rows.Scan(&p.ID, &p.SourcePath, &p.Index, &p.Offset, &p.Text, &md, &vtext, &score); err != nil {
			return nil, fmt.Errorf("postgres search: scan: %w", err)
		}
		vec, err := parseVector(vtext)
		if err != nil {
			return nil, err
		}
		p.Metadata = unmarshalMetadata(md)
		hits = append(hits, Hit{Record: Record{ID: p.ID, Vector: vec, Chunk: p.chunk()}, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres search: %w", err)
	}
	return hits, nil
}

func (ps *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := ps.DB.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, ps.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

func (ps *PostgresStore) Reset(ctx context.Context) error {
	if _, err := ps.DB.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, ps.table)); err != nil {
		return fmt.Errorf("postgres reset: %w", err)
	}
	if _, err := ps.DB.Exec(ctx, `DELETE FROM repochat_index_meta WHERE collection = $1`, ps.name); err != nil {
		return fmt.Errorf("postgres reset: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := ps.DB.QueryRow(ctx, `SELECT fingerprint FROM repochat_index_meta WHERE collection = $1`, ps.name).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres fingerprint: %w", err)
	}
	return fp, nil
}

func (ps *PostgresStore) SetFingerprint(ctx context.Context, fp string) error {
	if _, err := ps.DB.Exec(ctx, `
INSERT INTO repochat_index_meta (collection, fingerprint) VALUES ($1, $2)
ON CONFLICT (collection) DO UPDATE SET fingerprint = EXCLUDED.fingerprint`, ps.name, fp); err != nil {
		return fmt.Errorf("postgres set fingerprint: %w", err)
	}
	return nil
}

// Close releases the underlying Postgres connection pool.
func (ps *PostgresStore) Close() error {
	if ps == nil || ps.DB == nil {
		return nil
	}
	ps.DB.Close()
	return nil
}

// vectorLiteral renders v in pgvector's text format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

var (
	_ Store         = (*PostgresStore)(nil)
	_ Fingerprinter = (*PostgresStore)(nil)
)
