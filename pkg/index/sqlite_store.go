package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps vectors in a single SQLite file so an index survives
// restarts. Search is a full scan, which is fine at repository scale.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite store: creating directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite store: opening database: %w", err)
	}
	s := &SQLiteStore{db: db, path: path}
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS chunks (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	source_path TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	byte_offset INTEGER NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	embedding BLOB NOT NULL
)`
	const meta = `
CREATE TABLE IF NOT EXISTS index_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`
	for _, stmt := range []string{ddl, meta} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite store: creating schema: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (id, source_path, chunk_index, byte_offset, content, metadata, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source_path = excluded.source_path,
	chunk_index = excluded.chunk_index,
	byte_offset = excluded.byte_offset,
	content = excluded.content,
	metadata = excluded.metadata,
	embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("sqlite store: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		md, err := marshalMetadata(r.Chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Chunk.SourcePath, r.Chunk.Index, r.Chunk.Offset,
			r.Chunk.Text, md, float32sToBytes(r.Vector)); err != nil {
			return fmt.Errorf("sqlite store: insert %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite store: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, source_path, chunk_index, byte_offset, content, metadata, embedding
FROM chunks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			p    payload
			md   string
			blob []byte
		)
		if err := rows.Scan(&p.ID, &p.SourcePath, &p.Index, &p.Offset, &p.Text, &md, &blob); err != nil {
			return nil, fmt.Errorf("sqlite store: scan: %w", err)
		}
		vec := bytesToFloat32s(blob)
		if len(vec) != len(vector) {
			return nil, fmt.Errorf("%w: query has %d dims, stored %s has %d", ErrDimensionMismatch, len(vector), p.ID, len(vec))
		}
		p.Metadata = unmarshalMetadata(md)
		hits = append(hits, Hit{
			Record: Record{ID: p.ID, Vector: vec, Chunk: p.chunk()},
			Score:  CosineSimilarity(vector, vec),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: rows: %w", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite store: count: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	for _, stmt := range []string{`DELETE FROM chunks`, `DELETE FROM index_meta`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite store: reset: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Fingerprint(ctx context.Context) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'fingerprint'`).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite store: fingerprint: %w", err)
	}
	return fp, nil
}

func (s *SQLiteStore) SetFingerprint(ctx context.Context, fp string) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO index_meta (key, value) VALUES ('fingerprint', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fp); err != nil {
		return fmt.Errorf("sqlite store: set fingerprint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var (
	_ Store         = (*SQLiteStore)(nil)
	_ Fingerprinter = (*SQLiteStore)(nil)
)
