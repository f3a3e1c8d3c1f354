package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload payload   `json:"payload"`
}

type qdrantPointResult struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload payload         `json:"payload"`
	Vector  []float32       `json:"vector"`
}

type qdrantCountResult struct {
	Count int `json:"count"`
}

// qdrantHTTPError carries the status of a failed call so callers can treat a
// missing collection as empty.
type qdrantHTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *qdrantHTTPError) Error() string {
	return fmt.Sprintf("qdrant %s %s -> http %d: %s", e.Method, e.URL, e.Status, e.Body)
}

func isNotFound(err error) bool {
	var he *qdrantHTTPError
	return errors.As(err, &he) && he.Status == http.StatusNotFound
}

// QdrantStore talks to Qdrant's REST API. The collection is created on the
// first upsert, sized to the first vector, with cosine distance.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client

	mu    sync.Mutex
	ready bool
}

// NewQdrantStore creates a Qdrant-backed Store.
func NewQdrantStore(baseURL, collection, apiKey string) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	if collection == "" {
		collection = "repochat"
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (qs *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + url.PathEscape(qs.collection) + suffix
}

func (qs *QdrantStore) ensureCollection(ctx context.Context, dim int) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if qs.ready {
		return nil
	}
	req := map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	}
	var env qdrantEnvelope[json.RawMessage]
	err := qs.do(ctx, http.MethodPut, qs.collectionPath(""), req, &env)
	if err != nil {
		var he *qdrantHTTPError
		if !errors.As(err, &he) || !strings.Contains(strings.ToLower(he.Body), "already exists") {
			return fmt.Errorf("create collection %s: %w", qs.collection, err)
		}
	}
	qs.ready = true
	return nil
}

func (qs *QdrantStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := qs.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		return err
	}
	points := make([]qdrantPoint, len(records))
	for i, r := range records {
		points[i] = qdrantPoint{ID: pointID(r.ID), Vector: r.Vector, Payload: toPayload(r)}
	}
	var env qdrantEnvelope[json.RawMessage]
	if err := qs.do(ctx, http.MethodPut, qs.collectionPath("/points?wait=true"), map[string]any{"points": points}, &env); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	if env.Status.Error != "" {
		return fmt.Errorf("qdrant upsert: %s", env.Status.Error)
	}
	return nil
}

func (qs *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if limit <= 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	var env qdrantEnvelope[[]qdrantPointResult]
	if err := qs.do(ctx, http.MethodPost, qs.collectionPath("/points/search"), req, &env); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	hits := make([]Hit, 0, len(env.Result))
	for _, pt := range env.Result {
		hits = append(hits, Hit{
			Record: Record{ID: pt.Payload.ID, Vector: pt.Vector, Chunk: pt.Payload.chunk()},
			Score:  pt.Score,
		})
	}
	return hits, nil
}

func (qs *QdrantStore) Count(ctx context.Context) (int, error) {
	var env qdrantEnvelope[qdrantCountResult]
	if err := qs.do(ctx, http.MethodPost, qs.collectionPath("/points/count"), map[string]any{"exact": true}, &env); err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return env.Result.Count, nil
}

// Reset drops the collection; the next upsert recreates it.
func (qs *QdrantStore) Reset(ctx context.Context) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	if err := qs.do(ctx, http.MethodDelete, qs.collectionPath(""), nil, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("qdrant reset: %w", err)
	}
	qs.ready = false
	return nil
}

func (qs *QdrantStore) Close() error { return nil }

func (qs *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	u := qs.baseURL + path

	var buf io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}
	resp, err := qs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if resp.StatusCode >= 400 {
		return &qdrantHTTPError{Method: method, URL: u, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}

// pointID maps a chunk id onto the UUID space Qdrant accepts.
func pointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("repochat:"+id)).String()
}

var _ Store = (*QdrantStore)(nil)
