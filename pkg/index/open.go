package index

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendQdrant   = "qdrant"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendNeo4j    = "neo4j"
)

// Config selects and addresses a backend. Fields a backend does not use are
// ignored.
type Config struct {
	Backend string `yaml:"backend"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
	// URL is the connection string or base URL of a networked backend.
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	Database   string `yaml:"database"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	APIKey     string `yaml:"api_key"`
}

// Open connects to the configured backend. An empty backend selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = ".repochat/index.db"
		}
		s, err := NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendPostgres, "pgvector":
		s, err := NewPostgresStore(ctx, cfg.URL, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendQdrant:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("QDRANT_API_KEY")
		}
		return NewQdrantStore(cfg.URL, cfg.Collection, key), nil
	case BackendMongo, "mongodb":
		s, err := NewMongoStore(ctx, cfg.URL, cfg.Database, cfg.Collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(ctx, RedisConfig{
			Addr:      strings.TrimPrefix(cfg.URL, "redis://"),
			Password:  cfg.Password,
			IndexName: cfg.Collection,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendNeo4j:
		uri := cfg.URL
		if uri == "" {
			uri = "neo4j://localhost:7687"
		}
		driver, err := DialNeo4j(ctx, uri, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("neo4j connect: %w", err)
		}
		collection := cfg.Collection
		if collection == "" {
			collection = "RepochatChunk"
		}
		s, err := NewNeo4jStore(driver, cfg.Database, collection)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.Backend)
	}
}
