// Package config holds the repochat configuration file format.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Protocol-Lattice/repochat/pkg/index"
	"github.com/Protocol-Lattice/repochat/pkg/memory"
	"github.com/Protocol-Lattice/repochat/pkg/retriever"
	"github.com/Protocol-Lattice/repochat/pkg/source"
	"github.com/Protocol-Lattice/repochat/pkg/usage"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "repochat.yaml"

// AcquireConfig controls how remote codebases are fetched.
type AcquireConfig struct {
	Method string `yaml:"method"`
	Ref    string `yaml:"ref"`
	Depth  int    `yaml:"depth"`
}

// LoaderConfig selects the files to index.
type LoaderConfig struct {
	Suffixes         []string `yaml:"suffixes"`
	Language         string   `yaml:"language"`
	ParserThreshold  int      `yaml:"parser_threshold"`
	Exclude          []string `yaml:"exclude,omitempty"`
	RespectGitignore bool     `yaml:"respect_gitignore"`
	MaxFileBytes     int64    `yaml:"max_file_bytes"`
}

// ChunkerConfig sizes chunks in runes.
type ChunkerConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Language     string `yaml:"language"`
	Redact       bool   `yaml:"redact"`
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	Dimensions  int    `yaml:"dimensions"`
	BatchSize   int    `yaml:"batch_size"`
	Workers     int    `yaml:"workers"`
	MaxAttempts int    `yaml:"max_attempts"`

	// QueryCache is the number of question embeddings kept in memory.
	QueryCache int `yaml:"query_cache"`
}

// IndexConfig selects the vector store.
type IndexConfig struct {
	index.Config `yaml:",inline"`
	// Reuse skips embedding when the store already holds chunks.
	Reuse bool `yaml:"reuse"`
}

// ChatConfig selects the answering model.
type ChatConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// CondenseModel rephrases follow ups. Empty reuses Model.
	CondenseModel string `yaml:"condense_model"`
	Condense      bool   `yaml:"condense"`
	SystemPrompt  string `yaml:"system_prompt"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	Markdown      bool   `yaml:"markdown"`
	ShowSources   bool   `yaml:"show_sources"`

	// Temperature overrides the provider default when set.
	Temperature *float32 `yaml:"temperature,omitempty"`
}

// Timeout returns the per call bound.
func (c ChatConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }

// MemoryConfig tunes the conversation summary.
type MemoryConfig struct {
	Strategy    string `yaml:"strategy"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// Config is the root configuration.
type Config struct {
	Codebase  string            `yaml:"codebase"`
	WorkDir   string            `yaml:"workdir"`
	Acquire   AcquireConfig     `yaml:"acquire"`
	Loader    LoaderConfig      `yaml:"loader"`
	Chunker   ChunkerConfig     `yaml:"chunker"`
	Embedder  EmbedderConfig    `yaml:"embedder"`
	Index     IndexConfig       `yaml:"index"`
	Chat      ChatConfig        `yaml:"chat"`
	Retrieval retriever.Options `yaml:"retrieval"`
	Memory    MemoryConfig      `yaml:"memory"`
	// Pricing overrides entries of the built-in price table (USD per 1K tokens).
	Pricing usage.Pricing `yaml:"pricing,omitempty"`
}

// Default returns the configuration used when no file exists: Python sources,
// OpenAI embeddings, an in-memory index and MMR retrieval of eight chunks.
func Default() *Config {
	return &Config{
		WorkDir: "./repo",
		Acquire: AcquireConfig{Method: source.MethodGit},
		Loader: LoaderConfig{
			Suffixes:         []string{".py"},
			Language:         "python",
			ParserThreshold:  500,
			RespectGitignore: true,
		},
		Chunker:  ChunkerConfig{ChunkSize: 2000, ChunkOverlap: 200},
		Embedder: EmbedderConfig{Provider: "openai", Model: "text-embedding-3-small", BatchSize: 64, Workers: 1, MaxAttempts: 1, QueryCache: 256},
		Index:    IndexConfig{Config: index.Config{Backend: index.BackendMemory, Collection: "repochat"}},
		Chat: ChatConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Condense:    true,
			TimeoutSecs: 120,
		},
		Retrieval: retriever.DefaultOptions(),
		Memory:    MemoryConfig{Strategy: memory.StrategyFull, TimeoutSecs: 120},
	}
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// applyDefaults fills fields a file left zero.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.WorkDir == "" {
		cfg.WorkDir = def.WorkDir
	}
	if cfg.Acquire.Method == "" {
		cfg.Acquire.Method = def.Acquire.Method
	}
	if len(cfg.Loader.Suffixes) == 0 {
		cfg.Loader.Suffixes = def.Loader.Suffixes
	}
	if cfg.Loader.Language == "" {
		cfg.Loader.Language = def.Loader.Language
	}
	if cfg.Loader.ParserThreshold <= 0 {
		cfg.Loader.ParserThreshold = def.Loader.ParserThreshold
	}
	if cfg.Chunker.ChunkSize <= 0 {
		cfg.Chunker.ChunkSize = def.Chunker.ChunkSize
	}
	if cfg.Embedder.Provider == "" {
		cfg.Embedder.Provider = def.Embedder.Provider
	}
	if cfg.Embedder.BatchSize <= 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Embedder.Workers <= 0 {
		cfg.Embedder.Workers = def.Embedder.Workers
	}
	if cfg.Embedder.MaxAttempts <= 0 {
		cfg.Embedder.MaxAttempts = def.Embedder.MaxAttempts
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = def.Index.Backend
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = def.Index.Collection
	}
	if cfg.Chat.Provider == "" {
		cfg.Chat.Provider = def.Chat.Provider
	}
	if cfg.Chat.Model == "" {
		cfg.Chat.Model = def.Chat.Model
	}
	if cfg.Chat.TimeoutSecs <= 0 {
		cfg.Chat.TimeoutSecs = def.Chat.TimeoutSecs
	}
	if cfg.Retrieval.SearchType == "" {
		cfg.Retrieval.SearchType = def.Retrieval.SearchType
	}
	if cfg.Retrieval.K <= 0 {
		cfg.Retrieval.K = def.Retrieval.K
	}
	if cfg.Retrieval.FetchK <= 0 {
		cfg.Retrieval.FetchK = def.Retrieval.FetchK
	}
	if cfg.Retrieval.Lambda == 0 {
		cfg.Retrieval.Lambda = def.Retrieval.Lambda
	}
	if cfg.Memory.Strategy == "" {
		cfg.Memory.Strategy = def.Memory.Strategy
	}
	if cfg.Memory.TimeoutSecs <= 0 {
		cfg.Memory.TimeoutSecs = def.Memory.TimeoutSecs
	}
}

// ApplyEnv overrides fields from REPOCHAT_* variables.
func (c *Config) ApplyEnv() error {
	str := map[string]*string{
		"REPOCHAT_CODEBASE":        &c.Codebase,
		"REPOCHAT_WORKDIR":         &c.WorkDir,
		"REPOCHAT_PROVIDER":        &c.Chat.Provider,
		"REPOCHAT_MODEL":           &c.Chat.Model,
		"REPOCHAT_EMBED_PROVIDER":  &c.Embedder.Provider,
		"REPOCHAT_EMBED_MODEL":     &c.Embedder.Model,
		"REPOCHAT_BACKEND":         &c.Index.Backend,
		"REPOCHAT_INDEX_URL":       &c.Index.URL,
		"REPOCHAT_INDEX_PATH":      &c.Index.Path,
		"REPOCHAT_COLLECTION":      &c.Index.Collection,
		"REPOCHAT_LANGUAGE":        &c.Loader.Language,
		"REPOCHAT_SEARCH_TYPE":     &c.Retrieval.SearchType,
		"REPOCHAT_MEMORY_STRATEGY": &c.Memory.Strategy,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v := strings.TrimSpace(os.Getenv("REPOCHAT_SUFFIXES")); v != "" {
		c.Loader.Suffixes = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("REPOCHAT_K")); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: REPOCHAT_K: %w", err)
		}
		c.Retrieval.K = k
	}
	if v := strings.TrimSpace(os.Getenv("REPOCHAT_TEMPERATURE")); v != "" {
		t, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return fmt.Errorf("config: REPOCHAT_TEMPERATURE: %w", err)
		}
		temp := float32(t)
		c.Chat.Temperature = &temp
	}
	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Codebase) == "" {
		return errors.New("config: codebase location is required")
	}
	if c.Chunker.ChunkSize <= 0 {
		return fmt.Errorf("config: chunk_size must be positive, got %d", c.Chunker.ChunkSize)
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		return fmt.Errorf("config: chunk_overlap %d must be in [0, chunk_size)", c.Chunker.ChunkOverlap)
	}
	if t := c.Chat.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("config: temperature %g must be in [0, 2]", *t)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("config: retrieval k must be positive, got %d", c.Retrieval.K)
	}
	switch c.Retrieval.SearchType {
	case retriever.SearchMMR, retriever.SearchSimilarity:
	default:
		return fmt.Errorf("config: unknown search_type %q", c.Retrieval.SearchType)
	}
	switch c.Memory.Strategy {
	case memory.StrategyFull, memory.StrategyIncremental:
	default:
		return fmt.Errorf("config: unknown memory strategy %q", c.Memory.Strategy)
	}
	switch c.Acquire.Method {
	case source.MethodGit, source.MethodArchive:
	default:
		return fmt.Errorf("config: unknown acquire method %q", c.Acquire.Method)
	}
	switch strings.ToLower(c.Index.Backend) {
	case index.BackendMemory, index.BackendSQLite, index.BackendPostgres, "pgvector",
		index.BackendQdrant, index.BackendMongo, "mongodb", index.BackendRedis, index.BackendNeo4j:
	default:
		return fmt.Errorf("config: unknown index backend %q", c.Index.Backend)
	}
	return nil
}

// Prices merges the configured overrides onto the built-in table.
func (c *Config) Prices() usage.Pricing {
	return usage.DefaultPricing.Merge(c.Pricing)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
