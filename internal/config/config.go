// Package config provides unified configuration loading for the RAG core.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the RAG core.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Cache         CacheConfig         `yaml:"cache"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Generation    GenerationConfig    `yaml:"generation"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Evaluator     EvaluatorConfig     `yaml:"evaluator"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds relational store settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// VectorConfig holds vector store settings.
type VectorConfig struct {
	Adapter  string         `yaml:"adapter"` // memory or pgvector
	PGVector PGVectorConfig `yaml:"pgvector"`
}

// PGVectorConfig holds pgvector-specific settings.
type PGVectorConfig struct {
	DSN       string `yaml:"dsn"` // falls back to database.postgres.dsn
	IndexType string `yaml:"index_type"`
	Lists     int    `yaml:"lists"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// EmbeddingConfig holds the default embedding provider settings.
// A knowledge base pins its own provider/model/dimension at creation time.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"` // hash or openai
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// GenerationConfig holds model-provider settings for answer generation.
type GenerationConfig struct {
	Provider      string        `yaml:"provider"` // mock or openai
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	PromptName    string        `yaml:"prompt_name"`
	PromptVersion string        `yaml:"prompt_version"`
}

// RetrievalConfig holds hybrid retrieval defaults. Every knob can be
// overridden per request through the chat context.
type RetrievalConfig struct {
	KeywordTopK             int     `yaml:"keyword_top_k"`
	VectorTopK              int     `yaml:"vector_top_k"`
	FusionTopK              int     `yaml:"fusion_top_k"`
	RerankTopK              int     `yaml:"rerank_top_k"`
	FusionStrategy          string  `yaml:"fusion_strategy"` // union, rrf, weighted
	RerankStrategy          string  `yaml:"rerank_strategy"` // none, cross_encoder, llm
	RRFK                    int     `yaml:"rrf_k"`
	KeywordWeight           float64 `yaml:"keyword_weight"`
	VectorWeight            float64 `yaml:"vector_weight"`
	RerankEndpoint          string  `yaml:"rerank_endpoint"`
	RerankModel             string  `yaml:"rerank_model"`
	CacheQueryEmbeddings    bool    `yaml:"cache_query_embeddings"`
	PersistIntermediateHits bool    `yaml:"persist_intermediate_hits"`
}

// IngestionConfig holds ingest pipeline settings.
type IngestionConfig struct {
	SentenceWindow     int `yaml:"sentence_window"`
	MinNodeChars       int `yaml:"min_node_chars"`
	EmbeddingBatchSize int `yaml:"embedding_batch_size"`
}

// EvaluatorConfig holds deterministic evaluation defaults.
type EvaluatorConfig struct {
	RequireCitations      bool    `yaml:"require_citations" json:"require_citations"`
	CoverageWarnThreshold float64 `yaml:"coverage_warn_threshold" json:"coverage_warn_threshold"`
	CoverageFailThreshold float64 `yaml:"coverage_fail_threshold" json:"coverage_fail_threshold"`
	MinAnswerChars        int     `yaml:"min_answer_chars" json:"min_answer_chars"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "/tmp/rag-core.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Vector: VectorConfig{
			Adapter: "memory",
			PGVector: PGVectorConfig{
				IndexType: "ivfflat",
				Lists:     100,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        5 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Embedding: EmbeddingConfig{
			Provider:  "hash",
			Model:     "hash-64",
			Dimension: 64,
			BatchSize: 64,
			Timeout:   30 * time.Second,
		},
		Generation: GenerationConfig{
			Provider:      "mock",
			Model:         "mock-chat",
			Temperature:   0.0,
			MaxTokens:     1024,
			Timeout:       60 * time.Second,
			PromptName:    "legal_qa",
			PromptVersion: "v1",
		},
		Retrieval: RetrievalConfig{
			KeywordTopK:          10,
			VectorTopK:           10,
			FusionTopK:           8,
			RerankTopK:           8,
			FusionStrategy:       "rrf",
			RerankStrategy:       "none",
			RRFK:                 60,
			KeywordWeight:        0.5,
			VectorWeight:         0.5,
			CacheQueryEmbeddings: true,
		},
		Ingestion: IngestionConfig{
			SentenceWindow:     2,
			MinNodeChars:       16,
			EmbeddingBatchSize: 64,
		},
		Evaluator: EvaluatorConfig{
			RequireCitations:      true,
			CoverageWarnThreshold: 0.6,
			CoverageFailThreshold: 0.2,
			MinAnswerChars:        20,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "debug",
			LogFormat:   "json",
			ServiceName: "rag-core",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Vector.Adapter != "memory" && c.Vector.Adapter != "pgvector" {
		return fmt.Errorf("invalid vector adapter: %s", c.Vector.Adapter)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	switch c.Retrieval.FusionStrategy {
	case "union", "rrf", "weighted":
	default:
		return fmt.Errorf("invalid fusion strategy: %s", c.Retrieval.FusionStrategy)
	}

	switch c.Retrieval.RerankStrategy {
	case "none", "cross_encoder", "llm":
	default:
		return fmt.Errorf("invalid rerank strategy: %s", c.Retrieval.RerankStrategy)
	}

	if c.Retrieval.RRFK < 1 {
		return fmt.Errorf("rrf_k must be positive")
	}

	if c.Evaluator.CoverageFailThreshold > c.Evaluator.CoverageWarnThreshold {
		return fmt.Errorf("coverage_fail_threshold must not exceed coverage_warn_threshold")
	}

	if c.Ingestion.SentenceWindow < 1 {
		return fmt.Errorf("sentence_window must be at least 1")
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// PGVectorDSN returns the pgvector connection string, falling back to the
// relational Postgres DSN when not set separately.
func (c *Config) PGVectorDSN() string {
	if c.Vector.PGVector.DSN != "" {
		return c.Vector.PGVector.DSN
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("VECTOR_ADAPTER"); v != "" {
		cfg.Vector.Adapter = v
	}

	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	if v := os.Getenv("EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	if v := os.Getenv("GENERATION_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}

	if v := os.Getenv("GENERATION_MODEL"); v != "" {
		cfg.Generation.Model = v
	}

	if v := os.Getenv("GENERATION_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	}

	if v := os.Getenv("GENERATION_BASE_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
