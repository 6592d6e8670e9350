// Package config loads the engine configuration from YAML files and
// environment variables, validates it, and optionally hot-reloads it in
// development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	appErrors "github.com/dreamsoft-pro/RAE-agentic-memory-sub001/pkg/errors"
)

// Environment names a deployment tier.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// StorageBackend selects the record store implementation.
type StorageBackend string

const (
	StorageMemory   StorageBackend = "memory"
	StoragePostgres StorageBackend = "postgres"
)

// VectorBackend selects the vector store implementation.
type VectorBackend string

const (
	VectorMemory VectorBackend = "memory"
	VectorPg     VectorBackend = "pgvector"
	VectorSqlite VectorBackend = "sqlite"
)

// Config is the full engine configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Vector    VectorConfig    `yaml:"vector"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Workers   WorkersConfig   `yaml:"workers"`

	// LoadedFrom records which sources contributed, for startup logging.
	LoadedFrom []string `yaml:"-"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend" validate:"required,oneof=memory postgres"`
	DSN     string         `yaml:"dsn"`
}

// VectorConfig selects and configures the vector store.
type VectorConfig struct {
	Backend   VectorBackend `yaml:"backend" validate:"required,oneof=memory pgvector sqlite"`
	DSN       string        `yaml:"dsn"`
	Path      string        `yaml:"path"`
	Dimension int           `yaml:"dimension" validate:"gte=0"`
}

// LLMConfig configures the model provider. An empty APIKey disables the
// generative features; retrieval still works without them.
type LLMConfig struct {
	APIKey         string        `yaml:"api_key"`
	ChatModel      string        `yaml:"chat_model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RetrievalConfig tunes the hybrid search pipeline.
type RetrievalConfig struct {
	TopK          int  `yaml:"top_k" validate:"gte=0,lte=100"`
	RerankEnabled bool `yaml:"rerank_enabled"`
}

// WorkersConfig tunes the maintenance jobs.
type WorkersConfig struct {
	DecayEnabled      bool          `yaml:"decay_enabled"`
	DecayBaseRate     float64       `yaml:"decay_base_rate" validate:"gte=0,lte=1"`
	SummarizerEnabled bool          `yaml:"summarizer_enabled"`
	DreamerEnabled    bool          `yaml:"dreamer_enabled"`
	HourlyInterval    time.Duration `yaml:"hourly_interval"`
	DailyInterval     time.Duration `yaml:"daily_interval"`
}

// Default returns the development baseline every load starts from.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{Backend: StorageMemory},
		Vector:  VectorConfig{Backend: VectorMemory, Dimension: 1536},
		LLM: LLMConfig{
			Timeout: 60 * time.Second,
		},
		Retrieval: RetrievalConfig{TopK: 10},
		Workers: WorkersConfig{
			DecayEnabled:      true,
			DecayBaseRate:     0.05,
			SummarizerEnabled: true,
			DreamerEnabled:    true,
			HourlyInterval:    time.Hour,
			DailyInterval:     24 * time.Hour,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = []string{"defaults"}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, appErrors.Wrap(err, "config: read file")
			}
		} else {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, appErrors.Wrap(err, "config: parse yaml")
			}
			cfg.LoadedFrom = append(cfg.LoadedFrom, path)
		}
	}

	applyEnv(cfg)
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables, the highest-priority source.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MEMORY_ENVIRONMENT"); v != "" {
		cfg.Environment = Environment(v)
	}
	if v := os.Getenv("MEMORY_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MEMORY_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = StorageBackend(v)
	}
	if v := os.Getenv("MEMORY_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("MEMORY_VECTOR_BACKEND"); v != "" {
		cfg.Vector.Backend = VectorBackend(v)
	}
	if v := os.Getenv("MEMORY_VECTOR_DSN"); v != "" {
		cfg.Vector.DSN = v
	}
	if v := os.Getenv("MEMORY_VECTOR_PATH"); v != "" {
		cfg.Vector.Path = v
	}
	if v := os.Getenv("MEMORY_VECTOR_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Dimension = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("MEMORY_LLM_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := os.Getenv("MEMORY_LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("MEMORY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("MEMORY_RETRIEVAL_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
}

var validate = validator.New()

// Validate enforces structural constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return appErrors.NewValidation("config: " + err.Error())
	}
	if c.Storage.Backend == StoragePostgres && c.Storage.DSN == "" {
		return appErrors.NewValidation("config: postgres storage requires a dsn")
	}
	if c.Vector.Backend == VectorPg && c.Vector.DSN == "" {
		return appErrors.NewValidation("config: pgvector backend requires a dsn")
	}
	if c.Vector.Backend == VectorSqlite && c.Vector.Path == "" {
		return appErrors.NewValidation("config: sqlite vector backend requires a path")
	}
	if c.Environment == Production && c.Storage.Backend == StorageMemory {
		return appErrors.NewValidation("config: in-memory storage is not allowed in production")
	}
	return nil
}
