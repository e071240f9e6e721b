// Package config loads similard configuration.
//
// Values come from, lowest precedence first: Default(), a YAML file, a
// .env file and SIMILARD_* environment variables. Sections owned by other
// packages (logging, telemetry) are decoded on demand with Unmarshal.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/similard/internal/retry"
)

// Config is the complete similard configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Sync        SyncConfig        `koanf:"sync"`
	Catalog     CatalogConfig     `koanf:"catalog"`
	Recommend   RecommendConfig   `koanf:"recommend"`
	NATS        NATSConfig        `koanf:"nats"`
	Temporal    TemporalConfig    `koanf:"temporal"`

	k *koanf.Koanf
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// EmbeddingsConfig configures the embedding client and its provider.
type EmbeddingsConfig struct {
	// Provider is tei, openai or fastembed.
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`

	// Dimension overrides the dimension derived from the model.
	Dimension int `koanf:"dimension"`

	MaxInputChars     int           `koanf:"max_input_chars"`
	MaxBatchSize      int           `koanf:"max_batch_size"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	Timeout           time.Duration `koanf:"timeout"`

	// CacheDir holds downloaded fastembed models.
	CacheDir string `koanf:"cache_dir"`

	Retry retry.Policy `koanf:"retry"`
}

// VectorStoreConfig selects and configures the vector store.
type VectorStoreConfig struct {
	// Provider is chromem or qdrant.
	Provider string `koanf:"provider"`

	// Namespace is the collection product vectors live in.
	Namespace string `koanf:"namespace"`

	// Distance is cosine, dot, euclidean or manhattan. Qdrant only.
	Distance string `koanf:"distance"`

	Qdrant  QdrantConfig  `koanf:"qdrant"`
	Chromem ChromemConfig `koanf:"chromem"`
	Retry   retry.Policy  `koanf:"retry"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	APIKey         Secret        `koanf:"api_key"`
	MaxMessageSize int           `koanf:"max_message_size"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// SyncConfig configures the sync engine and scheduler.
type SyncConfig struct {
	// Mode is the default mode for scheduled runs: incremental or full.
	Mode      string `koanf:"mode"`
	BatchSize int    `koanf:"batch_size"`
	Workers   int    `koanf:"workers"`

	// Interval between scheduled runs. Zero disables the schedule.
	Interval time.Duration `koanf:"interval"`

	// OnStart triggers a run when the daemon starts.
	OnStart bool `koanf:"on_start"`

	State StateConfig `koanf:"state"`
}

// StateConfig selects where sync records live.
type StateConfig struct {
	// Provider is memory or bolt.
	Provider string `koanf:"provider"`
	Path     string `koanf:"path"`
}

// CatalogConfig selects the product catalog adapter.
type CatalogConfig struct {
	// Provider is file or sqlite.
	Provider string            `koanf:"provider"`
	File     FileCatalogConfig `koanf:"file"`
	SQLite   SQLCatalogConfig  `koanf:"sqlite"`
}

// FileCatalogConfig configures the file catalog.
type FileCatalogConfig struct {
	Root    string `koanf:"root"`
	Pattern string `koanf:"pattern"`
	Watch   bool   `koanf:"watch"`
}

// SQLCatalogConfig configures the SQLite catalog.
type SQLCatalogConfig struct {
	DSN       string `koanf:"dsn"`
	ListQuery string `koanf:"list_query"`
	GetQuery  string `koanf:"get_query"`
}

// RecommendConfig configures the recommendation facade.
type RecommendConfig struct {
	DefaultTopK           int           `koanf:"default_top_k"`
	MaxTopK               int           `koanf:"max_top_k"`
	MaxFallbackCandidates int           `koanf:"max_fallback_candidates"`
	Weights               WeightsConfig `koanf:"weights"`
	Breaker               BreakerConfig `koanf:"breaker"`
}

// WeightsConfig holds heuristic scorer weights. They must sum to 1.
type WeightsConfig struct {
	Category float64 `koanf:"category"`
	Price    float64 `koanf:"price"`
	Rating   float64 `koanf:"rating"`
	Tags     float64 `koanf:"tags"`
}

// BreakerConfig configures the vector path circuit breaker.
type BreakerConfig struct {
	Threshold  int           `koanf:"threshold"`
	ResetAfter time.Duration `koanf:"reset_after"`
}

// NATSConfig configures catalog change events.
type NATSConfig struct {
	Enabled          bool   `koanf:"enabled"`
	URL              string `koanf:"url"`
	ChangesSubject   string `koanf:"changes_subject"`
	CompletedSubject string `koanf:"completed_subject"`
}

// TemporalConfig configures the optional Temporal worker.
type TemporalConfig struct {
	Enabled   bool   `koanf:"enabled"`
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8088,
			ShutdownTimeout: 10 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Provider:          "tei",
			BaseURL:           "http://localhost:8080",
			Model:             "BAAI/bge-small-en-v1.5",
			MaxInputChars:     2048,
			MaxBatchSize:      32,
			RequestsPerSecond: 10,
			Burst:             1,
			Timeout:           30 * time.Second,
			Retry:             retry.DefaultPolicy(),
		},
		VectorStore: VectorStoreConfig{
			Provider:  "chromem",
			Namespace: "products",
			Distance:  "cosine",
			Qdrant: QdrantConfig{
				Host:           "localhost",
				Port:           6334,
				MaxMessageSize: 50 * 1024 * 1024,
				RequestTimeout: 10 * time.Second,
			},
			Chromem: ChromemConfig{
				Path:     "~/.local/share/similard/vectors",
				Compress: true,
			},
			Retry: retry.DefaultPolicy(),
		},
		Sync: SyncConfig{
			Mode:      "incremental",
			BatchSize: 16,
			Workers:   4,
			Interval:  15 * time.Minute,
			OnStart:   true,
			State: StateConfig{
				Provider: "bolt",
				Path:     "~/.local/share/similard/state.db",
			},
		},
		Catalog: CatalogConfig{
			Provider: "file",
			File: FileCatalogConfig{
				Root:  "./catalog",
				Watch: true,
			},
		},
		Recommend: RecommendConfig{
			DefaultTopK:           10,
			MaxTopK:               100,
			MaxFallbackCandidates: 500,
			Weights:               WeightsConfig{Category: 0.4, Price: 0.3, Rating: 0.15, Tags: 0.15},
			Breaker:               BreakerConfig{Threshold: 5, ResetAfter: 30 * time.Second},
		},
		NATS: NATSConfig{
			URL:              "nats://localhost:4222",
			ChangesSubject:   "catalog.products.changed",
			CompletedSubject: "similard.sync.completed",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "similard-sync",
		},
	}
}

// Unmarshal decodes the section at path into out. Fields absent from the
// loaded sources keep their current values, so out should hold defaults.
func (c *Config) Unmarshal(path string, out any) error {
	if c.k == nil {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("decoding %s config: %w", path, err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be 1-65535, got %d", c.Server.Port)
	check(c.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")

	check(oneOf(c.Embeddings.Provider, "tei", "openai", "fastembed"),
		"embeddings.provider must be tei, openai or fastembed, got %q", c.Embeddings.Provider)
	check(c.Embeddings.MaxBatchSize > 0, "embeddings.max_batch_size must be positive")
	check(c.Embeddings.RequestsPerSecond > 0, "embeddings.requests_per_second must be positive")
	if err := c.Embeddings.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("embeddings.retry: %w", err))
	}

	check(oneOf(c.VectorStore.Provider, "chromem", "qdrant"),
		"vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider)
	check(c.VectorStore.Namespace != "", "vectorstore.namespace is required")
	check(oneOf(c.VectorStore.Distance, "cosine", "dot", "euclidean", "manhattan"),
		"vectorstore.distance must be cosine, dot, euclidean or manhattan, got %q", c.VectorStore.Distance)
	if err := c.VectorStore.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vectorstore.retry: %w", err))
	}

	check(oneOf(c.Sync.Mode, "incremental", "full"), "sync.mode must be incremental or full, got %q", c.Sync.Mode)
	check(c.Sync.BatchSize > 0, "sync.batch_size must be positive")
	check(c.Sync.Workers > 0, "sync.workers must be positive")
	check(c.Sync.Interval >= 0, "sync.interval must not be negative")
	check(oneOf(c.Sync.State.Provider, "memory", "bolt"),
		"sync.state.provider must be memory or bolt, got %q", c.Sync.State.Provider)
	check(c.Sync.State.Provider != "bolt" || c.Sync.State.Path != "", "sync.state.path is required for bolt")

	switch c.Catalog.Provider {
	case "file":
		check(c.Catalog.File.Root != "", "catalog.file.root is required")
	case "sqlite":
		check(c.Catalog.SQLite.DSN != "", "catalog.sqlite.dsn is required")
	default:
		errs = append(errs, fmt.Errorf("catalog.provider must be file or sqlite, got %q", c.Catalog.Provider))
	}

	check(c.Recommend.DefaultTopK > 0, "recommend.default_top_k must be positive")
	check(c.Recommend.MaxTopK >= c.Recommend.DefaultTopK, "recommend.max_top_k must be >= default_top_k")
	check(c.Recommend.MaxFallbackCandidates > 0, "recommend.max_fallback_candidates must be positive")

	if c.NATS.Enabled {
		check(c.NATS.URL != "", "nats.url is required when nats is enabled")
		check(c.NATS.ChangesSubject != "", "nats.changes_subject is required when nats is enabled")
	}
	if c.Temporal.Enabled {
		check(c.Temporal.HostPort != "", "temporal.host_port is required when temporal is enabled")
		check(c.Temporal.TaskQueue != "", "temporal.task_queue is required when temporal is enabled")
	}

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
