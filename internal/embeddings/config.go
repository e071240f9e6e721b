package embeddings

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/similard/internal/retry"
)

// Config holds configuration for an embedding Client and its Provider.
type Config struct {
	// Provider is "tei" (default), "openai" or "fastembed".
	Provider string

	// BaseURL is the API endpoint for tei and openai.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is sent as a bearer token. Optional for TEI.
	APIKey string

	// Dimension is the expected vector length. Zero means the provider's
	// dimension for Model.
	Dimension int

	// MaxInputChars is the maximum input length in runes.
	MaxInputChars int

	// MaxBatchSize is the maximum number of texts per provider request.
	MaxBatchSize int

	// RequestsPerSecond and Burst configure the provider rate limiter.
	RequestsPerSecond float64
	Burst             int

	// Timeout bounds a single provider request.
	Timeout time.Duration

	// CacheDir is the model cache directory for fastembed.
	CacheDir string

	Retry retry.Policy
}

// ApplyDefaults sets zero fields to their defaults.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "tei"
	}
	if c.BaseURL == "" && c.Provider == "tei" {
		c.BaseURL = "http://localhost:8080"
	}
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.MaxInputChars == 0 {
		c.MaxInputChars = 2048
	}
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 32
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 10
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	c.Retry.ApplyDefaults()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Provider {
	case "tei", "openai":
		if c.BaseURL == "" {
			return fmt.Errorf("%w: base URL required for %s", ErrInvalidConfig, c.Provider)
		}
	case "fastembed":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must be >= 0", ErrInvalidConfig)
	}
	if c.MaxInputChars <= 0 {
		return fmt.Errorf("%w: max_input_chars must be positive", ErrInvalidConfig)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	}
	if c.RequestsPerSecond <= 0 || c.Burst <= 0 {
		return fmt.Errorf("%w: requests_per_second and burst must be positive", ErrInvalidConfig)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: retry: %v", ErrInvalidConfig, err)
	}
	return nil
}
