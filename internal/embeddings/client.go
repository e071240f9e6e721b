package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/similard/internal/retry"
)

// Client is the embedding client used by the sync engine.
//
// It truncates inputs to MaxInputChars, splits batches at MaxBatchSize,
// waits on a shared rate limiter before every provider request and retries
// throttling, server and transport errors. Besides the limiter it keeps no
// state between calls and is safe for concurrent use.
type Client struct {
	provider  Provider
	config    Config
	dimension int
	limiter   *rate.Limiter
	metrics   *Metrics
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMetrics replaces the default global-meter instruments.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient wraps provider. cfg.Dimension, when zero, is taken from the
// provider.
func NewClient(provider Provider, cfg Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dim := cfg.Dimension
	if dim == 0 {
		dim = provider.Dimension()
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension unknown for model %q", ErrInvalidConfig, cfg.Model)
	}

	c := &Client{
		provider:  provider,
		config:    cfg,
		dimension: dim,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(logger)
	}
	return c, nil
}

// Dimension returns the vector length every result is checked against.
func (c *Client) Dimension() int {
	return c.dimension
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Close closes the provider.
func (c *Client) Close() error {
	return c.provider.Close()
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns one vector per text, in input order. An empty input
// returns an empty result without calling the provider.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: text %d is blank", ErrEmptyInput, i)
		}
		prepared[i] = Truncate(t, c.config.MaxInputChars)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(prepared); start += c.config.MaxBatchSize {
		end := min(start+c.config.MaxBatchSize, len(prepared))
		vectors, err := c.request(ctx, prepared[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := retry.Do(ctx, c.config.Retry, IsRetryable, func(ctx context.Context) ([][]float32, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		rctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
		return c.provider.EmbedDocuments(rctx, texts)
	}, retry.OnRetry(func(attempt int, err error, wait time.Duration) {
		c.metrics.RecordRetry(ctx, c.config.Provider, c.config.Model)
		c.logger.Warn("embedding request failed, retrying",
			zap.String("provider", c.config.Provider),
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(texts)),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}))
	c.metrics.RecordRequest(ctx, c.config.Provider, c.config.Model, time.Since(start), len(texts), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", ErrEmbeddingUnavailable, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != c.dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(v), c.dimension)
		}
	}
	return vectors, nil
}

// IsRetryable classifies provider errors. HTTP 429 and 5xx, transport
// failures and timeouts are retryable; other HTTP statuses, invalid input
// and cancellation are not. Unclassified provider errors are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrInvalidConfig) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}

// Truncate shortens text to at most maxRunes runes. When the cut falls
// inside a word it backs up to the preceding whitespace, unless the kept
// text has none.
func Truncate(text string, maxRunes int) string {
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}
	kept := runes[:maxRunes]
	if !unicode.IsSpace(runes[maxRunes]) {
		for i := len(kept) - 1; i > 0; i-- {
			if unicode.IsSpace(kept[i]) {
				kept = kept[:i]
				break
			}
		}
	}
	return strings.TrimRightFunc(string(kept), unicode.IsSpace)
}
