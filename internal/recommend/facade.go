package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

// Querier is the vector path. *QueryService implements it.
type Querier interface {
	QuerySimilar(ctx context.Context, productID string, topK int) (Result, error)
}

// BreakerConfig configures the vector path circuit breaker.
type BreakerConfig struct {
	Threshold  int
	ResetAfter time.Duration
}

// Config configures a Facade.
type Config struct {
	DefaultTopK           int
	MaxTopK               int
	MaxFallbackCandidates int
	Weights               Weights
	Breaker               BreakerConfig
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.DefaultTopK == 0 {
		c.DefaultTopK = 10
	}
	if c.MaxTopK == 0 {
		c.MaxTopK = 100
	}
	if c.MaxFallbackCandidates == 0 {
		c.MaxFallbackCandidates = 500
	}
	if c.Weights == (Weights{}) {
		c.Weights = DefaultWeights()
	}
	if c.Breaker.Threshold == 0 {
		c.Breaker.Threshold = 5
	}
	if c.Breaker.ResetAfter == 0 {
		c.Breaker.ResetAfter = 30 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.DefaultTopK <= 0:
		return fmt.Errorf("default_top_k must be positive, got %d", c.DefaultTopK)
	case c.MaxTopK < c.DefaultTopK:
		return fmt.Errorf("max_top_k %d is below default_top_k %d", c.MaxTopK, c.DefaultTopK)
	case c.MaxFallbackCandidates <= 0:
		return fmt.Errorf("max_fallback_candidates must be positive, got %d", c.MaxFallbackCandidates)
	case c.Breaker.Threshold <= 0:
		return fmt.Errorf("breaker threshold must be positive, got %d", c.Breaker.Threshold)
	case c.Breaker.ResetAfter < 0:
		return fmt.Errorf("breaker reset_after must not be negative")
	}
	return c.Weights.Validate()
}

// Facade is the single entry point for recommendations.
type Facade struct {
	catalog catalog.Catalog
	query   Querier
	scorer  *HeuristicScorer
	breaker *CircuitBreaker
	config  Config
	logger  *zap.Logger
}

// NewFacade creates a facade. query may be nil, in which case every request
// is answered by the heuristic scorer.
func NewFacade(cat catalog.Catalog, query Querier, cfg Config, logger *zap.Logger) (*Facade, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scorer, err := NewHeuristicScorer(cfg.Weights)
	if err != nil {
		return nil, err
	}
	return &Facade{
		catalog: cat,
		query:   query,
		scorer:  scorer,
		breaker: NewCircuitBreaker(int32(cfg.Breaker.Threshold), cfg.Breaker.ResetAfter),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Breaker exposes the vector path breaker for status reporting.
func (f *Facade) Breaker() *CircuitBreaker {
	return f.breaker
}

// Recommend returns up to topK products similar to productID.
//
// An unknown product yields catalog.ErrNotFound. When the vector path is
// not ready, unavailable or short-circuited the heuristic scorer answers
// instead; those conditions never reach the caller.
func (f *Facade) Recommend(ctx context.Context, productID string, topK int) (Result, error) {
	start := time.Now()
	topK = f.clampTopK(topK)

	product, err := f.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Result{}, fmt.Errorf("loading product %s: %w", productID, err)
	}

	res, reason, err := f.tryVector(ctx, productID, topK)
	if reason == "" {
		if err != nil {
			return Result{}, err
		}
		f.observe(res, start)
		return res, nil
	}

	fallbacksTotal.WithLabelValues(reason).Inc()
	f.logger.Debug("falling back to heuristic scorer",
		zap.String("product_id", productID),
		zap.String("reason", reason),
		zap.Error(err),
	)

	candidates, cerr := f.candidates(ctx, product)
	if cerr != nil {
		return Result{}, cerr
	}
	res = f.scorer.ScoreSimilar(product, candidates, topK)
	f.observe(res, start)
	return res, nil
}

// tryVector runs the vector path. A non-empty fallback reason means the
// heuristic scorer must answer; otherwise err, if set, is returned as is.
func (f *Facade) tryVector(ctx context.Context, productID string, topK int) (Result, string, error) {
	if f.query == nil {
		return Result{}, reasonStoreUnavailable, vectorstore.ErrVectorStoreUnavailable
	}
	if !f.breaker.Allow() {
		breakerOpenGauge.Set(1)
		return Result{}, reasonBreakerOpen, vectorstore.ErrVectorStoreUnavailable
	}

	res, err := f.query.QuerySimilar(ctx, productID, topK)
	switch {
	case err == nil:
		f.breaker.RecordSuccess()
		breakerOpenGauge.Set(0)
		res.Items = f.inCatalog(ctx, res.Items)
		return res, "", nil
	case errors.Is(err, vectorstore.ErrVectorStoreUnavailable):
		f.breaker.RecordFailure()
		if f.breaker.State() == "open" {
			breakerOpenGauge.Set(1)
			f.logger.Warn("vector path circuit breaker open", zap.Error(err))
		}
		return Result{}, reasonStoreUnavailable, err
	case errors.Is(err, ErrVectorNotReady):
		f.breaker.Release()
		return Result{}, reasonNotReady, err
	default:
		f.breaker.Release()
		return Result{}, "", err
	}
}

// inCatalog drops vector matches whose product has left the catalog but
// whose vector is still stored, e.g. after a failed delete awaiting the next
// sync. Lookup errors other than ErrNotFound keep the item.
func (f *Facade) inCatalog(ctx context.Context, items []Scored) []Scored {
	out := make([]Scored, 0, len(items))
	for _, it := range items {
		_, err := f.catalog.GetProduct(ctx, it.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			f.logger.Debug("dropping vector match missing from catalog", zap.String("product_id", it.ProductID))
			continue
		}
		if err != nil {
			f.logger.Warn("checking vector match against catalog", zap.String("product_id", it.ProductID), zap.Error(err))
		}
		out = append(out, it)
	}
	return out
}

func (f *Facade) clampTopK(topK int) int {
	if topK <= 0 {
		return f.config.DefaultTopK
	}
	return min(topK, f.config.MaxTopK)
}

// candidates returns same-category products other than product, lowest ids
// first, capped at MaxFallbackCandidates.
func (f *Facade) candidates(ctx context.Context, product catalog.Product) ([]catalog.Product, error) {
	all, err := f.catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing fallback candidates: %w", err)
	}
	out := make([]catalog.Product, 0)
	for _, p := range all {
		if p.ID != product.ID && p.Category == product.Category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > f.config.MaxFallbackCandidates {
		out = out[:f.config.MaxFallbackCandidates]
	}
	return out, nil
}

func (f *Facade) observe(res Result, start time.Time) {
	requestsTotal.WithLabelValues(string(res.Source)).Inc()
	requestDuration.WithLabelValues(string(res.Source)).Observe(time.Since(start).Seconds())
}
