package recommend

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/syncstate"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/similard/internal/recommend")

// QueryService finds nearest neighbours of a product's stored vector.
type QueryService struct {
	store     vectorstore.Store
	tracker   *syncstate.Tracker
	namespace string
	logger    *zap.Logger
}

// NewQueryService creates a query service reading namespace.
func NewQueryService(store vectorstore.Store, tracker *syncstate.Tracker, namespace string, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{store: store, tracker: tracker, namespace: namespace, logger: logger}
}

// QuerySimilar returns up to topK products nearest to productID, never
// including productID itself.
//
// It fails with ErrVectorNotReady when the product has not been synced or
// its vector is missing, and with vectorstore.ErrVectorStoreUnavailable when
// the store cannot be reached.
func (s *QueryService) QuerySimilar(ctx context.Context, productID string, topK int) (Result, error) {
	ctx, span := tracer.Start(ctx, "QueryService.QuerySimilar")
	defer span.End()
	span.SetAttributes(attribute.String("product_id", productID), attribute.Int("top_k", topK))

	if topK <= 0 {
		return Result{Items: []Scored{}, Source: SourceVector}, nil
	}

	rec, err := s.tracker.Get(ctx, productID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrVectorNotReady, productID, err)
	}
	if rec.Status != syncstate.StatusSynced {
		return Result{}, fmt.Errorf("%w: %s is %s", ErrVectorNotReady, productID, rec.Status)
	}

	vec, err := s.store.Fetch(ctx, s.namespace, rec.VectorKey)
	switch {
	case errors.Is(err, vectorstore.ErrVectorNotFound):
		return Result{}, fmt.Errorf("%w: %s has no stored vector", ErrVectorNotReady, productID)
	case errors.Is(err, vectorstore.ErrVectorStoreUnavailable):
		return Result{}, err
	case err != nil:
		return Result{}, fmt.Errorf("%w: fetching %s: %v", vectorstore.ErrVectorStoreUnavailable, productID, err)
	}

	matches, err := s.store.Query(ctx, s.namespace, vec, topK+1)
	if err != nil {
		if errors.Is(err, vectorstore.ErrVectorStoreUnavailable) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: querying neighbours of %s: %v", vectorstore.ErrVectorStoreUnavailable, productID, err)
	}

	metric := s.store.Metric()
	items := make([]Scored, 0, len(matches))
	for _, m := range matches {
		id := m.Metadata.ProductID
		if id == "" {
			id = m.Key
		}
		items = append(items, Scored{ProductID: id, Score: metric.Normalize(m.Score)})
	}

	items = rank(items, productID, topK)
	span.SetAttributes(attribute.Int("results", len(items)))
	s.logger.Debug("vector similarity query",
		zap.String("product_id", productID),
		zap.Int("top_k", topK),
		zap.Int("matches", len(matches)),
		zap.Int("results", len(items)),
	)
	return Result{Items: items, Source: SourceVector}, nil
}
