package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/similard/internal/retry"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/similard/internal/vectorstore")

const backendQdrant = "qdrant"

// QdrantConfig holds configuration for QdrantStore.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string

	// Port is the gRPC port (6334 by default, not the 6333 REST port).
	Port int

	APIKey string
	UseTLS bool

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int

	// Distance is the collection metric used when creating namespaces.
	Distance Metric

	// RequestTimeout bounds each attempt of each call.
	RequestTimeout time.Duration

	// Retry is applied to every call; only transient gRPC codes are retried.
	Retry retry.Policy
}

// ApplyDefaults sets zero fields to their defaults.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.Distance == "" {
		c.Distance = MetricCosine
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	c.Retry.ApplyDefaults()
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port out of range: %d", ErrInvalidConfig, c.Port)
	}
	if _, err := ParseMetric(string(c.Distance)); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: retry: %v", ErrInvalidConfig, err)
	}
	return nil
}

// qdrantAPI is the subset of *qdrant.Client used by QdrantStore.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantStore is a Store backed by Qdrant's gRPC API.
//
// Product keys are arbitrary strings while Qdrant point ids must be UUIDs or
// integers, so each key maps to a name-based UUID and the key itself travels
// in the payload.
type QdrantStore struct {
	client qdrantAPI
	config QdrantConfig
	logger *zap.Logger

	// namespaces caches collections known to exist.
	namespaces sync.Map
}

// NewQdrantStore creates a Qdrant client and probes the server once.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating qdrant client: %v", ErrVectorStoreUnavailable, err)
	}

	s := newQdrantStore(client, cfg, logger)

	// An unreachable server is not fatal: calls fail with
	// ErrVectorStoreUnavailable until it comes back, and the gRPC channel
	// reconnects on its own.
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Health(hctx); err != nil {
		s.logger.Warn("qdrant not reachable, continuing in degraded mode",
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.Error(err),
		)
	}

	if !cfg.UseTLS {
		s.logger.Warn("qdrant gRPC connection is not using TLS", zap.String("host", cfg.Host))
	}
	s.logger.Info("qdrant store initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("distance", string(cfg.Distance)),
	)
	return s, nil
}

func newQdrantStore(client qdrantAPI, cfg QdrantConfig, logger *zap.Logger) *QdrantStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{client: client, config: cfg, logger: logger}
}

// PointID returns the Qdrant point UUID for a product key.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("similard:product:"+key)).String()
}

func (s *QdrantStore) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := retry.DoErr(ctx, s.config.Retry, IsTransientError, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
		return fn(actx)
	}, retry.OnRetry(func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("qdrant call failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}))
	observe(backendQdrant, operation, start, err)
	return err
}

// EnsureNamespace implements Store.
func (s *QdrantStore) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if _, ok := s.namespaces.Load(namespace); ok {
		return nil
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("dimension", dimension))

	err := s.do(ctx, "ensure", func(ctx context.Context) error {
		exists, err := s.client.CollectionExists(ctx, namespace)
		if err != nil || exists {
			return err
		}
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrantDistance(s.config.Distance),
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: ensuring collection %s: %v", ErrVectorStoreUnavailable, namespace, err)
	}
	s.namespaces.Store(namespace, true)
	return nil
}

// Upsert implements Store.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("points", len(points)))

	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(p.Key)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: toPayload(p),
		}
	}

	err := s.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: namespace,
			Wait:           qdrant.PtrOf(true),
			Points:         structs,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: upserting %d points into %s: %v", ErrVectorStoreUnavailable, len(points), namespace, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Delete implements Store.
func (s *QdrantStore) Delete(ctx context.Context, namespace string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("keys", len(keys)))

	ids := make([]*qdrant.PointId, len(keys))
	for i, key := range keys {
		ids[i] = qdrant.NewIDUUID(PointID(key))
	}

	err := s.do(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: namespace,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: ids},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting %d points from %s: %v", ErrVectorStoreUnavailable, len(keys), namespace, err)
	}
	return nil
}

// Fetch implements Store.
func (s *QdrantStore) Fetch(ctx context.Context, namespace, key string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.String("key", key))

	var points []*qdrant.RetrievedPoint
	err := s.do(ctx, "fetch", func(ctx context.Context) error {
		var err error
		points, err = s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: namespace,
			Ids:            []*qdrant.PointId{qdrant.NewIDUUID(PointID(key))},
			WithVectors:    qdrant.NewWithVectors(true),
			WithPayload:    qdrant.NewWithPayload(false),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: fetching %s from %s: %v", ErrVectorStoreUnavailable, key, namespace, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVectorNotFound, key)
	}
	vec := extractVector(points[0].GetVectors())
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: %s has no dense vector", ErrVectorNotFound, key)
	}
	return vec, nil
}

// Query implements Store.
func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("top_k", topK))

	var scored []*qdrant.ScoredPoint
	err := s.do(ctx, "query", func(ctx context.Context) error {
		var err error
		scored, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: namespace,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying %s: %v", ErrVectorStoreUnavailable, namespace, err)
	}

	matches := make([]Match, 0, len(scored))
	for _, sp := range scored {
		md := fromPayload(sp.GetPayload())
		key := md.ProductID
		if key == "" {
			key = sp.GetId().GetUuid()
		}
		matches = append(matches, Match{Key: key, Score: sp.GetScore(), Metadata: md})
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// Metric implements Store.
func (s *QdrantStore) Metric() Metric {
	return s.config.Distance
}

// Health implements Store.
func (s *QdrantStore) Health(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	recordHealth(backendQdrant, err)
	if err != nil {
		return fmt.Errorf("%w: health check: %v", ErrVectorStoreUnavailable, err)
	}
	return nil
}

// Close implements Store.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func qdrantDistance(m Metric) qdrant.Distance {
	switch m {
	case MetricDot:
		return qdrant.Distance_Dot
	case MetricEuclidean:
		return qdrant.Distance_Euclid
	case MetricManhattan:
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func toPayload(p Point) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"product_id": {Kind: &qdrant.Value_StringValue{StringValue: p.Key}},
		"category":   {Kind: &qdrant.Value_StringValue{StringValue: p.Metadata.Category}},
		"price":      {Kind: &qdrant.Value_DoubleValue{DoubleValue: p.Metadata.Price}},
		"rating":     {Kind: &qdrant.Value_DoubleValue{DoubleValue: p.Metadata.Rating}},
	}
}

func fromPayload(payload map[string]*qdrant.Value) Metadata {
	var md Metadata
	md.ProductID = payload["product_id"].GetStringValue()
	md.Category = payload["category"].GetStringValue()
	md.Price = numberValue(payload["price"])
	md.Rating = numberValue(payload["rating"])
	return md
}

func numberValue(v *qdrant.Value) float64 {
	switch k := v.GetKind().(type) {
	case *qdrant.Value_DoubleValue:
		return k.DoubleValue
	case *qdrant.Value_IntegerValue:
		return float64(k.IntegerValue)
	default:
		return 0
	}
}

func extractVector(vectors *qdrant.VectorsOutput) []float32 {
	vec := vectors.GetVector()
	if vec == nil {
		return nil
	}
	if dense := vec.GetDense(); dense != nil && len(dense.GetData()) > 0 {
		return dense.GetData()
	}
	return vec.GetData()
}
