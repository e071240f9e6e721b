// Package vectorstore provides the vector store clients used by the sync
// engine and the similarity query service.
//
// Two backends implement Store: QdrantStore talks to a Qdrant server over
// gRPC, ChromemStore embeds chromem-go in the process. Namespaces map to
// collections in both.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrVectorStoreUnavailable indicates the store could not serve a request
	// after retries. Query callers treat it as a signal to fall back.
	ErrVectorStoreUnavailable = errors.New("vector store unavailable")

	// ErrVectorNotFound indicates no vector is stored under a key.
	ErrVectorNotFound = errors.New("vector not found")

	// ErrInvalidNamespace indicates a namespace name that cannot be used as
	// a collection name.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")
)

// Metadata is the payload stored with each product vector.
type Metadata struct {
	ProductID string  `json:"product_id"`
	Category  string  `json:"category"`
	Price     float64 `json:"price"`
	Rating    float64 `json:"rating"`
}

// Point is a vector to upsert.
type Point struct {
	Key      string
	Vector   []float32
	Metadata Metadata
}

// Match is one nearest-neighbour hit. Score is in the store's native metric;
// use Metric.Normalize to map it into [0,1].
type Match struct {
	Key      string
	Score    float32
	Metadata Metadata
}

// Store is a namespaced vector store.
type Store interface {
	// EnsureNamespace creates the namespace if missing.
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error

	// Upsert inserts or replaces points by key.
	Upsert(ctx context.Context, namespace string, points []Point) error

	// Delete removes points by key. Missing keys are not an error.
	Delete(ctx context.Context, namespace string, keys []string) error

	// Fetch returns the stored vector for key or ErrVectorNotFound.
	Fetch(ctx context.Context, namespace, key string) ([]float32, error)

	// Query returns up to topK nearest neighbours of vector, best first.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error)

	// Metric reports how Match scores are expressed.
	Metric() Metric

	// Health reports whether the store is reachable.
	Health(ctx context.Context) error

	Close() error
}

// Metric is the similarity or distance function of a store.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
	MetricManhattan Metric = "manhattan"
)

// ParseMetric validates a configured metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MetricCosine, MetricDot, MetricEuclidean, MetricManhattan:
		return m, nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("%w: unknown distance %q", ErrInvalidConfig, s)
	}
}

// IsDistance reports whether smaller raw scores mean more similar.
func (m Metric) IsDistance() bool {
	return m == MetricEuclidean || m == MetricManhattan
}

// Normalize maps a raw store score into [0,1], 1 meaning identical.
// Similarities (cosine, dot) are clamped; distances d become 1/(1+d).
// Both mappings are monotonic, so store ranking is preserved.
func (m Metric) Normalize(raw float32) float64 {
	v := float64(raw)
	if math.IsNaN(v) {
		return 0
	}
	if m.IsDistance() {
		if v < 0 {
			v = 0
		}
		return 1 / (1 + v)
	}
	return math.Max(0, math.Min(1, v))
}

var namespacePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateNamespace checks that a namespace is safe to use as a collection name.
func ValidateNamespace(name string) error {
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidNamespace, name)
	}
	return nil
}

// IsTransientError reports whether a store error is worth retrying:
// unavailable, deadline exceeded, aborted and resource exhausted gRPC codes.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}
