package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMetric_Normalize(t *testing.T) {
	tests := []struct {
		name   string
		metric Metric
		raw    float32
		want   float64
	}{
		{"cosine identical", MetricCosine, 1, 1},
		{"cosine clamps negatives", MetricCosine, -0.4, 0},
		{"cosine clamps overshoot", MetricCosine, 1.0000002, 1},
		{"dot passes mid values", MetricDot, 0.25, 0.25},
		{"euclidean zero distance", MetricEuclidean, 0, 1},
		{"euclidean unit distance", MetricEuclidean, 1, 0.5},
		{"manhattan far", MetricManhattan, 3, 0.25},
		{"nan", MetricCosine, float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.metric.Normalize(tt.raw), 1e-6)
		})
	}
}

func TestMetric_NormalizePreservesDistanceOrder(t *testing.T) {
	near := MetricEuclidean.Normalize(0.2)
	far := MetricEuclidean.Normalize(1.7)
	assert.Greater(t, near, far)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("manhattan")
	require.NoError(t, err)
	assert.True(t, m.IsDistance())

	_, err = ParseMetric("hamming")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidateNamespace(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "products", false},
		{"with digits and underscore", "products_v2", false},
		{"empty", "", true},
		{"uppercase", "Products", true},
		{"hyphen", "product-vectors", true},
		{"path traversal", "../products", true},
		{"too long", "p" + fmt.Sprintf("%064d", 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNamespace(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidNamespace)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(codes.Unavailable, "down"), true},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), true},
		{"resource exhausted", status.Error(codes.ResourceExhausted, "busy"), true},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad dim"), false},
		{"not found", status.Error(codes.NotFound, "no collection"), false},
		{"context canceled", context.Canceled, false},
		{"context deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}
