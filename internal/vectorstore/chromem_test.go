package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMemoryChromem(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestChromemStore_UpsertQueryFetch(t *testing.T) {
	ctx := context.Background()
	s := newMemoryChromem(t)
	require.NoError(t, s.EnsureNamespace(ctx, "products", 3))

	points := []Point{
		{Key: "a", Vector: []float32{1, 0, 0}, Metadata: Metadata{ProductID: "a", Category: "audio", Price: 99.5, Rating: 4.5}},
		{Key: "b", Vector: []float32{0.9, 0.1, 0}, Metadata: Metadata{ProductID: "b", Category: "audio", Price: 120}},
		{Key: "c", Vector: []float32{0, 0, 1}, Metadata: Metadata{ProductID: "c", Category: "kitchen", Price: 15}},
	}
	require.NoError(t, s.Upsert(ctx, "products", points))

	matches, err := s.Query(ctx, "products", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 3, "topK is capped at collection size")
	assert.Equal(t, "a", matches[0].Key)
	assert.Equal(t, "b", matches[1].Key)
	assert.Equal(t, "c", matches[2].Key)
	assert.InDelta(t, 1.0, s.Metric().Normalize(matches[0].Score), 1e-5)
	assert.Equal(t, Metadata{ProductID: "a", Category: "audio", Price: 99.5, Rating: 4.5}, matches[0].Metadata)

	vec, err := s.Fetch(ctx, "products", "c")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 0, 1}, vec, 1e-6)

	_, err = s.Fetch(ctx, "products", "missing")
	assert.ErrorIs(t, err, ErrVectorNotFound)
}

func TestChromemStore_UpsertReplacesByKey(t *testing.T) {
	ctx := context.Background()
	s := newMemoryChromem(t)
	require.NoError(t, s.EnsureNamespace(ctx, "products", 2))

	require.NoError(t, s.Upsert(ctx, "products", []Point{{Key: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, s.Upsert(ctx, "products", []Point{{Key: "a", Vector: []float32{0, 1}}}))

	vec, err := s.Fetch(ctx, "products", "a")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 1}, vec, 1e-6)
	assert.Equal(t, 1, s.collection("products").Count())
}

func TestChromemStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newMemoryChromem(t)
	require.NoError(t, s.EnsureNamespace(ctx, "products", 2))
	require.NoError(t, s.Upsert(ctx, "products", []Point{
		{Key: "a", Vector: []float32{1, 0}},
		{Key: "b", Vector: []float32{0, 1}},
	}))

	require.NoError(t, s.Delete(ctx, "products", []string{"a", "never-existed"}))

	_, err := s.Fetch(ctx, "products", "a")
	assert.ErrorIs(t, err, ErrVectorNotFound)
	_, err = s.Fetch(ctx, "products", "b")
	assert.NoError(t, err)
}

func TestChromemStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newMemoryChromem(t)
	require.NoError(t, s.EnsureNamespace(ctx, "products", 3))

	err := s.Upsert(ctx, "products", []Point{{Key: "a", Vector: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrVectorStoreUnavailable)
}

func TestChromemStore_MissingNamespace(t *testing.T) {
	ctx := context.Background()
	s := newMemoryChromem(t)

	matches, err := s.Query(ctx, "nothing_here", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = s.Fetch(ctx, "nothing_here", "a")
	assert.ErrorIs(t, err, ErrVectorNotFound)

	assert.ErrorIs(t, s.EnsureNamespace(ctx, "Bad-Name", 3), ErrInvalidNamespace)
}

func TestChromemStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.EnsureNamespace(ctx, "products", 2))
	require.NoError(t, s.Upsert(ctx, "products", []Point{{Key: "a", Vector: []float32{1, 0}}}))
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	vec, err := reopened.Fetch(ctx, "products", "a")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 0}, vec, 1e-6)
}

func TestNewStore_UnknownProvider(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Provider: "pinecone"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
