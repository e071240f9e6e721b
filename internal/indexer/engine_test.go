package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/embeddings"
	"github.com/fyrsmithlabs/similard/internal/syncstate"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

const testDim = 3

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	texts    int
	failFor  map[string]bool // product names whose text is rejected
	shortFor map[string]bool
	hook     func(call int)
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.texts += len(texts)
	call := f.calls
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		name := strings.SplitN(t, ".", 2)[0]
		if f.failFor[name] {
			return nil, fmt.Errorf("%w: provider rejected %q", embeddings.ErrEmbeddingUnavailable, name)
		}
		dim := testDim
		if f.shortFor[name] {
			dim = testDim - 1
		}
		out[i] = make([]float32, dim)
		out[i][0] = float32(len(t))
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return testDim }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu         sync.Mutex
	points     map[string]vectorstore.Point
	ensured    int
	upserts    int
	deletes    int
	failUpsert map[string]bool
	failDelete bool
	failEnsure bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{points: map[string]vectorstore.Point{}}
}

func (s *fakeStore) EnsureNamespace(context.Context, string, int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured++
	if s.failEnsure {
		return fmt.Errorf("%w: connection refused", vectorstore.ErrVectorStoreUnavailable)
	}
	return nil
}

func (s *fakeStore) Upsert(_ context.Context, _ string, points []vectorstore.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, p := range points {
		if s.failUpsert[p.Key] {
			return fmt.Errorf("%w: point %s rejected", vectorstore.ErrVectorStoreUnavailable, p.Key)
		}
	}
	for _, p := range points {
		s.points[p.Key] = p
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, _ string, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.failDelete {
		return fmt.Errorf("%w: delete timed out", vectorstore.ErrVectorStoreUnavailable)
	}
	for _, k := range keys {
		delete(s.points, k)
	}
	return nil
}

func (s *fakeStore) Fetch(_ context.Context, _ string, key string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.points[key]
	if !ok {
		return nil, vectorstore.ErrVectorNotFound
	}
	return p.Vector, nil
}

func (s *fakeStore) Query(context.Context, string, []float32, int) ([]vectorstore.Match, error) {
	return nil, nil
}

func (s *fakeStore) Metric() vectorstore.Metric  { return vectorstore.MetricCosine }
func (s *fakeStore) Health(context.Context) error { return nil }
func (s *fakeStore) Close() error                 { return nil }

func (s *fakeStore) externalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensured + s.upserts + s.deletes
}

func products(n int) []catalog.Product {
	out := make([]catalog.Product, n)
	for i := range out {
		out[i] = catalog.Product{
			ID:       fmt.Sprintf("p%02d", i),
			Name:     fmt.Sprintf("Product %02d", i),
			Category: "audio",
			Price:    float64(10 + i),
			Tags:     []string{"wireless"},
		}
	}
	return out
}

type harness struct {
	catalog  *catalog.MemoryCatalog
	embedder *fakeEmbedder
	store    *fakeStore
	tracker  *syncstate.Tracker
	engine   *Engine
}

func newHarness(t *testing.T, cfg Config, items []catalog.Product, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		catalog:  catalog.NewMemoryCatalog(items...),
		embedder: &fakeEmbedder{},
		store:    newFakeStore(),
		tracker:  syncstate.NewTracker(syncstate.NewMemoryStore()),
	}
	e, err := NewEngine(h.catalog, h.embedder, h.store, h.tracker, cfg, nil, opts...)
	require.NoError(t, err)
	h.engine = e
	return h
}

func TestRunSync_EmptyCatalog(t *testing.T) {
	h := newHarness(t, Config{}, nil)

	rep, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Empty(t, rep.Succeeded)
	assert.Empty(t, rep.Failed)
	assert.Empty(t, rep.Skipped)
	assert.NoError(t, rep.Err())
	assert.Zero(t, h.embedder.callCount())
	assert.Zero(t, h.store.externalCalls())
}

func TestRunSync_IncrementalRerunIsNoop(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 4}, products(10))
	ctx := context.Background()

	rep, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)
	require.Len(t, rep.Succeeded, 10)
	assert.Len(t, h.store.points, 10)

	embedCalls, storeCalls := h.embedder.callCount(), h.store.externalCalls()

	rep, err = h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Empty(t, rep.Succeeded)
	assert.Len(t, rep.Skipped, 10)
	assert.Equal(t, embedCalls, h.embedder.callCount(), "no embedding calls")
	assert.Equal(t, storeCalls, h.store.externalCalls(), "no vector store calls")
}

func TestRunSync_ChangedProductIsResynced(t *testing.T) {
	items := products(3)
	h := newHarness(t, Config{}, items)
	ctx := context.Background()
	_, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)

	changed := items[1]
	changed.Description = "now with noise cancelling"
	h.catalog.Put(changed)
	repriced := items[2]
	repriced.Price = 999
	h.catalog.Put(repriced)

	rep, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p01"}, rep.Succeeded, "price is not part of the fingerprint")
	assert.Equal(t, []string{"p00", "p02"}, rep.Skipped)
}

func TestRunSync_FullModeReembedsEverything(t *testing.T) {
	h := newHarness(t, Config{}, products(5))
	ctx := context.Background()
	_, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)

	rep, err := h.engine.RunSync(ctx, ModeFull)
	require.NoError(t, err)
	assert.Len(t, rep.Succeeded, 5)
	assert.Empty(t, rep.Skipped)
	assert.Equal(t, ModeFull, rep.Mode)
}

func TestRunSync_OneEmbeddingFailureIsIsolated(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 4, Workers: 3}, products(10))
	h.embedder.failFor = map[string]bool{"Product 06": true}

	rep, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)

	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "p06", rep.Failed[0].ProductID)
	assert.Equal(t, ReasonEmbeddingUnavailable, rep.Failed[0].Reason)
	assert.Len(t, rep.Succeeded, 9)
	assert.NotContains(t, rep.Succeeded, "p06")
	assert.ErrorIs(t, rep.Err(), ErrSyncPartialFailure)

	rec, err := h.tracker.Get(context.Background(), "p06")
	require.NoError(t, err)
	assert.Equal(t, syncstate.StatusFailed, rec.Status)

	// The failed product is retried on the next pass.
	h.embedder.failFor = nil
	rep, err = h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p06"}, rep.Succeeded)
}

func TestRunSync_DimensionMismatch(t *testing.T) {
	h := newHarness(t, Config{}, products(3))
	h.embedder.shortFor = map[string]bool{"Product 01": true}

	rep, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, Failure{ProductID: "p01", Reason: ReasonDimensionMismatch, Detail: rep.Failed[0].Detail}, rep.Failed[0])
	assert.Equal(t, []string{"p00", "p02"}, rep.Succeeded)
}

func TestRunSync_UpsertFailureIsIsolated(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 5}, products(5))
	h.store.failUpsert = map[string]bool{"p03": true}

	rep, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	require.Len(t, rep.Failed, 1)
	assert.Equal(t, "p03", rep.Failed[0].ProductID)
	assert.Equal(t, ReasonVectorStoreUnavailable, rep.Failed[0].Reason)
	assert.Equal(t, []string{"p00", "p01", "p02", "p04"}, rep.Succeeded)
}

func TestRunSync_NamespaceFailureFailsEligible(t *testing.T) {
	h := newHarness(t, Config{}, products(2))
	h.store.failEnsure = true

	rep, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p00", "p01"}, rep.FailedIDs())
	assert.Zero(t, h.embedder.callCount())
}

func TestRunSync_InvalidProductsReported(t *testing.T) {
	raw := &rawCatalog{raws: []catalog.RawProduct{
		{ID: "ok", Name: "Lamp", Category: "home", Price: 20.0},
		{ID: "neg", Name: "Broken", Category: "home", Price: -1.0},
		{ID: "noname", Category: "home", Price: 1.0},
	}}
	h := newHarness(t, Config{}, nil)
	e, err := NewEngine(raw, h.embedder, h.store, h.tracker, Config{}, nil)
	require.NoError(t, err)

	rep, err := e.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, rep.Succeeded)
	assert.Equal(t, []string{"neg", "noname"}, rep.FailedIDs())
	for _, f := range rep.Failed {
		assert.Equal(t, ReasonInvalidProduct, f.Reason)
	}
}

func TestRunSync_PrunesDeletedProducts(t *testing.T) {
	h := newHarness(t, Config{}, products(4))
	ctx := context.Background()
	_, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)

	h.catalog.Delete("p01", "p03")
	rep, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p01", "p03"}, rep.Deleted)
	assert.NotContains(t, h.store.points, "p01")

	_, err = h.tracker.Get(ctx, "p01")
	assert.ErrorIs(t, err, syncstate.ErrRecordNotFound)
}

func TestRunSync_DeleteFailureKeepsRecord(t *testing.T) {
	h := newHarness(t, Config{}, products(2))
	ctx := context.Background()
	_, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)

	h.catalog.Delete("p00")
	h.store.failDelete = true
	rep, err := h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)
	require.Len(t, rep.DeleteFailed, 1)
	assert.Equal(t, "p00", rep.DeleteFailed[0].ProductID)
	assert.ErrorIs(t, rep.Err(), ErrSyncPartialFailure)

	_, err = h.tracker.Get(ctx, "p00")
	assert.NoError(t, err, "record kept for retry")

	h.store.failDelete = false
	rep, err = h.engine.RunSync(ctx, ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p00"}, rep.Deleted)
}

func TestRunSync_CancellationKeepsCommittedBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, Config{BatchSize: 2, Workers: 1}, products(6))
	h.embedder.hook = func(call int) {
		if call == 2 {
			cancel()
		}
	}

	rep, err := h.engine.RunSync(ctx, ModeIncremental)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Equal(t, []string{"p00", "p01"}, rep.Succeeded)
	assert.Empty(t, rep.Failed, "in-flight products are not reported as failed")

	rec, err := h.tracker.Get(context.Background(), "p00")
	require.NoError(t, err)
	assert.Equal(t, syncstate.StatusSynced, rec.Status)

	// A fresh run picks up where the cancelled one stopped.
	rep, err = h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p02", "p03", "p04", "p05"}, rep.Succeeded)
}

func TestRunSync_CancelledFullRunKeepsSyncedRecords(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, Workers: 1}, products(6))
	_, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	initialCalls := h.embedder.callCount()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.embedder.hook = func(call int) {
		switch call - initialCalls {
		case 1:
			rec, err := h.tracker.Get(context.Background(), "p05")
			if assert.NoError(t, err) {
				assert.Equal(t, syncstate.StatusSynced, rec.Status, "unchanged products stay queryable during a full run")
			}
		case 2:
			cancel()
		}
	}

	rep, err := h.engine.RunSync(ctx, ModeFull)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.Equal(t, []string{"p00", "p01"}, rep.Succeeded)

	for _, id := range []string{"p02", "p03", "p04", "p05"} {
		rec, err := h.tracker.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, syncstate.StatusSynced, rec.Status, id)
	}

	h.embedder.hook = nil
	calls := h.embedder.callCount()
	rep, err = h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Empty(t, rep.Succeeded)
	assert.Len(t, rep.Skipped, 6)
	assert.Equal(t, calls, h.embedder.callCount(), "nothing to re-embed")
}

func TestRunSync_DuplicateCatalogIDs(t *testing.T) {
	items := products(3)
	renamed := items[0]
	renamed.Name = "Product 00 v2"
	cat := listCatalog{items[0], items[1], items[2], renamed}

	h := newHarness(t, Config{}, nil)
	e, err := NewEngine(cat, h.embedder, h.store, h.tracker, Config{BatchSize: 1, Workers: 4}, nil)
	require.NoError(t, err)

	rep, err := e.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.Equal(t, []string{"p00", "p01", "p02"}, rep.Succeeded)
	assert.Equal(t, 3, h.embedder.callCount(), "one batch per distinct product")
	assert.Len(t, h.store.points, 3)

	rec, err := h.tracker.Get(context.Background(), "p00")
	require.NoError(t, err)
	assert.Equal(t, renamed.Fingerprint(), rec.Fingerprint, "later duplicate wins")
}

func TestRunSync_ReportsProgress(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	h := newHarness(t, Config{BatchSize: 3, Workers: 2}, products(7), WithProgress(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 7, total)
		seen = append(seen, done)
	}))

	_, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, 7, seen[len(seen)-1])
}

func TestRunSync_ListsAreSorted(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 1, Workers: 8}, products(12))

	rep, err := h.engine.RunSync(context.Background(), ModeIncremental)
	require.NoError(t, err)
	assert.IsNonDecreasing(t, rep.Succeeded)
}

func TestRunSync_CatalogError(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	e, err := NewEngine(&rawCatalog{err: errors.New("db down")}, h.embedder, h.store, h.tracker, Config{}, nil)
	require.NoError(t, err)

	rep, err := e.RunSync(context.Background(), ModeIncremental)
	assert.Error(t, err)
	assert.Nil(t, rep)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, m)

	m, err = ParseMode("full")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)

	_, err = ParseMode("partial")
	assert.Error(t, err)
}

func TestNewEngine_Validation(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	_, err := NewEngine(h.catalog, h.embedder, h.store, h.tracker, Config{Namespace: "Bad Name"}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidNamespace)

	_, err = NewEngine(nil, h.embedder, h.store, h.tracker, Config{}, nil)
	assert.Error(t, err)
}

// rawCatalog serves loosely typed records.
type rawCatalog struct {
	raws []catalog.RawProduct
	err  error
}

func (c *rawCatalog) ListRaw(context.Context) ([]catalog.RawProduct, error) {
	return c.raws, c.err
}

func (c *rawCatalog) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	raws, err := c.ListRaw(ctx)
	if err != nil {
		return nil, err
	}
	products, _ := catalog.NormalizeAll(raws)
	return products, nil
}

func (c *rawCatalog) GetProduct(ctx context.Context, id string) (catalog.Product, error) {
	products, err := c.ListProducts(ctx)
	if err != nil {
		return catalog.Product{}, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

// listCatalog is a plain Catalog without raw records, returning its items
// exactly as given.
type listCatalog []catalog.Product

func (c listCatalog) ListProducts(context.Context) ([]catalog.Product, error) {
	return c, nil
}

func (c listCatalog) GetProduct(_ context.Context, id string) (catalog.Product, error) {
	for _, p := range c {
		if p.ID == id {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}
