package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/config"
	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/logging"
	"github.com/fyrsmithlabs/similard/internal/recommend"
	"github.com/fyrsmithlabs/similard/internal/retry"
	"github.com/fyrsmithlabs/similard/internal/syncstate"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

const catalogYAML = `products:
  - id: a
    name: Studio Headphones
    category: audio
    price: 199
    rating: 4.5
    tags: [wireless, anc]
  - id: b
    name: Sport Earbuds
    category: audio
    price: 149
    rating: 4.2
    tags: [wireless]
  - id: c
    name: Chef Knife
    category: kitchen
    price: 89
    rating: 4.8
    tags: [steel]
  - id: d
    name: Bookshelf Speaker
    category: audio
    price: "249"
    rating: 4.0
    tags: wired, hifi
`

// newTEIServer serves deterministic 3-dimensional vectors keyed on the
// product name.
func newTEIServer(t *testing.T) *httptest.Server {
	t.Helper()
	vectors := map[string][]float32{
		"Headphones": {1, 0, 0},
		"Earbuds":    {0.9, 0.1, 0},
		"Speaker":    {0.5, 0.5, 0},
		"Knife":      {0, 0, 1},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]float32, len(req.Inputs))
		for i, text := range req.Inputs {
			out[i] = []float32{0.1, 0.1, 0.1}
			for word, v := range vectors {
				if strings.Contains(text, word) {
					out[i] = v
				}
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	require.NoError(t, os.MkdirAll(catalogDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "products.yaml"), []byte(catalogYAML), 0o600))

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Embeddings.BaseURL = newTEIServer(t).URL
	cfg.Embeddings.Dimension = 3
	cfg.Embeddings.RequestsPerSecond = 1000
	cfg.VectorStore.Chromem.Path = ""
	cfg.Sync.State.Path = filepath.Join(dir, "state", "state.db")
	cfg.Sync.Interval = 0
	cfg.Catalog.File.Root = catalogDir
	cfg.Catalog.File.Watch = false
	return cfg
}

func TestNew_FromConfigEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, logging.NewTestLogger().Logger)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	// Before any sync only the heuristic path can answer.
	res, err := a.Facade.Recommend(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, recommend.SourceHeuristic, res.Source)
	assert.ElementsMatch(t, []string{"b", "d"}, res.IDs())

	rep, err := a.Scheduler.RunNow(ctx, indexer.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, rep.Succeeded)

	res, err = a.Facade.Recommend(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, recommend.SourceVector, res.Source)
	assert.Equal(t, []string{"b", "d"}, res.IDs())

	// A second incremental run skips everything.
	rep, err = a.Scheduler.RunNow(ctx, indexer.ModeIncremental)
	require.NoError(t, err)
	assert.Empty(t, rep.Succeeded)
	assert.Len(t, rep.Skipped, 4)

	_, err = a.Facade.Recommend(ctx, "zzz", 2)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, statErr := os.Stat(cfg.Sync.State.Path)
	assert.NoError(t, statErr, "bolt state file created")
}

type constEmbedder struct{}

func (constEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (constEmbedder) Dimension() int { return 2 }

func TestNew_WithInjectedComponents(t *testing.T) {
	ctx := context.Background()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	cat := catalog.NewMemoryCatalog(
		catalog.Product{ID: "x", Name: "X", Category: "toys", Price: 10, Rating: 4},
		catalog.Product{ID: "y", Name: "Y", Category: "toys", Price: 12, Rating: 4},
	)
	var progress []int

	cfg := config.Default()
	cfg.Catalog.Provider = "unused"
	a, err := New(ctx, cfg, nil,
		WithCatalog(cat),
		WithVectorStore(store),
		WithStateStore(syncstate.NewMemoryStore()),
		WithEmbedder(constEmbedder{}),
		WithProgress(func(done, total int) { progress = append(progress, done) }),
	)
	require.NoError(t, err)
	defer a.Close()

	rep, err := a.Engine.RunSync(ctx, indexer.ModeFull)
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rep.Succeeded)
	assert.NotEmpty(t, progress)

	res, err := a.Facade.Recommend(ctx, "x", 5)
	require.NoError(t, err)
	assert.Equal(t, recommend.SourceVector, res.Source)
	assert.Equal(t, []string{"y"}, res.IDs())
}

func TestNew_VectorStoreDownFallsBackToHeuristic(t *testing.T) {
	ctx := context.Background()
	cat := catalog.NewMemoryCatalog(
		catalog.Product{ID: "x", Name: "X", Category: "toys", Price: 10, Rating: 4},
		catalog.Product{ID: "y", Name: "Y", Category: "toys", Price: 12, Rating: 4},
		catalog.Product{ID: "z", Name: "Z", Category: "books", Price: 12, Rating: 4},
	)
	x, err := cat.GetProduct(ctx, "x")
	require.NoError(t, err)
	state := syncstate.NewMemoryStore()
	require.NoError(t, syncstate.NewTracker(state).RecordSuccess(ctx, "x", x.Fingerprint(), "x"))

	cfg := config.Default()
	cfg.VectorStore.Provider = "qdrant"
	cfg.VectorStore.Qdrant.Host = "127.0.0.1"
	cfg.VectorStore.Qdrant.Port = 1
	cfg.VectorStore.Qdrant.RequestTimeout = 500 * time.Millisecond
	cfg.VectorStore.Retry = retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}

	a, err := New(ctx, cfg, nil,
		WithCatalog(cat),
		WithStateStore(state),
		WithEmbedder(constEmbedder{}),
	)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Facade.Recommend(ctx, "x", 5)
	require.NoError(t, err)
	assert.Equal(t, recommend.SourceHeuristic, res.Source)
	assert.Equal(t, []string{"y"}, res.IDs())

	_, err = a.Facade.Recommend(ctx, "missing", 5)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown catalog provider",
			mutate:  func(c *config.Config) { c.Catalog.Provider = "ftp" },
			wantErr: "unsupported catalog provider",
		},
		{
			name:    "missing catalog root",
			mutate:  func(c *config.Config) { c.Catalog.File.Root = "/definitely/not/here" },
			wantErr: "catalog root",
		},
		{
			name:    "unknown state provider",
			mutate:  func(c *config.Config) { c.Sync.State.Provider = "etcd" },
			wantErr: "unsupported sync state provider",
		},
		{
			name:    "unknown distance",
			mutate:  func(c *config.Config) { c.VectorStore.Distance = "hamming" },
			wantErr: "hamming",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := New(context.Background(), cfg, nil)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNew_SQLiteCatalog(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "catalog.db")
	db, err := catalog.OpenSQLite(dsn)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE products (id TEXT PRIMARY KEY, name TEXT, description TEXT, category TEXT, price TEXT, rating TEXT, tags TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO products VALUES ('s1', 'Kettle', '', 'kitchen', '30', '4.1', 'steel'), ('s2', 'Teapot', '', 'kitchen', '25', '4.3', 'ceramic')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := testConfig(t)
	cfg.Catalog.Provider = "sqlite"
	cfg.Catalog.SQLite.DSN = dsn
	cfg.Sync.State.Provider = "memory"

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Facade.Recommend(ctx, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, res.IDs())
}

func TestConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Embeddings.APIKey = config.Secret("sk-test")
	cfg.VectorStore.Provider = "qdrant"
	cfg.VectorStore.Distance = "euclidean"
	cfg.VectorStore.Qdrant.APIKey = config.Secret("qk")

	ecfg := embeddingsConfig(cfg.Embeddings)
	assert.Equal(t, "sk-test", ecfg.APIKey)
	assert.Equal(t, cfg.Embeddings.Retry, ecfg.Retry)

	vcfg, err := vectorStoreConfig(cfg.VectorStore)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", vcfg.Provider)
	assert.Equal(t, vectorstore.MetricEuclidean, vcfg.Qdrant.Distance)
	assert.Equal(t, "qk", vcfg.Qdrant.APIKey)
	assert.False(t, strings.HasPrefix(vcfg.Chromem.Path, "~"))

	rcfg := recommendConfig(cfg.Recommend)
	assert.Equal(t, recommend.DefaultWeights(), rcfg.Weights)
	assert.Equal(t, 5, rcfg.Breaker.Threshold)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := map[string]string{
		"~/data/x.db": filepath.Join(home, "data/x.db"),
		"/abs/path":   "/abs/path",
		"rel/path":    "rel/path",
		"~user/x":     "~user/x",
	}
	for in, want := range tests {
		got, err := expandHome(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestServe_RunsOnStartSyncAndStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sync.OnStart = true
	cfg.Catalog.File.Watch = true

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return a.Scheduler.Status().LastReport != nil
	}, 10*time.Second, 20*time.Millisecond)
	assert.Len(t, a.Scheduler.Status().LastReport.Succeeded, 4)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
