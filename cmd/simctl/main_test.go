package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpapi "github.com/fyrsmithlabs/similard/internal/http"
	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/recommend"
)

const testCatalog = `products:
  - {id: p1, name: Trail Shoe, category: shoes, price: 120, rating: 4.6, tags: [running, trail]}
  - {id: p2, name: Road Shoe, category: shoes, price: 110, rating: 4.4, tags: [running, road]}
  - {id: p3, name: Rain Jacket, category: outerwear, price: 180, rating: 4.1, tags: [waterproof]}
`

// setup writes a catalog and a config file pointing at an in-memory vector
// store and an embedding server that returns fixed vectors.
func setup(t *testing.T) string {
	t.Helper()
	tei := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Inputs))
		for i, text := range req.Inputs {
			out[i] = []float32{0, 1}
			if strings.Contains(text, "Shoe") {
				out[i] = []float32{1, 0}
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(tei.Close)

	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	require.NoError(t, os.MkdirAll(catalogDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(catalogDir, "items.yaml"), []byte(testCatalog), 0o600))

	cfgPath := filepath.Join(dir, "similard.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
embeddings:
  base_url: %q
  dimension: 2
  requests_per_second: 1000
vectorstore:
  chromem:
    path: %q
    compress: false
sync:
  state:
    provider: bolt
    path: %q
catalog:
  file:
    root: %q
    watch: false
telemetry:
  enabled: false
`, tei.URL, filepath.Join(dir, "vectors"), filepath.Join(dir, "state.db"), catalogDir)), 0o600))
	return cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "simctl dev")
}

func TestSyncThenRecommend(t *testing.T) {
	cfgPath := setup(t)

	// Nothing synced yet: the heuristic answers.
	out, err := execute(t, "recommend", "p1", "--config", cfgPath, "--json")
	require.NoError(t, err)
	var res recommend.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, recommend.SourceHeuristic, res.Source)
	assert.Equal(t, "p2", res.Items[0].ProductID)

	out, err = execute(t, "sync", "--config", cfgPath, "--mode", "full")
	require.NoError(t, err)
	assert.Contains(t, out, "synced")

	// State and vectors persist across invocations.
	out, err = execute(t, "recommend", "p1", "--config", cfgPath, "--json", "-k", "1")
	require.NoError(t, err)
	res = recommend.Result{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, recommend.SourceVector, res.Source)
	assert.Equal(t, []string{"p2"}, res.IDs())

	out, err = execute(t, "recommend", "p1", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Similar to p1")
	assert.Contains(t, out, "p2")
}

func TestSync_InvalidMode(t *testing.T) {
	_, err := execute(t, "sync", "--mode", "partial", "--config", setup(t))
	assert.ErrorContains(t, err, "unknown sync mode")
}

func TestRecommend_UnknownProduct(t *testing.T) {
	_, err := execute(t, "recommend", "nope", "--config", setup(t))
	assert.ErrorContains(t, err, "not found")
}

func TestStatusCommand(t *testing.T) {
	tests := []struct {
		name      string
		health    httpapi.HealthResponse
		code      int
		wantErr   string
		wantParts []string
	}{
		{
			name:      "healthy",
			health:    httpapi.HealthResponse{Status: "ok", Components: map[string]string{"vectorstore": "ok"}},
			code:      http.StatusOK,
			wantParts: []string{"similard", "vectorstore", "idle", "3 synced"},
		},
		{
			name:      "degraded",
			health:    httpapi.HealthResponse{Status: "degraded", Components: map[string]string{"vectorstore": "connection refused"}},
			code:      http.StatusServiceUnavailable,
			wantErr:   "similard is degraded",
			wantParts: []string{"connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				switch r.URL.Path {
				case "/health":
					w.WriteHeader(tt.code)
					_ = json.NewEncoder(w).Encode(tt.health)
				case "/api/v1/sync/status":
					_ = json.NewEncoder(w).Encode(indexer.Status{
						LastRunAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
						LastReport: &indexer.Report{Succeeded: []string{"a", "b", "c"}},
					})
				default:
					http.NotFound(w, r)
				}
			}))
			defer srv.Close()

			out, err := execute(t, "status", "--server", srv.URL)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			for _, part := range tt.wantParts {
				assert.Contains(t, out, part)
			}
		})
	}
}

func TestStatusCommand_Unreachable(t *testing.T) {
	_, err := execute(t, "status", "--server", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "failed to connect")
}

func TestRemoteSync(t *testing.T) {
	var got httpapi.SyncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/sync", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(httpapi.SyncResponse{
			Status: "completed",
			Mode:   indexer.ModeFull,
			Report: &indexer.Report{RunID: "r1", Mode: indexer.ModeFull, Succeeded: []string{"x"}},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "sync", "--remote", "--mode", "full", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, httpapi.SyncRequest{Mode: "full", Wait: true}, got)
	assert.Contains(t, out, "Sync r1 (full)")
}

func TestRemoteSync_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"sync already in progress"}`, http.StatusConflict)
	}))
	defer srv.Close()

	_, err := execute(t, "sync", "--remote", "--server", srv.URL)
	assert.ErrorContains(t, err, "409")
}

func TestRenderReport_ListsFailures(t *testing.T) {
	out := renderReport(&indexer.Report{
		RunID:  "r2",
		Mode:   indexer.ModeIncremental,
		Failed: []indexer.Failure{{ProductID: "bad", Reason: indexer.ReasonInvalidProduct, Detail: "missing name"}},
	})
	assert.Contains(t, out, "bad")
	assert.Contains(t, out, indexer.ReasonInvalidProduct)
}

func TestRenderRecommendations_Empty(t *testing.T) {
	out := renderRecommendations("p9", recommend.Result{Source: recommend.SourceHeuristic})
	assert.Contains(t, out, "no similar products")
	assert.Contains(t, out, "[heuristic]")
}
