package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/config"
	"github.com/fyrsmithlabs/similard/internal/embeddings"
	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/recommend"
	"github.com/fyrsmithlabs/similard/internal/syncstate"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

func (a *App) openCatalog() (catalog.Catalog, error) {
	cc := a.Config.Catalog
	switch cc.Provider {
	case "file", "":
		root, err := expandHome(cc.File.Root)
		if err != nil {
			return nil, err
		}
		return catalog.NewFileCatalog(catalog.FileConfig{
			Root:    root,
			Pattern: cc.File.Pattern,
			Watch:   cc.File.Watch,
		}, a.Logger.Underlying().Named("catalog"))
	case "sqlite":
		db, err := catalog.OpenSQLite(cc.SQLite.DSN)
		if err != nil {
			return nil, err
		}
		cat := catalog.NewSQLCatalog(db, catalog.SQLConfig{
			DSN:       cc.SQLite.DSN,
			ListQuery: cc.SQLite.ListQuery,
			GetQuery:  cc.SQLite.GetQuery,
		})
		a.addCloser("catalog", cat.Close)
		return cat, nil
	default:
		return nil, fmt.Errorf("unsupported catalog provider %q", cc.Provider)
	}
}

func (a *App) openStateStore() (syncstate.Store, error) {
	sc := a.Config.Sync.State
	switch sc.Provider {
	case "memory":
		return syncstate.NewMemoryStore(), nil
	case "bolt", "":
		path, err := expandHome(sc.Path)
		if err != nil {
			return nil, err
		}
		if err := config.EnsureDir(path); err != nil {
			return nil, err
		}
		store, err := syncstate.OpenBoltStore(path)
		if err != nil {
			return nil, err
		}
		a.addCloser("syncstate", store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported sync state provider %q", sc.Provider)
	}
}

func (a *App) openEmbedder(logger *zap.Logger) (indexer.Embedder, error) {
	cfg := embeddingsConfig(a.Config.Embeddings)
	provider, err := embeddings.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	client, err := embeddings.NewClient(provider, cfg, logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	a.addCloser("embeddings", client.Close)
	return client, nil
}

func embeddingsConfig(c config.EmbeddingsConfig) embeddings.Config {
	return embeddings.Config{
		Provider:          c.Provider,
		BaseURL:           c.BaseURL,
		Model:             c.Model,
		APIKey:            c.APIKey.Value(),
		Dimension:         c.Dimension,
		MaxInputChars:     c.MaxInputChars,
		MaxBatchSize:      c.MaxBatchSize,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Timeout:           c.Timeout,
		CacheDir:          c.CacheDir,
		Retry:             c.Retry,
	}
}

func vectorStoreConfig(c config.VectorStoreConfig) (vectorstore.Config, error) {
	metric, err := vectorstore.ParseMetric(c.Distance)
	if err != nil {
		return vectorstore.Config{}, err
	}
	chromemPath, err := expandHome(c.Chromem.Path)
	if err != nil {
		return vectorstore.Config{}, err
	}
	return vectorstore.Config{
		Provider: c.Provider,
		Qdrant: vectorstore.QdrantConfig{
			Host:           c.Qdrant.Host,
			Port:           c.Qdrant.Port,
			APIKey:         c.Qdrant.APIKey.Value(),
			UseTLS:         c.Qdrant.UseTLS,
			MaxMessageSize: c.Qdrant.MaxMessageSize,
			Distance:       metric,
			RequestTimeout: c.Qdrant.RequestTimeout,
			Retry:          c.Retry,
		},
		Chromem: vectorstore.ChromemConfig{
			Path:     chromemPath,
			Compress: c.Chromem.Compress,
		},
	}, nil
}

func recommendConfig(c config.RecommendConfig) recommend.Config {
	return recommend.Config{
		DefaultTopK:           c.DefaultTopK,
		MaxTopK:               c.MaxTopK,
		MaxFallbackCandidates: c.MaxFallbackCandidates,
		Weights: recommend.Weights{
			Category: c.Weights.Category,
			Price:    c.Weights.Price,
			Rating:   c.Weights.Rating,
			Tags:     c.Weights.Tags,
		},
		Breaker: recommend.BreakerConfig{
			Threshold:  c.Breaker.Threshold,
			ResetAfter: c.Breaker.ResetAfter,
		},
	}
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding %s: %w", path, err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
