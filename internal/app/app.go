// Package app builds similard's components from configuration and runs
// them as a daemon.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/config"
	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/logging"
	"github.com/fyrsmithlabs/similard/internal/recommend"
	"github.com/fyrsmithlabs/similard/internal/syncstate"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Catalog   catalog.Catalog
	Store     vectorstore.Store
	Tracker   *syncstate.Tracker
	Embedder  indexer.Embedder
	Engine    *indexer.Engine
	Scheduler *indexer.Scheduler
	Facade    *recommend.Facade

	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option overrides a component that New would otherwise build from config.
type Option func(*options)

type options struct {
	catalog    catalog.Catalog
	store      vectorstore.Store
	stateStore syncstate.Store
	embedder   indexer.Embedder
	progress   indexer.ProgressFunc
}

// WithCatalog uses cat instead of the configured catalog adapter.
func WithCatalog(cat catalog.Catalog) Option {
	return func(o *options) { o.catalog = cat }
}

// WithVectorStore uses store instead of the configured backend.
func WithVectorStore(store vectorstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithStateStore uses s for sync records.
func WithStateStore(s syncstate.Store) Option {
	return func(o *options) { o.stateStore = s }
}

// WithEmbedder uses e instead of the configured embedding provider.
func WithEmbedder(e indexer.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithProgress reports sync progress to fn.
func WithProgress(fn indexer.ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// New wires every component. On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (_ *App, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	zl := logger.Underlying()

	a.Catalog = o.catalog
	if a.Catalog == nil {
		if a.Catalog, err = a.openCatalog(); err != nil {
			return nil, err
		}
	}

	a.Store = o.store
	if a.Store == nil {
		vcfg, err := vectorStoreConfig(cfg.VectorStore)
		if err != nil {
			return nil, err
		}
		if a.Store, err = vectorstore.NewStore(ctx, vcfg, zl.Named("vectorstore")); err != nil {
			return nil, fmt.Errorf("opening vector store: %w", err)
		}
		a.addCloser("vectorstore", a.Store.Close)
	}

	stateStore := o.stateStore
	if stateStore == nil {
		if stateStore, err = a.openStateStore(); err != nil {
			return nil, err
		}
	}
	a.Tracker = syncstate.NewTracker(stateStore)

	a.Embedder = o.embedder
	if a.Embedder == nil {
		if a.Embedder, err = a.openEmbedder(zl.Named("embeddings")); err != nil {
			return nil, err
		}
	}

	var engineOpts []indexer.Option
	if o.progress != nil {
		engineOpts = append(engineOpts, indexer.WithProgress(o.progress))
	}
	a.Engine, err = indexer.NewEngine(a.Catalog, a.Embedder, a.Store, a.Tracker, indexer.Config{
		Namespace: cfg.VectorStore.Namespace,
		BatchSize: cfg.Sync.BatchSize,
		Workers:   cfg.Sync.Workers,
	}, zl.Named("indexer"), engineOpts...)
	if err != nil {
		return nil, err
	}

	tickMode, err := indexer.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return nil, err
	}
	a.Scheduler = indexer.NewScheduler(a.Engine, cfg.Sync.Interval, zl.Named("scheduler"), indexer.WithTickMode(tickMode))

	query := recommend.NewQueryService(a.Store, a.Tracker, a.Engine.Namespace(), zl.Named("query"))
	a.Facade, err = recommend.NewFacade(a.Catalog, query, recommendConfig(cfg.Recommend), zl.Named("recommend"))
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "components initialized",
		zap.String("catalog", cfg.Catalog.Provider),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("namespace", a.Engine.Namespace()),
	)
	return a, nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases every resource New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
