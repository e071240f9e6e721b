package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/events"
	httpapi "github.com/fyrsmithlabs/similard/internal/http"
	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/workflows"
)

// Serve runs the daemon until ctx ends: the HTTP API, the sync scheduler
// and, when configured, the catalog file watcher, the NATS change
// subscriber and the Temporal worker. It returns after everything has
// stopped.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.NATS.Enabled {
		bus, err := events.Connect(ctx, events.Config{
			URL:              cfg.NATS.URL,
			ChangesSubject:   cfg.NATS.ChangesSubject,
			CompletedSubject: cfg.NATS.CompletedSubject,
		}, a.Logger.Underlying().Named("events"))
		if err != nil {
			return err
		}
		defer bus.Close()
		a.Scheduler.OnComplete(bus.CompletionHook())
		sub, err := bus.SubscribeChanges(a.Scheduler)
		if err != nil {
			return err
		}
		defer func() { _ = sub.Unsubscribe() }()
		a.Logger.Info(ctx, "listening for catalog changes", zap.String("subject", cfg.NATS.ChangesSubject))
	}

	if cfg.Temporal.Enabled {
		w, err := workflows.NewWorker(workflows.WorkerConfig{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			TaskQueue: cfg.Temporal.TaskQueue,
		}, workflows.NewActivities(a.Scheduler))
		if err != nil {
			return err
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("starting temporal worker: %w", err)
		}
		defer w.Stop()
		a.Logger.Info(ctx, "temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	srv, err := httpapi.NewServer(a.Facade, a.Scheduler, a.Logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, httpapi.WithHealthCheck("vectorstore", a.Store.Health))
	if err != nil {
		return err
	}

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()
	if cfg.Sync.OnStart {
		a.Scheduler.Trigger(indexer.ModeIncremental)
	}

	g, gctx := errgroup.WithContext(ctx)
	if fc, ok := a.Catalog.(*catalog.FileCatalog); ok && cfg.Catalog.File.Watch {
		g.Go(func() error {
			return fc.Watch(gctx, func() {
				a.Logger.Info(gctx, "catalog files changed, scheduling sync")
				a.Scheduler.Trigger(indexer.ModeIncremental)
			})
		})
	}
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	a.Logger.Info(ctx, "similard ready", zap.String("addr", cfg.Server.Addr()))
	return g.Wait()
}
