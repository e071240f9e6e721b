// Package workflows provides Temporal workflow definitions for similard.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/similard/internal/indexer"
)

// DefaultTaskQueue is the task queue the sync worker polls.
const DefaultTaskQueue = "similard-sync"

// Application error types. Temporal matches NonRetryableErrorTypes on these.
const (
	ErrTypeInvalidMode    = "InvalidMode"
	ErrTypeSyncInProgress = "SyncInProgress"
)

// CatalogSyncInput is the workflow argument.
type CatalogSyncInput struct {
	Mode string // "incremental" (default) or "full"
}

// SyncActivityInput is the activity argument.
type SyncActivityInput struct {
	Mode string
}

// SyncActivityResult summarizes one run. Partial failures are reported
// here rather than as an activity error so they are not retried.
type SyncActivityResult struct {
	RunID     string
	Mode      string
	Succeeded int
	Skipped   int
	Deleted   int
	FailedIDs []string
}

// CatalogSyncResult is the workflow result.
type CatalogSyncResult struct {
	SyncActivityResult
	Attempts int32
}

// SyncRunner runs a sync unless one is in progress. *indexer.Scheduler
// implements it, so Temporal runs share the single-flight lock with local
// runs.
type SyncRunner interface {
	RunNow(ctx context.Context, mode indexer.Mode) (*indexer.Report, error)
}

// Activities holds the dependencies of the sync activities.
type Activities struct {
	runner SyncRunner
}

// NewActivities creates the activity set.
func NewActivities(runner SyncRunner) *Activities {
	return &Activities{runner: runner}
}

// RunSyncActivity runs one sync pass.
func (a *Activities) RunSyncActivity(ctx context.Context, in SyncActivityInput) (*SyncActivityResult, error) {
	start := time.Now()
	logger := activity.GetLogger(ctx)

	mode, err := indexer.ParseMode(in.Mode)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidMode, err)
	}

	rep, err := a.runner.RunNow(ctx, mode)
	recordActivity(ctx, string(mode), time.Since(start), err)
	switch {
	case errors.Is(err, indexer.ErrSyncInProgress):
		return nil, temporal.NewApplicationError(err.Error(), ErrTypeSyncInProgress, err)
	case err != nil && rep == nil:
		return nil, fmt.Errorf("run sync: %w", err)
	case err != nil:
		logger.Warn("sync finished with failures", "run_id", rep.RunID, "failed", len(rep.Failed))
	}

	logger.Info("sync finished", "run_id", rep.RunID, "mode", string(rep.Mode),
		"succeeded", len(rep.Succeeded), "skipped", len(rep.Skipped))
	return &SyncActivityResult{
		RunID:     rep.RunID,
		Mode:      string(rep.Mode),
		Succeeded: len(rep.Succeeded),
		Skipped:   len(rep.Skipped),
		Deleted:   len(rep.Deleted),
		FailedIDs: rep.FailedIDs(),
	}, nil
}

// CatalogSyncWorkflow runs a sync through RunSyncActivity, retrying while
// another run holds the lock or a dependency is down.
func CatalogSyncWorkflow(ctx workflow.Context, in CatalogSyncInput) (*CatalogSyncResult, error) {
	logger := workflow.GetLogger(ctx)
	if _, err := indexer.ParseMode(in.Mode); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidMode, err)
	}
	logger.Info("Starting catalog sync", "mode", in.Mode)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeInvalidMode},
		},
	})

	var a *Activities
	var res SyncActivityResult
	if err := workflow.ExecuteActivity(ctx, a.RunSyncActivity, SyncActivityInput(in)).Get(ctx, &res); err != nil {
		return nil, err
	}

	info := workflow.GetInfo(ctx)
	logger.Info("Catalog sync complete", "run_id", res.RunID, "failed", len(res.FailedIDs))
	return &CatalogSyncResult{SyncActivityResult: res, Attempts: info.Attempt}, nil
}

// Registry is the registration surface shared by worker.Worker and the
// Temporal test environments.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// Register adds the sync workflow and activities to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflow(CatalogSyncWorkflow)
	r.RegisterActivity(acts)
}

// WorkerConfig configures NewWorker.
type WorkerConfig struct {
	HostPort  string
	Namespace string
	TaskQueue string
}

// Worker is a running Temporal worker with its client.
type Worker struct {
	client client.Client
	worker worker.Worker
}

// NewWorker dials Temporal and registers the sync workflow on the task
// queue. Call Start to begin polling.
func NewWorker(cfg WorkerConfig, acts *Activities) (*Worker, error) {
	if cfg.TaskQueue == "" {
		cfg.TaskQueue = DefaultTaskQueue
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing temporal at %s: %w", cfg.HostPort, err)
	}
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	Register(w, acts)
	return &Worker{client: c, worker: w}, nil
}

// Start begins polling without blocking.
func (w *Worker) Start() error {
	return w.worker.Start()
}

// Stop stops the worker and closes the client.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
}
