// Package indexer keeps the vector store in step with the product catalog.
//
// Engine.RunSync lists the catalog, decides which products need
// (re)embedding, embeds and upserts them in batches on a bounded worker
// pool, and deletes vectors of products that left the catalog. Outcomes are
// recorded through the sync state tracker so that runs are resumable and an
// unchanged catalog costs no external calls. Scheduler serializes runs and
// triggers them periodically or on demand.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/embeddings"
	"github.com/fyrsmithlabs/similard/internal/syncstate"
	"github.com/fyrsmithlabs/similard/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/similard/internal/indexer")

// Embedder produces vectors for product text. *embeddings.Client
// implements it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config configures an Engine.
type Config struct {
	// Namespace is the vector store collection.
	Namespace string

	// BatchSize is the number of products embedded and upserted together.
	BatchSize int

	// Workers bounds the number of batches processed concurrently.
	Workers int
}

// ApplyDefaults sets zero fields to their defaults.
func (c *Config) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "products"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if err := vectorstore.ValidateNamespace(c.Namespace); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}

// ProgressFunc receives the number of eligible products processed so far.
type ProgressFunc func(done, total int)

// Option configures an Engine.
type Option func(*Engine)

// WithProgress registers a callback invoked after every batch.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// WithClock overrides the time source used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine is the vector store sync engine.
type Engine struct {
	catalog  catalog.Catalog
	embedder Embedder
	store    vectorstore.Store
	tracker  *syncstate.Tracker
	config   Config
	logger   *zap.Logger
	progress ProgressFunc
	now      func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(cat catalog.Catalog, embedder Embedder, store vectorstore.Store, tracker *syncstate.Tracker, cfg Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cat == nil || embedder == nil || store == nil || tracker == nil {
		return nil, errors.New("indexer: catalog, embedder, store and tracker are required")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("indexer config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		catalog:  cat,
		embedder: embedder,
		store:    store,
		tracker:  tracker,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Namespace returns the vector store namespace the engine writes to.
func (e *Engine) Namespace() string {
	return e.config.Namespace
}

// RunSync runs one sync pass.
//
// Product failures never abort the run; they are listed in the report and
// recorded as failed so the next pass retries them. Use Report.Err to turn
// them into an error. A non-nil error is returned only when the catalog
// cannot be listed or ctx ends; in the latter case the partial report of
// everything committed so far is returned with ctx.Err().
func (e *Engine) RunSync(ctx context.Context, mode Mode) (*Report, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("sync.run_id", runID), zap.String("mode", string(mode)))

	ctx, span := tracer.Start(ctx, "Engine.RunSync")
	defer span.End()
	span.SetAttributes(attribute.String("sync.run_id", runID), attribute.String("sync.mode", string(mode)))

	started := e.now()
	rep := newReport(runID, mode, started)
	run := &run{engine: e, report: rep, logger: logger}

	finish := func(err error) (*Report, error) {
		rep.Duration = e.now().Sub(started)
		rep.sort()
		recordRun(rep, err)
		span.SetAttributes(
			attribute.Int("sync.succeeded", len(rep.Succeeded)),
			attribute.Int("sync.failed", len(rep.Failed)),
			attribute.Int("sync.skipped", len(rep.Skipped)),
			attribute.Int("sync.deleted", len(rep.Deleted)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		logger.Info("sync run finished",
			zap.Int("succeeded", len(rep.Succeeded)),
			zap.Int("failed", len(rep.Failed)),
			zap.Int("skipped", len(rep.Skipped)),
			zap.Int("deleted", len(rep.Deleted)),
			zap.Int("delete_failed", len(rep.DeleteFailed)),
			zap.Duration("duration", rep.Duration),
			zap.Error(err),
		)
		return rep, err
	}

	products, rejected, err := e.loadCatalog(ctx)
	if err != nil {
		recordRun(nil, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing catalog: %w", err)
	}

	current := make(map[string]struct{}, len(products)+len(rejected))
	for _, p := range products {
		current[p.ID] = struct{}{}
	}
	for _, r := range rejected {
		if _, ok := current[r.ID]; ok {
			continue
		}
		if r.ID != "" {
			current[r.ID] = struct{}{}
		}
		run.fail(ctx, r.ID, ReasonInvalidProduct, r.Err)
	}

	eligible := run.selectEligible(ctx, products, mode)
	logger.Info("sync run started",
		zap.Int("catalog_size", len(products)),
		zap.Int("invalid", len(rejected)),
		zap.Int("eligible", len(eligible)),
	)

	if len(eligible) > 0 {
		run.total = len(eligible)
		if err := e.tracker.MarkPending(ctx, eligible...); err != nil {
			logger.Warn("marking products pending failed", zap.Error(err))
		}

		if err := e.store.EnsureNamespace(ctx, e.config.Namespace, e.embedder.Dimension()); err != nil {
			if ctx.Err() != nil {
				return finish(ctx.Err())
			}
			logger.Error("ensuring namespace failed", zap.String("namespace", e.config.Namespace), zap.Error(err))
			for _, p := range eligible {
				run.fail(ctx, p.ID, ReasonVectorStoreUnavailable, err)
			}
		} else {
			run.processAll(ctx, eligible)
		}
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	run.prune(ctx, current)
	if err := ctx.Err(); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// loadCatalog lists the catalog. Catalogs that expose raw records have them
// normalized here so invalid records can be reported.
func (e *Engine) loadCatalog(ctx context.Context) ([]catalog.Product, []catalog.Rejection, error) {
	if rl, ok := e.catalog.(catalog.RawLister); ok {
		raws, err := rl.ListRaw(ctx)
		if err != nil {
			return nil, nil, err
		}
		products, rejected := catalog.NormalizeAll(raws)
		return products, rejected, nil
	}
	products, err := e.catalog.ListProducts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return dedupe(products), nil, nil
}

// dedupe drops repeated ids so no product lands in two batches. As in
// catalog.NormalizeAll, a later duplicate replaces the earlier one.
func dedupe(products []catalog.Product) []catalog.Product {
	index := make(map[string]int, len(products))
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}

// run holds the mutable state of one RunSync call.
type run struct {
	engine *Engine
	logger *zap.Logger

	mu     sync.Mutex
	report *Report
	done   int
	total  int
}

func (r *run) succeed(id string) {
	r.mu.Lock()
	r.report.Succeeded = append(r.report.Succeeded, id)
	r.mu.Unlock()
}

func (r *run) skip(id string) {
	r.mu.Lock()
	r.report.Skipped = append(r.report.Skipped, id)
	r.mu.Unlock()
}

// fail reports a product failure and records it with the tracker.
func (r *run) fail(ctx context.Context, id, reason string, cause error) {
	f := Failure{ProductID: id, Reason: reason}
	if cause != nil {
		f.Detail = cause.Error()
	}
	r.mu.Lock()
	r.report.Failed = append(r.report.Failed, f)
	r.mu.Unlock()

	r.logger.Warn("product sync failed",
		zap.String("product_id", id),
		zap.String("reason", reason),
		zap.Error(cause),
	)
	if id == "" || reason == ReasonTrackerError {
		return
	}
	if err := r.engine.tracker.RecordFailure(ctx, id, reason); err != nil {
		r.logger.Error("recording sync failure", zap.String("product_id", id), zap.Error(err))
	}
}

func (r *run) advance(n int) {
	r.mu.Lock()
	r.done += n
	done, total := r.done, r.total
	if r.engine.progress != nil {
		r.engine.progress(done, total)
	}
	r.mu.Unlock()
}

func (r *run) selectEligible(ctx context.Context, products []catalog.Product, mode Mode) []catalog.Product {
	if mode == ModeFull {
		return products
	}
	eligible := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		needs, err := r.engine.tracker.NeedsSync(ctx, p)
		if err != nil {
			r.fail(ctx, p.ID, ReasonTrackerError, err)
			continue
		}
		if needs {
			eligible = append(eligible, p)
		} else {
			r.skip(p.ID)
		}
	}
	return eligible
}

// processAll partitions products into disjoint batches and runs them on the
// worker pool. Batches not yet started when ctx ends are left out.
func (r *run) processAll(ctx context.Context, products []catalog.Product) {
	size := r.engine.config.BatchSize
	var g errgroup.Group
	g.SetLimit(r.engine.config.Workers)

	for start := 0; start < len(products); start += size {
		if ctx.Err() != nil {
			break
		}
		batch := products[start:min(start+size, len(products))]
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.processBatch(ctx, batch)
			return nil
		})
	}
	_ = g.Wait()
}

type embedded struct {
	product catalog.Product
	vector  []float32
}

func (r *run) processBatch(ctx context.Context, batch []catalog.Product) {
	ctx, span := tracer.Start(ctx, "Engine.processBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	ready := r.embedBatch(ctx, batch)
	if ctx.Err() != nil {
		return
	}
	r.upsert(ctx, ready)
	if ctx.Err() != nil {
		return
	}
	r.advance(len(batch))
}

// embedBatch embeds a batch in one call, falling back to one call per
// product when the batch call fails so only the offending products fail.
func (r *run) embedBatch(ctx context.Context, batch []catalog.Product) []embedded {
	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.EmbeddingText()
	}

	vectors, err := r.engine.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) == len(batch) {
		ready := make([]embedded, 0, len(batch))
		for i, p := range batch {
			if e, ok := r.checkDimension(ctx, p, vectors[i]); ok {
				ready = append(ready, e)
			}
		}
		return ready
	}
	if ctx.Err() != nil {
		return nil
	}
	if len(batch) == 1 {
		r.fail(ctx, batch[0].ID, embedReason(err), err)
		return nil
	}

	r.logger.Debug("batch embedding failed, embedding products individually",
		zap.Int("batch_size", len(batch)), zap.Error(err))
	ready := make([]embedded, 0, len(batch))
	for i, p := range batch {
		vecs, err := r.engine.embedder.EmbedBatch(ctx, texts[i:i+1])
		if ctx.Err() != nil {
			return nil
		}
		if err != nil || len(vecs) != 1 {
			r.fail(ctx, p.ID, embedReason(err), err)
			continue
		}
		if e, ok := r.checkDimension(ctx, p, vecs[0]); ok {
			ready = append(ready, e)
		}
	}
	return ready
}

func (r *run) checkDimension(ctx context.Context, p catalog.Product, vec []float32) (embedded, bool) {
	if want := r.engine.embedder.Dimension(); len(vec) != want {
		r.fail(ctx, p.ID, ReasonDimensionMismatch,
			fmt.Errorf("%w: got %d, expected %d", embeddings.ErrDimensionMismatch, len(vec), want))
		return embedded{}, false
	}
	return embedded{product: p, vector: vec}, true
}

func embedReason(err error) string {
	if errors.Is(err, embeddings.ErrDimensionMismatch) {
		return ReasonDimensionMismatch
	}
	return ReasonEmbeddingUnavailable
}

// upsert writes the batch in one call, falling back to one call per point
// when the batch write fails.
func (r *run) upsert(ctx context.Context, items []embedded) {
	if len(items) == 0 {
		return
	}
	ns := r.engine.config.Namespace
	points := make([]vectorstore.Point, len(items))
	for i, it := range items {
		points[i] = vectorstore.Point{
			Key:    it.product.ID,
			Vector: it.vector,
			Metadata: vectorstore.Metadata{
				ProductID: it.product.ID,
				Category:  it.product.Category,
				Price:     it.product.Price,
				Rating:    it.product.Rating,
			},
		}
	}

	err := r.engine.store.Upsert(ctx, ns, points)
	if err == nil {
		for _, it := range items {
			r.commit(ctx, it.product)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	if len(items) == 1 {
		r.fail(ctx, items[0].product.ID, ReasonVectorStoreUnavailable, err)
		return
	}

	r.logger.Debug("batch upsert failed, upserting points individually",
		zap.Int("batch_size", len(items)), zap.Error(err))
	for i, it := range items {
		err := r.engine.store.Upsert(ctx, ns, points[i:i+1])
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.fail(ctx, it.product.ID, ReasonVectorStoreUnavailable, err)
			continue
		}
		r.commit(ctx, it.product)
	}
}

func (r *run) commit(ctx context.Context, p catalog.Product) {
	if err := r.engine.tracker.RecordSuccess(ctx, p.ID, p.Fingerprint(), p.ID); err != nil {
		r.fail(ctx, p.ID, ReasonTrackerError, err)
		return
	}
	r.succeed(p.ID)
}

// prune deletes vectors of products no longer in the catalog. Records are
// removed only after their vector is confirmed gone.
func (r *run) prune(ctx context.Context, current map[string]struct{}) {
	e := r.engine
	stale, err := e.tracker.PruneDeleted(ctx, current)
	if err != nil {
		r.logger.Error("listing stale sync records", zap.Error(err))
		return
	}
	if len(stale) == 0 {
		return
	}

	keys := make([]string, 0, len(stale))
	owners := make([]string, 0, len(stale))
	for _, id := range stale {
		rec, err := e.tracker.Get(ctx, id)
		if err != nil {
			r.deleteFailed(id, err)
			continue
		}
		if rec.VectorKey == "" {
			// Never upserted; only the record exists.
			r.removeRecord(ctx, id)
			continue
		}
		keys = append(keys, rec.VectorKey)
		owners = append(owners, id)
	}
	if len(keys) == 0 {
		return
	}

	if err := e.store.Delete(ctx, e.config.Namespace, keys); err == nil {
		for _, id := range owners {
			r.removeRecord(ctx, id)
		}
		return
	}
	for i, key := range keys {
		if ctx.Err() != nil {
			return
		}
		if err := e.store.Delete(ctx, e.config.Namespace, []string{key}); err != nil {
			r.deleteFailed(owners[i], err)
			continue
		}
		r.removeRecord(ctx, owners[i])
	}
}

func (r *run) removeRecord(ctx context.Context, id string) {
	if err := r.engine.tracker.Remove(ctx, id); err != nil {
		r.deleteFailed(id, err)
		return
	}
	r.mu.Lock()
	r.report.Deleted = append(r.report.Deleted, id)
	r.mu.Unlock()
}

func (r *run) deleteFailed(id string, err error) {
	r.logger.Warn("deleting stale product failed, will retry next run",
		zap.String("product_id", id), zap.Error(err))
	reason := ReasonVectorStoreUnavailable
	if !errors.Is(err, vectorstore.ErrVectorStoreUnavailable) {
		reason = ReasonTrackerError
	}
	r.mu.Lock()
	r.report.DeleteFailed = append(r.report.DeleteFailed, Failure{ProductID: id, Reason: reason, Detail: err.Error()})
	r.mu.Unlock()
}
