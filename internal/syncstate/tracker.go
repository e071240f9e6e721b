package syncstate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/similard/internal/catalog"
)

// Tracker decides what needs syncing and records sync outcomes.
type Tracker struct {
	store Store
	now   func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker over store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NeedsSync reports whether p must be (re)embedded: no record, a record that
// is not synced, or a fingerprint that changed since the last sync.
func (t *Tracker) NeedsSync(ctx context.Context, p catalog.Product) (bool, error) {
	rec, err := t.store.Get(ctx, p.ID)
	if errors.Is(err, ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading sync record %s: %w", p.ID, err)
	}
	return rec.Status != StatusSynced || rec.Fingerprint != p.Fingerprint(), nil
}

// RecordSuccess stores the fingerprint and vector key written for a product.
func (t *Tracker) RecordSuccess(ctx context.Context, productID, fingerprint, vectorKey string) error {
	return t.store.Put(ctx, Record{
		ProductID:    productID,
		Fingerprint:  fingerprint,
		VectorKey:    vectorKey,
		LastSyncedAt: t.now().UTC(),
		Status:       StatusSynced,
	})
}

// RecordFailure marks a product failed so the next pass retries it. The
// last good fingerprint and vector key are kept.
func (t *Tracker) RecordFailure(ctx context.Context, productID, reason string) error {
	rec, err := t.store.Get(ctx, productID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return fmt.Errorf("loading sync record %s: %w", productID, err)
	}
	rec.ProductID = productID
	rec.Status = StatusFailed
	rec.Attempts++
	rec.LastError = reason
	return t.store.Put(ctx, rec)
}

// MarkPending flags synced records whose fingerprint no longer matches the
// product as stale. Records that still match keep their synced status until
// the run overwrites them, so their vectors stay queryable and a cancelled
// run leaves nothing to redo. Products without a record are left alone; they
// already need sync.
func (t *Tracker) MarkPending(ctx context.Context, products ...catalog.Product) error {
	for _, p := range products {
		rec, err := t.store.Get(ctx, p.ID)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("loading sync record %s: %w", p.ID, err)
		}
		if rec.Status != StatusSynced || rec.Fingerprint == p.Fingerprint() {
			continue
		}
		rec.Status = StatusPending
		if err := t.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("marking %s pending: %w", p.ID, err)
		}
	}
	return nil
}

// PruneDeleted returns the ids of tracked products missing from current,
// sorted ascending. Records are not removed; call Remove once the vector
// deletion is confirmed.
func (t *Tracker) PruneDeleted(ctx context.Context, current map[string]struct{}) ([]string, error) {
	records, err := t.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sync records: %w", err)
	}
	var stale []string
	for _, rec := range records {
		if _, ok := current[rec.ProductID]; !ok {
			stale = append(stale, rec.ProductID)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// Remove deletes the record of a product whose vector is gone.
func (t *Tracker) Remove(ctx context.Context, productID string) error {
	return t.store.Delete(ctx, productID)
}

// Get returns the record for a product or ErrRecordNotFound.
func (t *Tracker) Get(ctx context.Context, productID string) (Record, error) {
	return t.store.Get(ctx, productID)
}

// List returns every record ordered by product id.
func (t *Tracker) List(ctx context.Context) ([]Record, error) {
	return t.store.List(ctx)
}

// Stats counts records by status.
type Stats struct {
	Total   int `json:"total"`
	Synced  int `json:"synced"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Stats summarizes the store.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	records, err := t.store.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	for _, rec := range records {
		s.Total++
		switch rec.Status {
		case StatusSynced:
			s.Synced++
		case StatusPending:
			s.Pending++
		case StatusFailed:
			s.Failed++
		}
	}
	return s, nil
}
