package indexer

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrSyncPartialFailure indicates a run in which at least one product failed.
var ErrSyncPartialFailure = errors.New("sync completed with failures")

// Mode selects which products a run considers.
type Mode string

const (
	// ModeIncremental processes only products whose content changed or whose
	// last sync did not succeed.
	ModeIncremental Mode = "incremental"

	// ModeFull re-embeds every product in the catalog.
	ModeFull Mode = "full"
)

// ParseMode validates a mode name. Empty means incremental.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeIncremental:
		return ModeIncremental, nil
	case ModeFull:
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unknown sync mode %q (want full or incremental)", s)
	}
}

// Failure reasons reported per product.
const (
	ReasonEmbeddingUnavailable   = "EmbeddingUnavailable"
	ReasonVectorStoreUnavailable = "VectorStoreUnavailable"
	ReasonDimensionMismatch      = "DimensionMismatch"
	ReasonInvalidProduct         = "InvalidProduct"
	ReasonTrackerError           = "TrackerError"
)

// Failure is one product that could not be synced or deleted.
type Failure struct {
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// Report summarizes a sync run. Every list is sorted by product id.
type Report struct {
	RunID        string        `json:"run_id"`
	Mode         Mode          `json:"mode"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Succeeded    []string      `json:"succeeded"`
	Failed       []Failure     `json:"failed"`
	Skipped      []string      `json:"skipped"`
	Deleted      []string      `json:"deleted"`
	DeleteFailed []Failure     `json:"delete_failed"`
}

func newReport(runID string, mode Mode, started time.Time) *Report {
	return &Report{
		RunID:        runID,
		Mode:         mode,
		StartedAt:    started,
		Succeeded:    []string{},
		Failed:       []Failure{},
		Skipped:      []string{},
		Deleted:      []string{},
		DeleteFailed: []Failure{},
	}
}

// Err returns ErrSyncPartialFailure if any product failed to sync or to be
// deleted, nil otherwise.
func (r *Report) Err() error {
	if len(r.Failed) == 0 && len(r.DeleteFailed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d failed, %d deletes failed", ErrSyncPartialFailure, len(r.Failed), len(r.DeleteFailed))
}

// FailedIDs returns the ids in Failed.
func (r *Report) FailedIDs() []string {
	ids := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ProductID
	}
	return ids
}

func (r *Report) sort() {
	sort.Strings(r.Succeeded)
	sort.Strings(r.Skipped)
	sort.Strings(r.Deleted)
	sortFailures(r.Failed)
	sortFailures(r.DeleteFailed)
}

func sortFailures(fs []Failure) {
	sort.Slice(fs, func(i, j int) bool {
		if fs[i].ProductID != fs[j].ProductID {
			return fs[i].ProductID < fs[j].ProductID
		}
		return fs[i].Reason < fs[j].Reason
	})
}
