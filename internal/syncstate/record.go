// Package syncstate tracks, per product, what was last written to the vector
// store. The Tracker is the only writer of records; storage is injected.
package syncstate

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound indicates no record exists for a product.
var ErrRecordNotFound = errors.New("sync record not found")

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusSynced  Status = "synced"
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// Record is the sync state of one product.
type Record struct {
	ProductID string `json:"product_id"`

	// Fingerprint is the content fingerprint last written successfully.
	Fingerprint string `json:"fingerprint"`

	// VectorKey identifies the vector in the store; empty until the first
	// successful upsert.
	VectorKey string `json:"vector_key"`

	LastSyncedAt time.Time `json:"last_synced_at"`
	Status       Status    `json:"status"`

	// Attempts counts consecutive failures since the last success.
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, productID string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, productID string) error

	// List returns every record ordered by product id.
	List(ctx context.Context) ([]Record, error)

	Close() error
}
