package syncstate

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps records in a map. State is lost on restart, which only
// costs a full re-embed on the next incremental run.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(ctx context.Context, productID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[productID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrRecordNotFound, productID)
	}
	return rec, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if rec.ProductID == "" {
		return fmt.Errorf("record product id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ProductID] = rec
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, productID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
