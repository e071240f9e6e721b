// Package catalog defines the read-only boundary to the product catalog.
//
// The engine never writes to a catalog. Adapters convert whatever loose
// representation they read (files, SQL rows) into the strict Product
// contract at ingress via Normalize.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound indicates the product id is unknown to the catalog.
	ErrNotFound = errors.New("product not found")

	// ErrInvalidProduct indicates a catalog record violates the Product contract.
	ErrInvalidProduct = errors.New("invalid product")
)

// Catalog is the collaborator supplying products.
type Catalog interface {
	// ListProducts returns every valid product ordered by id.
	ListProducts(ctx context.Context) ([]Product, error)

	// GetProduct returns one product or ErrNotFound.
	GetProduct(ctx context.Context, id string) (Product, error)
}

// RawLister is implemented by adapters backed by loosely typed records.
// Sync uses it to report records rejected at ingress instead of silently
// dropping them.
type RawLister interface {
	ListRaw(ctx context.Context) ([]RawProduct, error)
}

// Rejection describes a raw record that failed normalization.
type Rejection struct {
	ID  string
	Err error
}

// NormalizeAll converts raw records, splitting them into valid products
// (ordered by id, later duplicates replace earlier ones) and rejections.
func NormalizeAll(raws []RawProduct) ([]Product, []Rejection) {
	byID := make(map[string]Product, len(raws))
	var rejected []Rejection
	for _, raw := range raws {
		p, err := Normalize(raw)
		if err != nil {
			rejected = append(rejected, Rejection{ID: raw.RawID(), Err: err})
			continue
		}
		byID[p.ID] = p
	}
	return sortedProducts(byID), rejected
}

func sortedProducts(byID map[string]Product) []Product {
	out := make([]Product, 0, len(byID))
	for _, p := range byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryCatalog is an in-process Catalog, used for embedding the engine in
// applications that already hold their catalog in memory, and in tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemoryCatalog creates a catalog holding the given products.
func NewMemoryCatalog(products ...Product) *MemoryCatalog {
	c := &MemoryCatalog{products: make(map[string]Product, len(products))}
	c.Put(products...)
	return c
}

// Put inserts or replaces products.
func (c *MemoryCatalog) Put(products ...Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range products {
		c.products[p.ID] = p
	}
}

// Delete removes products by id.
func (c *MemoryCatalog) Delete(ids ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.products, id)
	}
}

// ListProducts implements Catalog.
func (c *MemoryCatalog) ListProducts(ctx context.Context) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedProducts(c.products), nil
}

// GetProduct implements Catalog.
func (c *MemoryCatalog) GetProduct(ctx context.Context, id string) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}
