package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const (
	// DefaultListQuery selects the columns SQLCatalog expects, in order.
	DefaultListQuery = `SELECT id, name, description, category, price, rating, tags FROM products ORDER BY id`

	// DefaultGetQuery is DefaultListQuery narrowed to one id.
	DefaultGetQuery = `SELECT id, name, description, category, price, rating, tags FROM products WHERE id = ?`
)

// SQLConfig configures a SQLCatalog.
type SQLConfig struct {
	DSN       string `koanf:"dsn"`
	ListQuery string `koanf:"list_query"`
	GetQuery  string `koanf:"get_query"`
}

// SQLCatalog reads products from a SQL table owned by the catalog service.
// Queries must return id, name, description, category, price, rating and
// tags; price, rating and tags may be stored as text.
type SQLCatalog struct {
	db        *sql.DB
	listQuery string
	getQuery  string
}

// OpenSQLite opens a SQLite database with the pure Go driver.
func OpenSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", dsn, err)
	}
	return db, nil
}

// NewSQLCatalog wraps db. Empty queries fall back to the defaults.
func NewSQLCatalog(db *sql.DB, cfg SQLConfig) *SQLCatalog {
	c := &SQLCatalog{db: db, listQuery: cfg.ListQuery, getQuery: cfg.GetQuery}
	if c.listQuery == "" {
		c.listQuery = DefaultListQuery
	}
	if c.getQuery == "" {
		c.getQuery = DefaultGetQuery
	}
	return c
}

// ListRaw implements RawLister.
func (c *SQLCatalog) ListRaw(ctx context.Context) ([]RawProduct, error) {
	rows, err := c.db.QueryContext(ctx, c.listQuery)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	defer rows.Close()

	var out []RawProduct
	for rows.Next() {
		raw, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating products: %w", err)
	}
	return out, nil
}

// ListProducts implements Catalog. Invalid rows are skipped.
func (c *SQLCatalog) ListProducts(ctx context.Context) ([]Product, error) {
	raws, err := c.ListRaw(ctx)
	if err != nil {
		return nil, err
	}
	products, _ := NormalizeAll(raws)
	return products, nil
}

// GetProduct implements Catalog.
func (c *SQLCatalog) GetProduct(ctx context.Context, id string) (Product, error) {
	raw, err := scanRaw(c.db.QueryRowContext(ctx, c.getQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Product{}, err
	}
	return Normalize(raw)
}

// Close closes the underlying database.
func (c *SQLCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRaw(row rowScanner) (RawProduct, error) {
	var (
		id, price, rating, tags     any
		name, description, category sql.NullString
	)
	if err := row.Scan(&id, &name, &description, &category, &price, &rating, &tags); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RawProduct{}, err
		}
		return RawProduct{}, fmt.Errorf("scanning product row: %w", err)
	}
	return RawProduct{
		ID:          id,
		Name:        name.String,
		Description: description.String,
		Category:    category.String,
		Price:       price,
		Rating:      rating,
		Tags:        tags,
	}, nil
}
