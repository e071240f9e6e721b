package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultFilePattern matches every supported catalog file below the root.
const DefaultFilePattern = "**/*.{yaml,yml,json,toml}"

const watchDebounce = 250 * time.Millisecond

// FileConfig configures a FileCatalog.
type FileConfig struct {
	// Root is the directory holding catalog files.
	Root string `koanf:"root"`

	// Pattern is a doublestar glob relative to Root.
	Pattern string `koanf:"pattern"`

	// Watch enables fsnotify based change detection.
	Watch bool `koanf:"watch"`
}

// fileDocument is the on-disk layout shared by every format.
type fileDocument struct {
	Products []RawProduct `json:"products" yaml:"products" toml:"products"`
}

// FileCatalog reads products from YAML, JSON and TOML files.
//
// ListRaw always reads the files. ListProducts and GetProduct serve the
// snapshot taken by the last read, loading it on first use.
type FileCatalog struct {
	root    string
	pattern string
	logger  *zap.Logger

	mu       sync.RWMutex
	snapshot map[string]Product
	loaded   bool
}

// NewFileCatalog creates a catalog over cfg.Root.
func NewFileCatalog(cfg FileConfig, logger *zap.Logger) (*FileCatalog, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("catalog file root is required")
	}
	info, err := os.Stat(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("catalog root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("catalog root %s is not a directory", cfg.Root)
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid catalog file pattern %q", pattern)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileCatalog{
		root:    cfg.Root,
		pattern: pattern,
		logger:  logger,
	}, nil
}

// ListRaw reads and decodes every matching file, in path order.
func (c *FileCatalog) ListRaw(ctx context.Context) ([]RawProduct, error) {
	paths, err := doublestar.Glob(os.DirFS(c.root), c.pattern)
	if err != nil {
		return nil, fmt.Errorf("globbing catalog files: %w", err)
	}
	sort.Strings(paths)

	var all []RawProduct
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raws, err := decodeFile(filepath.Join(c.root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		all = append(all, raws...)
	}

	products, rejected := NormalizeAll(all)
	c.store(products)
	if len(rejected) > 0 {
		c.logger.Warn("catalog records rejected at ingress", zap.Int("count", len(rejected)))
	}
	return all, nil
}

// Reload refreshes the snapshot from disk.
func (c *FileCatalog) Reload(ctx context.Context) error {
	_, err := c.ListRaw(ctx)
	return err
}

// ListProducts implements Catalog.
func (c *FileCatalog) ListProducts(ctx context.Context) ([]Product, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedProducts(c.snapshot), nil
}

// GetProduct implements Catalog.
func (c *FileCatalog) GetProduct(ctx context.Context, id string) (Product, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Product{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.snapshot[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

func (c *FileCatalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.Reload(ctx)
}

func (c *FileCatalog) store(products []Product) {
	snapshot := make(map[string]Product, len(products))
	for _, p := range products {
		snapshot[p.ID] = p
	}
	c.mu.Lock()
	c.snapshot = snapshot
	c.loaded = true
	c.mu.Unlock()
}

// Watch blocks until ctx ends, reloading the snapshot and calling onChange
// whenever a matching file is written, created, renamed or removed. Bursts
// of events are coalesced.
func (c *FileCatalog) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", c.root, err)
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = watcher.Add(ev.Name)
					continue
				}
			}
			if !c.matches(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", zap.Error(err))
		case <-fire:
			if err := c.Reload(ctx); err != nil {
				c.logger.Warn("catalog reload failed", zap.Error(err))
				continue
			}
			c.logger.Info("catalog files changed")
			if onChange != nil {
				onChange()
			}
		}
	}
}

func (c *FileCatalog) matches(path string) bool {
	rel, err := filepath.Rel(c.root, path)
	if err != nil {
		return false
	}
	ok, err := doublestar.Match(c.pattern, filepath.ToSlash(rel))
	return err == nil && ok
}

func decodeFile(path string) ([]RawProduct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc fileDocument
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&doc)
	case ".toml":
		_, err = toml.Decode(string(data), &doc)
	default:
		return nil, fmt.Errorf("unsupported catalog file %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return doc.Products, nil
}
