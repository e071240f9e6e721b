package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

// errNoEmbedder is returned if chromem ever tries to embed text itself.
// Every document and query carries a precomputed vector.
var errNoEmbedder = errors.New("chromem store only accepts precomputed embeddings")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemStore is a Store backed by chromem-go, an embedded vector database.
// chromem-go only supports cosine similarity.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger

	// dims remembers the dimension each namespace was created with.
	dims sync.Map
}

// NewChromemStore opens a persistent store at cfg.Path, or an in-memory one
// when the path is empty.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrVectorStoreUnavailable, err)
		}
		cfg.Path = path
	}

	logger.Info("chromem store initialized",
		zap.String("path", cfg.Path),
		zap.Bool("persistent", cfg.Path != ""),
		zap.Bool("compress", cfg.Compress),
	)
	return &ChromemStore{db: db, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func refuseEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}

// EnsureNamespace implements Store.
func (s *ChromemStore) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	start := time.Now()
	_, err := s.db.GetOrCreateCollection(namespace, map[string]string{
		"dimension": strconv.Itoa(dimension),
	}, refuseEmbedding)
	observe(backendChromem, "ensure", start, err)
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", ErrVectorStoreUnavailable, namespace, err)
	}
	s.dims.LoadOrStore(namespace, dimension)
	return nil
}

func (s *ChromemStore) collection(namespace string) *chromem.Collection {
	return s.db.GetCollection(namespace, refuseEmbedding)
}

// Upsert implements Store.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("points", len(points)))

	start := time.Now()
	err := s.upsert(ctx, namespace, points)
	observe(backendChromem, "upsert", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

func (s *ChromemStore) upsert(ctx context.Context, namespace string, points []Point) error {
	coll := s.collection(namespace)
	if coll == nil {
		return fmt.Errorf("%w: collection %s does not exist", ErrVectorStoreUnavailable, namespace)
	}
	if dim, ok := s.dims.Load(namespace); ok {
		for _, p := range points {
			if len(p.Vector) != dim.(int) {
				return fmt.Errorf("%w: %s has dimension %d, collection %s expects %d",
					ErrVectorStoreUnavailable, p.Key, len(p.Vector), namespace, dim.(int))
			}
		}
	}

	docs := make([]chromem.Document, len(points))
	for i, p := range points {
		docs[i] = chromem.Document{
			ID:        p.Key,
			Content:   p.Key,
			Metadata:  metadataToStrings(p.Metadata),
			Embedding: p.Vector,
		}
	}
	// AddDocuments replaces documents with an existing ID.
	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("%w: adding documents to %s: %v", ErrVectorStoreUnavailable, namespace, err)
	}
	return nil
}

// Delete implements Store.
func (s *ChromemStore) Delete(ctx context.Context, namespace string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	coll := s.collection(namespace)
	if coll == nil {
		return nil
	}

	present := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, err := coll.GetByID(ctx, key); err == nil {
			present = append(present, key)
		}
	}
	if len(present) == 0 {
		return nil
	}

	start := time.Now()
	err := coll.Delete(ctx, nil, nil, present...)
	observe(backendChromem, "delete", start, err)
	if err != nil {
		return fmt.Errorf("%w: deleting from %s: %v", ErrVectorStoreUnavailable, namespace, err)
	}
	return nil
}

// Fetch implements Store.
func (s *ChromemStore) Fetch(ctx context.Context, namespace, key string) ([]float32, error) {
	coll := s.collection(namespace)
	if coll == nil {
		return nil, fmt.Errorf("%w: %s", ErrVectorNotFound, key)
	}
	start := time.Now()
	doc, err := coll.GetByID(ctx, key)
	observe(backendChromem, "fetch", start, nil)
	if err != nil || len(doc.Embedding) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrVectorNotFound, key)
	}
	return doc.Embedding, nil
}

// Query implements Store.
func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace), attribute.Int("top_k", topK))

	coll := s.collection(namespace)
	if coll == nil {
		return nil, nil
	}
	// chromem requires nResults <= document count.
	n := topK
	if count := coll.Count(); count == 0 {
		return nil, nil
	} else if n > count {
		n = count
	}

	start := time.Now()
	results, err := coll.QueryEmbedding(ctx, vector, n, nil, nil)
	observe(backendChromem, "query", start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying %s: %v", ErrVectorStoreUnavailable, namespace, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Key:      r.ID,
			Score:    r.Similarity,
			Metadata: metadataFromStrings(r.ID, r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results", len(matches)))
	return matches, nil
}

// Metric implements Store.
func (s *ChromemStore) Metric() Metric {
	return MetricCosine
}

// Health implements Store. An embedded store is always reachable.
func (s *ChromemStore) Health(context.Context) error {
	recordHealth(backendChromem, nil)
	return nil
}

// Close implements Store. Persistent writes are flushed on every call.
func (s *ChromemStore) Close() error {
	return nil
}

func metadataToStrings(md Metadata) map[string]string {
	return map[string]string{
		"product_id": md.ProductID,
		"category":   md.Category,
		"price":      strconv.FormatFloat(md.Price, 'f', -1, 64),
		"rating":     strconv.FormatFloat(md.Rating, 'f', -1, 64),
	}
}

func metadataFromStrings(key string, m map[string]string) Metadata {
	md := Metadata{ProductID: m["product_id"], Category: m["category"]}
	if md.ProductID == "" {
		md.ProductID = key
	}
	md.Price, _ = strconv.ParseFloat(m["price"], 64)
	md.Rating, _ = strconv.ParseFloat(m["rating"], 64)
	return md
}
