package vectorstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a Store backend.
type Config struct {
	// Provider is "chromem" (default, embedded) or "qdrant".
	Provider string

	Qdrant  QdrantConfig
	Chromem ChromemConfig
}

// NewStore creates the Store named by cfg.Provider.
//
//	store, err := vectorstore.NewStore(ctx, vectorstore.Config{Provider: "qdrant", Qdrant: qcfg}, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "qdrant":
		return NewQdrantStore(ctx, cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
