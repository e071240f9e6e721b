// Package mcp exposes similarity lookups and catalog syncs as MCP tools
// over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/recommend"
)

// Recommender answers similarity requests. *recommend.Facade implements it.
type Recommender interface {
	Recommend(ctx context.Context, productID string, topK int) (recommend.Result, error)
}

// Syncer runs and reports syncs. *indexer.Scheduler implements it.
type Syncer interface {
	Trigger(mode indexer.Mode)
	RunNow(ctx context.Context, mode indexer.Mode) (*indexer.Report, error)
	Status() indexer.Status
}

// Config configures the MCP server.
type Config struct {
	Name    string
	Version string
	Logger  *zap.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "similard",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server is an MCP server backed by the recommendation façade and the sync
// scheduler.
type Server struct {
	mcp         *mcp.Server
	recommender Recommender
	syncer      Syncer
	metrics     *Metrics
	logger      *zap.Logger
}

// NewServer creates the server and registers its tools. syncer may be
// nil, which leaves out the sync tools.
func NewServer(cfg *Config, rec Recommender, syncer Syncer) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if rec == nil {
		return nil, fmt.Errorf("recommender is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		recommender: rec,
		syncer:      syncer,
		metrics:     NewMetrics(cfg.Logger),
		logger:      cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx ends or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
