package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/recommend"
)

type similarProductsInput struct {
	ProductID string `json:"product_id" jsonschema:"Id of the product to find similar products for"`
	K         int    `json:"k,omitempty" jsonschema:"Maximum number of results (server default when omitted)"`
}

type similarProductsOutput struct {
	ProductID string             `json:"product_id"`
	Source    string             `json:"source" jsonschema:"vector when embeddings were used, heuristic for the attribute fallback"`
	Items     []recommend.Scored `json:"items" jsonschema:"Similar products, best first"`
}

type syncCatalogInput struct {
	Mode string `json:"mode,omitempty" jsonschema:"incremental (default) or full"`
	Wait bool   `json:"wait,omitempty" jsonschema:"Run the sync before returning instead of queueing it"`
}

type syncCatalogOutput struct {
	Status    string   `json:"status" jsonschema:"queued or completed"`
	Mode      string   `json:"mode"`
	RunID     string   `json:"run_id,omitempty"`
	Succeeded int      `json:"succeeded"`
	Skipped   int      `json:"skipped"`
	Deleted   int      `json:"deleted"`
	FailedIDs []string `json:"failed_ids,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type syncStatusInput struct{}

type syncStatusOutput struct {
	Running   bool   `json:"running"`
	LastRunAt string `json:"last_run_at,omitempty"`
	LastRunID string `json:"last_run_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "similar_products",
		Description: "Find catalog products similar to a given product",
	}, instrument(s, "similar_products", s.similarProducts))

	if s.syncer == nil {
		return
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_catalog",
		Description: "Synchronize product embeddings with the catalog",
	}, instrument(s, "sync_catalog", s.syncCatalog))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report whether a sync is running and how the last one ended",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ syncStatusInput) (*mcp.CallToolResult, syncStatusOutput, error) {
		st := s.syncer.Status()
		out := syncStatusOutput{Running: st.Running, LastError: st.LastError}
		if !st.LastRunAt.IsZero() {
			out.LastRunAt = st.LastRunAt.UTC().Format(time.RFC3339)
		}
		if st.LastReport != nil {
			out.LastRunID = st.LastReport.RunID
		}
		return nil, out, nil
	})
}

func (s *Server) similarProducts(ctx context.Context, _ *mcp.CallToolRequest, args similarProductsInput) (*mcp.CallToolResult, similarProductsOutput, error) {
	if args.ProductID == "" {
		return nil, similarProductsOutput{}, fmt.Errorf("invalid arguments: product_id is required")
	}
	if args.K < 0 {
		return nil, similarProductsOutput{}, fmt.Errorf("invalid arguments: k must not be negative")
	}
	res, err := s.recommender.Recommend(ctx, args.ProductID, args.K)
	if err != nil {
		return nil, similarProductsOutput{}, err
	}
	return nil, similarProductsOutput{
		ProductID: args.ProductID,
		Source:    string(res.Source),
		Items:     res.Items,
	}, nil
}

func (s *Server) syncCatalog(ctx context.Context, _ *mcp.CallToolRequest, args syncCatalogInput) (*mcp.CallToolResult, syncCatalogOutput, error) {
	mode, err := indexer.ParseMode(args.Mode)
	if err != nil {
		return nil, syncCatalogOutput{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if !args.Wait {
		s.syncer.Trigger(mode)
		return nil, syncCatalogOutput{Status: "queued", Mode: string(mode)}, nil
	}

	rep, err := s.syncer.RunNow(ctx, mode)
	if rep == nil {
		if err == nil {
			err = errors.New("sync produced no report")
		}
		return nil, syncCatalogOutput{}, err
	}
	out := syncCatalogOutput{
		Status:    "completed",
		Mode:      string(rep.Mode),
		RunID:     rep.RunID,
		Succeeded: len(rep.Succeeded),
		Skipped:   len(rep.Skipped),
		Deleted:   len(rep.Deleted),
		FailedIDs: rep.FailedIDs(),
	}
	if err != nil {
		out.Error = err.Error()
	}
	return nil, out, nil
}

func instrument[In, Out any](s *Server, tool string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.track(ctx, tool)
		res, out, err := h(ctx, req, args)
		done(err)
		return res, out, err
	}
}

func (s *Server) track(ctx context.Context, tool string) func(error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	return func(err error) {
		s.metrics.DecrementActive(ctx, tool)
		s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool call failed", zap.String("tool", tool), zap.Error(err))
		}
	}
}
