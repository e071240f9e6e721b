// Package http provides the HTTP API for similard.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/similard/internal/catalog"
	"github.com/fyrsmithlabs/similard/internal/indexer"
	"github.com/fyrsmithlabs/similard/internal/logging"
	"github.com/fyrsmithlabs/similard/internal/recommend"
)

// Recommender answers similarity requests. *recommend.Facade implements it.
type Recommender interface {
	Recommend(ctx context.Context, productID string, topK int) (recommend.Result, error)
}

// Syncer starts and reports sync runs. *indexer.Scheduler implements it.
type Syncer interface {
	Trigger(mode indexer.Mode)
	RunNow(ctx context.Context, mode indexer.Mode) (*indexer.Report, error)
	Status() indexer.Status
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency probe to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithMetrics replaces the default global-meter HTTP metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server provides the HTTP endpoints.
type Server struct {
	echo        *echo.Echo
	recommender Recommender
	syncer      Syncer
	checks      map[string]HealthCheck
	metrics     *HTTPMetrics
	logger      *logging.Logger
	config      *Config
}

// NewServer creates a server. syncer may be nil, in which case the sync
// routes answer 503.
func NewServer(rec Recommender, syncer Syncer, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if rec == nil {
		return nil, fmt.Errorf("recommender cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 8088}
	}

	s := &Server{
		echo:        echo.New(),
		recommender: rec,
		syncer:      syncer,
		checks:      make(map[string]HealthCheck),
		logger:      logger,
		config:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewHTTPMetrics(logger.Underlying())
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(s.requestLogger)
	s.echo.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// requestLogger stores the request id in the request context and logs
// every request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		rid := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), rid)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/products/:id/similar", s.handleSimilar)
	v1.POST("/sync", s.handleSync)
	v1.GET("/sync/status", s.handleSyncStatus)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Components = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(c.Request().Context()); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Components[name] = "ok"
		}
	}
	return c.JSON(code, resp)
}

// SimilarResponse is the response body for GET /api/v1/products/:id/similar.
type SimilarResponse struct {
	ProductID string             `json:"product_id"`
	Source    recommend.Source   `json:"source"`
	Items     []recommend.Scored `json:"items"`
}

func (s *Server) handleSimilar(c echo.Context) error {
	id := c.Param("id")
	topK := 0
	if raw := c.QueryParam("k"); raw != "" {
		k, err := strconv.Atoi(raw)
		if err != nil || k < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a non-negative integer")
		}
		topK = k
	}

	ctx := logging.WithProductID(c.Request().Context(), id)
	res, err := s.recommender.Recommend(ctx, id, topK)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("product %q not found", id))
	case err != nil:
		s.logger.Error(ctx, "recommendation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "recommendation failed")
	}
	return c.JSON(http.StatusOK, SimilarResponse{ProductID: id, Source: res.Source, Items: res.Items})
}

// SyncRequest is the request body for POST /api/v1/sync.
type SyncRequest struct {
	Mode string `json:"mode"`
	// Wait runs the sync in the request and returns its report.
	Wait bool `json:"wait"`
}

// SyncResponse is the response body for POST /api/v1/sync.
type SyncResponse struct {
	Status string          `json:"status"`
	Mode   indexer.Mode    `json:"mode"`
	Report *indexer.Report `json:"report,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) handleSync(c echo.Context) error {
	if s.syncer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sync is not configured")
	}
	var req SyncRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	mode, err := indexer.ParseMode(req.Mode)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if !req.Wait {
		s.syncer.Trigger(mode)
		return c.JSON(http.StatusAccepted, SyncResponse{Status: "queued", Mode: mode})
	}

	ctx := c.Request().Context()
	rep, err := s.syncer.RunNow(ctx, mode)
	switch {
	case errors.Is(err, indexer.ErrSyncInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil && rep == nil:
		s.logger.Error(ctx, "sync failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sync failed")
	}
	resp := SyncResponse{Status: "completed", Mode: mode, Report: rep}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSyncStatus(c echo.Context) error {
	if s.syncer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sync is not configured")
	}
	return c.JSON(http.StatusOK, s.syncer.Status())
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
