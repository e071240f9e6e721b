// Package logging provides structured logging for similard.
//
// Logger wraps zap and adds correlation fields taken from the context:
// trace_id and span_id from the active OpenTelemetry span, request.id for
// HTTP and MCP calls, and sync.run_id while a catalog sync is running.
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithSyncRunID(ctx, runID)
//	logger.Info(ctx, "sync started", zap.Int("products", n))
//
// Components that only need a *zap.Logger receive Logger.Underlying().
//
// Output can go to stdout, to an OpenTelemetry LoggerProvider through the
// otelzap bridge, or both. Keys such as api_key and authorization are
// redacted by the encoder. Below error level, entries are sampled.
package logging
