package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type requestCtxKey struct{}
type syncRunCtxKey struct{}
type productCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}
	if id := SyncRunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("sync.run_id", id))
	}
	if id := ProductIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("product.id", id))
	}
	return fields
}

// WithRequestID tags ctx with an inbound request id. Empty ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, truncateID(id))
}

// RequestIDFromContext returns the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithSyncRunID tags ctx with the id of the running sync.
func WithSyncRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, syncRunCtxKey{}, id)
}

// SyncRunIDFromContext returns the sync run id, or "".
func SyncRunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(syncRunCtxKey{}).(string)
	return id
}

// WithProductID tags ctx with the product a request is about.
func WithProductID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, productCtxKey{}, truncateID(id))
}

// ProductIDFromContext returns the product id, or "".
func ProductIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(productCtxKey{}).(string)
	return id
}

// Client-supplied ids are capped so a hostile header cannot bloat every
// log line.
const maxIDLen = 128

func truncateID(id string) string {
	if len(id) > maxIDLen {
		return id[:maxIDLen]
	}
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
