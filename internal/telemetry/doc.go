// Package telemetry sets up OpenTelemetry tracing and metrics for similard.
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// When enabled, New installs global tracer and meter providers that export
// over OTLP (gRPC by default, or http/protobuf) and sets W3C trace context
// propagation. Packages obtain tracers with otel.Tracer at init; the global
// delegate forwards them once New runs.
//
// Exporter failures never stop the daemon. The instance reports itself as
// degraded and the affected signal falls back to no-op.
package telemetry
