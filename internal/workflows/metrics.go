package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/similard/internal/workflows"

var (
	activityRuns     metric.Int64Counter
	activityDuration metric.Float64Histogram
)

func init() {
	meter := otel.Meter(instrumentationName)

	var err error
	activityRuns, err = meter.Int64Counter(
		"similard.workflows.sync_activity.runs",
		metric.WithDescription("Sync activity executions by mode and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create sync activity counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"similard.workflows.sync_activity.duration",
		metric.WithDescription("Duration of sync activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create sync activity duration: %v", err))
	}
}

func recordActivity(ctx context.Context, mode string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	activityRuns.Add(ctx, 1, attrs)
	activityDuration.Record(ctx, d.Seconds(), attrs)
}
