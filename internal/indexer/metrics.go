package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts sync runs by mode and outcome (ok, partial, error, cancelled).
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "similard",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total sync runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// ItemsTotal counts products by result (succeeded, failed, skipped, deleted, delete_failed).
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "similard",
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Total products processed by sync runs, by result",
		},
		[]string{"result"},
	)

	// RunDuration tracks sync run latency.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "similard",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	// LastCompleted is the unix time of the last run that finished without a run-level error.
	LastCompleted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "similard",
			Subsystem: "sync",
			Name:      "last_completed_timestamp_seconds",
			Help:      "Unix time of the last completed sync run",
		},
	)
)

func recordRun(rep *Report, err error) {
	outcome := "ok"
	switch {
	case err != nil && rep == nil:
		outcome = "error"
	case err != nil:
		outcome = "cancelled"
	case rep.Err() != nil:
		outcome = "partial"
	}
	mode := string(ModeIncremental)
	if rep != nil {
		mode = string(rep.Mode)
	}
	RunsTotal.WithLabelValues(mode, outcome).Inc()
	if rep == nil {
		return
	}
	RunDuration.WithLabelValues(mode).Observe(rep.Duration.Seconds())
	ItemsTotal.WithLabelValues("succeeded").Add(float64(len(rep.Succeeded)))
	ItemsTotal.WithLabelValues("failed").Add(float64(len(rep.Failed)))
	ItemsTotal.WithLabelValues("skipped").Add(float64(len(rep.Skipped)))
	ItemsTotal.WithLabelValues("deleted").Add(float64(len(rep.Deleted)))
	ItemsTotal.WithLabelValues("delete_failed").Add(float64(len(rep.DeleteFailed)))
	if err == nil {
		LastCompleted.Set(float64(rep.StartedAt.Add(rep.Duration).Unix()))
	}
}
