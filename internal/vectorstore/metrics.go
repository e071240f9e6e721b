package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks store call latency.
	// Labels: backend (qdrant, chromem), operation (upsert, delete, fetch, query, ensure)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "similard",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	// OperationErrors counts failed store calls after retries.
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "similard",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total vector store operations that failed after retries",
		},
		[]string{"backend", "operation"},
	)

	// HealthStatus indicates the last health check result (1=healthy, 0=unavailable).
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "similard",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Last health check result (1=healthy, 0=unavailable)",
		},
		[]string{"backend"},
	)
)

func observe(backend, operation string, start time.Time, err error) {
	OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		OperationErrors.WithLabelValues(backend, operation).Inc()
	}
}

func recordHealth(backend string, err error) {
	if err != nil {
		HealthStatus.WithLabelValues(backend).Set(0)
		return
	}
	HealthStatus.WithLabelValues(backend).Set(1)
}
