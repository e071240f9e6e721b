package recommend

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "similard_recommend_requests_total",
			Help: "Recommendations served, by source",
		},
		[]string{"source"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "similard_recommend_fallbacks_total",
			Help: "Recommendations answered by the heuristic scorer, by reason",
		},
		[]string{"reason"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "similard_recommend_duration_seconds",
			Help:    "Recommendation latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"source"},
	)

	breakerOpenGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "similard_recommend_breaker_open",
			Help: "1 while the vector path circuit breaker is open",
		},
	)
)

const (
	reasonNotReady         = "not_ready"
	reasonStoreUnavailable = "store_unavailable"
	reasonBreakerOpen      = "breaker_open"
)
