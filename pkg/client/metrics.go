package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for coordinator operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_api_requests_total",
		Help: "Total API attempts by method and outcome",
	}, []string{"method", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "incident_api_request_duration_seconds",
		Help:    "Logical request duration in seconds by method, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_api_errors_total",
		Help: "Total API errors by kind",
	}, []string{"kind"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_api_retries_total",
		Help: "Total number of retry attempts by error kind",
	}, []string{"kind"})

	apiRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incident_api_retry_backoff_seconds",
		Help:    "Backoff duration before each retry",
		Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 16},
	})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incident_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error kind",
	}, []string{"kind"})

	apiDeduplicatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "incident_api_deduplicated_total",
		Help: "Total number of GET calls served by a shared in-flight request",
	})

	apiInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "incident_api_inflight",
		Help: "Number of requests currently holding an abort handle",
	})
)
