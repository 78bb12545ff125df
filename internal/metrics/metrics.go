package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konsinyasi_http_requests_total",
			Help: "Total HTTP requests by method, path and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "konsinyasi_http_request_duration_seconds",
			Help:    "HTTP request latency by method and path.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konsinyasi_dispatch_total",
			Help: "Dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "konsinyasi_reconcile_total",
			Help: "Reconciliation batches by outcome.",
		},
		[]string{"outcome"},
	)

	TxConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "konsinyasi_tx_conflict_retries_total",
			Help: "Retries performed after serialization conflicts.",
		},
	)

	DegradedFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "konsinyasi_degraded_fallbacks_total",
			Help: "Reconciliations applied through the non-atomic fallback path.",
		},
	)
)
