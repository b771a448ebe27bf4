// Package metrics provides Prometheus metrics for substrate operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "substrate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Procedure invocation metrics
	ProcedureCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_procedure_calls_total",
			Help: "Total number of procedure invocations",
		},
		[]string{"procedure", "status"}, // status: "success", "failure", "denied"
	)

	ProcedureCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "substrate_procedure_call_duration_seconds",
			Help:    "Procedure invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)

	DelayedCallsScheduledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "substrate_delayed_calls_scheduled_total",
			Help: "Total number of delayed invocations scheduled",
		},
	)

	// Storage operation metrics
	StorageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_storage_ops_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation"}, // "load", "put", "remove", "query", "lookup"
	)

	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "substrate_storage_op_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Access engine metrics
	AccessChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_access_checks_total",
			Help: "Total number of permission checks",
		},
		[]string{"permission", "outcome"}, // outcome: "granted", "denied"
	)

	// Session metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "substrate_active_sessions",
			Help: "Number of currently established sessions",
		},
	)

	SessionsEstablishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "substrate_sessions_established_total",
			Help: "Total number of sessions established",
		},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "substrate_errors_total",
			Help: "Total number of errors by component",
		},
		[]string{"component", "error_type"},
	)
)

// RegisterMetrics ensures all metrics are registered with Prometheus.
// This function is idempotent and safe to call multiple times.
func RegisterMetrics() {
	// All metrics are automatically registered via promauto.
	// This function exists for explicit initialization if needed.
}
