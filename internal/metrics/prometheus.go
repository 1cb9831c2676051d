package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the marketplace service.
// Every Record/Update method is safe to call on a nil receiver.
type PrometheusMetrics struct {
	// Chain metrics
	ConnectionErrorsTotal *prometheus.CounterVec
	RPCRequestsTotal      *prometheus.CounterVec
	RPCRequestDuration    *prometheus.HistogramVec
	TransactionsSentTotal *prometheus.CounterVec

	// Reconciliation metrics
	ReceiptPollsTotal    *prometheus.CounterVec
	ReconciliationsTotal *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec
	StoreFallbacksTotal       *prometheus.CounterVec
	CacheRequestsTotal        *prometheus.CounterVec

	// Saga metrics
	SagaStepsTotal   *prometheus.CounterVec
	SagaStepDuration *prometheus.HistogramVec

	// Monitor metrics
	MarketplaceEventsTotal *prometheus.CounterVec
	LatestProcessedBlock   prometheus.Gauge

	// Notification metrics
	NotificationsSentTotal    *prometheus.CounterVec
	NotificationFailuresTotal *prometheus.CounterVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates all metrics and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		ConnectionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_connection_errors_total",
				Help: "Total number of connection errors to EVM nodes",
			},
			[]string{"endpoint", "error_type"},
		),
		RPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_rpc_requests_total",
				Help: "Total number of RPC requests made to EVM nodes",
			},
			[]string{"method", "status"},
		),
		RPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inft_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests to EVM nodes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TransactionsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_transactions_sent_total",
				Help: "Signed transactions submitted, by outcome",
			},
			[]string{"status"},
		),

		ReceiptPollsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_receipt_polls_total",
				Help: "Receipt poll attempts by outcome (found, pending, error)",
			},
			[]string{"outcome"},
		),
		ReconciliationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_reconciliations_total",
				Help: "Identifier recoveries by kind and resolution method",
			},
			[]string{"kind", "method"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"backend", "operation", "status"},
		),
		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inft_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "operation"},
		),
		StoreFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_store_fallbacks_total",
				Help: "Agent store operations served by the in-memory fallback",
			},
			[]string{"operation"},
		),
		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_cache_requests_total",
				Help: "Agent list cache lookups by result",
			},
			[]string{"result"},
		),

		SagaStepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_saga_steps_total",
				Help: "Saga step transitions",
			},
			[]string{"saga", "step", "status"},
		),
		SagaStepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inft_saga_step_duration_seconds",
				Help:    "Time spent in each saga step",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"saga", "step"},
		),

		MarketplaceEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_marketplace_events_total",
				Help: "Marketplace events applied to the agent projection",
			},
			[]string{"event", "status"},
		),
		LatestProcessedBlock: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inft_latest_processed_block",
				Help: "Latest block scanned for marketplace events",
			},
		),

		NotificationsSentTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_notifications_sent_total",
				Help: "Total number of notifications sent",
			},
			[]string{"channel", "type"},
		),
		NotificationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_notification_failures_total",
				Help: "Total number of failed notifications",
			},
			[]string{"channel", "type"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inft_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inft_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inft_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),
		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "inft_component_health",
				Help: "Health status of application components (1=healthy, 0=unhealthy)",
			},
			[]string{"component"},
		),
		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inft_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),
		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "inft_goroutines",
				Help: "Number of running goroutines",
			},
		),
	}
}

// RecordConnectionError records a connection error
func (m *PrometheusMetrics) RecordConnectionError(endpoint, errorType string) {
	if m == nil {
		return
	}
	m.ConnectionErrorsTotal.WithLabelValues(endpoint, errorType).Inc()
}

// RecordRPCRequest records an RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTransactionSent records a submitted transaction
func (m *PrometheusMetrics) RecordTransactionSent(status string) {
	if m == nil {
		return
	}
	m.TransactionsSentTotal.WithLabelValues(status).Inc()
}

// RecordReceiptPoll records one receipt poll attempt
func (m *PrometheusMetrics) RecordReceiptPoll(outcome string) {
	if m == nil {
		return
	}
	m.ReceiptPollsTotal.WithLabelValues(outcome).Inc()
}

// RecordReconciliation records how an identifier was recovered
func (m *PrometheusMetrics) RecordReconciliation(kind, method string) {
	if m == nil {
		return
	}
	m.ReconciliationsTotal.WithLabelValues(kind, method).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(backend, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DatabaseOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordStoreFallback records an operation served from the fallback store
func (m *PrometheusMetrics) RecordStoreFallback(operation string) {
	if m == nil {
		return
	}
	m.StoreFallbacksTotal.WithLabelValues(operation).Inc()
}

// RecordCacheRequest records a cache hit or miss
func (m *PrometheusMetrics) RecordCacheRequest(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordSagaStep records a saga step transition and how long the step ran
func (m *PrometheusMetrics) RecordSagaStep(saga, step, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SagaStepsTotal.WithLabelValues(saga, step, status).Inc()
	if duration > 0 {
		m.SagaStepDuration.WithLabelValues(saga, step).Observe(duration.Seconds())
	}
}

// RecordMarketplaceEvent records a marketplace event applied by the monitor
func (m *PrometheusMetrics) RecordMarketplaceEvent(event, status string) {
	if m == nil {
		return
	}
	m.MarketplaceEventsTotal.WithLabelValues(event, status).Inc()
}

// UpdateLatestProcessedBlock updates the latest processed block metric
func (m *PrometheusMetrics) UpdateLatestProcessedBlock(blockNumber uint64) {
	if m == nil {
		return
	}
	m.LatestProcessedBlock.Set(float64(blockNumber))
}

// RecordNotificationSent records a sent notification
func (m *PrometheusMetrics) RecordNotificationSent(channel, notificationType string) {
	if m == nil {
		return
	}
	m.NotificationsSentTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordNotificationFailure records a failed notification
func (m *PrometheusMetrics) RecordNotificationFailure(channel, notificationType string) {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.WithLabelValues(channel, notificationType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the application uptime metric
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	if m == nil {
		return
	}
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates the health status of a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage metric
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	if m == nil {
		return
	}
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count metric
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	if m == nil {
		return
	}
	m.GoroutineCount.Set(float64(count))
}
