package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for vpcforge.
// A nil or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Provisioning metrics
	provisions        *prometheus.CounterVec
	provisionDuration *prometheus.HistogramVec
	activeProvisions  prometheus.Gauge
	compensations     *prometheus.CounterVec
	orphans           prometheus.Counter

	// Query metrics
	queries *prometheus.CounterVec

	// Provider metrics
	providerCalls    *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	providerErrors   *prometheus.CounterVec

	// Store metrics
	storeOperations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		provisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provisions_total",
				Help:      "Total number of provisioning requests by outcome",
			},
			[]string{"outcome"},
		),
		provisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provision_duration_seconds",
				Help:      "Duration of provisioning requests in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		activeProvisions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_provisions",
				Help:      "Current number of provisioning requests in flight",
			},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total number of compensation runs by result",
			},
			[]string{"result"},
		),
		orphans: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orphaned_resources_total",
				Help:      "Total number of provider resources compensation could not delete",
			},
		),

		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of queries by kind and result",
			},
			[]string{"kind", "result"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors",
			},
			[]string{"provider", "operation"},
		),

		storeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of record store operations by result",
			},
			[]string{"operation", "result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.provisions,
		m.provisionDuration,
		m.activeProvisions,
		m.compensations,
		m.orphans,
		m.queries,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.storeOperations,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Provisioning Metrics

// RecordProvisionStarted increments the in-flight gauge.
func (m *Metrics) RecordProvisionStarted() {
	if !m.enabled() {
		return
	}
	m.activeProvisions.Inc()
}

// RecordProvisionCompleted records a finished provisioning request.
func (m *Metrics) RecordProvisionCompleted(outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.provisions.WithLabelValues(outcome).Inc()
	m.provisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeProvisions.Dec()
}

// RecordCompensation records a compensation run and how many resources it left behind.
func (m *Metrics) RecordCompensation(orphans int) {
	if !m.enabled() {
		return
	}
	if orphans == 0 {
		m.compensations.WithLabelValues("complete").Inc()
		return
	}
	m.compensations.WithLabelValues("incomplete").Inc()
	m.orphans.Add(float64(orphans))
}

// RecordQuery records a query by kind ("name" or "all") and result.
func (m *Metrics) RecordQuery(kind, result string) {
	if !m.enabled() {
		return
	}
	m.queries.WithLabelValues(kind, result).Inc()
}

// Provider Metrics

// RecordProviderCall records a provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if !m.enabled() {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// Store Metrics

// RecordStoreOperation records a record store call.
func (m *Metrics) RecordStoreOperation(operation string, err error) {
	if !m.enabled() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.storeOperations.WithLabelValues(operation, result).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
