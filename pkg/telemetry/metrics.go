package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for dispatches.
type Metrics struct {
	config MetricsConfig

	// Dispatch metrics
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	activeDispatches prometheus.Gauge

	// Apply metrics
	appliesCompleted *prometheus.CounterVec
	applyDuration    *prometheus.HistogramVec

	// Resolver metrics
	resolutions *prometheus.CounterVec

	// Policy metrics
	policyDenials *prometheus.CounterVec
	policyReloads prometheus.Counter

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// no-op instance
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

		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of entity dispatches",
			},
			[]string{"category", "verb", "outcome"},
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of remote operation invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"category", "verb"},
		),
		activeDispatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_dispatches",
				Help:      "Current number of dispatches in flight",
			},
		),

		appliesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "applies_completed_total",
				Help:      "Total number of apply runs completed",
			},
			[]string{"status"},
		),
		applyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "apply_duration_seconds",
				Help:      "Duration of apply runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		resolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "target_resolutions_total",
				Help:      "Total number of management root resolutions",
			},
			[]string{"outcome"},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_denials_total",
				Help:      "Total number of dispatches denied by policy",
			},
			[]string{"policy"},
		),
		policyReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_reloads_total",
				Help:      "Total number of user policy reloads",
			},
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
		m.dispatches,
		m.dispatchDuration,
		m.activeDispatches,
		m.appliesCompleted,
		m.applyDuration,
		m.resolutions,
		m.policyDenials,
		m.policyReloads,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Dispatch Metrics

// DispatchStarted marks a dispatch as in flight.
func (m *Metrics) DispatchStarted() {
	if m.activeDispatches == nil {
		return
	}
	m.activeDispatches.Inc()
}

// RecordDispatch records a finished dispatch with its outcome and duration.
func (m *Metrics) RecordDispatch(category, verb, outcome string, duration time.Duration) {
	if m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(category, verb, outcome).Inc()
	m.dispatchDuration.WithLabelValues(category, verb).Observe(duration.Seconds())
	m.activeDispatches.Dec()
}

// RecordSkipped counts a dispatch that never reached the channel.
func (m *Metrics) RecordSkipped(category, verb, outcome string) {
	if m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(category, verb, outcome).Inc()
}

// Apply Metrics

// RecordApplyCompleted records a completed apply run.
func (m *Metrics) RecordApplyCompleted(status string, duration time.Duration) {
	if m.appliesCompleted == nil {
		return
	}
	m.appliesCompleted.WithLabelValues(status).Inc()
	m.applyDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Resolver Metrics

// RecordResolution records a management root resolution outcome.
func (m *Metrics) RecordResolution(outcome string) {
	if m.resolutions == nil {
		return
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// Policy Metrics

// RecordPolicyDenial records a dispatch denied by the named policy.
func (m *Metrics) RecordPolicyDenial(policy string) {
	if m.policyDenials == nil {
		return
	}
	m.policyDenials.WithLabelValues(policy).Inc()
}

// RecordPolicyReload counts a successful swap of the user policies.
func (m *Metrics) RecordPolicyReload() {
	if m.policyReloads == nil {
		return
	}
	m.policyReloads.Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the metrics registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
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
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
