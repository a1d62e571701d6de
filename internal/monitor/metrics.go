package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the execution service.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ExecutionErrors   *prometheus.CounterVec
	ActiveExecutions  prometheus.Gauge
	ValidationsTotal  *prometheus.CounterVec
	ViolationsTotal   prometheus.Counter
	BackendLatency    *prometheus.HistogramVec
	RequestsInFlight  prometheus.Gauge
	CodeSizeBytes     prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codeexec",
				Name:      "executions_total",
				Help:      "Total number of code executions by backend and status.",
			},
			[]string{"backend", "status"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codeexec",
				Name:      "execution_duration_seconds",
				Help:      "Duration of code executions in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),

		ExecutionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codeexec",
				Name:      "execution_errors_total",
				Help:      "Total execution errors by type.",
			},
			[]string{"type"},
		),

		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "codeexec",
				Name:      "active_executions",
				Help:      "Number of currently running code executions.",
			},
		),

		ValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codeexec",
				Name:      "validations_total",
				Help:      "Total validation decisions by outcome.",
			},
			[]string{"outcome"},
		),

		ViolationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "codeexec",
				Name:      "policy_violations_total",
				Help:      "Total policy violations detected during validation.",
			},
		),

		BackendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codeexec",
				Name:      "backend_operation_duration_seconds",
				Help:      "Duration of backend engine operations.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "codeexec",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		CodeSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codeexec",
				Name:      "code_size_bytes",
				Help:      "Size of submitted code in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "codeexec",
				Name:      "output_size_bytes",
				Help:      "Size of execution output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ExecutionErrors,
		m.ActiveExecutions,
		m.ValidationsTotal,
		m.ViolationsTotal,
		m.BackendLatency,
		m.RequestsInFlight,
		m.CodeSizeBytes,
		m.OutputSizeBytes,
	)

	return m
}

// RecordExecution records metrics for a completed execution.
func (m *Metrics) RecordExecution(backend, status string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(backend, status).Inc()
	m.ExecutionDuration.WithLabelValues(backend).Observe(durationSec)
}

// RecordError records an execution error by type.
func (m *Metrics) RecordError(errType string) {
	m.ExecutionErrors.WithLabelValues(errType).Inc()
}

// RecordValidation records a validation decision and its violation count.
func (m *Metrics) RecordValidation(safe bool, violations int) {
	outcome := "safe"
	if !safe {
		outcome = "rejected"
	}
	m.ValidationsTotal.WithLabelValues(outcome).Inc()
	m.ViolationsTotal.Add(float64(violations))
}
