// Package metrics exposes dispatch, circuit and webhook counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Circuit state gauge values.
const (
	CircuitClosed   = 0
	CircuitHalfOpen = 1
	CircuitOpen     = 2
)

// Metrics owns a private registry so tests can create as many as they like.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatchAttempts *prometheus.CounterVec
	dispatchJobs     *prometheus.CounterVec
	circuitState     *prometheus.GaugeVec
	webhookAttempts  *prometheus.CounterVec
	webhookIntake    *prometheus.CounterVec
}

// New registers all collectors, plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "video_dispatch_attempts_total",
				Help: "Provider dispatch attempts by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		dispatchJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "video_dispatch_jobs_total",
				Help: "Jobs processed by the dispatch orchestrator by result",
			},
			[]string{"result"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "video_provider_circuit_state",
				Help: "Circuit breaker state per provider (0 closed, 1 half open, 2 open)",
			},
			[]string{"provider"},
		),
		webhookAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_delivery_attempts_total",
				Help: "Outbound webhook delivery attempts by result",
			},
			[]string{"result"},
		),
		webhookIntake: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_intake_total",
				Help: "Inbound provider callbacks by provider and result",
			},
			[]string{"provider", "result"},
		),
	}
	m.registry.MustRegister(
		m.dispatchAttempts,
		m.dispatchJobs,
		m.circuitState,
		m.webhookAttempts,
		m.webhookIntake,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DispatchAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) DispatchJob(result string) {
	if m == nil {
		return
	}
	m.dispatchJobs.WithLabelValues(result).Inc()
}

// CircuitState records the gauge value for a provider's breaker.
func (m *Metrics) CircuitState(provider string, value int) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(provider).Set(float64(value))
}

func (m *Metrics) WebhookAttempt(result string) {
	if m == nil {
		return
	}
	m.webhookAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) WebhookIntake(provider, result string) {
	if m == nil {
		return
	}
	m.webhookIntake.WithLabelValues(provider, result).Inc()
}
