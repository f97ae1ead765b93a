// Package metrics holds the Prometheus collectors of the conversation engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "maya"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	retries     *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	escalations *prometheus.CounterVec
	violations  *prometheus.CounterVec
	nudges      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	active      prometheus.Gauge
	latency     prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "turns_total",
			Help: "Visitor turns handled, by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_total",
			Help: "Completion retries, by error type.",
		}, []string{"error_type"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "fallbacks_total",
			Help: "Fallback responses served, by strategy.",
		}, []string{"strategy"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "escalations_total",
			Help: "Hand-offs to a person, by reason.",
		}, []string{"reason"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "guardrail_violations_total",
			Help: "Response guardrail violations, by type.",
		}, []string{"violation"}),
		nudges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "nudges_total",
			Help: "Re-engagement nudges sent, by kind.",
		}, []string{"kind"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stage_transitions_total",
			Help: "Stage transitions, by target stage.",
		}, []string{"stage"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_conversations",
			Help: "Conversations currently held in memory.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "turn_duration_seconds",
			Help:    "Time to answer a visitor turn.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
	m.registry.MustRegister(
		m.turns, m.retries, m.fallbacks, m.escalations, m.violations,
		m.nudges, m.transitions, m.active, m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.latency.Observe(seconds)
}

func (m *Metrics) Retry(errorType string) {
	if m != nil {
		m.retries.WithLabelValues(errorType).Inc()
	}
}

func (m *Metrics) Fallback(strategy string) {
	if m != nil {
		m.fallbacks.WithLabelValues(strategy).Inc()
	}
}

func (m *Metrics) Escalation(reason string) {
	if m != nil {
		m.escalations.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Violation(kind string) {
	if m != nil {
		m.violations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Nudge(kind string) {
	if m != nil {
		m.nudges.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Transition(stage string) {
	if m != nil {
		m.transitions.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) SetActive(n int) {
	if m != nil {
		m.active.Set(float64(n))
	}
}
