// Package metrics exposes Prometheus counters for the reply pipeline.
//
// All methods are nil-safe so components can run without metrics wired.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autoreply"

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	inbound        prometheus.Counter
	gateDrops      *prometheus.CounterVec
	ruleMatches    *prometheus.CounterVec
	planSteps      *prometheus.CounterVec
	fallback       *prometheus.CounterVec
	sends          *prometheus.CounterVec
	recordFailures *prometheus.CounterVec
	generation     prometheus.Histogram
	connected      prometheus.Gauge
}

// New creates the collectors and registers them with Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Inbound text messages handled.",
		}),
		gateDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_drops_total",
			Help:      "Messages suppressed by the gate chain, by reason.",
		}, []string{"reason"}),
		ruleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_matches_total",
			Help:      "Rule matcher outcomes, by matched rule name (\"\" when none).",
		}, []string{"rule"}),
		planSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_steps_total",
			Help:      "Executed plan steps, by kind.",
		}, []string{"kind"}),
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_outcomes_total",
			Help:      "Generative fallback outcomes, by outcome and error class.",
		}, []string{"outcome", "error_type"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Transport sends, by result.",
		}, []string{"result"}),
		recordFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_failures_total",
			Help:      "Message records that failed to persist, by direction.",
		}, []string{"direction"}),
		generation: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_seconds",
			Help:      "Generative fallback latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 7, 10},
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the messaging session is connected.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inbound, m.gateDrops, m.ruleMatches, m.planSteps,
		m.fallback, m.sends, m.recordFailures, m.generation, m.connected,
	)
	return m
}

// Registry returns the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Inbound counts one handled inbound message.
func (m *Metrics) Inbound() {
	if m == nil {
		return
	}
	m.inbound.Inc()
}

// GateDrop counts a suppressed reply.
func (m *Metrics) GateDrop(reason string) {
	if m == nil {
		return
	}
	m.gateDrops.WithLabelValues(reason).Inc()
}

// RuleMatch counts a matcher outcome. An empty name means no match.
func (m *Metrics) RuleMatch(rule string) {
	if m == nil {
		return
	}
	m.ruleMatches.WithLabelValues(rule).Inc()
}

// PlanStep counts an executed step.
func (m *Metrics) PlanStep(kind string) {
	if m == nil {
		return
	}
	m.planSteps.WithLabelValues(kind).Inc()
}

// Fallback records a generative call outcome and its latency.
func (m *Metrics) Fallback(outcome, errType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fallback.WithLabelValues(outcome, errType).Inc()
	m.generation.Observe(elapsed.Seconds())
}

// Send counts a transport send by result ("ok", "session_closed", "error").
func (m *Metrics) Send(result string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result).Inc()
}

// RecordFailure counts a persistence failure.
func (m *Metrics) RecordFailure(direction string) {
	if m == nil {
		return
	}
	m.recordFailures.WithLabelValues(direction).Inc()
}

// SetConnected mirrors the connection state.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
