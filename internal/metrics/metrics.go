package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshagent"

// Metrics holds all Prometheus metrics for the agent service
type Metrics struct {
	registry *prometheus.Registry

	// Span metrics
	SpansTotal   *prometheus.CounterVec
	SpanDuration *prometheus.HistogramVec

	// Reasoning loop metrics
	LoopSteps        *prometheus.CounterVec
	LoopTerminations *prometheus.CounterVec

	// Session journal metrics
	SessionsActive  prometheus.Gauge
	SessionsEvicted prometheus.Counter
	EventsRecorded  *prometheus.CounterVec
	EventsTrimmed   prometheus.Counter

	// Peer metrics
	PeerActivations *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		SpansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_total",
				Help:      "Total number of completed operation spans",
			},
			[]string{"kind", "status"},
		),
		SpanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "span_duration_seconds",
				Help:      "Duration of operation spans in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "status"},
		),

		LoopSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_steps_total",
				Help:      "Reasoning loop steps by outcome",
			},
			[]string{"step_type"},
		),
		LoopTerminations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "loop_terminations_total",
				Help:      "Reasoning loop terminations by reason",
			},
			[]string{"reason"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of sessions currently held in memory",
			},
		),
		SessionsEvicted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Total number of sessions evicted by the capacity guard or age cleanup",
			},
		),
		EventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_recorded_total",
				Help:      "Total number of session events recorded",
			},
			[]string{"type"},
		),
		EventsTrimmed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_trimmed_total",
				Help:      "Total number of session events dropped by the per-session cap",
			},
		),

		PeerActivations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "peer_state_changes_total",
				Help:      "Peer agent activation state transitions",
			},
			[]string{"peer", "state"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.SpansTotal,
		m.SpanDuration,
		m.LoopSteps,
		m.LoopTerminations,
		m.SessionsActive,
		m.SessionsEvicted,
		m.EventsRecorded,
		m.EventsTrimmed,
		m.PeerActivations,
	)
}

// ObserveSpan records a completed span. Safe on a nil receiver.
func (m *Metrics) ObserveSpan(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.SpansTotal.WithLabelValues(kind, status).Inc()
	m.SpanDuration.WithLabelValues(kind, status).Observe(seconds)
}

// RecordStep counts one reasoning loop step. Safe on a nil receiver.
func (m *Metrics) RecordStep(stepType string) {
	if m == nil {
		return
	}
	m.LoopSteps.WithLabelValues(stepType).Inc()
}

// RecordTermination counts a finished reasoning loop. Safe on a nil receiver.
func (m *Metrics) RecordTermination(reason string) {
	if m == nil {
		return
	}
	m.LoopTerminations.WithLabelValues(reason).Inc()
}

// SetSessions sets the active session gauge. Safe on a nil receiver.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// RecordEvictions adds evicted sessions. Safe on a nil receiver.
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEvicted.Add(float64(n))
}

// RecordEvent counts a recorded event by type. Safe on a nil receiver.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordTrimmed adds events dropped by trimming. Safe on a nil receiver.
func (m *Metrics) RecordTrimmed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EventsTrimmed.Add(float64(n))
}

// RecordPeerState counts a peer transition to "active" or "inactive".
func (m *Metrics) RecordPeerState(peer, state string) {
	if m == nil {
		return
	}
	m.PeerActivations.WithLabelValues(peer, state).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
