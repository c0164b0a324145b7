// Package metrics exposes Prometheus collectors for the session controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "corectl"

// Reconnect reasons.
const (
	ReasonEnded      = "ended"
	ReasonFailed     = "failed"
	ReasonOpenFailed = "open_failed"
)

// Metrics groups the controller collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	reconnects           *prometheus.CounterVec
	streamMessages       prometheus.Counter
	transitions          *prometheus.CounterVec
	state                prometheus.Gauge
	listenerFailures     prometheus.Counter
	pipelineRuns         *prometheus.CounterVec
	compensationFailures *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a private registry,
// which keeps repeated construction in tests from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_reconnects_total",
			Help:      "Reconnects scheduled after the state stream terminated, by reason",
		}, []string{"reason"}),
		streamMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "State messages received on the push stream",
		}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Published lifecycle state transitions, by source",
		}, []string{"source", "state"}),
		state: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "core_state",
			Help:      "Current lifecycle state (0 stopped, 1 starting, 2 started, 3 stopping)",
		}),
		listenerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "State listeners that returned an error or panicked",
		}),
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Command pipeline runs, by pipeline and outcome",
		}, []string{"pipeline", "outcome"}),
		compensationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_compensation_failures_total",
			Help:      "Compensating actions that failed, by pipeline and step",
		}, []string{"pipeline", "step"}),
	}
}

// IncReconnect records a scheduled reconnect.
func (m *Metrics) IncReconnect(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.reconnects.WithLabelValues(reason).Inc()
}

// IncStreamMessage records a received push message.
func (m *Metrics) IncStreamMessage() {
	if m == nil {
		return
	}
	m.streamMessages.Inc()
}

// ObserveTransition records a published state change.
func (m *Metrics) ObserveTransition(source, state string, value int) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(source, state).Inc()
	m.state.Set(float64(value))
}

// IncListenerFailure records an isolated listener failure.
func (m *Metrics) IncListenerFailure() {
	if m == nil {
		return
	}
	m.listenerFailures.Inc()
}

// IncPipelineRun records a finished run.
func (m *Metrics) IncPipelineRun(pipeline, outcome string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(pipeline, outcome).Inc()
}

// IncCompensationFailure records a failed compensating action.
func (m *Metrics) IncCompensationFailure(pipeline, step string) {
	if m == nil {
		return
	}
	m.compensationFailures.WithLabelValues(pipeline, step).Inc()
}
