// Package metrics exposes Prometheus instrumentation for the agent.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the agent reports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	CommandsTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	AIRequestsTotal  *prometheus.CounterVec
	AIDuration       *prometheus.HistogramVec
	ActiveAgents     prometheus.Gauge
	ChatMessages     *prometheus.CounterVec
	ListenerErrors   prometheus.Counter
}

// New registers the agent collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CommandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_agent_commands_total",
			Help: "Commands dispatched, by result status and connector type.",
		}, []string{"status", "connector_type", "channel"}),
		DispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echo_agent_dispatch_duration_seconds",
			Help:    "End-to-end pipeline latency per command.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		AIRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_agent_ai_requests_total",
			Help: "Reasoning provider calls, by provider, operation and outcome.",
		}, []string{"provider", "operation", "outcome"}),
		AIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echo_agent_ai_request_duration_seconds",
			Help:    "Reasoning provider call latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "operation"}),
		ActiveAgents: f.NewGauge(prometheus.GaugeOpts{
			Name: "echo_agent_active_agents",
			Help: "Per-user agents currently held in memory.",
		}),
		ChatMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_agent_chat_messages_total",
			Help: "Chat messages handled, by direction and outcome.",
		}, []string{"direction", "outcome"}),
		ListenerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "echo_agent_chat_listener_errors_total",
			Help: "Chat listener invocations that panicked.",
		}),
	}
}

// ObserveCommand records one dispatched command.
func (m *Metrics) ObserveCommand(status, connectorType, channel string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if connectorType == "" {
		connectorType = "none"
	}
	m.CommandsTotal.WithLabelValues(status, connectorType, channel).Inc()
	m.DispatchDuration.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveAI implements reasoner.Observer.
func (m *Metrics) ObserveAI(provider, operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AIRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	m.AIDuration.WithLabelValues(provider, operation).Observe(elapsed.Seconds())
}

// SetActiveAgents updates the active agent gauge.
func (m *Metrics) SetActiveAgents(n int) {
	if m == nil {
		return
	}
	m.ActiveAgents.Set(float64(n))
}

// ObserveChat records a chat message.
func (m *Metrics) ObserveChat(direction, outcome string) {
	if m == nil {
		return
	}
	m.ChatMessages.WithLabelValues(direction, outcome).Inc()
}

// ListenerFailed records a listener that panicked.
func (m *Metrics) ListenerFailed() {
	if m == nil {
		return
	}
	m.ListenerErrors.Inc()
}
