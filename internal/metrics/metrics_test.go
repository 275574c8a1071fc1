package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCommand(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCommand("success", "payment", "rest", 10*time.Millisecond)
	m.ObserveCommand("no_match", "", "chat", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("success", "payment", "rest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("no_match", "none", "chat")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCommand("success", "payment", "rest", time.Millisecond)
	m.ObserveAI("openai", "analyze", "ok", time.Millisecond)
	m.SetActiveAgents(3)
	m.ObserveChat("outbound", "delivered")
	m.ListenerFailed()
}

func TestActiveAgentsGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetActiveAgents(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ActiveAgents))
}
