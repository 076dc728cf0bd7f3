package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.RunStarted()
	m.EventApplied("running")
	m.EventApplied("running")
	m.EventApplied("completed")
	m.ParseFailure()
	m.ProtocolViolation("concurrent_checkpoint")
	m.TransportError()
	m.SetProgress(62.5)
	m.ObserveHitlWait("approve", 3*time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.eventsApplied.WithLabelValues("running")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.parseFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.protocolViolations.WithLabelValues("concurrent_checkpoint")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.transportErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsActive))
	assert.Equal(t, 62.5, testutil.ToFloat64(m.progress))
	assert.Equal(t, 1, testutil.CollectAndCount(m.hitlWait))

	m.RunFinished(OutcomeCompleted)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.runsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.runsFinished.WithLabelValues(OutcomeCompleted)))
}

func TestMetrics_SharedRegistryReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)

	a.ParseFailure()
	b.ParseFailure()
	assert.Equal(t, float64(2), testutil.ToFloat64(a.parseFailures))
}

func TestMetrics_NilIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.EventApplied("running")
		m.ParseFailure()
		m.ProtocolViolation("x")
		m.TransportError()
		m.ObserveHitlWait("approve", time.Second)
		m.SetProgress(10)
		m.RunFinished(OutcomeEOF)
	})
}
