// Package metrics exposes Prometheus collectors for the event consumer loop.
// All methods are safe on a nil *Metrics, which disables reporting.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "pipewatch"
	subsystem = "consumer"
)

// Metrics reports consumer loop activity.
type Metrics struct {
	eventsApplied      *prometheus.CounterVec
	parseFailures      prometheus.Counter
	protocolViolations *prometheus.CounterVec
	transportErrors    prometheus.Counter
	runsActive         prometheus.Gauge
	runsFinished       *prometheus.CounterVec
	hitlWait           *prometheus.HistogramVec
	progress           prometheus.Gauge
}

// MustNew constructs Metrics registered with reg (the default registerer when
// nil). Collectors already registered under the same name are reused, so
// several instances may share one registry. Any other registration error
// panics.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "events_applied_total",
			Help: "Normalized events folded into run state, by lifecycle status.",
		}, []string{"status"}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "parse_failures_total",
			Help: "Wire records skipped because they could not be normalized.",
		}),
		protocolViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "protocol_violations_total",
			Help: "Backend/client desyncs reported as warnings, by kind.",
		}, []string{"kind"}),
		transportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "transport_errors_total",
			Help: "Runs terminated by a transport failure.",
		}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "runs_active",
			Help: "Runs whose consumer loop is currently reading the stream.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "runs_finished_total",
			Help: "Runs whose consumer loop exited, by outcome.",
		}, []string{"outcome"}),
		hitlWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name:    "hitl_wait_seconds",
			Help:    "Time a checkpoint stayed outstanding before a response, by action.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"action"}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "progress_percent",
			Help: "Progress heuristic of the current run.",
		}),
	}

	m.eventsApplied = register(reg, m.eventsApplied)
	m.parseFailures = register(reg, m.parseFailures)
	m.protocolViolations = register(reg, m.protocolViolations)
	m.transportErrors = register(reg, m.transportErrors)
	m.runsActive = register(reg, m.runsActive)
	m.runsFinished = register(reg, m.runsFinished)
	m.hitlWait = register(reg, m.hitlWait)
	m.progress = register(reg, m.progress)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
	OutcomeEOF       = "eof"
)

// EventApplied counts one applied event.
func (m *Metrics) EventApplied(status string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(status).Inc()
}

// ParseFailure counts one skipped record.
func (m *Metrics) ParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

// ProtocolViolation counts one violation of kind.
func (m *Metrics) ProtocolViolation(kind string) {
	if m == nil {
		return
	}
	m.protocolViolations.WithLabelValues(kind).Inc()
}

// TransportError counts one fatal transport failure.
func (m *Metrics) TransportError() {
	if m == nil {
		return
	}
	m.transportErrors.Inc()
}

// RunStarted marks a consumer loop as active.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
	m.progress.Set(0)
}

// RunFinished marks a consumer loop as exited with outcome.
func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsFinished.WithLabelValues(outcome).Inc()
}

// ObserveHitlWait records how long a checkpoint waited for action.
func (m *Metrics) ObserveHitlWait(action string, d time.Duration) {
	if m == nil {
		return
	}
	m.hitlWait.WithLabelValues(action).Observe(d.Seconds())
}

// SetProgress reports the progress of the current run.
func (m *Metrics) SetProgress(p float64) {
	if m == nil {
		return
	}
	m.progress.Set(p)
}
