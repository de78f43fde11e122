// Package metrics exposes Prometheus instrumentation for rule evaluation.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// State event results.
const (
	ResultIgnored = "ignored"
	ResultNoMatch = "no_match"
	ResultMatched = "matched"
	ResultError   = "error"
)

// Sink labels.
const (
	SinkTask   = "task"
	SinkNotify = "notify"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	stateEvents *prometheus.CounterVec
	rulesFired  prometheus.Counter
	sinkErrors  *prometheus.CounterVec
	busDropped  prometheus.Counter
	rules       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localtodo",
			Name:      "state_events_total",
			Help:      "State change events processed, by result.",
		}, []string{"result"}),
		rulesFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localtodo",
			Name:      "rules_fired_total",
			Help:      "Rule matches dispatched to the task and notification sinks.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "localtodo",
			Name:      "sink_errors_total",
			Help:      "Failed side-effect calls, by sink.",
		}, []string{"sink"}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "localtodo",
			Name:      "bus_dropped_total",
			Help:      "State events dropped because the bus buffer was full.",
		}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "localtodo",
			Name:      "rules",
			Help:      "Rules seen on the most recent evaluation.",
		}),
	}

	for _, c := range []prometheus.Collector{m.stateEvents, m.rulesFired, m.sinkErrors, m.busDropped, m.rules} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// RecordStateEvent counts one processed event.
func (m *Metrics) RecordStateEvent(result string) {
	if m == nil {
		return
	}
	m.stateEvents.WithLabelValues(result).Inc()
}

// RecordRuleFired counts one dispatched match.
func (m *Metrics) RecordRuleFired() {
	if m == nil {
		return
	}
	m.rulesFired.Inc()
}

// RecordSinkError counts one failed side effect.
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

// RecordBusDrop counts one dropped event.
func (m *Metrics) RecordBusDrop() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}

// SetRuleCount records how many rules the last evaluation loaded.
func (m *Metrics) SetRuleCount(n int) {
	if m == nil {
		return
	}
	m.rules.Set(float64(n))
}
