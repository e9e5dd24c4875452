// Package metrics exposes Prometheus instrumentation for the risk engine,
// the tick stream and the notifiers. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quantrisk"

// Metrics contains all Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Order metrics
	OrdersCreated   *prometheus.CounterVec
	OrdersTriggered *prometheus.CounterVec
	OrdersCancelled *prometheus.CounterVec

	// Alert metrics
	AlertsRaised       *prometheus.CounterVec
	AlertsAcknowledged prometheus.Counter

	// Rule metrics
	RuleEvaluations  *prometheus.CounterVec
	RuleEvalDuration prometheus.Histogram

	// Stream metrics
	TicksProcessed *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec

	// Notification metrics
	NotifyFailures *prometheus.CounterVec

	// Pricing metrics
	IVIterations prometheus.Histogram
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates and registers all collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		OrdersCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "created_total",
				Help:      "Protective orders created",
			},
			[]string{"kind"},
		),
		OrdersTriggered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "triggered_total",
				Help:      "Protective orders triggered",
			},
			[]string{"kind"},
		),
		OrdersCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orders",
				Name:      "cancelled_total",
				Help:      "Protective orders cancelled",
			},
			[]string{"kind"},
		),

		AlertsRaised: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "raised_total",
				Help:      "Risk alerts appended to the alert log",
			},
			[]string{"type", "severity"},
		),
		AlertsAcknowledged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "alerts",
				Name:      "acknowledged_total",
				Help:      "Risk alerts acknowledged",
			},
		),

		RuleEvaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rules",
				Name:      "evaluations_total",
				Help:      "Rule evaluations by outcome",
			},
			[]string{"type", "outcome"},
		),
		RuleEvalDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rules",
				Name:      "evaluation_duration_seconds",
				Help:      "Time taken to evaluate the full rule set",
				Buckets:   prometheus.DefBuckets,
			},
		),

		TicksProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "ticks_total",
				Help:      "Ticks handled by the risk engine",
			},
			[]string{"result"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "dropped_total",
				Help:      "Messages dropped because a subscriber was full",
			},
			[]string{"stream"},
		),

		NotifyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "failures_total",
				Help:      "Failed alert or event publications",
			},
			[]string{"notifier"},
		),

		IVIterations: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pricing",
				Name:      "iv_iterations",
				Help:      "Newton iterations used by the implied volatility solver",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34, 55, 100},
			},
		),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// OrderCreated records a new order.
func (m *Metrics) OrderCreated(kind string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(kind).Inc()
}

// OrderTriggered records a trigger.
func (m *Metrics) OrderTriggered(kind string) {
	if m == nil {
		return
	}
	m.OrdersTriggered.WithLabelValues(kind).Inc()
}

// OrderCancelled records a cancellation.
func (m *Metrics) OrderCancelled(kind string) {
	if m == nil {
		return
	}
	m.OrdersCancelled.WithLabelValues(kind).Inc()
}

// AlertRaised records an alert.
func (m *Metrics) AlertRaised(alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(alertType, severity).Inc()
}

// AlertAcknowledged records an acknowledgement.
func (m *Metrics) AlertAcknowledged() {
	if m == nil {
		return
	}
	m.AlertsAcknowledged.Inc()
}

// RuleEvaluated records the outcome of one rule: matched, clean, fault or
// unsupported.
func (m *Metrics) RuleEvaluated(ruleType, outcome string) {
	if m == nil {
		return
	}
	m.RuleEvaluations.WithLabelValues(ruleType, outcome).Inc()
}

// ObserveRuleRun records how long a rule pass took.
func (m *Metrics) ObserveRuleRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RuleEvalDuration.Observe(d.Seconds())
}

// TickProcessed records a tick as applied or stale.
func (m *Metrics) TickProcessed(result string) {
	if m == nil {
		return
	}
	m.TicksProcessed.WithLabelValues(result).Inc()
}

// Dropped records a message dropped on a full subscriber.
func (m *Metrics) Dropped(stream string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(stream).Inc()
}

// NotifyFailed records a failed publication.
func (m *Metrics) NotifyFailed(notifier string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(notifier).Inc()
}

// ObserveIV records the iterations of one implied volatility solve.
func (m *Metrics) ObserveIV(iterations int) {
	if m == nil {
		return
	}
	m.IVIterations.Observe(float64(iterations))
}
