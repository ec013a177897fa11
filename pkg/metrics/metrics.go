package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Relay metrics
	OutboxEventsPublished prometheus.Counter
	OutboxEventsFailed    prometheus.Counter
	OutboxRetries         *prometheus.CounterVec
	OutboxRelayLatency    prometheus.Histogram
	OutboxPendingRows     prometheus.Gauge

	// Consumer metrics
	EventsConsumed   *prometheus.CounterVec
	EventsDuplicate  *prometheus.CounterVec
	EventsDeadLetter *prometheus.CounterVec
	ConsumeLatency   *prometheus.HistogramVec

	// Scheduler metrics
	SchedulerRuns *prometheus.CounterVec
}

// New creates all application metrics and registers them on the given
// registerer (pass prometheus.DefaultRegisterer in main, a fresh registry in
// tests so parallel test packages don't collide).
func New(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OutboxEventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Total number of outbox events published to the broker",
		}),
		OutboxEventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of outbox events that exhausted retries",
		}),
		OutboxRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of outbox publish retries",
		}, []string{"event_type"}),
		OutboxRelayLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_relay_duration_seconds",
			Help:      "Time spent per relay batch",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxPendingRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending_rows",
			Help:      "Pending outbox rows observed at the last relay scan",
		}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_consumed_total",
			Help:      "Total number of stream events applied",
		}, []string{"event_type"}),
		EventsDuplicate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_duplicate_total",
			Help:      "Total number of redelivered events skipped by the idempotency ledger",
		}, []string{"event_type"}),
		EventsDeadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dead_letter_total",
			Help:      "Total number of events routed to a dead-letter topic",
		}, []string{"topic"}),
		ConsumeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_consume_duration_seconds",
			Help:      "Time spent applying one stream event",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"event_type"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_runs_total",
			Help:      "Scheduled job executions by job name and outcome",
		}, []string{"job", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.OutboxEventsPublished, m.OutboxEventsFailed, m.OutboxRetries,
			m.OutboxRelayLatency, m.OutboxPendingRows,
			m.EventsConsumed, m.EventsDuplicate, m.EventsDeadLetter, m.ConsumeLatency,
			m.SchedulerRuns,
		)
	}
	return m
}
