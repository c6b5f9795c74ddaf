package observability

import (
	gu "github.com/xraph/go-utils/metrics"
)

// Metrics holds metric instruments for the outbox, backed by any go-utils
// MetricFactory (e.g. the forge-managed metrics system via fapp.Metrics()).
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsSubmittedTotal gu.Counter
	AttemptsTotal         gu.Counter
	AttemptLatency        gu.Histogram
	DLQSize               gu.Gauge
	QueueDepth            gu.Gauge
	SLABreachesTotal      gu.Counter
	AlertsLostTotal       gu.Counter
	SweepsTotal           gu.Counter
}

// NewMetrics creates outbox metric instruments using the supplied factory.
// Pass fapp.Metrics() from a forge extension, or metrics.NewMetricsCollector()
// for standalone usage.
func NewMetrics(factory gu.MetricFactory) *Metrics {
	return &Metrics{
		RecordsSubmittedTotal: factory.Counter("outbox_records_submitted_total"),
		AttemptsTotal:         factory.Counter("outbox_attempts_total"),
		AttemptLatency:        factory.Histogram("outbox_attempt_latency_seconds"),
		DLQSize:               factory.Gauge("outbox_dlq_size"),
		QueueDepth:            factory.Gauge("outbox_queue_depth"),
		SLABreachesTotal:      factory.Counter("outbox_sla_breaches_total"),
		AlertsLostTotal:       factory.Counter("outbox_alerts_lost_total"),
		SweepsTotal:           factory.Counter("outbox_sweeps_total"),
	}
}

// RecordSubmitted counts a newly created record.
func (m *Metrics) RecordSubmitted(action, priority string) {
	if m == nil {
		return
	}
	m.RecordsSubmittedTotal.WithLabels(map[string]string{"action": action, "priority": priority}).Inc()
}

// RecordAttempt records a dispatch attempt with its resulting status and latency.
func (m *Metrics) RecordAttempt(action, status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabels(map[string]string{"action": action, "status": status}).Inc()
	m.AttemptLatency.Observe(latencySeconds)
}

// RecordDeadLetter counts a record entering failed_dead.
func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.DLQSize.Inc()
}

// RecordReplay counts a dead record leaving the queue through a replay.
func (m *Metrics) RecordReplay() {
	if m == nil {
		return
	}
	m.DLQSize.Dec()
}

// RecordSLABreach counts an attempt that finished after its tier's target.
func (m *Metrics) RecordSLABreach(priority string) {
	if m == nil {
		return
	}
	m.SLABreachesTotal.WithLabels(map[string]string{"priority": priority}).Inc()
}

// RecordAlertLost counts a dead-letter alert that could not be created.
func (m *Metrics) RecordAlertLost() {
	if m == nil {
		return
	}
	m.AlertsLostTotal.WithLabels(map[string]string{}).Inc()
}

// RecordSweep counts a completed retry sweep by outcome.
func (m *Metrics) RecordSweep(result string) {
	if m == nil {
		return
	}
	m.SweepsTotal.WithLabels(map[string]string{"result": result}).Inc()
}

// Enqueued tracks a record pushed onto the worker queue.
func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.QueueDepth.Inc()
}

// Dequeued tracks a record taken off the worker queue.
func (m *Metrics) Dequeued() {
	if m == nil {
		return
	}
	m.QueueDepth.Dec()
}
