package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConsumerMetrics counts Pub/Sub message handling results.
type ConsumerMetrics struct {
	messages *prometheus.CounterVec
}

// NewConsumerMetrics registers consumer counters on reg.
func NewConsumerMetrics(reg prometheus.Registerer) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_messages_total",
		Help:      "Messages handled by subscription consumers.",
	}, []string{"consumer", "result"})
	reg.MustRegister(messages)
	return &ConsumerMetrics{messages: messages}
}

// Inc counts a handled message. result is ack, nack or skipped.
func (m *ConsumerMetrics) Inc(consumer, result string) {
	if m == nil || m.messages == nil {
		return
	}
	m.messages.WithLabelValues(normalizeLabel(consumer), normalizeLabel(result)).Inc()
}

// ReconcileMetrics counts repairs performed by reconciliation jobs.
type ReconcileMetrics struct {
	repairs *prometheus.CounterVec
}

// NewReconcileMetrics registers reconciliation counters on reg.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	repairs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_repairs_total",
		Help:      "Inconsistencies found and repaired by reconciliation.",
	}, []string{"kind"})
	reg.MustRegister(repairs)
	return &ReconcileMetrics{repairs: repairs}
}

// IncRepair counts one repaired inconsistency of the given kind.
func (m *ReconcileMetrics) IncRepair(kind string) {
	if m == nil || m.repairs == nil {
		return
	}
	m.repairs.WithLabelValues(normalizeLabel(kind)).Inc()
}

// OutboxMetrics counts publish outcomes of the outbox dispatcher.
type OutboxMetrics struct {
	published *prometheus.CounterVec
}

// NewOutboxMetrics registers outbox counters on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_publish_total",
		Help:      "Outbox rows processed by the publisher.",
	}, []string{"event_type", "result"})
	reg.MustRegister(published)
	return &OutboxMetrics{published: published}
}

// Inc counts one processed row. result is published, failed, deferred or dead_lettered.
func (m *OutboxMetrics) Inc(eventType, result string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}
