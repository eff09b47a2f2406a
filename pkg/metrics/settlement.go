package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Credit outcomes reported by the settlement engine.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// SettlementMetrics tracks seller credits and settlement runs.
type SettlementMetrics struct {
	credits  *prometheus.CounterVec
	attempts prometheus.Counter
	duration *prometheus.HistogramVec
}

// NewSettlementMetrics registers the settlement metrics on reg. A nil reg yields a no-op recorder.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	m := &SettlementMetrics{
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_credits_total",
			Help:      "Seller credit outcomes produced by settlement runs.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlement_credit_attempts_total",
			Help:      "Individual ledger credit attempts including retries.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "settlement_duration_seconds",
			Help:      "Duration of a settlement run per order.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
	}
	reg.MustRegister(m.credits, m.attempts, m.duration)
	return m
}

// IncCredit counts one seller outcome.
func (m *SettlementMetrics) IncCredit(outcome string) {
	if m == nil || m.credits == nil {
		return
	}
	m.credits.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncAttempt counts one ledger credit call.
func (m *SettlementMetrics) IncAttempt() {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Inc()
}

// ObserveRun records a settlement run; complete reports whether every seller is credited.
func (m *SettlementMetrics) ObserveRun(duration time.Duration, complete bool) {
	if m == nil || m.duration == nil {
		return
	}
	result := "complete"
	if !complete {
		result = "incomplete"
	}
	m.duration.WithLabelValues(result).Observe(duration.Seconds())
}
