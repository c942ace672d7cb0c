// Package metrics exposes the Prometheus instruments for the approval
// workflow and the outbox.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeoff",
			Name:      "decisions_total",
			Help:      "Count of manager decisions by outcome (approved, denied, conflict, rejected).",
		},
		[]string{"outcome"},
	)

	approveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "timeoff",
			Name:      "approve_duration_seconds",
			Help:      "End-to-end approve() latency including the synchronous remote attempt.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	balanceChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeoff",
			Name:      "balance_checks_total",
			Help:      "Count of pre-approval balance checks by result (ok, insufficient).",
		},
		[]string{"result"},
	)

	outboxDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "timeoff",
			Name:      "outbox_dispatch_total",
			Help:      "Count of outbox task dispatches by result (ok, retry, failed).",
		},
		[]string{"result"},
	)

	outboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "timeoff",
			Name:      "outbox_pending_tasks",
			Help:      "Tasks currently awaiting dispatch.",
		},
	)
)

// Register registers all collectors (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(decisions, approveDuration, balanceChecks, outboxDispatch, outboxDepth)
	})
}

func IncDecision(outcome string)      { decisions.WithLabelValues(outcome).Inc() }
func ObserveApprove(d time.Duration)  { approveDuration.Observe(d.Seconds()) }
func IncBalanceCheck(result string)   { balanceChecks.WithLabelValues(result).Inc() }
func IncOutboxDispatch(result string) { outboxDispatch.WithLabelValues(result).Inc() }
func SetOutboxDepth(n int)            { outboxDepth.Set(float64(n)) }
