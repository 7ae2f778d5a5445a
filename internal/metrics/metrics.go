// Package metrics declares the Prometheus series exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerEntriesPosted counts committed ledger entries by type.
var LedgerEntriesPosted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "ledger",
	Name:      "entries_posted_total",
	Help:      "Ledger entries committed, by entry type.",
}, []string{"entry_type"})

// LedgerCreditsMoved sums the absolute credits moved by committed entries.
var LedgerCreditsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "ledger",
	Name:      "credits_moved_total",
	Help:      "Credits moved by committed ledger entries, by entry type.",
}, []string{"entry_type"})

// LedgerRejections counts ledger mutations refused, by error kind.
var LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "ledger",
	Name:      "rejections_total",
	Help:      "Ledger mutations rejected, by error kind.",
}, []string{"kind"})

// LockWait observes how long mutations waited for their account locks.
var LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "carbon",
	Subsystem: "ledger",
	Name:      "lock_wait_seconds",
	Help:      "Time spent waiting for per-account locks.",
	Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2},
})

// ReplayMismatches counts accounts whose replayed log disagrees with the balance row.
var ReplayMismatches = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "ledger",
	Name:      "replay_mismatches_total",
	Help:      "Accounts whose ledger replay did not reproduce the stored balances.",
})

// TransactionTransitions counts trade state changes.
var TransactionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "marketplace",
	Name:      "transitions_total",
	Help:      "Marketplace transaction state transitions.",
}, []string{"from", "to"})

// CreditsSurrendered sums credits surrendered against compliance records.
var CreditsSurrendered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "compliance",
	Name:      "credits_surrendered_total",
	Help:      "Credits surrendered against compliance obligations.",
})

// ComplianceStatus tracks how many records are in each status after the last refresh.
var ComplianceStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "carbon",
	Subsystem: "compliance",
	Name:      "records",
	Help:      "Compliance records by status as of the last refresh.",
}, []string{"status"})

// JobRuns counts scheduled job executions by outcome.
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Scheduled job executions by job and outcome.",
}, []string{"job", "outcome"})

// HTTPRequests counts API requests by route name and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "carbon",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests served, by route and status code.",
}, []string{"route", "code"})

// HTTPDuration observes request latency by route name.
var HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "carbon",
	Subsystem: "http",
	Name:      "request_duration_seconds",
	Help:      "HTTP request latency, by route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})
