package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics exposes counters for the settlement engine.
type MarketMetrics struct {
	reconcileRuns       *prometheus.CounterVec
	ledgerEventsMerged  prometheus.Counter
	ledgerEventsDeduped prometheus.Counter
	cacheDeduped        prometheus.Counter
	bountyTransitions   *prometheus.CounterVec
	ledgerWriteFailures *prometheus.CounterVec
}

var (
	marketOnce     sync.Once
	marketRegistry *MarketMetrics
)

// Market returns the process-wide settlement metrics, registering them on
// first use.
func Market() *MarketMetrics {
	marketOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_reconcile_runs_total",
				Help: "Count of purchase reconciliation runs by outcome.",
			}, []string{"outcome"}),
			ledgerEventsMerged: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_ledger_events_merged_total",
				Help: "Count of ledger-observed purchases added to reconciled views.",
			}),
			ledgerEventsDeduped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_ledger_events_deduped_total",
				Help: "Count of ledger-observed purchases dropped as cache duplicates.",
			}),
			cacheDeduped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "market_cache_appends_deduped_total",
				Help: "Count of cache appends ignored because the tx hash was already stored.",
			}),
			bountyTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_bounty_transitions_total",
				Help: "Count of bounty lifecycle transitions by kind.",
			}, []string{"transition"}),
			ledgerWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "market_ledger_write_failures_total",
				Help: "Count of failed ledger writes by operation and outcome.",
			}, []string{"op", "outcome"}),
		}
		prometheus.MustRegister(
			marketRegistry.reconcileRuns,
			marketRegistry.ledgerEventsMerged,
			marketRegistry.ledgerEventsDeduped,
			marketRegistry.cacheDeduped,
			marketRegistry.bountyTransitions,
			marketRegistry.ledgerWriteFailures,
		)
	})
	return marketRegistry
}

func (m *MarketMetrics) ObserveReconcile(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

func (m *MarketMetrics) ObserveLedgerEvent(merged bool) {
	if m == nil {
		return
	}
	if merged {
		m.ledgerEventsMerged.Inc()
		return
	}
	m.ledgerEventsDeduped.Inc()
}

func (m *MarketMetrics) ObserveCacheDedup() {
	if m == nil {
		return
	}
	m.cacheDeduped.Inc()
}

func (m *MarketMetrics) ObserveBountyTransition(transition string) {
	if m == nil {
		return
	}
	if transition == "" {
		transition = "unknown"
	}
	m.bountyTransitions.WithLabelValues(transition).Inc()
}

func (m *MarketMetrics) ObserveLedgerWriteFailure(op, outcome string) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ledgerWriteFailures.WithLabelValues(op, outcome).Inc()
}
