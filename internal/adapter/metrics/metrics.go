package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EngineMetrics holds all Prometheus metrics for the credit engine.
type EngineMetrics struct {
	PostingsTotal       *prometheus.CounterVec
	CreditsGrantedTotal prometheus.Counter
	CreditsChargedTotal prometheus.Counter
	WorkflowsOpened     prometheus.Counter
	WorkflowsReaped     prometheus.Counter
	BalanceCacheHits    prometheus.Counter
	BalanceCacheMisses  prometheus.Counter
	KeyCacheHits        prometheus.Counter
	KeyCacheMisses      prometheus.Counter
}

// NewEngineMetrics initializes and registers the Prometheus metrics.
func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		PostingsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Total ledger posting attempts by type and outcome.",
		}, []string{"type", "outcome"}), // type: grant, debit, settlement; outcome: applied, duplicate, declined, error
		CreditsGrantedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "ledger",
			Name:      "credits_granted_total",
			Help:      "Total credits granted through committed ledger entries.",
		}),
		CreditsChargedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "ledger",
			Name:      "credits_charged_total",
			Help:      "Total credits debited through committed ledger entries.",
		}),
		WorkflowsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "workflow",
			Name:      "opened_total",
			Help:      "Total workflows opened.",
		}),
		WorkflowsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "workflow",
			Name:      "reaped_total",
			Help:      "Total stale workflows voided by the reaper.",
		}),
		BalanceCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "cache",
			Name:      "balance_hits_total",
			Help:      "Total balance cache hits.",
		}),
		BalanceCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "cache",
			Name:      "balance_misses_total",
			Help:      "Total balance cache misses.",
		}),
		KeyCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "auth",
			Name:      "key_cache_hits_total",
			Help:      "Total access key cache hits.",
		}),
		KeyCacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "credit_engine",
			Subsystem: "auth",
			Name:      "key_cache_misses_total",
			Help:      "Total access key cache misses.",
		}),
	}
}
