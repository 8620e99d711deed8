// Package metrics exposes the engine's Prometheus collectors: cache
// hit/miss/eviction counters, transaction and page gauges, and commit/
// rollback duration histograms. Unlike a package-level init() that
// registers against the default registry, collectors here are built
// once and registered lazily against whatever registry the engine
// facade is given — a nil registry means metrics are still computed
// and readable through the Go API, just not exported, so metrics are
// never a hard dependency for correctness.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors for one engine instance.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	ActiveTransactions prometheus.Gauge
	DirtyPages         prometheus.Gauge
	UsedPages          prometheus.Gauge
	TotalPages         prometheus.Gauge

	TxnCommitDuration   prometheus.Histogram
	TxnRollbackDuration prometheus.Histogram
}

// New builds the collector set. Collectors exist independently of
// whether they're ever registered against a registry.
func New() *Metrics {
	return &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sdb_cache_hits_total",
			Help: "Total number of page cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sdb_cache_misses_total",
			Help: "Total number of page cache misses.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sdb_cache_evictions_total",
			Help: "Total number of page cache evictions.",
		}),
		ActiveTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sdb_active_transactions",
			Help: "Number of currently active transactions.",
		}),
		DirtyPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sdb_dirty_pages",
			Help: "Number of pages in the cache pending flush.",
		}),
		UsedPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sdb_used_pages",
			Help: "Number of allocated, non-free pages in the file.",
		}),
		TotalPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sdb_total_pages",
			Help: "Total number of pages in the file, used and free.",
		}),
		TxnCommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sdb_txn_commit_duration_seconds",
			Help:    "Time taken to commit a transaction, in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		TxnRollbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sdb_txn_rollback_duration_seconds",
			Help:    "Time taken to roll back a transaction, in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers every collector against reg. A nil reg is a
// no-op: the collectors remain usable, just unexported.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	if reg == nil {
		return nil
	}
	collectors := []prometheus.Collector{
		m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.ActiveTransactions, m.DirtyPages, m.UsedPages, m.TotalPages,
		m.TxnCommitDuration, m.TxnRollbackDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Timer times an operation and reports its duration to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
