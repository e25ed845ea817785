// Package metrics provides Prometheus instrumentation for Reservoir pools.
// It exposes pool-labeled collectors for sizing, demand, and lifecycle events
// so that multiple pools in one process can be observed independently.
//
// Metrics are registered once via promauto; each pool records through a
// Collector obtained from NewCollector. A nil Collector is valid and records
// nothing, which keeps instrumentation optional for library users.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsActive tracks the number of live, non-invalidated items per pool
	ItemsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reservoir_items_active",
			Help: "Number of live, non-invalidated pooled items",
		},
		[]string{"pool"},
	)

	// ItemsAvailable tracks items with spare borrowing capacity per pool
	ItemsAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reservoir_items_available",
			Help: "Number of pooled items with spare borrowing capacity",
		},
		[]string{"pool"},
	)

	// Waiters tracks in-flight Get calls not yet holding an item
	Waiters = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reservoir_waiters",
			Help: "Number of in-flight Get calls not yet holding an item",
		},
		[]string{"pool"},
	)

	// BorrowsTotal counts successful borrows per pool
	BorrowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_borrows_total",
			Help: "Total successful borrows",
		},
		[]string{"pool"},
	)

	// BorrowWaitSeconds tracks time spent in Get before a borrow succeeds
	BorrowWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reservoir_borrow_wait_seconds",
			Help:    "Time spent waiting for a borrow to succeed",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"pool"},
	)

	// AllocationsTotal counts resource constructions per pool
	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_allocations_total",
			Help: "Total resource constructions",
		},
		[]string{"pool"},
	)

	// AllocationFailuresTotal counts failed resource constructions per pool
	AllocationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_allocation_failures_total",
			Help: "Total failed resource constructions",
		},
		[]string{"pool"},
	)

	// ReclaimsTotal counts items reused without reconstruction per pool
	ReclaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_reclaims_total",
			Help: "Total items reused without reconstruction",
		},
		[]string{"pool"},
	)

	// EvictionsTotal counts strategy-driven invalidations per pool
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_evictions_total",
			Help: "Total strategy-driven item invalidations",
		},
		[]string{"pool"},
	)

	// FinalizerErrorsTotal counts errors raised while releasing resources
	FinalizerErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservoir_finalizer_errors_total",
			Help: "Total errors raised while releasing underlying resources",
		},
		[]string{"pool"},
	)
)

// Collector records pool metrics under a fixed pool label.
// All methods are safe to call on a nil receiver, in which case they do
// nothing. This lets pools treat instrumentation as optional.
type Collector struct {
	name string
}

// NewCollector creates a metrics collector for the named pool.
func NewCollector(name string) *Collector {
	return &Collector{name: name}
}

// SetSizes records the current active and available item counts and the
// number of waiters.
func (c *Collector) SetSizes(active, available, waiters int) {
	if c == nil {
		return
	}
	ItemsActive.WithLabelValues(c.name).Set(float64(active))
	ItemsAvailable.WithLabelValues(c.name).Set(float64(available))
	Waiters.WithLabelValues(c.name).Set(float64(waiters))
}

// ObserveBorrow records a successful borrow and its wait duration.
func (c *Collector) ObserveBorrow(wait time.Duration) {
	if c == nil {
		return
	}
	BorrowsTotal.WithLabelValues(c.name).Inc()
	BorrowWaitSeconds.WithLabelValues(c.name).Observe(wait.Seconds())
}

// IncAllocation records a resource construction attempt.
func (c *Collector) IncAllocation(failed bool) {
	if c == nil {
		return
	}
	AllocationsTotal.WithLabelValues(c.name).Inc()
	if failed {
		AllocationFailuresTotal.WithLabelValues(c.name).Inc()
	}
}

// IncReclaim records an item reuse that skipped reconstruction.
func (c *Collector) IncReclaim() {
	if c == nil {
		return
	}
	ReclaimsTotal.WithLabelValues(c.name).Inc()
}

// IncEviction records a strategy-driven invalidation.
func (c *Collector) IncEviction() {
	if c == nil {
		return
	}
	EvictionsTotal.WithLabelValues(c.name).Inc()
}

// IncFinalizerError records an error raised by a resource finalizer.
func (c *Collector) IncFinalizerError() {
	if c == nil {
		return
	}
	FinalizerErrorsTotal.WithLabelValues(c.name).Inc()
}
