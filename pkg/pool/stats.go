package pool

import (
	"github.com/ajitpratap0/reservoir/pkg/json"
)

// Stats is a point-in-time snapshot of pool state and lifetime counters.
type Stats struct {
	// Name identifies the pool
	Name string `json:"name"`
	// Items is the number of tracked items, invalidated ones included
	Items int `json:"items"`
	// Active is items minus invalidated
	Active int `json:"active"`
	// Available is the number of items with spare borrowing capacity
	Available int `json:"available"`
	// Invalidated is the number of items marked for removal
	Invalidated int `json:"invalidated"`
	// Borrowed is the sum of reference counts across all items
	Borrowed int `json:"borrowed"`
	// Waiters is the number of in-flight Get calls not yet holding an item
	Waiters int `json:"waiters"`
	// Borrows counts successful borrows over the pool's lifetime
	Borrows int64 `json:"borrows"`
	// Allocations counts resource constructions
	Allocations int64 `json:"allocations"`
	// AllocationFailures counts failed resource constructions
	AllocationFailures int64 `json:"allocation_failures"`
	// Reclaims counts items reused without reconstruction
	Reclaims int64 `json:"reclaims"`
	// Evictions counts strategy-driven invalidations
	Evictions int64 `json:"evictions"`
	// FinalizerErrors counts errors raised while releasing resources
	FinalizerErrors int64 `json:"finalizer_errors"`
	// Closed reports whether the pool has shut down
	Closed bool `json:"closed"`
}

// Stats returns a snapshot of the pool's current state.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Name:        p.cfg.Name,
		Items:       len(p.items),
		Active:      p.activeLocked(),
		Available:   len(p.available),
		Invalidated: len(p.invalidated),
		Borrowed:    p.borrowed,
		Waiters:     p.waiters,
		Closed:      p.closed,
	}
	p.mu.Unlock()

	s.Borrows = p.borrows.Load()
	s.Allocations = p.allocations.Load()
	s.AllocationFailures = p.allocationFailures.Load()
	s.Reclaims = p.reclaims.Load()
	s.Evictions = p.evictions.Load()
	s.FinalizerErrors = p.finalizerErrors.Load()
	return s
}

// String returns the stats as a JSON object.
func (s Stats) String() string {
	out, err := json.MarshalString(s)
	if err != nil {
		return "{}"
	}
	return out
}
