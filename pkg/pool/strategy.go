package pool

import (
	"context"
	"sync"
	"time"
)

// strategy is the pluggable background behavior of a pool: a long-running
// loop, a hook invoked when an item enters the pool, and a reclaim function
// that may hand back an existing evictable item instead of a new allocation.
type strategy[T comparable] interface {
	run(ctx context.Context)
	onAcquire(it *poolItem[T])
	reclaim() *poolItem[T]
}

// noopStrategy is used for fixed-size pools: no background loop, no
// eviction, no reuse.
type noopStrategy[T comparable] struct{}

func (noopStrategy[T]) run(context.Context)    {}
func (noopStrategy[T]) onAcquire(*poolItem[T]) {}
func (noopStrategy[T]) reclaim() *poolItem[T]  { return nil }

// creationTTLStrategy retires each item a fixed duration after its creation.
// Items are checked in FIFO order, which equals creation order, so the loop
// only ever sleeps until the head item's deadline.
type creationTTLStrategy[T comparable] struct {
	pool *Pool[T]
	ttl  time.Duration

	mu     sync.Mutex
	queue  []*poolItem[T]
	signal chan struct{}
}

func newCreationTTLStrategy[T comparable](p *Pool[T], ttl time.Duration) *creationTTLStrategy[T] {
	return &creationTTLStrategy[T]{
		pool:   p,
		ttl:    ttl,
		signal: make(chan struct{}, 1),
	}
}

func (s *creationTTLStrategy[T]) onAcquire(it *poolItem[T]) {
	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// reclaim always reports nothing: creation-TTL pools never reuse items.
func (s *creationTTLStrategy[T]) reclaim() *poolItem[T] { return nil }

func (s *creationTTLStrategy[T]) run(ctx context.Context) {
	for {
		it := s.next(ctx)
		if it == nil {
			return
		}

		if remaining := s.ttl - time.Since(it.createdAt); remaining > 0 {
			timer := time.NewTimer(remaining)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}

		if s.pool.expireItem(it) {
			s.pool.evictions.Add(1)
			s.pool.collector.IncEviction()
		}
	}
}

// next dequeues the oldest tracked item, blocking until one is enqueued or
// the context ends.
func (s *creationTTLStrategy[T]) next(ctx context.Context) *poolItem[T] {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			it := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return it
		}
		s.mu.Unlock()

		select {
		case <-s.signal:
		case <-ctx.Done():
			return nil
		}
	}
}

// usageTTLStrategy retires excess idle items on a fixed interval and keeps
// them reclaimable for one more interval: a soft-evicted item that is not
// reclaimed by the next sweep is finalized for real. This is the only
// strategy offering reuse without reconstruction.
type usageTTLStrategy[T comparable] struct {
	pool *Pool[T]
	ttl  time.Duration

	mu      sync.Mutex
	queue   []*poolItem[T] // acquisition order, oldest first
	evicted []*poolItem[T] // soft-evicted, awaiting reclaim or final drop
}

func newUsageTTLStrategy[T comparable](p *Pool[T], ttl time.Duration) *usageTTLStrategy[T] {
	return &usageTTLStrategy[T]{pool: p, ttl: ttl}
}

func (s *usageTTLStrategy[T]) onAcquire(it *poolItem[T]) {
	s.mu.Lock()
	s.queue = append(s.queue, it)
	s.mu.Unlock()
}

func (s *usageTTLStrategy[T]) run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.sweep()
	}
}

// sweep finalizes the previous interval's unreclaimed items, then
// soft-evicts the oldest idle items until the active size no longer exceeds
// the target.
func (s *usageTTLStrategy[T]) sweep() {
	s.mu.Lock()
	leftovers := s.evicted
	s.evicted = nil
	s.mu.Unlock()

	for _, it := range leftovers {
		s.pool.dropEvicted(it)
	}

	active, target := s.pool.sizes()
	excess := active - target
	if excess <= 0 {
		return
	}

	s.mu.Lock()
	n := len(s.queue)
	s.mu.Unlock()

	for i := 0; i < n && excess > 0; i++ {
		it := s.popOldest()
		if it == nil {
			return
		}
		if s.pool.softEvict(it) {
			s.mu.Lock()
			s.evicted = append(s.evicted, it)
			s.mu.Unlock()
			s.pool.evictions.Add(1)
			s.pool.collector.IncEviction()
			excess--
			continue
		}
		if s.pool.stillLive(it) {
			// Borrowed right now; keep it in rotation.
			s.mu.Lock()
			s.queue = append(s.queue, it)
			s.mu.Unlock()
		}
		// Untracked or separately invalidated items fall out of the queue.
	}
}

func (s *usageTTLStrategy[T]) popOldest() *poolItem[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	it := s.queue[0]
	s.queue = s.queue[1:]
	return it
}

// reclaim pops the oldest soft-evicted, non-reclaim-disabled item, puts it
// back into the available set, and re-enqueues it as freshly acquired.
func (s *usageTTLStrategy[T]) reclaim() *poolItem[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.evicted); i++ {
		it := s.evicted[i]
		if s.pool.takeForReclaim(it) {
			s.evicted = append(s.evicted[:i], s.evicted[i+1:]...)
			s.queue = append(s.queue, it)
			return it
		}
	}
	return nil
}
