package pool

import (
	"sync"
)

// Resource is a scoped borrow of a pooled value. It must be released exactly
// once; Release is idempotent, so deferring it immediately after Get is safe
// in every exit path including panics and cancellations.
type Resource[T comparable] struct {
	pool *Pool[T]
	item *poolItem[T]
	once sync.Once
}

// Value returns the borrowed resource value. The pool guarantees at most
// the configured concurrency simultaneous borrowers per item; concurrent-use
// safety of the value itself is the caller's responsibility.
func (r *Resource[T]) Value() T {
	return r.item.value
}

// Release returns the borrow to the pool. Idempotent.
func (r *Resource[T]) Release() {
	r.once.Do(func() {
		r.pool.release(r.item)
	})
}

// InvalidateAndRelease marks the underlying item for removal, disables its
// reclamation, and releases the borrow. The item is finalized once its last
// borrower releases. Idempotent with Release: whichever runs first wins.
func (r *Resource[T]) InvalidateAndRelease() {
	r.once.Do(func() {
		r.pool.mu.Lock()
		r.item.reclaimDisabled = true
		// refCount >= 1 here, so removal is always deferred to release.
		r.pool.invalidateLocked(r.item)
		r.pool.mu.Unlock()
		r.pool.release(r.item)
	})
}
