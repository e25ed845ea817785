package pool

import (
	"time"
)

// poolItem is a single pooled resource wrapper. The construction outcome
// (value, err) is immutable after creation. The release finalizer may be
// rewired by shutdown to append a drain countdown. refCount and
// reclaimDisabled are guarded by the pool's state mutex.
type poolItem[T comparable] struct {
	value           T
	err             error
	release         func() error
	refCount        int
	reclaimDisabled bool
	createdAt       time.Time
}
