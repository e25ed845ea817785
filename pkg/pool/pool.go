package pool

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	reserrors "github.com/ajitpratap0/reservoir/pkg/errors"
	"github.com/ajitpratap0/reservoir/pkg/metrics"
)

// ErrClosed is returned by Get when the pool is shutting down or closed.
var ErrClosed error = reserrors.New(reserrors.ErrorTypeShutdown, "pool is closed")

// Pool manages a bounded, auto-resizing collection of resources of type T.
// Borrowers are admitted under a global semaphore sized concurrency x max
// size; each item serves at most concurrency simultaneous borrowers. All
// set mutations happen inside state-mutex critical sections so that a
// cancellation between permit acquisition and release registration cannot
// leak a permit.
type Pool[T comparable] struct {
	cfg       Config[T]
	logger    *zap.Logger
	collector *metrics.Collector
	strategy  strategy[T]

	// sem is the admission limiter; one permit per unit of borrowing capacity.
	sem *semaphore.Weighted

	// baseCtx bounds background work (resize, strategy loops, allocations).
	baseCtx context.Context
	cancel  context.CancelFunc

	// resizeMu serializes resizes. A request that fails TryLock has already
	// marked resizePending; the holder re-checks the flag before returning
	// so demand arriving during its final evaluation is never lost.
	resizeMu      sync.Mutex
	resizePending atomic.Bool

	mu          sync.Mutex
	items       map[*poolItem[T]]struct{}
	available   map[*poolItem[T]]struct{}
	invalidated map[*poolItem[T]]struct{}
	waiters     int
	borrowed    int // sum of refCounts across all items
	closed      bool
	wake        chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	borrows            atomic.Int64
	allocations        atomic.Int64
	allocationFailures atomic.Int64
	reclaims           atomic.Int64
	evictions          atomic.Int64
	finalizerErrors    atomic.Int64
}

// New creates a pool from a validated configuration. The pool's lifetime is
// tied to ctx: cancelling it shuts the pool down as if Close had been called.
// The pool is filled toward MinSize in the background before any Get.
func New[T comparable](ctx context.Context, cfg Config[T]) (*Pool[T], error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	p := &Pool[T]{
		cfg:         cfg,
		logger:      cfg.Logger.With(zap.String("component", "pool"), zap.String("pool", cfg.Name)),
		sem:         semaphore.NewWeighted(int64(cfg.Concurrency * cfg.MaxSize)),
		baseCtx:     baseCtx,
		cancel:      cancel,
		items:       make(map[*poolItem[T]]struct{}),
		available:   make(map[*poolItem[T]]struct{}),
		invalidated: make(map[*poolItem[T]]struct{}),
		wake:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	if cfg.EnableMetrics {
		p.collector = metrics.NewCollector(cfg.Name)
	}

	switch cfg.Strategy {
	case TTLStrategyCreation:
		p.strategy = newCreationTTLStrategy(p, cfg.TTL)
	case TTLStrategyUsage:
		p.strategy = newUsageTTLStrategy(p, cfg.TTL)
	default:
		p.strategy = noopStrategy[T]{}
	}

	go p.strategy.run(baseCtx)
	go p.resize()

	// Tie shutdown to the owning context.
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Close(context.Background())
		case <-p.done:
		}
	}()

	p.logger.Info("pool created",
		zap.Int("min_size", cfg.MinSize),
		zap.Int("max_size", cfg.MaxSize),
		zap.Int("concurrency", cfg.Concurrency),
		zap.String("strategy", string(cfg.Strategy)))

	return p, nil
}

// Get borrows a resource from the pool. It blocks until borrowing capacity
// and an item are available, the context is cancelled, or the pool shuts
// down. A failed resource construction is surfaced to exactly the borrowers
// that selected the failed item, after which the item is torn down.
//
// The returned Resource must be released exactly once; Release is
// idempotent and safe to defer.
func (p *Pool[T]) Get(ctx context.Context) (*Resource[T], error) {
	start := time.Now()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.waiters++
	needResize := p.targetLocked() > p.activeLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	if needResize {
		go p.resize()
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.waiters--
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, ErrClosed
		}

		var it *poolItem[T]
		for candidate := range p.available {
			it = candidate
			break
		}

		if it != nil {
			p.waiters--
			it.refCount++
			p.borrowed++
			if it.refCount >= p.cfg.Concurrency {
				delete(p.available, it)
			}
			p.updateGaugesLocked()
			p.mu.Unlock()

			if it.err != nil {
				p.releaseFailed(it)
				return nil, reserrors.Wrap(it.err, reserrors.ErrorTypeAcquire, "resource construction failed")
			}

			p.borrows.Add(1)
			p.collector.ObserveBorrow(time.Since(start))
			return &Resource[T]{pool: p, item: it}, nil
		}

		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-p.done:
			// Loop re-checks the closed flag.
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters--
			p.updateGaugesLocked()
			p.mu.Unlock()
			p.sem.Release(1)
			return nil, ctx.Err()
		}
	}
}

// Invalidate marks the item owning value for removal and disables its
// reclamation. Idle items are finalized immediately and the pool resizes to
// backfill; borrowed items are removed when their last borrower releases.
// Invalidating a value the pool does not track is a no-op.
func (p *Pool[T]) Invalidate(_ context.Context, value T) error {
	p.mu.Lock()
	var target *poolItem[T]
	for it := range p.items {
		if it.err == nil && it.value == value {
			target = it
			break
		}
	}
	if target == nil {
		p.mu.Unlock()
		return nil
	}

	target.reclaimDisabled = true
	destroyed := p.invalidateLocked(target)
	p.mu.Unlock()

	if destroyed {
		p.finalize(target)
		go p.resize()
	}
	return nil
}

// Close shuts the pool down. It is idempotent. New borrows fail with
// ErrClosed immediately; items held by in-flight borrowers are drained
// naturally, and Close waits for the drain bounded by ctx.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.done)
		p.cancel()

		var idle []*poolItem[T]
		var drain sync.WaitGroup
		for it := range p.items {
			if it.refCount == 0 {
				delete(p.items, it)
				delete(p.available, it)
				delete(p.invalidated, it)
				idle = append(idle, it)
				continue
			}
			// Extend the finalizer with a drain countdown and let the
			// last borrower's release run it.
			delete(p.available, it)
			p.invalidated[it] = struct{}{}
			drain.Add(1)
			orig := it.release
			it.release = func() error {
				defer drain.Done()
				if orig == nil {
					return nil
				}
				return orig()
			}
		}
		borrowed := len(p.invalidated)
		p.broadcastLocked()
		p.updateGaugesLocked()
		p.mu.Unlock()

		for _, it := range idle {
			p.finalize(it)
		}

		drained := make(chan struct{})
		go func() {
			drain.Wait()
			close(drained)
		}()

		select {
		case <-drained:
		case <-ctx.Done():
			p.closeErr = ctx.Err()
		}

		// Leave the latch open so late waiters observe shutdown.
		p.mu.Lock()
		p.broadcastLocked()
		p.mu.Unlock()

		p.logger.Info("pool closed",
			zap.Int("finalized_idle", len(idle)),
			zap.Int("drained_borrowed", borrowed),
			zap.Error(p.closeErr))
	})
	return p.closeErr
}

// release returns a borrowed item to the pool. Runs in every exit path of a
// borrow via Resource.Release.
func (p *Pool[T]) release(it *poolItem[T]) {
	p.mu.Lock()
	it.refCount--
	p.borrowed--
	_, inval := p.invalidated[it]
	var destroy bool
	if inval {
		if it.refCount == 0 {
			delete(p.items, it)
			delete(p.invalidated, it)
			destroy = true
		}
	} else {
		p.available[it] = struct{}{}
		p.broadcastLocked()
	}
	closed := p.closed
	p.updateGaugesLocked()
	p.mu.Unlock()

	if destroy {
		p.finalize(it)
		if !closed {
			go p.resize()
		}
	}
	p.sem.Release(1)
}

// releaseFailed unwinds the selection of an item whose construction failed.
// The item is excluded from future selection; the last of its borrowers
// tears it down.
func (p *Pool[T]) releaseFailed(it *poolItem[T]) {
	p.mu.Lock()
	it.refCount--
	p.borrowed--
	delete(p.available, it)
	var destroy bool
	if it.refCount == 0 {
		if _, tracked := p.items[it]; tracked {
			delete(p.items, it)
			delete(p.invalidated, it)
			destroy = true
		}
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	if destroy {
		p.finalize(it)
	}
	p.sem.Release(1)
}

// resize brings the active item count toward the computed target. At most
// one resize runs at a time; a concurrent request marks resizePending and
// is dropped, and the in-flight resize re-checks the flag after its final
// deficit evaluation so that demand raised in the window between that
// evaluation and the lock release still gets a pass.
func (p *Pool[T]) resize() {
	p.resizePending.Store(true)
	if !p.resizeMu.TryLock() {
		return
	}
	defer p.resizeMu.Unlock()

	for {
		// Clear before reading the deficit: demand arriving afterwards
		// re-sets the flag and forces another iteration.
		p.resizePending.Store(false)

		p.mu.Lock()
		deficit := p.targetLocked() - p.activeLocked()
		p.mu.Unlock()
		if deficit <= 0 {
			if p.resizePending.Load() {
				continue
			}
			return
		}

		g, gctx := errgroup.WithContext(p.baseCtx)
		for i := 0; i < deficit; i++ {
			g.Go(func() error {
				if it := p.strategy.reclaim(); it != nil {
					p.reclaims.Add(1)
					p.collector.IncReclaim()
					return nil
				}
				p.allocate(gctx)
				return nil
			})
		}
		_ = g.Wait()
		p.broadcast()

		select {
		case <-p.done:
			return
		default:
		}
	}
}

// allocate constructs exactly one new pooled item. The construction outcome
// is captured without raising; a failed item is still tracked transiently so
// the failure reaches a borrower and the finalizer runs.
func (p *Pool[T]) allocate(ctx context.Context) {
	value, err := p.cfg.Acquire(ctx)
	p.allocations.Add(1)
	if err != nil {
		p.allocationFailures.Add(1)
	}
	p.collector.IncAllocation(err != nil)

	it := &poolItem[T]{
		value:     value,
		err:       err,
		createdAt: time.Now(),
	}
	it.release = func() error {
		if err != nil || p.cfg.Release == nil {
			return nil
		}
		return p.cfg.Release(value)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.finalize(it)
		return
	}
	p.items[it] = struct{}{}
	p.available[it] = struct{}{}
	p.broadcastLocked()
	p.updateGaugesLocked()
	p.mu.Unlock()

	p.strategy.onAcquire(it)

	if err != nil {
		p.logger.Warn("resource construction failed", zap.Error(err))
	} else {
		p.logger.Debug("allocated resource")
	}
}

// invalidateLocked marks it for removal. Returns true when the item was idle
// and has been dropped from all sets, in which case the caller must run the
// finalizer. Requires p.mu.
func (p *Pool[T]) invalidateLocked(it *poolItem[T]) bool {
	if _, tracked := p.items[it]; !tracked {
		return false
	}
	if _, already := p.invalidated[it]; already {
		return false
	}
	if it.refCount == 0 {
		delete(p.items, it)
		delete(p.available, it)
		p.updateGaugesLocked()
		return true
	}
	delete(p.available, it)
	p.invalidated[it] = struct{}{}
	p.updateGaugesLocked()
	return false
}

// expireItem retires an item on behalf of a TTL strategy. Reports whether
// the item was newly invalidated.
func (p *Pool[T]) expireItem(it *poolItem[T]) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	tracked := false
	if _, ok := p.items[it]; ok {
		if _, already := p.invalidated[it]; !already {
			tracked = true
		}
	}
	if !tracked {
		p.mu.Unlock()
		return false
	}
	destroyed := p.invalidateLocked(it)
	p.mu.Unlock()

	if destroyed {
		p.finalize(it)
		go p.resize()
	}
	return true
}

// softEvict moves an idle item out of rotation without finalizing it so the
// usage strategy can hand it back via reclaim. Returns false when the item
// is borrowed, already invalidated, or no longer tracked.
func (p *Pool[T]) softEvict(it *poolItem[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, tracked := p.items[it]; !tracked {
		return false
	}
	if _, already := p.invalidated[it]; already {
		return false
	}
	if it.refCount != 0 {
		return false
	}
	delete(p.available, it)
	p.invalidated[it] = struct{}{}
	p.updateGaugesLocked()
	return true
}

// takeForReclaim resurrects a soft-evicted item back into the available set,
// skipping a fresh allocation. Reclaim-disabled items are never resurrected.
func (p *Pool[T]) takeForReclaim(it *poolItem[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, ok := p.invalidated[it]; !ok {
		return false
	}
	if it.reclaimDisabled || it.err != nil || it.refCount != 0 {
		return false
	}
	delete(p.invalidated, it)
	p.available[it] = struct{}{}
	p.broadcastLocked()
	p.updateGaugesLocked()
	return true
}

// dropEvicted finalizes a soft-evicted item that was never reclaimed.
func (p *Pool[T]) dropEvicted(it *poolItem[T]) {
	p.mu.Lock()
	if _, ok := p.invalidated[it]; !ok || it.refCount != 0 {
		p.mu.Unlock()
		return
	}
	delete(p.items, it)
	delete(p.invalidated, it)
	p.updateGaugesLocked()
	p.mu.Unlock()
	p.finalize(it)
}

// stillLive reports whether the item remains in normal rotation, meaning
// tracked and not marked invalidated.
func (p *Pool[T]) stillLive(it *poolItem[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, tracked := p.items[it]; !tracked {
		return false
	}
	_, inval := p.invalidated[it]
	return !inval
}

// sizes returns the current active size and target size.
func (p *Pool[T]) sizes() (active, target int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeLocked(), p.targetLocked()
}

// finalize runs the item's release action. Finalizer errors are routed to
// the logger so one resource's teardown failure cannot corrupt pool
// bookkeeping or reach an unrelated borrower.
func (p *Pool[T]) finalize(it *poolItem[T]) {
	if it.release == nil {
		return
	}
	if err := it.release(); err != nil {
		p.finalizerErrors.Add(1)
		p.collector.IncFinalizerError()
		p.logger.Error("resource finalizer failed", zap.Error(err))
	}
}

// targetLocked computes the resize target from current demand. Requires p.mu.
func (p *Pool[T]) targetLocked() int {
	if p.closed {
		return 0
	}
	usage := p.waiters + p.borrowed
	target := int(math.Ceil(float64(usage) / p.cfg.TargetUtilization / float64(p.cfg.Concurrency)))
	if target < p.cfg.MinSize {
		target = p.cfg.MinSize
	}
	if target > p.cfg.MaxSize {
		target = p.cfg.MaxSize
	}
	return target
}

// activeLocked returns the live item count excluding invalidated items.
// Requires p.mu.
func (p *Pool[T]) activeLocked() int {
	return len(p.items) - len(p.invalidated)
}

// broadcastLocked opens the wake latch, releasing every current waiter, and
// arms a fresh latch. Requires p.mu.
func (p *Pool[T]) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *Pool[T]) broadcast() {
	p.mu.Lock()
	p.broadcastLocked()
	p.mu.Unlock()
}

func (p *Pool[T]) updateGaugesLocked() {
	p.collector.SetSizes(p.activeLocked(), len(p.available), p.waiters)
}
