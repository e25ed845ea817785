package pool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reserrors "github.com/ajitpratap0/reservoir/pkg/errors"
	"github.com/ajitpratap0/reservoir/pkg/pool"
	"github.com/ajitpratap0/reservoir/pkg/testutil"
)

// fakeConn is a synthetic pooled resource that tracks construction order and
// finalization.
type fakeConn struct {
	id     int32
	closed atomic.Bool
}

// connFactory builds fakeConn constructors with optional scripted failures.
type connFactory struct {
	created atomic.Int32
	fail    atomic.Bool
	mu      sync.Mutex
	conns   []*fakeConn
}

func (f *connFactory) acquire(_ context.Context) (*fakeConn, error) {
	if f.fail.Load() {
		return nil, errConstruct
	}
	c := &fakeConn{id: f.created.Add(1)}
	f.mu.Lock()
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	return c, nil
}

func (f *connFactory) release(c *fakeConn) error {
	c.closed.Store(true)
	return nil
}

var errConstruct = errors.New("backend unavailable")

func newFixedPool(t *testing.T, size int, opts ...pool.Option[*fakeConn]) (*pool.Pool[*fakeConn], *connFactory) {
	t.Helper()
	f := &connFactory{}
	opts = append(opts, pool.WithLogger[*fakeConn](testutil.TestLogger(t)))
	p, err := pool.NewFixed(context.Background(), f.acquire, f.release, size, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, f
}

func TestFixedPoolThirdGetBlocksUntilRelease(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, f := newFixedPool(t, 2)

	r1, err := p.Get(ctx)
	require.NoError(t, err)
	r2, err := p.Get(ctx)
	require.NoError(t, err)
	require.NotEqual(t, r1.Value().id, r2.Value().id)

	type getResult struct {
		res *pool.Resource[*fakeConn]
		err error
	}
	third := make(chan getResult, 1)
	go func() {
		r, err := p.Get(ctx)
		third <- getResult{res: r, err: err}
	}()

	select {
	case <-third:
		t.Fatal("third Get should block while both items are borrowed")
	case <-time.After(100 * time.Millisecond):
	}

	r1.Release()

	select {
	case got := <-third:
		require.NoError(t, got.err)
		// The freed item is reused, never a third construction.
		assert.Equal(t, int32(2), f.created.Load())
		got.res.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("third Get did not proceed after a release")
	}
	r2.Release()
}

func TestPerItemConcurrencyNeverExceeded(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	const concurrency = 2
	var current, max atomic.Int32

	p, _ := newFixedPool(t, 1, pool.WithConcurrency[*fakeConn](concurrency))

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				res, err := p.Get(ctx)
				if err != nil {
					errCh <- err
					return
				}
				n := current.Add(1)
				for {
					m := max.Load()
					if n <= m || max.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
				res.Release()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, max.Load(), int32(concurrency),
		"borrowers of the single item must never exceed the configured concurrency")
}

func TestConstructionFailureSurfacedThenRecovered(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	f := &connFactory{}
	f.fail.Store(true)
	p, err := pool.NewFixed(ctx, f.acquire, f.release, 1,
		pool.WithLogger[*fakeConn](testutil.TestLogger(t)))
	require.NoError(t, err)
	defer p.Close(context.Background())

	_, err = p.Get(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errConstruct, "borrower must receive the constructor's own error")
	assert.True(t, reserrors.IsType(err, reserrors.ErrorTypeAcquire))

	// The failed item is torn down, not retried automatically; the next
	// borrow triggers a fresh allocation.
	f.fail.Store(false)
	res, err := p.Get(ctx)
	require.NoError(t, err)
	res.Release()
}

func TestInvalidateIdleRemovesAndBackfills(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, f := newFixedPool(t, 2)

	res, err := p.Get(ctx)
	require.NoError(t, err)
	victim := res.Value()
	res.Release()

	require.NoError(t, p.Invalidate(ctx, victim))

	testutil.AssertEventually(t, func() bool {
		return victim.closed.Load()
	}, 2*time.Second, "invalidated idle item should be finalized")

	// The resize loop backfills toward the fixed size.
	testutil.AssertEventually(t, func() bool {
		return p.Stats().Active == 2
	}, 2*time.Second, "pool should backfill to its fixed size")
	assert.GreaterOrEqual(t, f.created.Load(), int32(3))
}

func TestInvalidateBorrowedDefersRemoval(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 1)

	res, err := p.Get(ctx)
	require.NoError(t, err)
	victim := res.Value()

	require.NoError(t, p.Invalidate(ctx, victim))

	stats := p.Stats()
	assert.Equal(t, 1, stats.Invalidated)
	assert.Equal(t, 0, stats.Available, "invalidated item must not be available")
	assert.False(t, victim.closed.Load(), "item must not be finalized while borrowed")

	res.Release()

	testutil.AssertEventually(t, func() bool {
		return victim.closed.Load()
	}, 2*time.Second, "last release should finalize the invalidated item")
}

func TestInvalidateUntrackedValueIsNoop(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 1)
	require.NoError(t, p.Invalidate(ctx, &fakeConn{id: 999}))
}

func TestResourceInvalidateAndRelease(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 1)

	res, err := p.Get(ctx)
	require.NoError(t, err)
	victim := res.Value()
	res.InvalidateAndRelease()

	testutil.AssertEventually(t, func() bool {
		return victim.closed.Load()
	}, 2*time.Second, "invalidated borrow should be finalized on release")

	// Backfill still serves new borrows.
	res2, err := p.Get(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, victim.id, res2.Value().id)
	res2.Release()
}

func TestCloseWaitsForBorrowers(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, f := newFixedPool(t, 2)

	r1, err := p.Get(ctx)
	require.NoError(t, err)
	r2, err := p.Get(ctx)
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		_ = p.Close(context.Background())
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close must wait for in-flight borrowers")
	case <-time.After(100 * time.Millisecond):
	}

	r1.Release()
	select {
	case <-closed:
		t.Fatal("Close must wait for the last borrower")
	case <-time.After(100 * time.Millisecond):
	}

	r2.Release()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not complete after all borrowers released")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		assert.True(t, c.closed.Load(), "every item must be finalized at shutdown")
	}
}

func TestGetAfterCloseFails(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 1)
	require.NoError(t, p.Close(context.Background()))

	_, err := p.Get(ctx)
	assert.ErrorIs(t, err, pool.ErrClosed)
	assert.True(t, reserrors.IsType(err, reserrors.ErrorTypeShutdown))
}

func TestBlockedGetFailsOnClose(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 1)

	res, err := p.Get(ctx)
	require.NoError(t, err)

	blocked := make(chan error, 1)
	go func() {
		_, err := p.Get(ctx)
		blocked <- err
	}()

	// Give the second Get time to block on admission.
	time.Sleep(50 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = p.Close(context.Background())
		close(closed)
	}()
	time.Sleep(50 * time.Millisecond)

	res.Release()

	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, pool.ErrClosed, "waiter must observe shutdown, not hang")
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Get hung through shutdown")
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not complete")
	}
}

func TestCancelledGetDoesNotLeakPermits(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 1)

	res, err := p.Get(ctx)
	require.NoError(t, err)

	// Repeatedly time out borrows while the single item is held.
	for i := 0; i < 5; i++ {
		shortCtx, shortCancel := context.WithTimeout(ctx, 20*time.Millisecond)
		_, err := p.Get(shortCtx)
		shortCancel()
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	res.Release()

	// Every cancelled waiter must have returned its permit.
	res2, err := p.Get(ctx)
	require.NoError(t, err)
	res2.Release()
}

func TestDemandDuringResizeIsNotLost(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	// Race bursts of fresh demand against in-flight resizes. Every
	// borrower must be served through growth alone; nothing is released
	// until all four hold an item, so a swallowed resize request would
	// strand a waiter on the latch until the test context expires.
	for i := 0; i < 20; i++ {
		f := &connFactory{}
		p, err := pool.NewDynamic(ctx, f.acquire, f.release, 1, 4, time.Minute,
			pool.TTLStrategyUsage,
			pool.WithLogger[*fakeConn](testutil.TestLogger(t)))
		require.NoError(t, err)

		var wg sync.WaitGroup
		errCh := make(chan error, 4)
		resCh := make(chan *pool.Resource[*fakeConn], 4)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := p.Get(ctx)
				if err != nil {
					errCh <- err
					return
				}
				resCh <- res
			}()
		}
		wg.Wait()
		close(errCh)
		close(resCh)
		for err := range errCh {
			require.NoError(t, err)
		}
		for res := range resCh {
			res.Release()
		}
		require.NoError(t, p.Close(context.Background()))
	}
}

func TestPoolLifetimeTiedToContext(t *testing.T) {
	octx, ocancel := context.WithCancel(context.Background())

	f := &connFactory{}
	p, err := pool.NewFixed(octx, f.acquire, f.release, 1,
		pool.WithLogger[*fakeConn](testutil.TestLogger(t)))
	require.NoError(t, err)

	res, err := p.Get(context.Background())
	require.NoError(t, err)
	res.Release()

	ocancel()

	testutil.AssertEventually(t, func() bool {
		res, err := p.Get(context.Background())
		if err == nil {
			res.Release()
			return false
		}
		return errors.Is(err, pool.ErrClosed)
	}, 2*time.Second, "cancelling the owning context should close the pool")
}

func TestCloseIsIdempotent(t *testing.T) {
	p, _ := newFixedPool(t, 1)
	require.NoError(t, p.Close(context.Background()))
	require.NoError(t, p.Close(context.Background()))
}

func TestStatsSnapshot(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	p, _ := newFixedPool(t, 2, pool.WithName[*fakeConn]("stats-pool"))

	res, err := p.Get(ctx)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, "stats-pool", stats.Name)
	assert.Equal(t, 1, stats.Borrowed)
	assert.GreaterOrEqual(t, stats.Borrows, int64(1))
	assert.False(t, stats.Closed)
	assert.Contains(t, stats.String(), `"stats-pool"`)

	res.Release()
	assert.Equal(t, 0, p.Stats().Borrowed)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	ctx := context.Background()
	acquire := func(context.Context) (*fakeConn, error) { return &fakeConn{}, nil }

	tests := []struct {
		name string
		cfg  pool.Config[*fakeConn]
	}{
		{"missing acquire", pool.Config[*fakeConn]{MaxSize: 1}},
		{"zero max size", pool.Config[*fakeConn]{Acquire: acquire}},
		{"min above max", pool.Config[*fakeConn]{Acquire: acquire, MinSize: 5, MaxSize: 2}},
		{"bad utilization", pool.Config[*fakeConn]{Acquire: acquire, MaxSize: 1, TargetUtilization: 2}},
		{"ttl strategy without ttl", pool.Config[*fakeConn]{Acquire: acquire, MaxSize: 1, Strategy: pool.TTLStrategyUsage}},
		{"unknown strategy", pool.Config[*fakeConn]{Acquire: acquire, MaxSize: 1, Strategy: "lru"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pool.New(ctx, tt.cfg)
			require.Error(t, err)
			assert.True(t, reserrors.IsType(err, reserrors.ErrorTypeConfig))
		})
	}

	_, err := pool.NewDynamic(ctx, acquire, nil, 1, 5, time.Second, pool.TTLStrategyNone)
	require.Error(t, err, "dynamic pools require a ttl strategy")
}

func TestFinalizerErrorDoesNotReachBorrowers(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	f := &connFactory{}
	releaseErr := errors.New("flush failed")
	p, err := pool.NewFixed(ctx, f.acquire,
		func(c *fakeConn) error {
			c.closed.Store(true)
			return releaseErr
		},
		1, pool.WithLogger[*fakeConn](testutil.TestLogger(t)))
	require.NoError(t, err)
	defer p.Close(context.Background())

	res, err := p.Get(ctx)
	require.NoError(t, err)
	victim := res.Value()
	res.InvalidateAndRelease()

	testutil.AssertEventually(t, func() bool {
		return victim.closed.Load()
	}, 2*time.Second, "finalizer should still run")

	// The pool keeps serving borrows; the finalizer error is only counted.
	res2, err := p.Get(ctx)
	require.NoError(t, err)
	res2.Release()

	testutil.AssertEventually(t, func() bool {
		return p.Stats().FinalizerErrors >= 1
	}, 2*time.Second, "finalizer error should be recorded")
}
