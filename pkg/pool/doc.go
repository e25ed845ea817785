// Package pool provides a dynamic, concurrency-safe resource pool for
// expensive-to-create resources such as connections, workers, and handles.
//
// The pool manages a bounded, auto-resizing collection of items. Borrowers
// are admitted under a global limit of concurrency x max size, each item
// serves at most concurrency simultaneous borrowers, and a pluggable
// eviction strategy reclaims or retires idle and expired items in the
// background.
//
// The package provides:
//   - Generic type-safe pooling with Pool[T]
//   - Fixed-size pools (NewFixed) and auto-resizing pools (NewDynamic)
//   - Creation-TTL and usage-idle-TTL eviction strategies
//   - Safe concurrent invalidation of individual resources
//   - Clean shutdown that drains in-flight borrowers without leaking
//
// Example usage:
//
//	p, err := pool.NewFixed(ctx,
//	    func(ctx context.Context) (*sql.Conn, error) { return db.Conn(ctx) },
//	    func(c *sql.Conn) error { return c.Close() },
//	    10,
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close(context.Background())
//
//	res, err := p.Get(ctx)
//	if err != nil {
//	    return err
//	}
//	defer res.Release()
//
//	conn := res.Value()
//	// Use conn...
package pool
