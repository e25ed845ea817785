// Package reservoir is a dynamic resource pool library for Go.
//
// Reservoir manages bounded collections of expensive resources such as
// database connections, network sessions or worker handles. A pool grows
// and shrinks automatically between configured bounds based on demand,
// admits borrowers through a global limiter, shares each item among a
// configurable number of simultaneous borrowers, and retires items
// through pluggable time-to-live strategies.
//
// The library itself lives in pkg/pool. Supporting packages provide the
// surrounding infrastructure:
//
//   - pkg/pool: the pool, its resource handles and eviction strategies
//   - pkg/config: YAML settings with environment variable substitution
//   - pkg/logger: structured logging built on zap
//   - pkg/metrics: Prometheus instrumentation for pool behavior
//   - pkg/errors: typed errors with stack capture
//   - pkg/json: high performance JSON helpers
//
// See pkg/pool for usage examples.
package reservoir
