package pool

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/pkg/config"
	reserrors "github.com/ajitpratap0/reservoir/pkg/errors"
	"github.com/ajitpratap0/reservoir/pkg/logger"
)

// TTLStrategy selects the background eviction behavior of a pool.
type TTLStrategy string

const (
	// TTLStrategyNone disables background eviction. Used for fixed-size pools.
	TTLStrategyNone TTLStrategy = "none"
	// TTLStrategyCreation retires items a fixed duration after creation.
	TTLStrategyCreation TTLStrategy = "creation"
	// TTLStrategyUsage retires excess idle items and allows them to be
	// reclaimed without reconstruction while demand is low.
	TTLStrategyUsage TTLStrategy = "usage"
)

// Config describes a pool instance. Acquire is required; everything else
// has a usable default.
type Config[T comparable] struct {
	// Acquire constructs one resource. It is run once per pooled item.
	Acquire func(ctx context.Context) (T, error)

	// Release finalizes one resource. Errors are routed to the logger,
	// never to borrowers. May be nil for resources without cleanup.
	Release func(T) error

	// Concurrency is the number of simultaneous borrowers per item (>= 1).
	Concurrency int

	// MinSize and MaxSize bound the pool size (MinSize <= MaxSize).
	MinSize int
	MaxSize int

	// TargetUtilization is the fraction of per-item capacity the pool
	// tries to keep busy before growing, in [0.1, 1].
	TargetUtilization float64

	// TTL is the item time-to-live used by the TTL strategies.
	TTL time.Duration

	// Strategy selects the background eviction behavior.
	Strategy TTLStrategy

	// Name identifies the pool in logs and metrics.
	Name string

	// Logger receives pool lifecycle and finalizer-error logs.
	// Defaults to the global logger.
	Logger *zap.Logger

	// EnableMetrics turns on Prometheus instrumentation for this pool.
	EnableMetrics bool
}

// Option mutates a Config before validation.
type Option[T comparable] func(*Config[T])

// WithConcurrency sets the number of simultaneous borrowers per item.
func WithConcurrency[T comparable](n int) Option[T] {
	return func(c *Config[T]) {
		c.Concurrency = n
	}
}

// WithTargetUtilization sets the resize sensitivity.
func WithTargetUtilization[T comparable](u float64) Option[T] {
	return func(c *Config[T]) {
		c.TargetUtilization = u
	}
}

// WithName sets the pool name used in logs and metrics.
func WithName[T comparable](name string) Option[T] {
	return func(c *Config[T]) {
		c.Name = name
	}
}

// WithLogger sets the pool logger.
func WithLogger[T comparable](l *zap.Logger) Option[T] {
	return func(c *Config[T]) {
		c.Logger = l
	}
}

// WithMetrics enables Prometheus instrumentation for the pool.
func WithMetrics[T comparable]() Option[T] {
	return func(c *Config[T]) {
		c.EnableMetrics = true
	}
}

func (c *Config[T]) applyDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.TargetUtilization == 0 {
		c.TargetUtilization = 1.0
	}
	if c.Strategy == "" {
		c.Strategy = TTLStrategyNone
	}
	if c.Name == "" {
		c.Name = "pool"
	}
	if c.Logger == nil {
		c.Logger = logger.Get()
	}
}

func (c *Config[T]) validate() error {
	if c.Acquire == nil {
		return reserrors.New(reserrors.ErrorTypeConfig, "acquire function is required")
	}
	if c.Concurrency < 1 {
		return reserrors.New(reserrors.ErrorTypeConfig, "concurrency must be >= 1")
	}
	if c.MinSize < 0 {
		return reserrors.New(reserrors.ErrorTypeConfig, "min size must be >= 0")
	}
	if c.MaxSize < 1 {
		return reserrors.New(reserrors.ErrorTypeConfig, "max size must be >= 1")
	}
	if c.MinSize > c.MaxSize {
		return reserrors.New(reserrors.ErrorTypeConfig, "min size must be <= max size").
			WithDetail("min_size", c.MinSize).
			WithDetail("max_size", c.MaxSize)
	}
	if c.TargetUtilization < 0.1 || c.TargetUtilization > 1 {
		return reserrors.New(reserrors.ErrorTypeConfig, "target utilization must be in [0.1, 1]").
			WithDetail("target_utilization", c.TargetUtilization)
	}
	switch c.Strategy {
	case TTLStrategyNone:
	case TTLStrategyCreation, TTLStrategyUsage:
		if c.TTL <= 0 {
			return reserrors.New(reserrors.ErrorTypeConfig, "ttl must be > 0 for ttl strategies")
		}
	default:
		return reserrors.New(reserrors.ErrorTypeConfig, "unknown ttl strategy").
			WithDetail("strategy", string(c.Strategy))
	}
	return nil
}

// NewFixed creates a fixed-size pool with no background eviction.
// The pool is filled to size eagerly and never resizes.
func NewFixed[T comparable](
	ctx context.Context,
	acquire func(ctx context.Context) (T, error),
	release func(T) error,
	size int,
	opts ...Option[T],
) (*Pool[T], error) {
	cfg := Config[T]{
		Acquire:  acquire,
		Release:  release,
		MinSize:  size,
		MaxSize:  size,
		Strategy: TTLStrategyNone,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(ctx, cfg)
}

// NewDynamic creates an auto-resizing pool with a TTL eviction strategy.
// strategy must be TTLStrategyCreation or TTLStrategyUsage.
func NewDynamic[T comparable](
	ctx context.Context,
	acquire func(ctx context.Context) (T, error),
	release func(T) error,
	minSize, maxSize int,
	ttl time.Duration,
	strategy TTLStrategy,
	opts ...Option[T],
) (*Pool[T], error) {
	cfg := Config[T]{
		Acquire:  acquire,
		Release:  release,
		MinSize:  minSize,
		MaxSize:  maxSize,
		TTL:      ttl,
		Strategy: strategy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Strategy == TTLStrategyNone {
		return nil, reserrors.New(reserrors.ErrorTypeConfig, "dynamic pools require a ttl strategy")
	}
	return New(ctx, cfg)
}

// NewFromSettings creates a pool from loaded configuration settings.
func NewFromSettings[T comparable](
	ctx context.Context,
	settings *config.Settings,
	acquire func(ctx context.Context) (T, error),
	release func(T) error,
	opts ...Option[T],
) (*Pool[T], error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	strategy := TTLStrategy(settings.Eviction.Strategy)
	if settings.Eviction.Strategy == "" {
		strategy = TTLStrategyNone
	}
	cfg := Config[T]{
		Acquire:           acquire,
		Release:           release,
		Concurrency:       settings.Sizing.Concurrency,
		MinSize:           settings.Sizing.MinSize,
		MaxSize:           settings.Sizing.MaxSize,
		TargetUtilization: settings.Sizing.TargetUtilization,
		TTL:               settings.Eviction.TTL,
		Strategy:          strategy,
		Name:              settings.Name,
		EnableMetrics:     settings.EnableMetrics,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(ctx, cfg)
}
