package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/reservoir/pkg/config"
	"github.com/ajitpratap0/reservoir/pkg/json"
	"github.com/ajitpratap0/reservoir/pkg/logger"
	"github.com/ajitpratap0/reservoir/pkg/pool"
)

var version = "0.1.0"

// benchResource is the synthetic resource borrowed during benchmarks.
type benchResource struct {
	id int64
}

func main() {
	root := &cobra.Command{
		Use:   "reservoir",
		Short: "Reservoir - dynamic resource pool toolkit",
		Long: `Reservoir manages bounded, auto-resizing pools of expensive resources.
This tool drives synthetic borrower load against a pool and reports its behavior.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Reservoir v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(newBenchCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newBenchCommand() *cobra.Command {
	var (
		configPath   string
		minSize      int
		maxSize      int
		concurrency  int
		ttl          time.Duration
		strategy     string
		borrowers    int
		duration     time.Duration
		holdTime     time.Duration
		acquireDelay time.Duration
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive synthetic borrower load against a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			settings := config.DefaultSettings("bench")
			if configPath != "" {
				if err := config.Load(configPath, settings); err != nil {
					return err
				}
			}
			settings.Sizing.MinSize = minSize
			settings.Sizing.MaxSize = maxSize
			settings.Sizing.Concurrency = concurrency
			settings.Eviction.TTL = ttl
			settings.Eviction.Strategy = strategy

			return runBench(cmd.Context(), settings, borrowers, duration, holdTime, acquireDelay)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "optional pool settings YAML file")
	cmd.Flags().IntVar(&minSize, "min", 1, "minimum pool size")
	cmd.Flags().IntVar(&maxSize, "max", 10, "maximum pool size")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "borrowers per item")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "item ttl (0 disables eviction)")
	cmd.Flags().StringVar(&strategy, "strategy", "none", "eviction strategy: none, creation or usage")
	cmd.Flags().IntVar(&borrowers, "borrowers", runtime.NumCPU(), "concurrent borrower goroutines")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "benchmark duration")
	cmd.Flags().DurationVar(&holdTime, "hold", 5*time.Millisecond, "time each borrower holds a resource")
	cmd.Flags().DurationVar(&acquireDelay, "acquire-delay", 20*time.Millisecond, "simulated resource construction time")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	return cmd
}

func runBench(
	ctx context.Context,
	settings *config.Settings,
	borrowers int,
	duration, holdTime, acquireDelay time.Duration,
) error {
	var nextID atomic.Int64

	acquire := func(ctx context.Context) (*benchResource, error) {
		select {
		case <-time.After(acquireDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &benchResource{id: nextID.Add(1)}, nil
	}
	release := func(r *benchResource) error { return nil }

	p, err := pool.NewFromSettings(ctx, settings, acquire, release)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close(context.Background()) }()

	logger.Info("benchmark starting",
		zap.Int("borrowers", borrowers),
		zap.Duration("duration", duration))

	benchCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	g, gctx := errgroup.WithContext(benchCtx)
	for i := 0; i < borrowers; i++ {
		g.Go(func() error {
			for {
				res, err := p.Get(gctx)
				if err != nil {
					if errors.Is(err, context.DeadlineExceeded) ||
						errors.Is(err, context.Canceled) ||
						errors.Is(err, pool.ErrClosed) {
						return nil
					}
					return err
				}

				select {
				case <-time.After(holdTime):
					res.Release()
				case <-gctx.Done():
					res.Release()
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats := p.Stats()
	out, err := json.MarshalIndent(struct {
		pool.Stats
		Elapsed       string  `json:"elapsed"`
		BorrowsPerSec float64 `json:"borrows_per_sec"`
	}{
		Stats:         stats,
		Elapsed:       elapsed.Round(time.Millisecond).String(),
		BorrowsPerSec: float64(stats.Borrows) / elapsed.Seconds(),
	}, "", "  ")
	if err != nil {
		return err
	}

	fmt.Println(string(out))
	return nil
}
