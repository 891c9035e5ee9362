package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/transferwire/internal/adapters/http/api"
	"github.com/okian/transferwire/internal/adapters/repository"
	service "github.com/okian/transferwire/internal/app"
	"github.com/okian/transferwire/internal/config"
	"github.com/okian/transferwire/pkg/logger"
	"github.com/okian/transferwire/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func newServeCommand(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				c.cfg.Addr = addr
			}
			// Root context with cancel on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, c.cfg, c.log)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

// serviceOptions maps configuration onto service options.
func serviceOptions(cfg *config.Config, store repository.Store, log logger.Logger) []service.Option {
	return []service.Option{
		service.WithStore(store),
		service.WithSources(cfg.Sources),
		service.WithLogger(log),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithPushCapacity(cfg.PushCapacity),
		service.WithCycleInterval(cfg.CycleInterval),
		service.WithPollTimeout(cfg.PollTimeout),
		service.WithRetry(cfg.FetchAttempts, cfg.FetchBaseBackoff, cfg.FetchMaxBackoff, cfg.FetchAttemptTimeout),
		service.WithHostRate(cfg.FetchHostInterval, cfg.FetchHostBurst),
		service.WithMinConfidence(cfg.MinConfidence),
		service.WithMatcher(cfg.FuzzyThreshold, cfg.AmbiguityMargin, cfg.HeadlineFloor),
		service.WithClubAliases(cfg.ClubAliases),
		service.WithGateThresholds(cfg.Gate),
		service.WithRegions(cfg.Regions),
		service.WithPeakLearning(cfg.PeakMinSamples, cfg.PeakHours),
		service.WithSchedule(cfg.TierIntervals(), cfg.PeakProbability, cfg.QuietProbability),
		service.WithSeed(cfg.Seed),
	}
}

// lockStore takes an exclusive lock next to a sqlite file. The returned
// release func is a no-op for the memory store.
func lockStore(cfg *config.Config) (func() error, error) {
	if cfg.StoreDriver != repository.DriverSQLite {
		return func() error { return nil }, nil
	}
	lock := flock.New(cfg.StorePath + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, cfg.StorePath)
	}
	return lock.Unlock, nil
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	release, err := lockStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			log.Warn(ctx, "failed to release store lock", logger.Error(err))
		}
	}()

	store, err := repository.Open(ctx, cfg.StoreDriver, cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(ctx, "failed to close store", logger.Error(err))
		}
	}()

	svc, err := service.New(serviceOptions(cfg, store, log)...)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	every := metrics.RefreshInterval()
	go startSystemMetricsUpdater(ctx, 2*every)
	go startServiceMetricsUpdater(ctx, svc, every)

	mux := http.NewServeMux()
	api.NewServer(svc).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.Int("sources", len(cfg.Sources)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down server...")
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server failed: %w", err)
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return runErr
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(ctx, svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics refreshes queue and story gauges from the service.
func updateServiceMetrics(ctx context.Context, svc *service.Service) {
	stats, err := svc.GetStats(ctx)
	if err != nil {
		metrics.RecordError("stats", "cmd")
		return
	}
	metrics.UpdateQueueSize(stats.QueueLength)
	metrics.UpdateQueueCapacity(stats.QueueCapacity)
	if stats.QueueCapacity > 0 {
		metrics.UpdateQueueUtilization(float64(stats.QueueLength) / float64(stats.QueueCapacity))
	}
	metrics.UpdateWorkerCount(stats.Workers)
	metrics.UpdateStoryCount(stats.Stories)
}
