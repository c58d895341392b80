// Command scheduler is the entry point for the content-ingestion cron
// worker. It initializes and runs the poll-cycle scheduler described in
// spec.md §4.1.
//
// The application performs the following initialization sequence, in the
// style of the teacher's cmd/gateway/main.go:
//  1. Load configuration from config file and environment variables
//  2. Initialize structured logging with zap and Prometheus metrics
//  3. Connect to PostgreSQL (relational store) and Redis (KV substrate)
//  4. Build the lock, quota, rate-limit, token, and ingestion components
//  5. Register one adapter per provider and build the scheduler
//  6. Drive PollCycle on a robfig/cron schedule, serving /healthz,
//     /readyz, and /metrics on the side
//  7. Shut down gracefully on SIGINT/SIGTERM, letting an in-flight cycle
//     finish within ServerConfig.ShutdownTimeout
//
// Example usage:
//
//	# Start with default config search path
//	./scheduler
//
//	# Start with an explicit config file
//	./scheduler --config=/etc/briefloop/config.yaml
//
//	# Override via environment variables
//	export BRIEFLOOP_SCHEDULER_BATCH_LIMIT=100
//	./scheduler
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/briefloop/ingestcore/internal/config"
	"github.com/briefloop/ingestcore/internal/crypto"
	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/lock"
	"github.com/briefloop/ingestcore/internal/observability"
	"github.com/briefloop/ingestcore/internal/provider"
	"github.com/briefloop/ingestcore/internal/provider/newsletter"
	"github.com/briefloop/ingestcore/internal/provider/podcast"
	"github.com/briefloop/ingestcore/internal/provider/video"
	"github.com/briefloop/ingestcore/internal/provider/webfeed"
	"github.com/briefloop/ingestcore/internal/quota"
	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/scheduler"
	"github.com/briefloop/ingestcore/internal/storage"
	"github.com/briefloop/ingestcore/internal/token"
)

const (
	// Version is the application version.
	Version = "1.0.0"

	// ServiceName is the name of this service.
	ServiceName = "ingestcore-scheduler"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file (searches ./config, ., /etc/briefloop if unset)")
	showVersion = flag.Bool("version", false, "Show version information and exit")
	runOnce     = flag.Bool("run-once", false, "Run a single poll cycle and exit instead of starting the cron loop")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", ServiceName, Version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("ingestcore scheduler starting",
		zap.String("version", Version),
		zap.String("service", ServiceName),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("failed to close components", zap.Error(err))
		}
	}()

	if *runOnce {
		result, err := components.sched.PollCycle(context.Background(), time.Now())
		if err != nil {
			return fmt.Errorf("poll cycle: %w", err)
		}
		logger.Info("single poll cycle completed",
			zap.Int("processed", result.Processed),
			zap.Int("newItems", result.NewItems),
			zap.Int("skipped", result.Skipped),
			zap.Bool("lockSkipped", result.LockSkipped()),
		)
		return nil
	}

	return runWithShutdown(cfg, logger, components)
}

// applicationComponents holds every initialized dependency the scheduler
// needs, so a single Close() can tear everything down in reverse order.
type applicationComponents struct {
	relStore      *storage.PostgresStore
	kv            *storage.RedisKV
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	sched         *scheduler.Scheduler
	metricsServer *http.Server
}

func (c *applicationComponents) Close() error {
	var firstErr error
	if c.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.metricsServer.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("metrics server shutdown: %w", err)
		}
	}
	if c.kv != nil {
		if err := c.kv.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kv close: %w", err)
		}
	}
	if c.relStore != nil {
		if err := c.relStore.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("relational store close: %w", err)
		}
	}
	return firstErr
}

func loadConfiguration(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setupLogger(cfg *config.Config) (*observability.Logger, error) {
	env := "production"
	if cfg.Observability.Logging.Development {
		env = "development"
	}
	logger, err := observability.InitLogger(env)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}
	return logger, nil
}

func initializeComponents(cfg *config.Config, logger *observability.Logger) (*applicationComponents, error) {
	relStore, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if applied, err := storage.Migrate(relStore); err != nil {
		_ = relStore.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	} else if applied > 0 {
		logger.Info("applied pending migrations", zap.Int("count", applied))
	}

	kv := storage.NewRedisKV(cfg.Redis)
	if err := kv.Ping(context.Background()); err != nil {
		_ = relStore.Close()
		return nil, fmt.Errorf("redis connectivity check: %w", err)
	}

	sealer, err := crypto.NewSealer(cfg.Encryption.Key)
	if err != nil {
		_ = relStore.Close()
		_ = kv.Close()
		return nil, fmt.Errorf("build token sealer: %w", err)
	}

	metrics := observability.InitMetrics(cfg.Observability.Metrics.Namespace)

	locks := lock.NewService(kv)

	limiter, err := ratelimit.NewLimiter(kv)
	if err != nil {
		_ = relStore.Close()
		_ = kv.Close()
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}

	credentials := make(map[string]token.ProviderCredentials, len(cfg.Providers))
	for name, p := range cfg.Providers {
		credentials[name] = token.ProviderCredentials{
			ClientID:      p.ClientID,
			ClientSecret:  p.ClientSecret,
			TokenEndpoint: p.TokenEndpoint,
		}
	}
	tokenManager := token.NewManager(relStore, locks, sealer, credentials)

	pipeline := ingest.NewPipeline(relStore)

	adapters, err := buildAdapters(cfg, tokenManager, limiter, relStore, kv)
	if err != nil {
		_ = relStore.Close()
		_ = kv.Close()
		return nil, fmt.Errorf("build provider adapters: %w", err)
	}

	schedCfg := scheduler.Config{
		BatchLimit:       cfg.Scheduler.BatchLimit,
		UserConcurrency:  cfg.Scheduler.UserConcurrency,
		LockTTL:          cfg.Scheduler.LockTTL,
		CycleGracePeriod: cfg.Scheduler.CycleGracePeriod,
	}
	sched := scheduler.New(relStore, locks, limiter, pipeline, adapters, metrics, logger, schedCfg)

	healthChecker := buildHealthChecker(relStore, kv)

	var metricsServer *http.Server
	if cfg.Observability.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg, healthChecker, logger)
	}

	return &applicationComponents{
		relStore:      relStore,
		kv:            kv,
		healthChecker: healthChecker,
		metrics:       metrics,
		sched:         sched,
		metricsServer: metricsServer,
	}, nil
}

// buildAdapters constructs one adapter per provider.Tag. Providers lacking
// an entry in cfg.Providers are skipped rather than failing startup, so a
// deployment can enable a subset of providers. The web-feed adapter needs no
// provider entry and is always registered.
func buildAdapters(
	cfg *config.Config,
	tokenManager *token.Manager,
	limiter *ratelimit.Limiter,
	relStore *storage.PostgresStore,
	kv storage.KV,
) (map[provider.Tag]provider.Adapter, error) {
	adapters := make(map[provider.Tag]provider.Adapter)

	if p, ok := cfg.Providers[string(provider.TagVideo)]; ok {
		tracker := quotaTrackerFor(kv, string(provider.TagVideo), p)
		adapters[provider.TagVideo] = video.NewAdapter(tokenManager, limiter, tracker)
	}

	if p, ok := cfg.Providers[string(provider.TagPodcast)]; ok {
		tracker := quotaTrackerFor(kv, string(provider.TagPodcast), p)
		a, err := podcast.NewAdapter(tokenManager, limiter, tracker)
		if err != nil {
			return nil, fmt.Errorf("podcast adapter: %w", err)
		}
		adapters[provider.TagPodcast] = a
	}

	if _, ok := cfg.Providers[string(provider.TagNewsletter)]; ok {
		adapters[provider.TagNewsletter] = newsletter.NewAdapter(tokenManager, limiter, relStore)
	}

	webfeedAdapter, err := webfeed.NewAdapter(relStore)
	if err != nil {
		return nil, fmt.Errorf("webfeed adapter: %w", err)
	}
	adapters[provider.TagWebFeed] = webfeedAdapter

	return adapters, nil
}

func quotaTrackerFor(kv storage.KV, providerName string, p config.ProviderConfig) *quota.Tracker {
	loc, err := time.LoadLocation(p.QuotaTimezone)
	if err != nil {
		loc = time.UTC
	}
	return quota.NewTracker(kv, providerName, p.QuotaCapUnits, loc)
}

func buildHealthChecker(relStore *storage.PostgresStore, kv *storage.RedisKV) *observability.HealthChecker {
	hc := observability.NewHealthChecker(Version)
	hc.SetTimeout(5 * time.Second)

	hc.RegisterHealthCheck("postgres", func(ctx context.Context) error { return relStore.Ping(ctx) })
	hc.RegisterHealthCheck("redis", func(ctx context.Context) error { return kv.Ping(ctx) })
	hc.RegisterReadinessCheck("postgres", func(ctx context.Context) error { return relStore.Ping(ctx) })
	hc.RegisterReadinessCheck("redis", func(ctx context.Context) error { return kv.Ping(ctx) })

	return hc
}

func startMetricsServer(cfg *config.Config, hc *observability.HealthChecker, logger *observability.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Observability.Metrics.Path, promhttp.Handler())
	mux.HandleFunc("/healthz", hc.HealthHandler())
	mux.HandleFunc("/readyz", hc.ReadinessHandler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", zap.Int("port", cfg.Server.MetricsPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return srv
}

// runWithShutdown drives PollCycle on cfg.Scheduler.CronSchedule until a
// SIGINT/SIGTERM is received, then waits up to ServerConfig.ShutdownTimeout
// for any in-flight cycle to finish (the cron lock's own TTL is the final
// backstop per spec.md §5).
func runWithShutdown(cfg *config.Config, logger *observability.Logger, components *applicationComponents) error {
	c := cron.New()

	var inFlight sync.WaitGroup
	_, err := c.AddFunc(cfg.Scheduler.CronSchedule, func() {
		inFlight.Add(1)
		defer inFlight.Done()

		ctx := context.Background()
		result, err := components.sched.PollCycle(ctx, time.Now())
		if err != nil {
			logger.Error("poll cycle failed", zap.Error(err))
			return
		}
		logger.Info("poll cycle completed",
			zap.Int("processed", result.Processed),
			zap.Int("newItems", result.NewItems),
			zap.Int("skipped", result.Skipped),
			zap.Int64("durationMs", result.DurationMs),
			zap.Bool("lockSkipped", result.LockSkipped()),
		)
	})
	if err != nil {
		return fmt.Errorf("register cron schedule %q: %w", cfg.Scheduler.CronSchedule, err)
	}

	c.Start()
	logger.Info("cron scheduler started", zap.String("schedule", cfg.Scheduler.CronSchedule))

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, os.Interrupt, syscall.SIGTERM)
	sig := <-shutdownSignal
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	cronCtx := c.Stop()
	<-cronCtx.Done()

	done := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("graceful shutdown completed")
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("graceful shutdown timed out waiting for in-flight cycle")
	}

	return nil
}
