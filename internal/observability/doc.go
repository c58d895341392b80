// Package observability provides structured logging, Prometheus metrics, and
// health/readiness checks for the ingestion scheduler.
//
// # Logging
//
// Initialize the logger once at application startup:
//
//	logger, err := observability.InitLogger("production")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Use structured logging throughout the application:
//
//	logger.Info("processing subscription",
//	    zap.String("subscriptionID", subID),
//	    zap.String("provider", "video"),
//	)
//
// Use context-aware logging:
//
//	logger := observability.LoggerFromContext(ctx)
//	logger.Info("operation completed")
//
// # Metrics
//
// Initialize metrics once at application startup:
//
//	metrics := observability.InitMetrics("briefloop")
//
// Record a poll cycle:
//
//	start := time.Now()
//	result, err := scheduler.PollCycle(ctx, time.Now())
//	metrics.RecordCycle(outcomeFor(err), time.Since(start))
//
// Record adapter operations:
//
//	start := time.Now()
//	_, err := adapter.PollOne(ctx, sub, client)
//	metrics.RecordAdapterOperation("video", "PollOne", time.Since(start), err)
//
// # Health Checks
//
// Create a health checker with registered checks:
//
//	healthChecker := observability.NewHealthChecker("v1.0.0")
//
//	healthChecker.RegisterReadinessCheck("kv", observability.KVHealthCheck(func(ctx context.Context) error {
//	    return redisClient.Ping(ctx).Err()
//	}))
//
//	healthChecker.RegisterReadinessCheck("database", observability.DatabaseHealthCheck(func(ctx context.Context) error {
//	    return db.PingContext(ctx)
//	}))
//
// Expose health endpoints:
//
//	http.HandleFunc("/health", healthChecker.HealthHandler())
//	http.HandleFunc("/ready", healthChecker.ReadinessHandler())
//	http.HandleFunc("/live", observability.LivenessHandler())
package observability
