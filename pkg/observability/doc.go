// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown for the console
// and its proxy.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stderr)
//	logger.WithField("kind", "roles").Info("list refreshed")
//
// Ctx adds the request and user IDs set through pkg/contextkeys, plus the
// active trace:
//
//	logger.Ctx(ctx).Warn("refresh failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordTokenRefresh("proactive", err)
//	http.Handle("/metrics", metrics.Handler())
//
// Every recording method is safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(backendURL, observability.WithRedis(client))
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
package observability
