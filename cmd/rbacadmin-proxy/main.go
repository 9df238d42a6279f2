package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rbacadmin/pkg/auth"
	"github.com/platinummonkey/rbacadmin/pkg/config"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
	"github.com/platinummonkey/rbacadmin/pkg/proxy"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger := setupLogger(cfg.Observability.LogLevel)
	events := observability.NewLogger(cfg.Observability.Level(), os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), events)
	if err != nil {
		logger.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	limiter, closeLimiter, err := proxy.NewLimiter(cfg.Proxy)
	if err != nil {
		logger.Fatalf("Failed to create rate limiter: %v", err)
	}

	srv, err := proxy.New(cfg.API.BackendURL,
		proxy.WithLogger(logger),
		proxy.WithMetrics(metrics),
		proxy.WithLimiter(limiter),
		proxy.WithPrefix(cfg.API.ProxyPath),
		proxy.WithCookieOptions(auth.CookieOptions{
			Secure:        cfg.Auth.Production(),
			AccessMaxAge:  cfg.Auth.AccessTokenTTL,
			RefreshMaxAge: cfg.Auth.RefreshTokenTTL,
		}),
	)
	if err != nil {
		logger.Fatalf("Failed to create proxy: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Proxy.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Proxy.ReadTimeout,
		WriteTimeout: cfg.Proxy.WriteTimeout,
	}

	shutdown := observability.NewShutdownManager(events, httpServer, cfg.Proxy.ShutdownTimeout)
	shutdown.Register(providers.Shutdown)
	shutdown.Register(func(context.Context) error { return closeLimiter() })

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"backend": cfg.API.BackendURL,
		}).Info("Starting rbacadmin proxy")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Proxy server failed: %v", err)
			cancel()
		}
	}()

	if err := shutdown.WaitForSignal(ctx); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
