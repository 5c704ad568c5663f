// Package main is the entry point for the orbitdash data gateway. It loads
// configuration, wires the upstream clients behind their schedulers, breakers
// and cache, assembles the middleware stack, starts the HTTP server, and
// handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/orbitdash/gateway/internal/admin"
	"github.com/orbitdash/gateway/internal/auth"
	"github.com/orbitdash/gateway/internal/config"
	"github.com/orbitdash/gateway/internal/gateway"
	"github.com/orbitdash/gateway/internal/health"
	"github.com/orbitdash/gateway/internal/logging"
	"github.com/orbitdash/gateway/internal/metrics"
	"github.com/orbitdash/gateway/internal/middleware"
	"github.com/orbitdash/gateway/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/gateway.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log output: %v\n", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"services", len(cfg.Services.All()),
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"metrics_path", cfg.Metrics.Path,
	)

	// Initialize Prometheus metrics
	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Build the upstream gateway client (cache, schedulers, breakers, retry)
	client := gateway.New(cfg, logger)
	defer client.Stop()

	api := server.New(client, logger)
	apiMux := http.NewServeMux()
	api.RegisterRoutes(apiMux)

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → CORS → Deadline → Auth → API
	var handler http.Handler = apiMux
	handler = auth.Middleware(cfg.Auth, logger)(handler)
	if d := cfg.Server.GlobalTimeout(); d > 0 {
		handler = middleware.Deadline(d)(handler)
	}
	handler = middleware.CORS(middleware.DefaultCORSConfig())(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders()(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Initialize config reloader before the admin surface so /admin/config
	// reflects hot-reloaded values.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		client.UpdateConfig(newCfg)
	})

	// Register health, metrics, and admin routes on a separate mux,
	// then combine with the main handler
	mux := http.NewServeMux()
	healthHandler := health.New(client, logger)
	healthHandler.RegisterRoutes(mux)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, client, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	// Combine: health, metrics and admin endpoints bypass the middleware stack
	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") ||
			strings.HasPrefix(r.URL.Path, "/ready") ||
			(cfg.Admin.Enabled && strings.HasPrefix(r.URL.Path, "/admin/")) ||
			(cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath) {
			mux.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting gateway", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("gateway stopped gracefully")
}
