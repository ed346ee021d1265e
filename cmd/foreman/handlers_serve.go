package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Serve Command Handler
// =============================================================================

const shutdownTimeout = 30 * time.Second

// runServe starts every background component and blocks until a shutdown
// signal arrives.
func runServe(ctx context.Context, configPath, metricsAddr string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	if metricsAddr != "" {
		cfg.Observability.MetricsAddr = metricsAddr
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize foreman: %w", err)
	}
	defer a.close(context.Background())

	a.logger.Info("starting foreman",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	if a.loader != nil {
		n, err := a.loader.Sync(ctx)
		if err != nil {
			return fmt.Errorf("load workflows: %w", err)
		}
		a.logger.Info("workflows loaded", "dir", cfg.Workflows.Dir, "count", n)
		if cfg.Workflows.Watch {
			go func() {
				if err := a.loader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Error("workflow watcher stopped", "error", err)
				}
			}()
		}
	}

	if cfg.SchedulerEnabled() {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	a.sweeper.Start(ctx)

	errCh := make(chan error, 1)
	var server *http.Server
	if cfg.Observability.MetricsAddr != "" {
		server = newMetricsServer(a, cfg.Observability.MetricsAddr)
		ln, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", server.Addr, err)
		}
		go func() {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		a.logger.Info("metrics listening", "addr", ln.Addr().String())
	}

	a.logger.Info("foreman started", "scheduler", cfg.SchedulerEnabled(), "armed_jobs", a.scheduler.Armed())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
	a.logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	a.sweeper.Stop()
	if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
		slog.Warn("scheduler shutdown incomplete", "error", err)
	}
	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown failed", "error", err)
		}
	}
	a.logger.Info("foreman stopped gracefully")
	return nil
}

func newMetricsServer(a *app, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","active_sessions":%d,"armed_jobs":%d}`,
			a.service.ActiveSessionCount(), a.scheduler.Armed())
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
