// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/blockstore"
	"github.com/starford/raido/internal/executor"
	"github.com/starford/raido/internal/host"
	"github.com/starford/raido/internal/journal"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/registry"
	"github.com/starford/raido/internal/scheduler"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/telemetry"
	"github.com/starford/raido/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger. In MCP mode stdout carries the
	// protocol, so logs go to stderr.
	logOut := os.Stdout
	if app.mcpMode {
		logOut = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("workspace_path", cfg.Workspace.Path),
		slog.String("journal_path", cfg.Journal.Path),
		slog.String("failure_policy", cfg.Exec.FailurePolicy),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure one document root per host kind under the workspace.
	hosts := make(map[host.Kind]host.Host, len(host.Kinds()))
	roots := make(watcher.Roots, len(host.Kinds()))
	for _, kind := range host.Kinds() {
		dir := filepath.Join(cfg.Workspace.Path, string(kind))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create document root: %w", err)
		}
		h, err := host.NewFSHost(kind, dir)
		if err != nil {
			return fmt.Errorf("init %s host: %w", kind, err)
		}
		hosts[kind] = h
		roots[kind] = dir
	}

	// Initialize SQLite journal.
	db, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("init journal: %w", err)
	}
	defer db.Close()

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Telemetry is fire-and-forget; a stalled sink drops events instead of
	// slowing the pipeline.
	tel := telemetry.NewEmitter(256, telemetry.LogSink(logger))

	// Execution pipeline.
	prober := host.NewProber(hosts)
	blocks := blockstore.New(db)
	exec := executor.New(prober, blocks, executor.Config{
		AttemptTimeout: cfg.Exec.AttemptTimeout,
		Logger:         logger,
	})

	policy, err := executor.ParsePolicy(cfg.Exec.FailurePolicy)
	if err != nil {
		return fmt.Errorf("failure policy: %w", err)
	}

	reg := registry.New(nil)
	sched := scheduler.New(scheduler.Config{
		Hosts:     hosts,
		Executor:  exec,
		Journal:   db,
		Registry:  reg,
		Telemetry: tel,
		Events:    broker.PublishJobEvent,
		Logger:    logger,
		Policy:    policy,
	})
	sched.Start()
	defer sched.Stop()

	svc := api.NewService(sched, prober, blocks, reg, db)

	g, gCtx := errgroup.WithContext(ctx)

	// Document availability watcher with SSE callback.
	g.Go(func() error {
		return watcher.Watch(gCtx, roots, reg, logger, func(key host.DocKey, status, detail string) {
			broker.PublishDocEvent(key, status, detail)
		})
	})

	if app.mcpMode {
		// MCP stdio mode: tool surface on stdin/stdout, no HTTP server.
		mcpSrv := mcpserver.New(svc)
		g.Go(func() error {
			logger.Info("Starting MCP stdio server")
			return mcpSrv.ServeStdio()
		})
		err := g.Wait()
		sched.Stop()
		drainTelemetry(tel, logger)
		return err
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		sched.Stop()
		drainTelemetry(tel, logger)
		return err
	}

	// Stop the scheduler before the emitter so a finishing job cannot
	// emit into a closed channel.
	sched.Stop()
	drainTelemetry(tel, logger)
	logger.Info("Server stopped successfully")
	return nil
}

func drainTelemetry(tel *telemetry.Emitter, logger *slog.Logger) {
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tel.Close(flushCtx); err != nil {
		logger.Warn("telemetry flush timed out", slog.String("error", err.Error()))
	}
}
