package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/voicecast/internal/api"
	"github.com/nikhilbhutani/voicecast/internal/api/middleware"
	"github.com/nikhilbhutani/voicecast/internal/app"
	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/queue"
	"github.com/nikhilbhutani/voicecast/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	deps := api.Deps{
		Orchestrator: a.Orchestrator,
		Metrics:      a.Metrics,
		Cache:        a.Cache,
		Storage:      a.Storage,
		AudioReader:  a.AudioReader,
		Profiles:     a.Profiles,
		Checks:       a.Checks,
		RateLimiter:  middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
	// Jobs go to the worker only when it shares cache and storage with us;
	// otherwise admin work runs inline.
	if cfg.SharedBackends() {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		deps.Queue = qc
	}
	go deps.RateLimiter.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(cfg, deps).Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "auth", cfg.Auth.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("tracer shutdown", "error", err)
	}
	slog.Info("server stopped")
}
