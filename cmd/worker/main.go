package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/voicecast/internal/app"
	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/queue"
	"github.com/nikhilbhutani/voicecast/internal/queue/workers"
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

	if err := cfg.ValidateWorker(); err != nil {
		slog.Error("refusing to start worker", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	prewarm := workers.NewPrewarmWorker(a.Orchestrator)
	cleanup := workers.NewCleanupWorker(a.Storage, a.Cache)

	registry.Register(queue.TypeTTSPrewarm, asynq.HandlerFunc(prewarm.ProcessTask))
	registry.Register(queue.TypeStorageDelete, asynq.HandlerFunc(cleanup.ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency)
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
