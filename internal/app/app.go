// Package app assembles the delivery pipeline from configuration. Both the
// API server and the queue worker start from the same App.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/voicecast/internal/api/handlers"
	"github.com/nikhilbhutani/voicecast/internal/cache"
	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/database"
	"github.com/nikhilbhutani/voicecast/internal/metrics"
	"github.com/nikhilbhutani/voicecast/internal/orchestrator"
	"github.com/nikhilbhutani/voicecast/internal/profile"
	"github.com/nikhilbhutani/voicecast/internal/storage"
	"github.com/nikhilbhutani/voicecast/internal/synthesis"
	"github.com/nikhilbhutani/voicecast/internal/telemetry"
	"github.com/nikhilbhutani/voicecast/internal/telephony"
)

type App struct {
	Config       *config.Config
	Metrics      *metrics.Collector
	Cache        cache.Store
	Storage      storage.Store
	AudioReader  storage.Reader // nil when the backend cannot serve objects
	Telephony    telephony.Control
	Profiles     profile.Repository
	Orchestrator *orchestrator.Orchestrator
	Checks       map[string]handlers.Check

	closers []func()
}

// New connects every configured backend. On error, anything already opened
// is closed before returning.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.NewCollector(cfg.Metrics.HistogramCapacity),
		Checks:  make(map[string]handlers.Check),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := a.openCache(ctx); err != nil {
		return nil, err
	}
	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.openProfiles(ctx); err != nil {
		return nil, err
	}
	a.openTelephony()

	provider := synthesis.NewProvider(cfg.TTS)
	slog.Info("synthesis provider selected", "provider", provider.Name(), "streaming", cfg.TTS.StreamingEnabled)

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Cache:     a.Cache,
		Synthesis: synthesis.NewAdapter(provider, cfg.TTS.StreamingEnabled),
		Storage:   a.Storage,
		Telephony: a.Telephony,
		Profiles:  a.Profiles,
		Metrics:   a.Metrics,
		Tracer:    telemetry.Tracer(nil),
	}, orchestrator.NewConfig(cfg))

	return a, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) { a.closers = append(a.closers, fn) }

func (a *App) openCache(ctx context.Context) error {
	switch a.Config.Cache.Backend {
	case "memory":
		a.Cache = cache.NewMemoryStore()
		return nil
	case "redis", "":
	default:
		return fmt.Errorf("unknown cache backend %q", a.Config.Cache.Backend)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	a.onClose(func() { _ = rdb.Close() })

	store := cache.NewRedisStore(rdb)
	// The pipeline fails open on cache errors, so an unreachable Redis at
	// boot is a warning, not fatal.
	if err := store.Ping(ctx); err != nil {
		slog.Warn("redis unavailable, cache lookups will miss", "addr", a.Config.Redis.Addr, "error", err)
	}
	a.Cache = store
	a.Checks["redis"] = store.Ping
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	sc := a.Config.Storage
	mp := storage.Multipart{
		PartSize:    sc.PartSizeMB * 1024 * 1024,
		Concurrency: sc.UploadConcurrency,
	}
	base := sc.PublicBaseURL
	if base == "" {
		base = "http://" + localHost(a.Config.Addr()) + "/audio"
	}

	switch sc.Backend {
	case "s3":
		s, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          sc.Bucket,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			PublicBaseURL:   sc.PublicBaseURL,
			Multipart:       mp,
		})
		if err != nil {
			return err
		}
		a.Storage = s
		a.Checks["s3"] = s.Ping

	case "nats":
		nc, err := nats.Connect(sc.NATSURL, nats.Name("voicecast"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.onClose(nc.Close)
		js, err := nc.JetStream()
		if err != nil {
			return fmt.Errorf("jetstream context: %w", err)
		}
		s, err := storage.NewNATSStore(js, sc.Bucket, base)
		if err != nil {
			return err
		}
		a.Storage, a.AudioReader = s, s
		a.Checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		}

	case "memory", "":
		s := storage.NewMemoryStore(base, mp)
		a.Storage, a.AudioReader = s, s

	default:
		return fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
	slog.Info("storage backend ready", "backend", sc.Backend, "bucket", sc.Bucket)
	return nil
}

func (a *App) openProfiles(ctx context.Context) error {
	if a.Config.Database.URL == "" {
		a.Profiles = profile.NewStaticRepository(nil)
		return nil
	}

	pool, err := database.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	a.onClose(pool.Close)

	if err := database.RunMigrations(ctx, pool, a.Config.Database.MigrationsPath); err != nil {
		return err
	}
	a.Profiles = profile.NewPGRepository(pool)
	a.Checks["postgres"] = pool.Ping
	return nil
}

func (a *App) openTelephony() {
	tc := a.Config.Telephony
	if tc.BaseURL == "" {
		slog.Warn("TELEPHONY_BASE_URL not set, using in-memory call control")
		a.Telephony = telephony.NewMemoryControl()
		return
	}
	a.Telephony = telephony.NewHTTPControl(telephony.HTTPConfig{
		BaseURL:  tc.BaseURL,
		MediaURL: tc.MediaURL,
		APIKey:   tc.APIKey,
		Timeout:  tc.Timeout,
	})
}

// localHost turns a listen address into one a client can reach.
func localHost(addr string) string {
	if rest, ok := strings.CutPrefix(addr, "0.0.0.0"); ok {
		return "localhost" + rest
	}
	return addr
}
