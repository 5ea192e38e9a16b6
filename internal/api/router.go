package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nikhilbhutani/voicecast/internal/api/handlers"
	"github.com/nikhilbhutani/voicecast/internal/api/middleware"
	"github.com/nikhilbhutani/voicecast/internal/auth"
	"github.com/nikhilbhutani/voicecast/internal/cache"
	"github.com/nikhilbhutani/voicecast/internal/config"
	"github.com/nikhilbhutani/voicecast/internal/metrics"
	"github.com/nikhilbhutani/voicecast/internal/orchestrator"
	"github.com/nikhilbhutani/voicecast/internal/profile"
	"github.com/nikhilbhutani/voicecast/internal/queue"
	"github.com/nikhilbhutani/voicecast/internal/storage"
)

// Deps is everything the router hands to its handlers. Queue and
// AudioReader may be nil.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Metrics      *metrics.Collector
	Cache        cache.Store
	Storage      storage.Store
	AudioReader  storage.Reader
	Profiles     profile.Repository
	Queue        queue.Enqueuer
	Checks       map[string]handlers.Check
	RateLimiter  *middleware.RateLimiter
}

// speakTimeout caps a buffered speak request end to end.
const speakTimeout = 30 * time.Second

type Router struct {
	mux  *chi.Mux
	cfg  *config.Config
	deps Deps
}

func NewRouter(cfg *config.Config, d Deps) *Router {
	if d.RateLimiter == nil {
		d.RateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	return &Router{mux: chi.NewRouter(), cfg: cfg, deps: d}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(rt.deps.RateLimiter.Limit)

	// Probes and scrapes (no auth)
	health := handlers.NewHealthHandler(rt.deps.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	metricsH := handlers.NewMetricsHandler(rt.deps.Metrics)
	r.Get("/metrics", metricsH.Text)
	r.Get("/metrics/json", metricsH.JSON)

	audioH := handlers.NewAudioHandler(rt.deps.AudioReader)
	r.Get("/audio/*", audioH.Serve)

	r.Route("/api/v1", func(r chi.Router) {
		if rt.cfg.Auth.Enabled() {
			r.Use(auth.NewAPIKeyMiddleware(rt.cfg.Auth.APIKeyHeader, rt.cfg.Auth.APIKeys).Authenticate)
			r.Use(auth.NewJWTMiddleware(rt.cfg.Auth.JWTSecret).Authenticate)
		}

		ttsH := handlers.NewTTSHandler(rt.deps.Orchestrator, rt.cfg.TTS.DebugTimings).WithTimeout(speakTimeout)
		r.Post("/tts/speak", ttsH.Speak)

		adminH := handlers.NewAdminHandler(handlers.AdminDeps{
			Metrics:   rt.deps.Metrics,
			Cache:     rt.deps.Cache,
			Queue:     rt.deps.Queue,
			Prewarmer: rt.deps.Orchestrator,
			Store:     rt.deps.Storage,
			Profiles:  rt.deps.Profiles,
		})
		r.Route("/admin", func(r chi.Router) {
			if rt.cfg.Auth.Enabled() {
				r.Use(auth.RequireRole(rt.cfg.Auth.AdminRole))
			}
			r.Post("/metrics/reset", adminH.ResetMetrics)
			r.Get("/cache/keys", adminH.CacheKeys)
			r.Get("/cache/{key}", adminH.CacheGet)
			r.Delete("/cache/{key}", adminH.CacheDelete)
			r.Post("/prewarm", adminH.Prewarm)
			r.Delete("/audio/*", adminH.DeleteAudio)
			r.Get("/profiles/{calleeId}", adminH.GetProfile)
			r.Put("/profiles/{calleeId}", adminH.PutProfile)
		})
	})

	return otelhttp.NewHandler(r, "voicecast.http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}
