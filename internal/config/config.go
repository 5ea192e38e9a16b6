package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig `envPrefix:"SERVER_"`
	Database  DatabaseConfig
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Cache     CacheConfig     `envPrefix:"CACHE_"`
	Retry     RetryConfig     `envPrefix:"RETRY_"`
	TTS       TTSConfig       `envPrefix:"TTS_"`
	Storage   StorageConfig   `envPrefix:"STORAGE_"`
	Telephony TelephonyConfig `envPrefix:"TELEPHONY_"`
	Voice     VoiceConfig     `envPrefix:"VOICE_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	Telemetry TelemetryConfig
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Worker    WorkerConfig    `envPrefix:"WORKER_"`
}

type ServerConfig struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port int    `env:"PORT" envDefault:"8080"`
}

type DatabaseConfig struct {
	URL            string `env:"DATABASE_URL"`
	MaxConns       int    `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns       int    `env:"DB_MIN_CONNS" envDefault:"2"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// AuthConfig leaves the API open when neither a JWT secret nor API keys
// are set.
type AuthConfig struct {
	JWTSecret    string   `env:"JWT_SECRET"`
	AdminRole    string   `env:"ADMIN_ROLE" envDefault:"admin"`
	APIKeyHeader string   `env:"API_KEY_HEADER" envDefault:"X-API-Key"`
	APIKeys      []string `env:"API_KEYS" envSeparator:","`
}

func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != "" || len(a.APIKeys) > 0
}

type CacheConfig struct {
	Backend    string `env:"BACKEND" envDefault:"redis"` // "redis" or "memory"
	TTLSeconds int    `env:"TTL_SECONDS" envDefault:"86400"`
}

// TTL converts the configured seconds. Zero or negative means no expiry.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type RetryConfig struct {
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"100ms"`
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"5s"`
}

type TTSConfig struct {
	Provider         string `env:"PROVIDER" envDefault:"mock"` // "openai", "piper" or "mock"
	StreamingEnabled bool   `env:"STREAMING_ENABLED" envDefault:"false"`
	DebugTimings     bool   `env:"DEBUG_TIMINGS" envDefault:"false"`
	SingleFlight     bool   `env:"SINGLE_FLIGHT" envDefault:"false"`
	OpenAIKey        string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string `env:"OPENAI_BASE_URL"`
	OpenAIModel      string `env:"OPENAI_MODEL"`
	LocalBinPath     string `env:"LOCAL_PIPER_BIN" envDefault:"piper"`
	LocalModel       string `env:"LOCAL_PIPER_MODEL"`
}

type StorageConfig struct {
	Backend           string `env:"BACKEND" envDefault:"memory"` // "s3", "nats" or "memory"
	Bucket            string `env:"BUCKET" envDefault:"tts-audio"`
	Region            string `env:"REGION" envDefault:"us-east-1"`
	PublicBaseURL     string `env:"PUBLIC_BASE_URL"`
	Endpoint          string `env:"ENDPOINT"`
	AccessKeyID       string `env:"ACCESS_KEY_ID"`
	SecretAccessKey   string `env:"SECRET_ACCESS_KEY"`
	PartSizeMB        int    `env:"PART_SIZE_MB" envDefault:"5"`
	UploadConcurrency int    `env:"UPLOAD_CONCURRENCY" envDefault:"4"`
	NATSURL           string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
}

type TelephonyConfig struct {
	BaseURL  string        `env:"BASE_URL"`
	MediaURL string        `env:"MEDIA_URL"`
	APIKey   string        `env:"API_KEY"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

type VoiceConfig struct {
	Fallback     string            `env:"FALLBACK" envDefault:"alloy"`
	RoleDefaults map[string]string `env:"ROLE_DEFAULTS" envDefault:"support:nova,sales:echo,assistant:shimmer"`
}

type MetricsConfig struct {
	HistogramCapacity int `env:"HISTOGRAM_CAPACITY" envDefault:"1000"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"voicecast"`
}

type RateLimitConfig struct {
	RPS   float64 `env:"RPS" envDefault:"100"`
	Burst int     `env:"BURST" envDefault:"200"`
}

type WorkerConfig struct {
	Concurrency int `env:"CONCURRENCY" envDefault:"10"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < c.Retry.InitialDelay {
		problems = append(problems, "RETRY_MAX_DELAY must be >= RETRY_INITIAL_DELAY >= 0")
	}
	if c.Storage.PartSizeMB < 5 {
		problems = append(problems, "STORAGE_PART_SIZE_MB must be >= 5")
	}
	if c.Storage.UploadConcurrency < 1 {
		problems = append(problems, "STORAGE_UPLOAD_CONCURRENCY must be >= 1")
	}
	if c.Metrics.HistogramCapacity < 1 {
		problems = append(problems, "METRICS_HISTOGRAM_CAPACITY must be >= 1")
	}
	if c.Storage.Backend == "s3" && c.Storage.Bucket == "" {
		problems = append(problems, "STORAGE_BUCKET is required for the s3 backend")
	}
	if strings.TrimSpace(c.Voice.Fallback) == "" {
		problems = append(problems, "VOICE_FALLBACK must not be empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SharedBackends reports whether cache and storage live outside the process,
// so a separate worker sees the same objects and URLs as the API.
func (c *Config) SharedBackends() bool {
	return c.Cache.Backend != "memory" && c.Storage.Backend != "memory" && c.Storage.Backend != ""
}

// ValidateWorker rejects setups where jobs would write into the worker's own
// memory: uploaded objects could never be served and cleanups would be no-ops.
func (c *Config) ValidateWorker() error {
	if !c.SharedBackends() {
		return fmt.Errorf("worker needs shared backends: CACHE_BACKEND=%q STORAGE_BACKEND=%q (memory is process-local)",
			c.Cache.Backend, c.Storage.Backend)
	}
	return nil
}
