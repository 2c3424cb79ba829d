// Package config loads process configuration from the environment and an
// optional TOML file. Flags layered on top by the CLI win over both.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/solarprep/internal/domain"
	"github.com/dunamismax/solarprep/internal/storage"
	"github.com/dunamismax/solarprep/internal/telemetry"
)

type Config struct {
	API        APIConfig        `toml:"api"`
	Queue      QueueConfig      `toml:"queue"`
	Worker     WorkerConfig     `toml:"worker"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Telemetry  TelemetryConfig  `toml:"telemetry"`
	Budget     BudgetConfig     `toml:"budget"`
	Webhook    WebhookConfig    `toml:"webhook"`
	Turbulence TurbulenceConfig `toml:"turbulence"`
}

type APIConfig struct {
	Addr string `toml:"addr"`
	// RateLimit is the number of run submissions a client may make per
	// RateWindow. Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// RateLimitShared keeps the buckets in Redis so every replica enforces
	// one limit.
	RateLimitShared bool `toml:"rate_limit_shared"`
}

type QueueConfig struct {
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Name          string `toml:"name"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisClient opens a plain client on the queue's Redis for the shared
// output budget.
func (q QueueConfig) RedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	})
}

type WorkerConfig struct {
	Concurrency int    `toml:"concurrency"`
	MetricsAddr string `toml:"metrics_addr"`
}

type StorageConfig struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

func (s StorageConfig) Client() storage.Config {
	return storage.Config{
		Endpoint: s.Endpoint,
		Access:   s.AccessKey,
		Secret:   s.SecretKey,
		Bucket:   s.Bucket,
		UseSSL:   s.UseSSL,
	}
}

type DatabaseConfig struct {
	// DSN selects the Postgres run store. Empty keeps runs in memory.
	DSN string `toml:"dsn"`
}

type TelemetryConfig struct {
	ServiceName  string `toml:"service_name"`
	Exporter     string `toml:"exporter"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
	OTLPInsecure bool   `toml:"otlp_insecure"`
}

func (t TelemetryConfig) Trace(service string) telemetry.TraceConfig {
	name := t.ServiceName
	if name == "" {
		name = service
	}
	return telemetry.TraceConfig{
		ServiceName:  name,
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
	}
}

type WebhookConfig struct {
	SigningSecret string   `toml:"signing_secret"`
	Timeout       duration `toml:"timeout"`
	MaxAttempts   int      `toml:"max_attempts"`
}

type BudgetConfig struct {
	TTL duration `toml:"ttl"`
}

// TurbulenceConfig holds the defaults for a turbulence run.
type TurbulenceConfig struct {
	Effects domain.EffectConfig  `toml:"effects"`
	Output  domain.OutputOptions `toml:"output"`
	Workers int                  `toml:"workers"`
}

// duration lets TOML files write "36h" instead of nanoseconds.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func Load() Config {
	effects := domain.DefaultEffectConfig()
	effects.KernelSize = envInt("SOLARPREP_KERNEL_SIZE", effects.KernelSize)
	effects.Amplitude = envFloat("SOLARPREP_AMPLITUDE", effects.Amplitude)
	effects.Frequency = envFloat("SOLARPREP_FREQUENCY", effects.Frequency)
	effects.ContrastFactor = envFloat("SOLARPREP_CONTRAST_FACTOR", effects.ContrastFactor)

	return Config{
		API: APIConfig{
			Addr:            env("SOLARPREP_API_ADDR", ":8080"),
			RateLimit:       envInt("SOLARPREP_API_RATE_LIMIT", 30),
			RateWindow:      duration{envDuration("SOLARPREP_API_RATE_WINDOW", time.Minute)},
			RateLimitShared: envBool("SOLARPREP_API_RATE_LIMIT_SHARED", true),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency: envInt("WORKER_CONCURRENCY", max(1, runtime.NumCPU()/2)),
			MetricsAddr: env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MINIO_ENABLED", false),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "solarprep-frames"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", ""),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		Webhook: WebhookConfig{
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:       duration{envDuration("WEBHOOK_TIMEOUT", 10*time.Second)},
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Budget: BudgetConfig{
			TTL: duration{envDuration("SOLARPREP_BUDGET_TTL", 24*time.Hour)},
		},
		Turbulence: TurbulenceConfig{
			Effects: effects,
			Output: domain.OutputOptions{
				TileSize:   envInt("SOLARPREP_TILE_SIZE", domain.DefaultTileSize),
				MaxOutputs: envCap("SOLARPREP_MAX_OUTPUTS"),
			},
			Workers: envInt("SOLARPREP_WORKERS", 1),
		},
	}
}

// Resolve loads the environment and overlays the TOML file at path, if any.
// An empty path falls back to SOLARPREP_CONFIG.
func Resolve(path string) (Config, error) {
	cfg := Load()
	if path == "" {
		path = env("SOLARPREP_CONFIG", "")
	}
	if path == "" {
		return cfg, nil
	}
	if err := LoadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a TOML file onto cfg. Keys the file
// leaves out keep their current value.
func LoadFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %s", path, undecoded[0])
	}
	return nil
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envCap reads an optional output cap. Unset means unbounded.
func envCap(key string) *int {
	value := env(key, "")
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	return domain.Cap(parsed)
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
