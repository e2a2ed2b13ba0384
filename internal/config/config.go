// Package config loads and validates audit service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendPubSub   = "pubsub"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkerConfig governs the consumer pool and its queue.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	// Queue is memory or pubsub.
	Queue       string `mapstructure:"queue"`
	QueueDepth  int    `mapstructure:"queue_depth"`
	MaxAttempts int    `mapstructure:"max_attempts"`
	// JobTimeoutSeconds bounds one audit; zero disables the bound.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds"`
}

// ProvidersConfig holds the retry/fallback policy and per-provider settings.
type ProvidersConfig struct {
	FallbackEnabled bool           `mapstructure:"fallback_enabled"`
	Retries         int            `mapstructure:"retries"`
	BackoffMs       int            `mapstructure:"backoff_ms"`
	RateLimitBurst  int            `mapstructure:"rate_limit_burst"`
	PageSpeed       ProviderConfig `mapstructure:"pagespeed"`
	OpenPageRank    ProviderConfig `mapstructure:"openpagerank"`
	Serp            ProviderConfig `mapstructure:"serp"`
}

// ProviderConfig configures one upstream API.
type ProviderConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	// Strategy applies to PageSpeed only.
	Strategy string `mapstructure:"strategy"`
	// Language and Country apply to SERP only.
	Language string `mapstructure:"language"`
	Country  string `mapstructure:"country"`
}

// StorageConfig selects the record store and the raw archive backend.
type StorageConfig struct {
	// Backend is memory or postgres.
	Backend string `mapstructure:"backend"`
	// Archive is none, memory, local or gcs.
	Archive      string `mapstructure:"archive"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// PubSubConfig names the job queue and notification topics.
type PubSubConfig struct {
	ProjectID        string `mapstructure:"project_id"`
	JobsTopic        string `mapstructure:"jobs_topic"`
	JobsSubscription string `mapstructure:"jobs_subscription"`
	// NotifyTopic receives completion notifications; empty disables them.
	NotifyTopic string `mapstructure:"notify_topic"`
}

// ProgressConfig tunes the lifecycle event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// legacyEnv maps config keys to the bare environment names accepted in
// addition to the AUDIT_ prefixed form.
var legacyEnv = map[string]string{
	"providers.fallback_enabled":     "FALLBACK_ENABLED",
	"providers.retries":              "PROVIDER_RETRIES",
	"providers.backoff_ms":           "PROVIDER_BACKOFF_MS",
	"providers.pagespeed.api_key":    "PAGESPEED_API_KEY",
	"providers.openpagerank.api_key": "OPEN_PAGERANK_API_KEY",
	"providers.serp.api_key":         "SERPAPI_KEY",
	"db.dsn":                         "DATABASE_URL",
	"pubsub.project_id":              "GOOGLE_CLOUD_PROJECT",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, name := range legacyEnv {
		prefixed := "AUDIT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue", BackendMemory)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.max_attempts", 2)
	v.SetDefault("worker.job_timeout_seconds", 0)
	v.SetDefault("providers.fallback_enabled", true)
	v.SetDefault("providers.retries", 2)
	v.SetDefault("providers.backoff_ms", 2000)
	v.SetDefault("providers.rate_limit_burst", 1)
	v.SetDefault("providers.pagespeed.timeout_seconds", 30)
	v.SetDefault("providers.pagespeed.strategy", "mobile")
	v.SetDefault("providers.pagespeed.rps", 1.0)
	v.SetDefault("providers.openpagerank.timeout_seconds", 15)
	v.SetDefault("providers.openpagerank.rps", 2.0)
	v.SetDefault("providers.serp.timeout_seconds", 15)
	v.SetDefault("providers.serp.rps", 1.0)
	v.SetDefault("providers.serp.language", "en")
	v.SetDefault("providers.serp.country", "us")
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.archive", BackendNone)
	v.SetDefault("storage.local_dir", "data/archive")
	v.SetDefault("storage.prefix", "audits")
	v.SetDefault("db.table", "audits")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 50)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.service_name", "site-audit")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Providers.Retries < 0 {
		return fmt.Errorf("providers.retries must be >= 0")
	}
	if c.Providers.BackoffMs < 0 {
		return fmt.Errorf("providers.backoff_ms must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Worker.Queue {
	case BackendMemory, "":
	case BackendPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.JobsTopic == "" || c.PubSub.JobsSubscription == "" {
			return fmt.Errorf("pubsub.project_id, pubsub.jobs_topic and pubsub.jobs_subscription are required for the pubsub queue")
		}
	default:
		return fmt.Errorf("worker.queue %q is not supported", c.Worker.Queue)
	}
	switch c.Storage.Backend {
	case BackendMemory, "":
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Storage.Archive {
	case BackendNone, BackendMemory, "":
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local archive")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("storage.archive %q is not supported", c.Storage.Archive)
	}
	if c.PubSub.NotifyTopic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.notify_topic is set")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

// UsesPubSub reports whether any component needs a Pub/Sub client.
func (c Config) UsesPubSub() bool {
	return c.Worker.Queue == BackendPubSub || c.PubSub.NotifyTopic != ""
}

// Backoff is the constant delay between provider attempts.
func (c ProvidersConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// Timeout converts TimeoutSeconds into a duration.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// JobTimeout converts the per-audit bound into a duration.
func (c WorkerConfig) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// RequestTimeout converts the handler bound into a duration.
func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// MaxBatchWait converts MaxBatchWaitMs into a duration.
func (c ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(c.MaxBatchWaitMs) * time.Millisecond
}

// MaxConnLifetime converts the pool lifetime into a duration.
func (c DBConfig) MaxConnLifetime() time.Duration {
	return time.Duration(c.MaxConnLifetimeSeconds) * time.Second
}
