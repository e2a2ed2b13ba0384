package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 4, cfg.Worker.Concurrency)
	require.Equal(t, 2, cfg.Worker.MaxAttempts)
	require.True(t, cfg.Providers.FallbackEnabled)
	require.Equal(t, 2, cfg.Providers.Retries)
	require.Equal(t, 2*time.Second, cfg.Providers.Backoff())
	require.Equal(t, 30*time.Second, cfg.Providers.PageSpeed.Timeout())
	require.Equal(t, 15*time.Second, cfg.Providers.Serp.Timeout())
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, BackendNone, cfg.Storage.Archive)
	require.Equal(t, 500*time.Millisecond, cfg.Progress.MaxBatchWait())
	require.False(t, cfg.UsesPubSub())
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
worker:
  concurrency: 6
  queue: pubsub
  job_timeout_seconds: 90
providers:
  fallback_enabled: false
  retries: 4
  backoff_ms: 100
  serp:
    api_key: serp-key
    country: gb
storage:
  backend: postgres
  archive: gcs
  gcs_bucket: bucket
db:
  dsn: postgres://localhost/audits
pubsub:
  project_id: proj
  jobs_topic: audit-jobs
  jobs_subscription: audit-jobs-sub
  notify_topic: audit-events
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, 6, cfg.Worker.Concurrency)
	require.Equal(t, 90*time.Second, cfg.Worker.JobTimeout())
	require.False(t, cfg.Providers.FallbackEnabled)
	require.Equal(t, 4, cfg.Providers.Retries)
	require.Equal(t, 100*time.Millisecond, cfg.Providers.Backoff())
	require.Equal(t, "serp-key", cfg.Providers.Serp.APIKey)
	require.Equal(t, "gb", cfg.Providers.Serp.Country)
	require.Equal(t, "en", cfg.Providers.Serp.Language)
	require.Equal(t, BackendPostgres, cfg.Storage.Backend)
	require.Equal(t, "audit-events", cfg.PubSub.NotifyTopic)
	require.True(t, cfg.UsesPubSub())
	require.False(t, cfg.Logging.Development)
}

func TestLoadLegacyEnvironmentNames(t *testing.T) {
	t.Setenv("FALLBACK_ENABLED", "false")
	t.Setenv("PROVIDER_RETRIES", "5")
	t.Setenv("PROVIDER_BACKOFF_MS", "250")
	t.Setenv("PAGESPEED_API_KEY", "ps-key")
	t.Setenv("OPEN_PAGERANK_API_KEY", "opr-key")
	t.Setenv("SERPAPI_KEY", "serp-key")

	cfg, err := Load("")
	require.NoError(t, err)

	require.False(t, cfg.Providers.FallbackEnabled)
	require.Equal(t, 5, cfg.Providers.Retries)
	require.Equal(t, 250*time.Millisecond, cfg.Providers.Backoff())
	require.Equal(t, "ps-key", cfg.Providers.PageSpeed.APIKey)
	require.Equal(t, "opr-key", cfg.Providers.OpenPageRank.APIKey)
	require.Equal(t, "serp-key", cfg.Providers.Serp.APIKey)
}

func TestLoadPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("PROVIDER_RETRIES", "5")
	t.Setenv("AUDIT_PROVIDERS_RETRIES", "1")
	t.Setenv("AUDIT_WORKER_CONCURRENCY", "9")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Providers.Retries)
	require.Equal(t, 9, cfg.Worker.Concurrency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Worker: WorkerConfig{Concurrency: 1},
	}

	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"negative retries", func(c *Config) { c.Providers.Retries = -1 }, "providers.retries"},
		{"negative backoff", func(c *Config) { c.Providers.BackoffMs = -1 }, "providers.backoff_ms"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"pubsub queue missing names", func(c *Config) { c.Worker.Queue = BackendPubSub }, "pubsub.project_id"},
		{"unknown queue", func(c *Config) { c.Worker.Queue = "kafka" }, "worker.queue"},
		{"postgres missing dsn", func(c *Config) { c.Storage.Backend = BackendPostgres }, "db.dsn"},
		{"unknown store", func(c *Config) { c.Storage.Backend = "mysql" }, "storage.backend"},
		{"gcs missing bucket", func(c *Config) { c.Storage.Archive = BackendGCS }, "storage.gcs_bucket"},
		{"local missing dir", func(c *Config) { c.Storage.Archive = BackendLocal }, "storage.local_dir"},
		{"notify without project", func(c *Config) { c.PubSub.NotifyTopic = "t" }, "pubsub.project_id"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base
			tt.mod(&c)
			require.ErrorContains(t, c.Validate(), tt.want)
		})
	}
	require.NoError(t, base.Validate())
}
