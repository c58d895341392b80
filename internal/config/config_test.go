package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefloop/ingestcore/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name       string
		configYAML string
		envVars    map[string]string
		wantErr    bool
		validate   func(*testing.T, *config.Config)
	}{
		{
			name: "valid minimal config",
			configYAML: `
database:
  dsn: postgres://localhost/briefloop
redis:
  addresses:
    - localhost:6379
encryption:
  key: test-key
`,
			wantErr: false,
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 9090, cfg.Server.MetricsPort)
				assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addresses)
			},
		},
		{
			name: "complete config with all options",
			configYAML: `
server:
  metrics_port: 9191
database:
  dsn: postgres://localhost/briefloop
  max_open_conns: 20
redis:
  mode: sentinel
  addresses:
    - sentinel1:26379
    - sentinel2:26379
  master_name: mymaster
  password: secret
  db: 1
  pool_size: 20
scheduler:
  cron_schedule: "*/10 * * * *"
  batch_limit: 100
  user_concurrency: 16
providers:
  video:
    client_id: video-client
    client_secret: video-secret
    token_endpoint: https://oauth2.example.com/token
    quota_cap_units: 10000
    quota_timezone: America/Los_Angeles
encryption:
  key: test-key
observability:
  logging:
    level: debug
    format: console
  metrics:
    enabled: true
    path: /prometheus
`,
			wantErr: false,
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 9191, cfg.Server.MetricsPort)

				assert.Equal(t, "sentinel", cfg.Redis.Mode)
				assert.Equal(t, "mymaster", cfg.Redis.MasterName)
				assert.Equal(t, "secret", cfg.Redis.Password)
				assert.Equal(t, 1, cfg.Redis.DB)
				assert.Equal(t, 20, cfg.Redis.PoolSize)

				assert.Equal(t, "*/10 * * * *", cfg.Scheduler.CronSchedule)
				assert.Equal(t, 100, cfg.Scheduler.BatchLimit)
				assert.Equal(t, 16, cfg.Scheduler.UserConcurrency)

				require.Contains(t, cfg.Providers, "video")
				assert.Equal(t, "video-client", cfg.Providers["video"].ClientID)
				assert.Equal(t, 10000, cfg.Providers["video"].QuotaCapUnits)

				assert.Equal(t, "debug", cfg.Observability.Logging.Level)
				assert.Equal(t, "console", cfg.Observability.Logging.Format)
				assert.True(t, cfg.Observability.Metrics.Enabled)
				assert.Equal(t, "/prometheus", cfg.Observability.Metrics.Path)
			},
		},
		{
			name: "environment variable override",
			configYAML: `
database:
  dsn: postgres://localhost/briefloop
redis:
  addresses:
    - localhost:6379
encryption:
  key: test-key
`,
			envVars: map[string]string{
				"BRIEFLOOP_SERVER_METRICS_PORT":        "9999",
				"BRIEFLOOP_OBSERVABILITY_LOGGING_LEVEL": "debug",
				"BRIEFLOOP_REDIS_MODE":                  "cluster",
			},
			wantErr: false,
			validate: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				assert.Equal(t, 9999, cfg.Server.MetricsPort)
				assert.Equal(t, "debug", cfg.Observability.Logging.Level)
				assert.Equal(t, "cluster", cfg.Redis.Mode)
			},
		},
		{
			name: "invalid yaml",
			configYAML: `
server:
  metrics_port: not_a_number
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0600)
			require.NoError(t, err)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := config.Load(configPath)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestLoadWithoutConfigFile(t *testing.T) {
	t.Setenv("BRIEFLOOP_SERVER_METRICS_PORT", "8081")
	t.Setenv("BRIEFLOOP_REDIS_ADDRESSES", "redis:6379")

	cfg, err := config.Load("/nonexistent/config.yaml")

	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8081, cfg.Server.MetricsPort)
}

func validBaseConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{MetricsPort: 9090},
		Database: config.DatabaseConfig{DSN: "postgres://localhost/briefloop", MaxOpenConns: 10},
		Redis: config.RedisConfig{
			Mode:      "standalone",
			Addresses: []string{"localhost:6379"},
			DB:        0,
		},
		Scheduler: config.SchedulerConfig{
			CronSchedule:    "*/5 * * * *",
			BatchLimit:      50,
			UserConcurrency: 8,
			LockTTL:         4 * time.Minute,
		},
		Providers: map[string]config.ProviderConfig{
			"video": {
				ClientID:      "client",
				TokenEndpoint: "https://oauth2.example.com/token",
				QuotaCapUnits: 10000,
				QuotaTimezone: "America/Los_Angeles",
			},
		},
		Encryption: config.EncryptionConfig{Key: "k"},
		Observability: config.ObservabilityConfig{
			Logging: config.LoggingConfig{Level: "info", Format: "json"},
			Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "invalid metrics port - too low",
			mutate:  func(c *config.Config) { c.Server.MetricsPort = 0 },
			wantErr: true,
			errMsg:  "invalid server metrics_port",
		},
		{
			name:    "invalid metrics port - too high",
			mutate:  func(c *config.Config) { c.Server.MetricsPort = 70000 },
			wantErr: true,
			errMsg:  "invalid server metrics_port",
		},
		{
			name:    "missing database dsn",
			mutate:  func(c *config.Config) { c.Database.DSN = "" },
			wantErr: true,
			errMsg:  "database dsn is required",
		},
		{
			name:    "invalid redis mode",
			mutate:  func(c *config.Config) { c.Redis.Mode = "invalid" },
			wantErr: true,
			errMsg:  "invalid redis mode",
		},
		{
			name:    "empty redis addresses",
			mutate:  func(c *config.Config) { c.Redis.Addresses = nil },
			wantErr: true,
			errMsg:  "redis addresses cannot be empty",
		},
		{
			name: "sentinel mode without master name",
			mutate: func(c *config.Config) {
				c.Redis.Mode = "sentinel"
				c.Redis.MasterName = ""
			},
			wantErr: true,
			errMsg:  "master_name is required for sentinel mode",
		},
		{
			name:    "invalid redis db",
			mutate:  func(c *config.Config) { c.Redis.DB = 20 },
			wantErr: true,
			errMsg:  "invalid redis db",
		},
		{
			name:    "invalid scheduler batch limit",
			mutate:  func(c *config.Config) { c.Scheduler.BatchLimit = 0 },
			wantErr: true,
			errMsg:  "invalid scheduler batch_limit",
		},
		{
			name:    "invalid scheduler user concurrency",
			mutate:  func(c *config.Config) { c.Scheduler.UserConcurrency = 0 },
			wantErr: true,
			errMsg:  "invalid scheduler user_concurrency",
		},
		{
			name: "provider missing client id",
			mutate: func(c *config.Config) {
				c.Providers["video"] = config.ProviderConfig{QuotaCapUnits: 1, QuotaTimezone: "UTC"}
			},
			wantErr: true,
			errMsg:  "client_id is required",
		},
		{
			name: "provider missing token endpoint",
			mutate: func(c *config.Config) {
				c.Providers["video"] = config.ProviderConfig{
					ClientID: "c", QuotaCapUnits: 1, QuotaTimezone: "UTC",
				}
			},
			wantErr: true,
			errMsg:  "token_endpoint is required",
		},
		{
			name: "provider invalid quota timezone",
			mutate: func(c *config.Config) {
				c.Providers["video"] = config.ProviderConfig{
					ClientID: "c", TokenEndpoint: "https://oauth2.example.com/token",
					QuotaCapUnits: 1, QuotaTimezone: "Not/ARealZone",
				}
			},
			wantErr: true,
			errMsg:  "invalid quota_timezone",
		},
		{
			name:    "missing encryption key",
			mutate:  func(c *config.Config) { c.Encryption.Key = "" },
			wantErr: true,
			errMsg:  "encryption key is required",
		},
		{
			name:    "invalid logging level",
			mutate:  func(c *config.Config) { c.Observability.Logging.Level = "invalid" },
			wantErr: true,
			errMsg:  "invalid logging level",
		},
		{
			name:    "invalid logging format",
			mutate:  func(c *config.Config) { c.Observability.Logging.Format = "xml" },
			wantErr: true,
			errMsg:  "invalid logging format",
		},
		{
			name: "metrics enabled without path",
			mutate: func(c *config.Config) {
				c.Observability.Metrics.Enabled = true
				c.Observability.Metrics.Path = ""
			},
			wantErr: true,
			errMsg:  "metrics path cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				if tt.errMsg != "" {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSetDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	minimalConfig := `
database:
  dsn: postgres://localhost/briefloop
redis:
  addresses:
    - localhost:6379
encryption:
  key: test-key
`
	require.NoError(t, os.WriteFile(configPath, []byte(minimalConfig), 0600))

	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.MetricsPort)

	assert.Equal(t, "standalone", cfg.Redis.Mode)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 5, cfg.Redis.MinIdleConns)

	assert.Equal(t, "*/5 * * * *", cfg.Scheduler.CronSchedule)
	assert.Equal(t, 50, cfg.Scheduler.BatchLimit)
	assert.Equal(t, 10, cfg.Scheduler.UserConcurrency)

	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "json", cfg.Observability.Logging.Format)
	assert.True(t, cfg.Observability.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Observability.Metrics.Path)
}
