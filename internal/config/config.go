// Package config provides configuration management for the ingestion scheduler.
// It loads configuration from YAML files and environment variables using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration for the ingestion scheduler.
//
// Configuration can be loaded from:
//   - YAML file (config/config.yaml)
//   - Environment variables (prefixed with BRIEFLOOP_)
//
// Example:
//
//	cfg, err := config.Load("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Server        ServerConfig              `mapstructure:"server"`
	Database      DatabaseConfig            `mapstructure:"database"`
	Redis         RedisConfig               `mapstructure:"redis"`
	Scheduler     SchedulerConfig           `mapstructure:"scheduler"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Encryption    EncryptionConfig          `mapstructure:"encryption"`
	Observability ObservabilityConfig       `mapstructure:"observability"`
}

// ServerConfig contains the admin/metrics listener configuration.
type ServerConfig struct {
	// MetricsPort is the port the Prometheus /metrics endpoint listens on.
	MetricsPort int `mapstructure:"metrics_port"`

	// ShutdownTimeout bounds how long a graceful shutdown waits for an
	// in-flight poll cycle to finish.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains the relational store connection settings.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn"`

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig contains Redis client and cluster configuration for the
// lock/quota/rate-limit KV substrate.
type RedisConfig struct {
	// Mode specifies Redis deployment mode: "standalone", "sentinel", "cluster"
	Mode string `mapstructure:"mode"`

	// Addresses contains Redis server addresses
	// For standalone: ["localhost:6379"]
	// For sentinel: ["sentinel1:26379", "sentinel2:26379"]
	// For cluster: ["node1:6379", "node2:6379", ...]
	Addresses []string `mapstructure:"addresses"`

	// MasterName is required for Sentinel mode (e.g., "mymaster")
	MasterName string `mapstructure:"master_name"`

	// Password for Redis authentication (optional)
	Password string `mapstructure:"password"`

	// DB is the Redis database number (0-15, only for standalone/sentinel)
	DB int `mapstructure:"db"`

	// PoolSize is the maximum number of socket connections
	PoolSize int `mapstructure:"pool_size"`

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int `mapstructure:"min_idle_conns"`

	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int `mapstructure:"max_retries"`

	// DialTimeout is the timeout for establishing new connections
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// ReadTimeout is the timeout for socket reads
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the timeout for socket writes
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// PoolTimeout is the timeout when all connections are busy
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`

	// EnableTLS enables TLS for Redis connections
	EnableTLS bool `mapstructure:"enable_tls"`

	// TLSInsecureSkipVerify skips TLS certificate verification (use only for testing)
	TLSInsecureSkipVerify bool `mapstructure:"tls_insecure_skip_verify"`
}

// SchedulerConfig contains poll-cycle scheduling and concurrency settings.
type SchedulerConfig struct {
	// CronSchedule is the robfig/cron expression driving PollCycle invocations.
	CronSchedule string `mapstructure:"cron_schedule"`

	// BatchLimit is the number of due subscriptions selected per cycle (spec's B).
	BatchLimit int `mapstructure:"batch_limit"`

	// UserConcurrency bounds how many users are processed concurrently within a
	// single provider's share of a cycle.
	UserConcurrency int `mapstructure:"user_concurrency"`

	// LockTTL is the TTL applied to the cycle-wide scheduler lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`

	// CycleGracePeriod is added to LockTTL when deriving the cycle context deadline.
	CycleGracePeriod time.Duration `mapstructure:"cycle_grace_period"`
}

// ProviderConfig contains per-provider OAuth and quota configuration.
type ProviderConfig struct {
	// ClientID is the OAuth2 client ID registered with the provider.
	ClientID string `mapstructure:"client_id"`

	// ClientSecret is the OAuth2 client secret.
	ClientSecret string `mapstructure:"client_secret"`

	// TokenEndpoint is the provider's OAuth2 token refresh endpoint.
	TokenEndpoint string `mapstructure:"token_endpoint"`

	// QuotaCapUnits is the daily quota ceiling in provider-defined units.
	QuotaCapUnits int `mapstructure:"quota_cap_units"`

	// QuotaTimezone is the IANA timezone the provider resets its daily quota in.
	QuotaTimezone string `mapstructure:"quota_timezone"`
}

// EncryptionConfig contains the key used to seal OAuth tokens at rest.
type EncryptionConfig struct {
	// Key is the base64-encoded AES-256 key used by internal/crypto.
	Key string `mapstructure:"key"`
}

// ObservabilityConfig contains logging and metrics configuration.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level sets the log level ("debug", "info", "warn", "error", "fatal")
	Level string `mapstructure:"level"`

	// Format sets the log format ("json", "console")
	Format string `mapstructure:"format"`

	// OutputPaths is a list of output destinations (e.g., ["stdout", "/var/log/app.log"])
	OutputPaths []string `mapstructure:"output_paths"`

	// ErrorOutputPaths is a list of error output destinations
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`

	// EnableCaller adds caller information to log entries
	EnableCaller bool `mapstructure:"enable_caller"`

	// EnableStacktrace adds stacktrace on errors
	EnableStacktrace bool `mapstructure:"enable_stacktrace"`

	// Development enables development mode (more verbose, console format)
	Development bool `mapstructure:"development"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled enables Prometheus metrics collection
	Enabled bool `mapstructure:"enabled"`

	// Path is the HTTP path for the metrics endpoint (default: "/metrics")
	Path string `mapstructure:"path"`

	// Namespace is the Prometheus metrics namespace
	Namespace string `mapstructure:"namespace"`
}

// Load loads configuration from the specified file path and environment variables.
// Environment variables override file values and should be prefixed with BRIEFLOOP_
// (e.g., BRIEFLOOP_SCHEDULER_BATCH_LIMIT=50).
//
// Returns an error if the configuration file cannot be read or parsed.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/briefloop")
	}

	v.SetEnvPrefix("BRIEFLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_timeout", "4s")
	v.SetDefault("redis.enable_tls", false)
	v.SetDefault("redis.tls_insecure_skip_verify", false)

	v.SetDefault("scheduler.cron_schedule", "*/5 * * * *")
	v.SetDefault("scheduler.batch_limit", 50)
	v.SetDefault("scheduler.user_concurrency", 10)
	v.SetDefault("scheduler.lock_ttl", "15m")
	v.SetDefault("scheduler.cycle_grace_period", "30s")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output_paths", []string{"stdout"})
	v.SetDefault("observability.logging.error_output_paths", []string{"stderr"})
	v.SetDefault("observability.logging.enable_caller", true)
	v.SetDefault("observability.logging.enable_stacktrace", false)
	v.SetDefault("observability.logging.development", false)

	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.metrics.namespace", "briefloop")
}

// Validate validates the configuration and returns an error if any values are invalid.
// This should be called after Load() to ensure the configuration is valid before use.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if err := c.validateScheduler(); err != nil {
		return err
	}

	if err := c.validateProviders(); err != nil {
		return err
	}

	if err := c.validateEncryption(); err != nil {
		return err
	}

	if err := c.validateObservability(); err != nil {
		return err
	}

	return nil
}

// validateServer validates the server configuration.
func (c *Config) validateServer() error {
	if c.Server.MetricsPort < 1 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid server metrics_port: %d (must be 1-65535)", c.Server.MetricsPort)
	}
	return nil
}

// validateDatabase validates the relational store configuration.
func (c *Config) validateDatabase() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("invalid database max_open_conns: %d (must be > 0)", c.Database.MaxOpenConns)
	}
	return nil
}

// validateRedis validates the Redis configuration.
func (c *Config) validateRedis() error {
	if c.Redis.Mode != "standalone" && c.Redis.Mode != "sentinel" && c.Redis.Mode != "cluster" {
		return fmt.Errorf("invalid redis mode: %s (must be standalone, sentinel, or cluster)", c.Redis.Mode)
	}

	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("redis addresses cannot be empty")
	}

	if c.Redis.Mode == "sentinel" && c.Redis.MasterName == "" {
		return fmt.Errorf("redis master_name is required for sentinel mode")
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return fmt.Errorf("invalid redis db: %d (must be 0-15)", c.Redis.DB)
	}

	return nil
}

// validateScheduler validates the scheduler configuration.
func (c *Config) validateScheduler() error {
	if c.Scheduler.CronSchedule == "" {
		return fmt.Errorf("scheduler cron_schedule is required")
	}
	if c.Scheduler.BatchLimit < 1 {
		return fmt.Errorf("invalid scheduler batch_limit: %d (must be > 0)", c.Scheduler.BatchLimit)
	}
	if c.Scheduler.UserConcurrency < 1 {
		return fmt.Errorf("invalid scheduler user_concurrency: %d (must be > 0)", c.Scheduler.UserConcurrency)
	}
	if c.Scheduler.LockTTL <= 0 {
		return fmt.Errorf("invalid scheduler lock_ttl: %s (must be > 0)", c.Scheduler.LockTTL)
	}
	return nil
}

// validateProviders validates the per-provider configuration block.
func (c *Config) validateProviders() error {
	for name, p := range c.Providers {
		if p.ClientID == "" {
			return fmt.Errorf("provider %s: client_id is required", name)
		}
		if p.TokenEndpoint == "" {
			return fmt.Errorf("provider %s: token_endpoint is required", name)
		}
		if p.QuotaCapUnits < 1 {
			return fmt.Errorf("provider %s: invalid quota_cap_units: %d (must be > 0)", name, p.QuotaCapUnits)
		}
		if p.QuotaTimezone == "" {
			return fmt.Errorf("provider %s: quota_timezone is required", name)
		}
		if _, err := time.LoadLocation(p.QuotaTimezone); err != nil {
			return fmt.Errorf("provider %s: invalid quota_timezone %q: %w", name, p.QuotaTimezone, err)
		}
	}
	return nil
}

// validateEncryption validates the token-encryption configuration.
func (c *Config) validateEncryption() error {
	if c.Encryption.Key == "" {
		return fmt.Errorf("encryption key is required")
	}
	return nil
}

// validateObservability validates the observability configuration.
func (c *Config) validateObservability() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	return c.validateMetrics()
}

// validateLogging validates the logging configuration.
func (c *Config) validateLogging() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Observability.Logging.Level)
	}

	if c.Observability.Logging.Format != "json" && c.Observability.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %s (must be json or console)", c.Observability.Logging.Format)
	}

	return nil
}

// validateMetrics validates the metrics configuration.
func (c *Config) validateMetrics() error {
	if !c.Observability.Metrics.Enabled {
		return nil
	}

	if c.Observability.Metrics.Path == "" {
		return fmt.Errorf("metrics path cannot be empty when metrics are enabled")
	}

	return nil
}
