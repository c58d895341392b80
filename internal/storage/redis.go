package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/briefloop/ingestcore/internal/config"
)

// KV is the shared substrate for locks, quota counters, rate-limit state,
// and provider side caches (spec.md §5, "Shared resource policy"). Writes
// are per-key and last-writer-wins; callers needing atomicity (the lock
// service) rely on SetNX specifically, not on the interface as a whole.
type KV interface {
	// SetNX sets key to value with the given TTL only if key does not already
	// exist, returning true iff the set took effect. This is the primitive
	// behind the lock service's tryAcquire.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Set unconditionally writes key to value with the given TTL (0 = no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Get reads key. Returns ErrNotFound if the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Delete unconditionally removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying connection pool.
	Close() error

	// Ping checks connectivity to Redis. Returns ErrStorageUnavailable on failure.
	Ping(ctx context.Context) error
}

// KV key prefixes, reproduced verbatim from the persisted-state table.
const (
	CronLockKeyPrefix    = "cron:"
	TokenRefreshKeyPrefix = "token:refresh:"
	QuotaKeyPrefix       = "quota:"
	RateLimitKeyPrefix   = "rate:"

	// CronPollSubscriptionsLockKey is the scheduler's single cycle-wide lock.
	CronPollSubscriptionsLockKey = CronLockKeyPrefix + "poll-subscriptions:lock"

	CronLockTTL  = 15 * time.Minute
	TokenLockTTL = 60 * time.Second
	QuotaTTL     = 48 * time.Hour
)

// RedisKV implements KV using go-redis/v9, supporting standalone, Sentinel,
// and cluster deployment modes per internal/config.RedisConfig.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV builds a RedisKV from the loaded configuration, selecting the
// appropriate go-redis client constructor for the configured deployment mode.
func NewRedisKV(cfg config.RedisConfig) *RedisKV {
	var tlsConfig *tls.Config
	if cfg.EnableTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkipVerify} //nolint:gosec
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case "sentinel":
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addresses,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolTimeout:   cfg.PoolTimeout,
			TLSConfig:     tlsConfig,
		})
	case "cluster":
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolTimeout:  cfg.PoolTimeout,
			TLSConfig:    tlsConfig,
		})
	default:
		addr := "localhost:6379"
		if len(cfg.Addresses) > 0 {
			addr = cfg.Addresses[0]
		}
		client = redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolTimeout:  cfg.PoolTimeout,
			TLSConfig:    tlsConfig,
		})
	}

	return &RedisKV{client: client}
}

// NewRedisKVFromClient wraps an already-constructed client, used by tests
// against miniredis or a real UniversalClient.
func NewRedisKVFromClient(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// SetNX implements KV.SetNX via Redis's atomic SET key value NX PX ttl.
func (r *RedisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kv setnx %s: %w", key, err)
	}
	return ok, nil
}

// Set implements KV.Set.
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// Get implements KV.Get.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, nil
}

// Delete implements KV.Delete.
func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// Client returns the underlying go-redis client.
func (r *RedisKV) Client() redis.UniversalClient {
	return r.client
}

// Close implements KV.Close.
func (r *RedisKV) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

// Ping implements KV.Ping.
func (r *RedisKV) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// CronLockKey builds the lock key for a named cron job, e.g.
// "cron:poll-subscriptions:lock".
func CronLockKey(job string) string {
	return CronLockKeyPrefix + job + ":lock"
}

// TokenRefreshLockKey builds the per-connection refresh lock key.
func TokenRefreshLockKey(connectionID string) string {
	return TokenRefreshKeyPrefix + connectionID
}

// QuotaKey builds the per-provider per-day quota counter key.
func QuotaKey(provider, providerDate string) string {
	return QuotaKeyPrefix + provider + ":" + providerDate
}

// RateLimitKey builds the per-(provider, user) rate limit state key.
func RateLimitKey(provider, userID string) string {
	return RateLimitKeyPrefix + provider + ":" + userID
}
