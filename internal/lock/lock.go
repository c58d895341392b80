// Package lock implements the best-effort distributed mutex described in
// spec.md §4.2: a TTL'd key-value entry that callers race to create. The
// underlying store is eventually consistent, so two racing callers may both
// succeed in a narrow window; callers must tolerate this via idempotent
// writes (token refresh, cron cycles, and ingestion all are).
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/briefloop/ingestcore/internal/storage"
)

// ErrLockUnavailable is raised by WithLock when the lock could not be
// acquired. Per spec.md §7, this is not treated as an error at the scheduler
// layer — a cycle that cannot acquire the cron lock simply reports "skipped".
var ErrLockUnavailable = errors.New("lock_unavailable")

// lockValue is written to the KV entry; it is never inspected by callers,
// only its presence (or absence) matters.
func lockValue(now time.Time) string {
	return now.UTC().Format(time.RFC3339Nano)
}

// Service wraps a KV store to provide tryAcquire/release/withLock.
type Service struct {
	kv storage.KV
}

// NewService builds a lock Service over the given KV store.
func NewService(kv storage.KV) *Service {
	return &Service{kv: kv}
}

// TryAcquire attempts to create key with the given TTL. It returns true iff
// no value was already present. The TTL always bounds the lock's lifetime so
// an abandoned lock auto-expires (spec.md §4.2).
func (s *Service) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.kv.SetNX(ctx, key, lockValue(time.Now()), ttl)
	if err != nil {
		return false, fmt.Errorf("lock tryAcquire %s: %w", key, err)
	}
	return ok, nil
}

// Release unconditionally deletes key.
func (s *Service) Release(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("lock release %s: %w", key, err)
	}
	return nil
}

// WithLock acquires key, runs fn, and releases the lock in a guaranteed-
// release scope regardless of fn's outcome. If the lock cannot be acquired,
// WithLock returns ErrLockUnavailable without invoking fn.
func (s *Service) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	acquired, err := s.TryAcquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrLockUnavailable
	}

	defer func() {
		_ = s.Release(ctx, key)
	}()

	return fn(ctx)
}
