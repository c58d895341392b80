package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefloop/ingestcore/internal/lock"
	"github.com/briefloop/ingestcore/internal/storage"
)

func TestTryAcquireSucceedsOnce(t *testing.T) {
	kv := storage.NewMemoryKV()
	svc := lock.NewService(kv)
	ctx := context.Background()

	acquired, err := svc.TryAcquire(ctx, "cron:poll-subscriptions:lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = svc.TryAcquire(ctx, "cron:poll-subscriptions:lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "second acquire must fail while the lock is held")
}

func TestReleaseThenReacquire(t *testing.T) {
	kv := storage.NewMemoryKV()
	svc := lock.NewService(kv)
	ctx := context.Background()

	_, err := svc.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, svc.Release(ctx, "k"))

	acquired, err := svc.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestWithLockRunsFnAndReleases(t *testing.T) {
	kv := storage.NewMemoryKV()
	svc := lock.NewService(kv)
	ctx := context.Background()

	ran := false
	err := svc.WithLock(ctx, "k", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	acquired, err := svc.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "WithLock must release even on success")
}

func TestWithLockReleasesOnFnError(t *testing.T) {
	kv := storage.NewMemoryKV()
	svc := lock.NewService(kv)
	ctx := context.Background()

	fnErr := errors.New("boom")
	err := svc.WithLock(ctx, "k", time.Minute, func(ctx context.Context) error {
		return fnErr
	})
	assert.ErrorIs(t, err, fnErr)

	acquired, acqErr := svc.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, acqErr)
	assert.True(t, acquired, "WithLock must release even on fn error")
}

func TestWithLockUnavailable(t *testing.T) {
	kv := storage.NewMemoryKV()
	svc := lock.NewService(kv)
	ctx := context.Background()

	_, err := svc.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	called := false
	err = svc.WithLock(ctx, "k", time.Minute, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, lock.ErrLockUnavailable)
	assert.False(t, called, "fn must not run when the lock is unavailable")
}

func TestTryAcquireAfterTTLExpiry(t *testing.T) {
	kv := storage.NewMemoryKV()
	svc := lock.NewService(kv)
	ctx := context.Background()

	acquired, err := svc.TryAcquire(ctx, "k", 20*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)

	time.Sleep(40 * time.Millisecond)

	acquired, err = svc.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "an expired lock must be reacquirable")
}
