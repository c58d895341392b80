// Package ratelimit implements the per-(provider, user) circuit described in
// spec.md §4.5: block pre-emptively once a provider has told us to back off,
// parse Retry-After on 429s, and apply exponential backoff on other
// failures. The backoff shape is grounded in the teacher's
// internal/workers.WebhookWorker retry loop; state persists in the KV store
// with an otter cache in front of it for hot keys.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maypok86/otter"

	"github.com/briefloop/ingestcore/internal/storage"
)

const (
	// defaultRetryAfterSeconds is used when a 429 carries no Retry-After header.
	defaultRetryAfterSeconds = 30

	// maxBackoff caps the exponential backoff applied to non-429 failures.
	maxBackoff = 300 * time.Second

	hotCacheTTL = 10 * time.Second
)

// RateLimited is raised by Fetch when a call is pre-emptively blocked or
// when the wrapped call itself returns a 429.
type RateLimited struct {
	Provider string
	UserID   string
	WaitFor  time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited for %s/%s: retry after %s", e.Provider, e.UserID, e.WaitFor)
}

// Limiter enforces the per-(provider, user) rate limit circuit.
type Limiter struct {
	kv  storage.KV
	hot otter.Cache[string, *storage.RateLimitState]
}

// NewLimiter builds a Limiter over the given KV store, with a bounded
// in-memory cache in front of it for hot keys (spec.md §4.5, §5).
func NewLimiter(kv storage.KV) (*Limiter, error) {
	hot, err := otter.MustBuilder[string, *storage.RateLimitState](4096).
		WithTTL(hotCacheTTL).
		Cost(func(_ string, _ *storage.RateLimitState) uint32 { return 1 }).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build rate limit hot cache: %w", err)
	}
	return &Limiter{kv: kv, hot: hot}, nil
}

// IsLimited reports whether (provider, user) is currently blocked, without
// invoking any call. Mirrors the pre-check Fetch performs internally so the
// scheduler can skip a user before attempting anything (spec.md §4.1.5a).
func (l *Limiter) IsLimited(ctx context.Context, provider, userID string) (bool, time.Duration, error) {
	state, err := l.read(ctx, provider, userID)
	if err != nil {
		return false, 0, err
	}

	now := time.Now()
	if state.IsLimited(now) {
		return true, state.RetryAfter.Sub(now), nil
	}
	return false, 0, nil
}

// Fetch runs fn under the rate limit circuit for (provider, user). If the
// circuit is currently open it returns a *RateLimited without calling fn. A
// successful fn clears the circuit; a failing fn updates backoff state and
// the original error is returned, wrapped in *RateLimited for 429s.
func (l *Limiter) Fetch(ctx context.Context, provider, userID string, fn func(ctx context.Context) error) error {
	state, err := l.read(ctx, provider, userID)
	if err != nil {
		return err
	}

	now := time.Now()
	if state.IsLimited(now) {
		return &RateLimited{Provider: provider, UserID: userID, WaitFor: state.RetryAfter.Sub(now)}
	}

	callErr := fn(ctx)
	if callErr == nil {
		return l.clear(ctx, provider, userID)
	}

	if waitSeconds, ok := classifyRateLimit(callErr); ok {
		state.ConsecutiveFailures++
		retryAt := now.Add(time.Duration(waitSeconds) * time.Second)
		state.RetryAfter = &retryAt
		state.LastRequest = &now

		ttl := time.Duration(waitSeconds)*time.Second + 60*time.Second
		if err := l.write(ctx, provider, userID, state, ttl); err != nil {
			return err
		}
		return &RateLimited{Provider: provider, UserID: userID, WaitFor: time.Duration(waitSeconds) * time.Second}
	}

	state.ConsecutiveFailures++
	state.LastRequest = &now
	backoff := backoffFor(state.ConsecutiveFailures)
	if err := l.write(ctx, provider, userID, state, backoff+60*time.Second); err != nil {
		return err
	}

	return callErr
}

// backoffFor computes the exponential backoff for the nth consecutive
// failure: min(2^n * 1000, 300000) ms plus jitter of 0-1000ms.
func backoffFor(consecutiveFailures int) time.Duration {
	base := time.Duration(1) << uint(consecutiveFailures) * time.Second
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := time.Duration(rand.Intn(1000)) * time.Millisecond
	return base + jitter
}

// classifyRateLimit reports whether err represents a rate-limit response and,
// if so, how many seconds the caller should wait. It recognizes a status-code
// carrying error (http.StatusTooManyRequests) as well as a bare message
// containing "429", "rate limit", or "too many requests" (spec.md §4.5).
func classifyRateLimit(err error) (int, bool) {
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) && statusErr.StatusCode() == http.StatusTooManyRequests {
		return retryAfterSeconds(err), true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") {
		return retryAfterSeconds(err), true
	}
	return 0, false
}

// retryAfterSeconds extracts a Retry-After value from err if it exposes one,
// covering both the seconds-integer and HTTP-date forms, and otherwise
// defaults to defaultRetryAfterSeconds.
func retryAfterSeconds(err error) int {
	var withHeader interface{ RetryAfterHeader() string }
	if !errors.As(err, &withHeader) {
		return defaultRetryAfterSeconds
	}

	raw := strings.TrimSpace(withHeader.RetryAfterHeader())
	if raw == "" {
		return defaultRetryAfterSeconds
	}

	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return seconds
	}

	if when, err := http.ParseTime(raw); err == nil {
		if wait := int(time.Until(when).Seconds()); wait > 0 {
			return wait
		}
	}

	return defaultRetryAfterSeconds
}

func (l *Limiter) read(ctx context.Context, provider, userID string) (*storage.RateLimitState, error) {
	key := storage.RateLimitKey(provider, userID)

	if cached, ok := l.hot.Get(key); ok {
		return cloneState(cached), nil
	}

	raw, err := l.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &storage.RateLimitState{Provider: provider, UserID: userID}, nil
		}
		return nil, fmt.Errorf("read rate limit state: %w", err)
	}

	state := &storage.RateLimitState{}
	if err := state.UnmarshalBinary([]byte(raw)); err != nil {
		return nil, err
	}
	l.hot.Set(key, state)
	return cloneState(state), nil
}

func (l *Limiter) write(ctx context.Context, provider, userID string, state *storage.RateLimitState, ttl time.Duration) error {
	key := storage.RateLimitKey(provider, userID)
	data, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	if err := l.kv.Set(ctx, key, string(data), ttl); err != nil {
		return fmt.Errorf("write rate limit state: %w", err)
	}
	l.hot.Set(key, state)
	return nil
}

func (l *Limiter) clear(ctx context.Context, provider, userID string) error {
	key := storage.RateLimitKey(provider, userID)
	if err := l.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("clear rate limit state: %w", err)
	}
	l.hot.Delete(key)
	return nil
}

func cloneState(s *storage.RateLimitState) *storage.RateLimitState {
	clone := *s
	return &clone
}
