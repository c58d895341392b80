// Package scheduler implements the cron-driven poll cycle described in
// spec.md §4.1: select due subscriptions, fan out by provider and user under
// bounded concurrency, invoke each provider adapter, and hand ready items to
// internal/ingest. Concurrency is modeled with golang.org/x/sync/errgroup
// (per-provider fan-out) and golang.org/x/sync/semaphore (per-user bound
// within a provider), matching the teacher's preference for the
// golang.org/x/sync primitives over a hand-rolled worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/lock"
	"github.com/briefloop/ingestcore/internal/observability"
	"github.com/briefloop/ingestcore/internal/provider"
	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/storage"
	"github.com/briefloop/ingestcore/internal/token"
)

// Config holds the scheduler's per-cycle tuning, sourced from
// internal/config.SchedulerConfig.
type Config struct {
	// BatchLimit is the number of due subscriptions selected per cycle
	// (spec's B, default 50).
	BatchLimit int

	// UserConcurrency bounds how many users are processed concurrently
	// within a single provider (spec's USER_PROCESSING_CONCURRENCY).
	UserConcurrency int

	// LockTTL is the TTL applied to the cycle-wide cron lock.
	LockTTL time.Duration

	// CycleGracePeriod extends the cycle's context deadline past LockTTL so
	// an in-flight fetch isn't cut off right at the lock boundary.
	CycleGracePeriod time.Duration
}

// ProviderStats accumulates one provider's outcome for a cycle.
type ProviderStats struct {
	Processed int
	NewItems  int
	Skipped   int
	Errors    int
}

// CycleResult is what PollCycle returns: the aggregated outcome of one poll
// cycle, whether or not it actually ran (a skipped cycle reports zeroes).
type CycleResult struct {
	Processed  int
	NewItems   int
	Skipped    int
	DurationMs int64
	ByProvider map[string]*ProviderStats

	lockSkipped bool
}

// LockSkipped reports whether this cycle did not run because the cron lock
// was already held by another worker.
func (r CycleResult) LockSkipped() bool { return r.lockSkipped }

func newCycleResult() *CycleResult {
	return &CycleResult{ByProvider: make(map[string]*ProviderStats)}
}

func (r *CycleResult) statsFor(p string) *ProviderStats {
	st, ok := r.ByProvider[p]
	if !ok {
		st = &ProviderStats{}
		r.ByProvider[p] = st
	}
	return st
}

// Scheduler runs poll cycles across every registered provider adapter.
type Scheduler struct {
	store    storage.RelationalStore
	locks    *lock.Service
	limiter  *ratelimit.Limiter
	pipeline *ingest.Pipeline
	adapters map[provider.Tag]provider.Adapter
	metrics  *observability.Metrics
	logger   *observability.Logger
	cfg      Config
}

// New builds a Scheduler. adapters must be keyed by the same Tag each
// adapter's own Provider() method returns.
func New(
	store storage.RelationalStore,
	locks *lock.Service,
	limiter *ratelimit.Limiter,
	pipeline *ingest.Pipeline,
	adapters map[provider.Tag]provider.Adapter,
	metrics *observability.Metrics,
	logger *observability.Logger,
	cfg Config,
) *Scheduler {
	return &Scheduler{
		store:    store,
		locks:    locks,
		limiter:  limiter,
		pipeline: pipeline,
		adapters: adapters,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// PollCycle runs one poll cycle: acquiring the cron lock, selecting due
// subscriptions, and driving them through their provider adapters. If the
// lock is already held, PollCycle returns a zero-valued result with
// LockSkipped() true and a nil error — a busy lock is not a failure
// (spec.md §4.1 step 1).
func (s *Scheduler) PollCycle(ctx context.Context, now time.Time) (CycleResult, error) {
	start := time.Now()
	cycleID := uuid.NewString()
	ctx = observability.ContextWithCycleID(ctx, cycleID)

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL+s.cfg.CycleGracePeriod)
	defer cancel()

	result := newCycleResult()

	err := s.locks.WithLock(cycleCtx, storage.CronPollSubscriptionsLockKey, s.cfg.LockTTL, func(lockedCtx context.Context) error {
		return s.runCycle(lockedCtx, now, result)
	})
	duration := time.Since(start)
	result.DurationMs = duration.Milliseconds()

	if errors.Is(err, lock.ErrLockUnavailable) {
		result.lockSkipped = true
		s.metrics.RecordCycle("skipped", duration)
		s.logger.Info("poll cycle skipped: lock held", zap.String("cycleID", cycleID))
		return *result, nil
	}
	if err != nil {
		s.metrics.RecordCycle("error", duration)
		s.logger.LogCycle(cycleID, result.Processed, result.NewItems, totalErrors(result), err)
		return *result, err
	}

	s.metrics.RecordCycle("success", duration)
	s.logger.LogCycle(cycleID, result.Processed, result.NewItems, totalErrors(result), nil)
	return *result, nil
}

func totalErrors(r *CycleResult) int {
	total := 0
	for _, st := range r.ByProvider {
		total += st.Errors
	}
	return total
}

func (s *Scheduler) runCycle(ctx context.Context, now time.Time, result *CycleResult) error {
	subs, err := s.store.ListDueSubscriptions(ctx, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("list due subscriptions: %w", err)
	}

	byProvider := make(map[provider.Tag][]*storage.Subscription)
	for _, sub := range subs {
		tag := provider.Tag(sub.Provider)
		byProvider[tag] = append(byProvider[tag], sub)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for tag, providerSubs := range byProvider {
		tag, providerSubs := tag, providerSubs
		g.Go(func() error {
			s.processProvider(gctx, tag, providerSubs, now, result, &mu)
			return nil
		})
	}

	return g.Wait()
}

// processProvider fans out a provider's due subscriptions by user, bounded
// by UserConcurrency. Per-subscription and per-user failures are recorded
// and never abort the rest of the cycle (spec.md §7: isolate failures to
// the subscription that caused them).
func (s *Scheduler) processProvider(ctx context.Context, tag provider.Tag, subs []*storage.Subscription, now time.Time, result *CycleResult, mu *sync.Mutex) {
	adapter, ok := s.adapters[tag]
	if !ok {
		s.logger.Error("no adapter registered for provider", zap.String("provider", string(tag)))
		return
	}

	byUser := make(map[string][]*storage.Subscription)
	for _, sub := range subs {
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}

	sem := semaphore.NewWeighted(int64(s.cfg.UserConcurrency))
	var wg sync.WaitGroup

	for userID, userSubs := range byUser {
		userID, userSubs := userID, userSubs
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()
			s.processUser(ctx, tag, adapter, userID, userSubs, now, result, mu)
		}()
	}

	wg.Wait()
}

// processUser handles every due subscription one user holds for one
// provider: the rate-limit pre-check, connection lookup and client
// construction, batch-or-single polling, and ingestion of the resulting
// items.
func (s *Scheduler) processUser(ctx context.Context, tag provider.Tag, adapter provider.Adapter, userID string, subs []*storage.Subscription, now time.Time, result *CycleResult, mu *sync.Mutex) {
	providerName := string(tag)
	ctx = observability.ContextWithUserID(ctx, userID)

	if limited, wait, err := s.limiter.IsLimited(ctx, providerName, userID); err == nil && limited {
		s.metrics.RecordRateLimitHit(providerName, wait)
		mu.Lock()
		result.Skipped += len(subs)
		result.statsFor(providerName).Skipped += len(subs)
		mu.Unlock()
		return
	}

	client, err := s.buildClient(ctx, tag, adapter, userID)
	if err != nil {
		s.logger.WithError(err).Error("failed to build provider client",
			zap.String("provider", providerName), zap.String("userID", userID))

		if errors.Is(err, storage.ErrConnectionNotFound) || errors.Is(err, token.ErrRefreshFailedPermanent) {
			if dcErr := s.store.MarkSubscriptionsDisconnected(ctx, userID, providerName); dcErr != nil {
				s.logger.WithError(dcErr).Error("failed to mark subscriptions disconnected",
					zap.String("provider", providerName), zap.String("userID", userID))
			}
		}

		s.advanceAllOnError(ctx, subs, now, err, result, mu, providerName)
		return
	}

	results := s.pollSubscriptions(ctx, tag, adapter, subs, client)

	for _, sub := range subs {
		outcome, ok := results[sub.ID]
		if !ok || outcome.err != nil {
			errMsg := "poll failed"
			if ok && outcome.err != nil {
				errMsg = outcome.err.Error()
			}
			if err := s.store.AdvanceSubscriptionPollOnError(ctx, sub.ID, now, errMsg); err != nil {
				s.logger.WithError(err).Error("failed to advance subscription after poll error", zap.String("subscriptionID", sub.ID))
			}
			mu.Lock()
			st := result.statsFor(providerName)
			st.Processed++
			st.Errors++
			result.Processed++
			mu.Unlock()
			continue
		}

		s.applyPollResult(ctx, providerName, sub, outcome.result, now, result, mu)
	}
}

// buildClient resolves the OAuth-backed connection (skipped for providers
// with no OAuth surface, e.g. web feeds) and asks the adapter for a client.
func (s *Scheduler) buildClient(ctx context.Context, tag provider.Tag, adapter provider.Adapter, userID string) (any, error) {
	if tag == provider.TagWebFeed {
		return adapter.GetClient(ctx, nil)
	}

	conn, err := s.store.GetActiveConnection(ctx, userID, string(tag))
	if err != nil {
		return nil, fmt.Errorf("get active connection: %w", err)
	}
	return adapter.GetClient(ctx, conn)
}

type pollOutcome struct {
	result *provider.PollResult
	err    error
}

// pollSubscriptions runs subs through adapter, preferring a single batch
// call when the adapter supports it and there's more than one due
// subscription; a batch failure falls back to per-subscription polling so
// one bad subscription in the group can't sink the rest (spec.md §7).
func (s *Scheduler) pollSubscriptions(ctx context.Context, tag provider.Tag, adapter provider.Adapter, subs []*storage.Subscription, client any) map[string]pollOutcome {
	outcomes := make(map[string]pollOutcome, len(subs))

	if bp, ok := adapter.(provider.BatchPoller); ok && len(subs) >= 2 {
		start := time.Now()
		batchResults, err := bp.PollBatch(ctx, subs, client)
		s.metrics.RecordAdapterOperation(string(tag), "pollBatch", time.Since(start), err)
		if err == nil {
			for _, sub := range subs {
				outcomes[sub.ID] = pollOutcome{result: batchResults[sub.ID]}
			}
			return outcomes
		}
		s.logger.WithError(err).Warn("batch poll failed, falling back to per-subscription polling",
			zap.String("provider", string(tag)))
	}

	for _, sub := range subs {
		start := time.Now()
		result, err := adapter.PollOne(ctx, sub, client)
		s.metrics.RecordAdapterOperation(string(tag), "pollOne", time.Since(start), err)
		outcomes[sub.ID] = pollOutcome{result: result, err: err}
	}

	return outcomes
}

// applyPollResult ingests a successful poll's items and advances the
// subscription's watermark, special-casing the newsletter provider's
// upgrade-in-place rule via the optional provider.URLFallbackDetector
// interface.
func (s *Scheduler) applyPollResult(ctx context.Context, providerName string, sub *storage.Subscription, pr *provider.PollResult, now time.Time, result *CycleResult, mu *sync.Mutex) {
	var upgrade *ingest.URLUpgrade
	if detector, ok := s.adapters[provider.Tag(providerName)].(provider.URLFallbackDetector); ok {
		upgrade = &ingest.URLUpgrade{IsFallback: detector.IsFallbackURL}
	}

	newItems := 0
	for _, ready := range pr.Items {
		res, err := s.pipeline.IngestItem(ctx, providerName, sub.UserID, ready.Item, ready.Creator, upgrade)
		s.metrics.RecordIngestion(providerName, res.Created, err)
		if err != nil {
			s.logger.WithError(err).Error("failed to ingest item",
				zap.String("provider", providerName), zap.String("subscriptionID", sub.ID))
			continue
		}
		if res.Created {
			newItems++
		}
	}

	if pr.SkipAdvance {
		if err := s.store.UpdateSubscriptionPoll(ctx, sub.ID, now, nil); err != nil {
			s.logger.WithError(err).Error("failed to advance subscription poll time", zap.String("subscriptionID", sub.ID))
		}
	} else if err := s.store.UpdateSubscriptionPoll(ctx, sub.ID, now, pr.NewWatermark); err != nil {
		s.logger.WithError(err).Error("failed to advance subscription watermark", zap.String("subscriptionID", sub.ID))
	}

	mu.Lock()
	st := result.statsFor(providerName)
	st.Processed++
	st.NewItems += newItems
	result.Processed++
	result.NewItems += newItems
	mu.Unlock()
}

// advanceAllOnError records a shared failure (e.g. token refresh) against
// every subscription in the batch, still advancing lastPolledAt on each so a
// persistent per-user failure doesn't retry every cycle.
func (s *Scheduler) advanceAllOnError(ctx context.Context, subs []*storage.Subscription, now time.Time, cause error, result *CycleResult, mu *sync.Mutex, providerName string) {
	for _, sub := range subs {
		if err := s.store.AdvanceSubscriptionPollOnError(ctx, sub.ID, now, cause.Error()); err != nil {
			s.logger.WithError(err).Error("failed to advance subscription after client error", zap.String("subscriptionID", sub.ID))
		}
	}
	mu.Lock()
	st := result.statsFor(providerName)
	st.Processed += len(subs)
	st.Errors += len(subs)
	result.Processed += len(subs)
	mu.Unlock()
}
