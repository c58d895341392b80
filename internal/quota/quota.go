// Package quota enforces each provider's daily call budget (spec.md §4.3).
// Usage is tracked in the KV substrate, keyed by the provider's own calendar
// date, with a short in-process read cache in front of it (grounded in the
// cached-tracker shape used elsewhere in this corpus for quota polling).
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/briefloop/ingestcore/internal/storage"
)

// WarningThreshold and CriticalThreshold are the percentUsed boundaries at
// which Status.IsWarning / Status.IsCritical flip (spec.md §4.3).
const (
	WarningThreshold  = 0.80
	CriticalThreshold = 0.95

	// CriticalMaxUnitCost is the most expensive single call still allowed
	// once usage has crossed CriticalThreshold.
	CriticalMaxUnitCost = 2

	readCacheTTL = 5 * time.Second
)

// ErrQuotaExhausted is raised by WithTracking when the pre-check denies the call.
var ErrQuotaExhausted = errors.New("quota exhausted")

// Status is a read-only snapshot of a provider's quota for the current day.
type Status struct {
	Used        int
	Cap         int
	Remaining   int
	PercentUsed float64
	IsWarning   bool
	IsCritical  bool
}

func newStatus(used, cap int) Status {
	if cap <= 0 {
		return Status{Used: used, Cap: cap}
	}
	pct := float64(used) / float64(cap)
	return Status{
		Used:        used,
		Cap:         cap,
		Remaining:   cap - used,
		PercentUsed: pct,
		IsWarning:   pct >= WarningThreshold,
		IsCritical:  pct >= CriticalThreshold,
	}
}

// Decision is the result of a pre-flight canUse check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Tracker enforces and reports daily quota usage for a single provider.
type Tracker struct {
	kv       storage.KV
	provider string
	capUnits int
	location *time.Location

	mu       sync.Mutex
	cached   *Status
	cachedAt time.Time
}

// NewTracker builds a Tracker for one provider. loc is the IANA timezone the
// provider resets its daily quota in (Pacific for the primary integration).
func NewTracker(kv storage.KV, provider string, capUnits int, loc *time.Location) *Tracker {
	return &Tracker{kv: kv, provider: provider, capUnits: capUnits, location: loc}
}

func (t *Tracker) dateKey(now time.Time) string {
	return now.In(t.location).Format("2006-01-02")
}

// GetStatus returns the current day's usage without mutating state. On a
// date rollover (the stored entry is for a prior date, or missing) it
// returns an empty status for the new day.
func (t *Tracker) GetStatus(ctx context.Context) (Status, error) {
	now := time.Now()
	date := t.dateKey(now)

	t.mu.Lock()
	if t.cached != nil && t.cachedAt.Add(readCacheTTL).After(now) {
		status := *t.cached
		t.mu.Unlock()
		return status, nil
	}
	t.mu.Unlock()

	state, err := t.read(ctx, date)
	if err != nil {
		return Status{}, err
	}

	status := newStatus(state.Used, t.capUnits)

	t.mu.Lock()
	t.cached = &status
	t.cachedAt = now
	t.mu.Unlock()

	return status, nil
}

// Track records units of usage and returns the resulting status, reconciling
// the date if the stored entry rolled over from a prior day.
func (t *Tracker) Track(ctx context.Context, units int) (Status, error) {
	now := time.Now()
	date := t.dateKey(now)

	state, err := t.read(ctx, date)
	if err != nil {
		return Status{}, err
	}

	state.Provider = t.provider
	state.Date = date
	state.Used += units
	state.LastUpdated = now

	if err := t.write(ctx, state); err != nil {
		return Status{}, err
	}

	status := newStatus(state.Used, t.capUnits)

	t.mu.Lock()
	t.cached = &status
	t.cachedAt = now
	t.mu.Unlock()

	return status, nil
}

// CanUse reports whether a call costing units is currently allowed. At or
// above CriticalThreshold, only calls costing CriticalMaxUnitCost or fewer
// units are permitted.
func (t *Tracker) CanUse(ctx context.Context, units int) (Decision, error) {
	status, err := t.GetStatus(ctx)
	if err != nil {
		return Decision{}, err
	}

	if status.Used+units > status.Cap {
		return Decision{Allowed: false, Reason: "would exceed daily cap"}, nil
	}
	if status.IsCritical && units > CriticalMaxUnitCost {
		return Decision{Allowed: false, Reason: "critical threshold: only cheap calls permitted"}, nil
	}
	return Decision{Allowed: true}, nil
}

// WithTracking asserts canUse, runs fn, then tracks the units spent. If the
// pre-check fails, it raises ErrQuotaExhausted without calling fn.
func (t *Tracker) WithTracking(ctx context.Context, units int, fn func(ctx context.Context) error) error {
	decision, err := t.CanUse(ctx, units)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return fmt.Errorf("%w: %s", ErrQuotaExhausted, decision.Reason)
	}

	if err := fn(ctx); err != nil {
		return err
	}

	_, err = t.Track(ctx, units)
	return err
}

// CalculateSafeBatchSize returns how many items of the given per-item unit
// cost can still be processed this cycle without exceeding the daily cap,
// letting callers batch-plan ahead of issuing calls.
func (t *Tracker) CalculateSafeBatchSize(ctx context.Context, perItemUnits int) (int, error) {
	if perItemUnits <= 0 {
		return 0, fmt.Errorf("perItemUnits must be positive")
	}

	status, err := t.GetStatus(ctx)
	if err != nil {
		return 0, err
	}
	if status.Remaining <= 0 {
		return 0, nil
	}
	return status.Remaining / perItemUnits, nil
}

func (t *Tracker) read(ctx context.Context, date string) (*storage.QuotaState, error) {
	raw, err := t.kv.Get(ctx, storage.QuotaKey(t.provider, date))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &storage.QuotaState{Provider: t.provider, Date: date}, nil
		}
		return nil, fmt.Errorf("read quota state: %w", err)
	}

	var state storage.QuotaState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("unmarshal quota state: %w", err)
	}

	if state.Date != date {
		return &storage.QuotaState{Provider: t.provider, Date: date}, nil
	}
	return &state, nil
}

func (t *Tracker) write(ctx context.Context, state *storage.QuotaState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal quota state: %w", err)
	}

	if err := t.kv.Set(ctx, storage.QuotaKey(t.provider, state.Date), string(data), storage.QuotaTTL); err != nil {
		return fmt.Errorf("write quota state: %w", err)
	}
	return nil
}
