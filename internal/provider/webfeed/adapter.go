// Package webfeed implements the generic RSS/Atom syndicated content
// provider (spec.md §4.6), structured like the other provider packages but
// with no OAuth surface: a web feed is a public URL, so GetClient builds a
// plain conditional-GET HTTP client rather than refreshing a token.
package webfeed

import (
	"context"
	"fmt"
	"sort"

	"github.com/briefloop/ingestcore/internal/provider"
	"github.com/briefloop/ingestcore/internal/storage"
)

// errorThreshold is the consecutive-failure count at which a feed
// transitions to ERROR (spec.md §4.6).
const errorThreshold = 10

// maxEntriesPerSync caps how many entries a single poll ingests (spec.md
// §4.6: "keep up to 20 per sync").
const maxEntriesPerSync = 20

// SubscriptionStore is the narrow storage.RelationalStore surface the
// web-feed adapter needs for its consecutive-error bookkeeping.
type SubscriptionStore interface {
	RecordSubscriptionError(ctx context.Context, id string, message string) error
	SetSubscriptionStatus(ctx context.Context, id string, status storage.SubscriptionStatus) error
}

// Adapter implements provider.Adapter for RSS/Atom subscriptions.
type Adapter struct {
	store SubscriptionStore
	cache *validators
}

// NewAdapter builds a web-feed Adapter.
func NewAdapter(store SubscriptionStore) (*Adapter, error) {
	cache, err := newValidatorCache()
	if err != nil {
		return nil, fmt.Errorf("build validator cache: %w", err)
	}
	return &Adapter{store: store, cache: cache}, nil
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.Tag { return provider.TagWebFeed }

// GetClient implements provider.Adapter. conn is unused: web feeds carry no
// OAuth connection, only a public URL in ProviderChannelID.
func (a *Adapter) GetClient(ctx context.Context, conn *storage.ProviderConnection) (any, error) {
	return newHTTPClient(), nil
}

// PollOne implements provider.Adapter.
func (a *Adapter) PollOne(ctx context.Context, sub *storage.Subscription, c any) (*provider.PollResult, error) {
	hc, ok := c.(client)
	if !ok {
		return nil, fmt.Errorf("webfeed adapter: unexpected client type %T", c)
	}

	v, _ := a.cache.get(sub.ID)

	fetched, err := hc.Fetch(ctx, sub.ProviderChannelID, v.ETag, v.LastModified)
	if err != nil {
		if recordErr := a.recordFailure(ctx, sub); recordErr != nil {
			return nil, recordErr
		}
		return nil, fmt.Errorf("fetch feed %s: %w", sub.ProviderChannelID, err)
	}

	if fetched.NotModified {
		return &provider.PollResult{SkipAdvance: true}, nil
	}

	a.cache.put(sub.ID, validator{ETag: fetched.ETag, LastModified: fetched.LastModified})

	feedTitle, entries, err := parseFeed(fetched.Body)
	if err != nil {
		if recordErr := a.recordFailure(ctx, sub); recordErr != nil {
			return nil, recordErr
		}
		return nil, fmt.Errorf("parse feed %s: %w", sub.ProviderChannelID, err)
	}

	entries = sortNewestFirst(entries)
	entries = filterDelta(entries, sub)
	if len(entries) > maxEntriesPerSync {
		entries = entries[:maxEntriesPerSync]
	}

	result := &provider.PollResult{SkipAdvance: len(entries) == 0}
	var newest bool
	var newestAt = sub.LastPublishedAt

	for _, e := range entries {
		item, creatorInfo := transform(sub.ProviderChannelID, feedTitle, e)
		result.Items = append(result.Items, provider.ReadyItem{Item: item, Creator: creatorInfo})
		if newestAt == nil || item.PublishedAt.After(*newestAt) {
			newestAt = &item.PublishedAt
			newest = true
		}
	}
	if newest {
		result.NewWatermark = newestAt
	}

	return result, nil
}

// recordFailure increments the consecutive-error counter and, at
// errorThreshold, transitions the subscription to ERROR (spec.md §4.6).
func (a *Adapter) recordFailure(ctx context.Context, sub *storage.Subscription) error {
	if err := a.store.RecordSubscriptionError(ctx, sub.ID, "feed fetch failed"); err != nil {
		return fmt.Errorf("record subscription error: %w", err)
	}
	if sub.ErrorCount+1 >= errorThreshold {
		if err := a.store.SetSubscriptionStatus(ctx, sub.ID, storage.SubscriptionError); err != nil {
			return fmt.Errorf("set subscription error status: %w", err)
		}
	}
	return nil
}

func sortNewestFirst(entries []rawEntry) []rawEntry {
	sorted := make([]rawEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parseEntryDate(sorted[i].Date).After(parseEntryDate(sorted[j].Date))
	})
	return sorted
}

// filterDelta keeps only entries published after the subscription's
// current watermark, trimming to the single newest on a first poll — the
// same delta convention as the video provider (spec.md §4.6).
func filterDelta(entries []rawEntry, sub *storage.Subscription) []rawEntry {
	if sub.LastPublishedAt == nil {
		if len(entries) > 1 {
			return entries[:1]
		}
		return entries
	}

	var kept []rawEntry
	for _, e := range entries {
		if parseEntryDate(e.Date).After(*sub.LastPublishedAt) {
			kept = append(kept, e)
		}
	}
	return kept
}
