// Package provider defines the contract every content source implements
// (spec.md §4.6), grounded in the teacher's internal/adapter.Adapter shape:
// a required-methods interface plus an optional capability surfaced via a
// second interface, discriminated by an enum tag rather than reflection.
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/storage"
)

// Tag identifies a content provider.
type Tag string

const (
	TagVideo      Tag = "youtube"
	TagPodcast    Tag = "spotify"
	TagNewsletter Tag = "gmail"
	TagWebFeed    Tag = "webfeed"
)

// Sentinel errors network-facing adapter code may return; the scheduler and
// rate limiter recognize these independent of the concrete provider.
var (
	// ErrNotModified signals a conditional GET returned 304: no new content.
	ErrNotModified = errors.New("not modified")

	// ErrFeedUnreachable signals a web feed could not be fetched at all.
	ErrFeedUnreachable = errors.New("feed unreachable")
)

// PollResult is what pollOne/pollBatch return for a single subscription:
// items already run through the provider's Transform and ready for
// internal/ingest, plus the watermark the caller should advance to if
// ingestion succeeds. Transform itself is a pure, provider-specific mapping
// (external payload → canonical shape); each adapter applies it internally
// rather than exposing it on this interface, since the raw payload type
// differs per provider and Go has no use for an any→any method here.
type PollResult struct {
	Items        []ReadyItem
	NewWatermark *time.Time
	SkipAdvance  bool
}

// ReadyItem is one canonical item plus its resolved creator info, produced
// by an adapter's internal Transform and awaiting internal/ingest.
type ReadyItem struct {
	Item    *storage.Item
	Creator *ingest.CreatorInfo
}

// Adapter is the contract every provider implements (spec.md §4.6).
type Adapter interface {
	// Provider returns this adapter's tag.
	Provider() Tag

	// GetClient returns an authenticated client for conn, refreshing the
	// access token via the token manager as needed.
	GetClient(ctx context.Context, conn *storage.ProviderConnection) (any, error)

	// PollOne fetches recent items for a single subscription.
	PollOne(ctx context.Context, sub *storage.Subscription, client any) (*PollResult, error)
}

// BatchPoller is implemented by adapters that can group multiple
// subscriptions into fewer upstream calls (spec.md §4.6, Spotify-style).
type BatchPoller interface {
	PollBatch(ctx context.Context, subs []*storage.Subscription, client any) (map[string]*PollResult, error)
}

// URLFallbackDetector is implemented by adapters whose canonical URLs can
// fall back to a placeholder shape that a later poll may resolve to
// something better (spec.md §4.6, newsletter provider's "upgrade in place"
// rule). The scheduler uses this to build an ingest.URLUpgrade without
// depending on any one provider package by name.
type URLFallbackDetector interface {
	IsFallbackURL(url string) bool
}
