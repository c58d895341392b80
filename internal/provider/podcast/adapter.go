// Package podcast implements the Spotify-style content provider (spec.md
// §4.6), whose defining trait is batch delta-detection: a single "get
// multiple shows" call decides, for up to 50 subscriptions at once, which
// shows actually need an episode fetch.
package podcast

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/briefloop/ingestcore/internal/provider"
	"github.com/briefloop/ingestcore/internal/quota"
	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/storage"
	"github.com/briefloop/ingestcore/internal/token"
)

// Adapter implements provider.Adapter and provider.BatchPoller for Spotify
// show subscriptions.
type Adapter struct {
	tokens  *token.Manager
	limiter *ratelimit.Limiter
	quota   *quota.Tracker
	cache   *showCache
}

// NewAdapter builds a podcast Adapter.
func NewAdapter(tokens *token.Manager, limiter *ratelimit.Limiter, quotaTracker *quota.Tracker) (*Adapter, error) {
	cache, err := newShowCache()
	if err != nil {
		return nil, fmt.Errorf("build show cache: %w", err)
	}
	return &Adapter{tokens: tokens, limiter: limiter, quota: quotaTracker, cache: cache}, nil
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.Tag { return provider.TagPodcast }

// GetClient implements provider.Adapter.
func (a *Adapter) GetClient(ctx context.Context, conn *storage.ProviderConnection) (any, error) {
	accessToken, err := a.tokens.GetValidAccessToken(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}
	return newSpotifyClient(http.DefaultClient, "", accessToken, a.limiter, a.quota, conn.UserID), nil
}

// PollOne implements provider.Adapter by running a single subscription
// through the same delta logic PollBatch uses for a whole group.
func (a *Adapter) PollOne(ctx context.Context, sub *storage.Subscription, c any) (*provider.PollResult, error) {
	sc, ok := c.(client)
	if !ok {
		return nil, fmt.Errorf("podcast adapter: unexpected client type %T", c)
	}

	results, err := a.pollGroup(ctx, []*storage.Subscription{sub}, sc)
	if err != nil {
		return nil, err
	}
	return results[sub.ID], nil
}

// PollBatch implements provider.BatchPoller.
func (a *Adapter) PollBatch(ctx context.Context, subs []*storage.Subscription, c any) (map[string]*provider.PollResult, error) {
	sc, ok := c.(client)
	if !ok {
		return nil, fmt.Errorf("podcast adapter: unexpected client type %T", c)
	}
	return a.pollGroup(ctx, subs, sc)
}

// pollGroup implements the batch delta-detection rule from spec.md §4.6:
// one "get multiple shows" call per up to 50 subscriptions; shows whose
// totalEpisodes is unchanged skip the episode call entirely.
func (a *Adapter) pollGroup(ctx context.Context, subs []*storage.Subscription, sc client) (map[string]*provider.PollResult, error) {
	results := make(map[string]*provider.PollResult, len(subs))

	showIDs := make([]string, len(subs))
	byShowID := make(map[string]*storage.Subscription, len(subs))
	for i, s := range subs {
		showIDs[i] = s.ProviderChannelID
		byShowID[s.ProviderChannelID] = s
	}

	shows, err := sc.GetShows(ctx, showIDs)
	if err != nil {
		return nil, fmt.Errorf("get shows: %w", err)
	}

	for _, sub := range subs {
		meta, ok := shows[sub.ProviderChannelID]
		if !ok {
			results[sub.ID] = &provider.PollResult{SkipAdvance: true}
			continue
		}

		unchanged := sub.TotalItems != nil && *sub.TotalItems == meta.TotalEpisodes
		if unchanged {
			a.cache.put(meta)
			results[sub.ID] = &provider.PollResult{SkipAdvance: true}
			continue
		}

		a.cache.invalidate(sub.ProviderChannelID)

		result, err := a.pollOneShow(ctx, sub, meta, sc)
		if err != nil {
			return nil, err
		}
		results[sub.ID] = result

		a.cache.put(meta)
	}

	return results, nil
}

func (a *Adapter) pollOneShow(ctx context.Context, sub *storage.Subscription, meta showMeta, sc client) (*provider.PollResult, error) {
	episodes, err := sc.ListEpisodes(ctx, sub.ProviderChannelID)
	if err != nil {
		return nil, fmt.Errorf("list episodes for show %s: %w", sub.ProviderChannelID, err)
	}

	candidates := make([]candidate, 0, len(episodes))
	for _, ep := range episodes {
		candidates = append(candidates, candidate{showID: sub.ProviderChannelID, show: meta, ep: ep})
	}

	candidates = filterByWatermark(candidates, sub)

	if len(candidates) == 0 {
		return &provider.PollResult{}, nil
	}

	result := &provider.PollResult{}
	var newest time.Time

	for _, c := range candidates {
		item, creatorInfo, err := transform(c)
		if err != nil {
			return nil, fmt.Errorf("transform episode %s: %w", c.ep.EpisodeID, err)
		}
		result.Items = append(result.Items, provider.ReadyItem{Item: item, Creator: creatorInfo})
		if newest.IsZero() || item.PublishedAt.After(newest) {
			newest = item.PublishedAt
		}
	}

	if !newest.IsZero() {
		result.NewWatermark = &newest
	}

	return result, nil
}

// filterByWatermark keeps only episodes published after the subscription's
// current watermark, trimming to the single newest on a first poll
// (sub.LastPolledAt == nil) — the same delta convention as the video and
// web-feed providers (spec.md §4.1).
func filterByWatermark(candidates []candidate, sub *storage.Subscription) []candidate {
	var kept []candidate
	if sub.LastPublishedAt == nil {
		kept = candidates
	} else {
		for _, c := range candidates {
			published, err := ParseReleaseDate(c.ep.ReleaseDate, c.ep.ReleaseDatePrecision)
			if err != nil {
				continue
			}
			if published.UTC().After(*sub.LastPublishedAt) {
				kept = append(kept, c)
			}
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].ep.ReleaseDate < kept[j].ep.ReleaseDate
	})

	if sub.LastPolledAt == nil && len(kept) > 1 {
		kept = kept[len(kept)-1:]
	}

	return kept
}
