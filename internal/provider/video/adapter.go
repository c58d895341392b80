// Package video implements the YouTube-style content provider (spec.md
// §4.6), structured like the teacher's per-cloud adapter packages
// (adapter.go for the struct/constructor, a client file for the wire
// client, a transform file for the pure canonicalization).
package video

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/briefloop/ingestcore/internal/provider"
	"github.com/briefloop/ingestcore/internal/quota"
	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/storage"
	"github.com/briefloop/ingestcore/internal/token"
)

// maxPlaylistResults bounds the single "list recent items" call.
const maxPlaylistResults = 25

// Adapter implements provider.Adapter for YouTube channel subscriptions.
type Adapter struct {
	tokens  *token.Manager
	limiter *ratelimit.Limiter
	quota   *quota.Tracker
}

// NewAdapter builds a video Adapter.
func NewAdapter(tokens *token.Manager, limiter *ratelimit.Limiter, quotaTracker *quota.Tracker) *Adapter {
	return &Adapter{tokens: tokens, limiter: limiter, quota: quotaTracker}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.Tag { return provider.TagVideo }

// GetClient implements provider.Adapter.
func (a *Adapter) GetClient(ctx context.Context, conn *storage.ProviderConnection) (any, error) {
	accessToken, err := a.tokens.GetValidAccessToken(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	svc, err := newYoutubeService(ctx, accessToken, conn.TokenExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("build youtube client: %w", err)
	}

	return newYoutubeClient(svc, a.limiter, a.quota, conn.UserID), nil
}

// PollOne implements provider.Adapter.
func (a *Adapter) PollOne(ctx context.Context, sub *storage.Subscription, c any) (*provider.PollResult, error) {
	yt, ok := c.(client)
	if !ok {
		return nil, fmt.Errorf("video adapter: unexpected client type %T", c)
	}

	playlistID, err := yt.ResolveUploadsPlaylist(ctx, sub.ProviderChannelID)
	if err != nil {
		return nil, fmt.Errorf("resolve uploads playlist: %w", err)
	}

	entries, err := yt.ListPlaylistItems(ctx, playlistID, maxPlaylistResults)
	if err != nil {
		return nil, fmt.Errorf("list playlist items: %w", err)
	}
	if len(entries) == 0 {
		return &provider.PollResult{SkipAdvance: true}, nil
	}

	videoIDs := make([]string, len(entries))
	for i, e := range entries {
		videoIDs[i] = e.VideoID
	}

	details, err := yt.ListVideoDetails(ctx, videoIDs)
	if err != nil {
		return nil, fmt.Errorf("list video details: %w", err)
	}

	candidates := buildCandidates(entries, details)
	candidates = filterDelta(candidates, sub)
	candidates = filterShorts(candidates)

	if sub.LastPolledAt == nil && len(candidates) > 1 {
		newestIdx := 0
		for i := range candidates {
			if candidates[i].at.After(candidates[newestIdx].at) {
				newestIdx = i
			}
		}
		candidates = candidates[newestIdx : newestIdx+1]
	}

	if len(candidates) == 0 {
		return &provider.PollResult{SkipAdvance: true}, nil
	}

	result := &provider.PollResult{}
	var newest time.Time

	for i := range candidates {
		item, creatorInfo, err := transform(candidates[i])
		if err != nil {
			return nil, fmt.Errorf("transform video %s: %w", candidates[i].videoID, err)
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

func buildCandidates(entries []playlistEntry, details map[string]videoDetails) []candidate {
	candidates := make([]candidate, 0, len(entries))
	for _, e := range entries {
		d, ok := details[e.VideoID]
		if !ok {
			continue
		}
		at, err := time.Parse(time.RFC3339, d.PublishedAt)
		if err != nil {
			at = time.Now().UTC()
		}
		candidates = append(candidates, candidate{videoID: e.VideoID, details: d, at: at})
	}
	return candidates
}

// filterDelta keeps only entries published after the subscription's current
// watermark (spec.md §4.6: "ingest items with publishedAt > lastPublishedAt").
func filterDelta(candidates []candidate, sub *storage.Subscription) []candidate {
	if sub.LastPublishedAt == nil {
		return candidates
	}

	var kept []candidate
	for _, c := range candidates {
		if c.at.After(*sub.LastPublishedAt) {
			kept = append(kept, c)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		return kept[i].at.Before(kept[j].at)
	})

	return kept
}

func filterShorts(candidates []candidate) []candidate {
	var kept []candidate
	for _, c := range candidates {
		if c.keep() {
			kept = append(kept, c)
		}
	}
	return kept
}
