package video

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/briefloop/ingestcore/internal/quota"
	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/token"
)

// playlistEntry is one item returned by ListPlaylistItems, trimmed to what
// the poll algorithm needs before video details are fetched.
type playlistEntry struct {
	VideoID     string
	PublishedAt string
}

// videoDetails is the subset of a Videos.List row Transform needs.
type videoDetails struct {
	Title           string
	Description     string
	PublishedAt     string
	ChannelID       string
	ChannelTitle    string
	ThumbnailURL    string
	DurationSeconds *int // nil when the duration string could not be parsed
}

// client is the narrow surface PollOne needs from the YouTube Data API,
// named so tests can substitute a fake without touching the real SDK.
type client interface {
	ResolveUploadsPlaylist(ctx context.Context, channelID string) (string, error)
	ListPlaylistItems(ctx context.Context, playlistID string, maxResults int64) ([]playlistEntry, error)
	ListVideoDetails(ctx context.Context, videoIDs []string) (map[string]videoDetails, error)
}

// youtubeClient wraps the real youtube/v3 service, wrapping every call in
// the rate limiter and accounting quota units per spec.md §4.6.
type youtubeClient struct {
	svc     *youtube.Service
	limiter *ratelimit.Limiter
	quota   *quota.Tracker
	userID  string
}

func newYoutubeClient(svc *youtube.Service, limiter *ratelimit.Limiter, tracker *quota.Tracker, userID string) *youtubeClient {
	return &youtubeClient{svc: svc, limiter: limiter, quota: tracker, userID: userID}
}

func (c *youtubeClient) ResolveUploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	var playlistID string
	err := c.quota.WithTracking(ctx, 1, func(ctx context.Context) error {
		return c.limiter.Fetch(ctx, "youtube", c.userID, func(ctx context.Context) error {
			resp, err := c.svc.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("channels.list: %w", err)
			}
			if len(resp.Items) == 0 || resp.Items[0].ContentDetails == nil {
				return fmt.Errorf("channel %s has no uploads playlist", channelID)
			}
			playlistID = resp.Items[0].ContentDetails.RelatedPlaylists.Uploads
			return nil
		})
	})
	return playlistID, err
}

func (c *youtubeClient) ListPlaylistItems(ctx context.Context, playlistID string, maxResults int64) ([]playlistEntry, error) {
	var entries []playlistEntry
	err := c.quota.WithTracking(ctx, 1, func(ctx context.Context) error {
		return c.limiter.Fetch(ctx, "youtube", c.userID, func(ctx context.Context) error {
			resp, err := c.svc.PlaylistItems.List([]string{"contentDetails"}).
				PlaylistId(playlistID).MaxResults(maxResults).Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("playlistItems.list: %w", err)
			}
			for _, item := range resp.Items {
				if item.ContentDetails == nil {
					continue
				}
				entries = append(entries, playlistEntry{
					VideoID:     item.ContentDetails.VideoId,
					PublishedAt: item.ContentDetails.VideoPublishedAt,
				})
			}
			return nil
		})
	})
	return entries, err
}

func (c *youtubeClient) ListVideoDetails(ctx context.Context, videoIDs []string) (map[string]videoDetails, error) {
	result := map[string]videoDetails{}

	for _, chunk := range chunkStrings(videoIDs, 50) {
		err := c.quota.WithTracking(ctx, 1, func(ctx context.Context) error {
			return c.limiter.Fetch(ctx, "youtube", c.userID, func(ctx context.Context) error {
				resp, err := c.svc.Videos.List([]string{"snippet", "contentDetails"}).
					Id(strings.Join(chunk, ",")).Context(ctx).Do()
				if err != nil {
					return fmt.Errorf("videos.list: %w", err)
				}
				for _, v := range resp.Items {
					result[v.Id] = toVideoDetails(v)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func toVideoDetails(v *youtube.Video) videoDetails {
	d := videoDetails{}
	if v.Snippet != nil {
		d.Title = v.Snippet.Title
		d.Description = v.Snippet.Description
		d.PublishedAt = v.Snippet.PublishedAt
		d.ChannelID = v.Snippet.ChannelId
		d.ChannelTitle = v.Snippet.ChannelTitle
		if v.Snippet.Thumbnails != nil && v.Snippet.Thumbnails.High != nil {
			d.ThumbnailURL = v.Snippet.Thumbnails.High.Url
		}
	}
	if v.ContentDetails != nil {
		if seconds, ok := ParseISO8601Duration(v.ContentDetails.Duration); ok {
			d.DurationSeconds = &seconds
		}
	}
	return d
}

func chunkStrings(items []string, size int) [][]string {
	var chunks [][]string
	for len(items) > 0 {
		n := size
		if n > len(items) {
			n = len(items)
		}
		chunks = append(chunks, items[:n])
		items = items[n:]
	}
	return chunks
}

// newYoutubeService builds a youtube/v3 client authenticated with a
// short-lived access token already validated by internal/token.
func newYoutubeService(ctx context.Context, accessToken string, expiresAt time.Time) (*youtube.Service, error) {
	ts := oauth2.StaticTokenSource(token.ToOAuth2Token(accessToken, expiresAt))
	return youtube.NewService(ctx, option.WithTokenSource(ts))
}
