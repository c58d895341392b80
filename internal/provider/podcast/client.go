package podcast

import (
	"context"
	"fmt"
	"net/http"

	"github.com/briefloop/ingestcore/internal/quota"
	"github.com/briefloop/ingestcore/internal/ratelimit"
)

// maxShowBatch mirrors the Spotify "get multiple shows" limit (spec.md §4.6:
// "call get multiple shows once per 50 subscriptions").
const maxShowBatch = 50

// showMeta is the subset of "get multiple shows" fields the delta check and
// Transform need.
type showMeta struct {
	ShowID        string
	Name          string
	PublisherName string
	ImageURL      string
	TotalEpisodes int
}

// episode is the subset of a show's episode list Transform needs.
type episode struct {
	EpisodeID            string
	Name                 string
	Description          string
	ReleaseDate          string
	ReleaseDatePrecision string
	DurationMs           int
	ExternalURL          string
	ImageURL             string
}

// client is the narrow surface the adapter needs from the Spotify Web API,
// named so tests can substitute a fake.
type client interface {
	GetShows(ctx context.Context, showIDs []string) (map[string]showMeta, error)
	ListEpisodes(ctx context.Context, showID string) ([]episode, error)
}

// spotifyClient wraps raw HTTP calls to the Spotify Web API, wrapping every
// call in the rate limiter and accounting quota units per spec.md §4.6.
type spotifyClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	limiter     *ratelimit.Limiter
	quota       *quota.Tracker
	userID      string
}

func newSpotifyClient(httpClient *http.Client, baseURL, accessToken string, limiter *ratelimit.Limiter, tracker *quota.Tracker, userID string) *spotifyClient {
	if baseURL == "" {
		baseURL = "https://api.spotify.com/v1"
	}
	return &spotifyClient{
		httpClient:  httpClient,
		baseURL:     baseURL,
		accessToken: accessToken,
		limiter:     limiter,
		quota:       tracker,
		userID:      userID,
	}
}

func (c *spotifyClient) GetShows(ctx context.Context, showIDs []string) (map[string]showMeta, error) {
	result := map[string]showMeta{}

	for _, chunk := range chunkStrings(showIDs, maxShowBatch) {
		err := c.quota.WithTracking(ctx, 1, func(ctx context.Context) error {
			return c.limiter.Fetch(ctx, "spotify", c.userID, func(ctx context.Context) error {
				resp, err := c.getShowsPage(ctx, chunk)
				if err != nil {
					return err
				}
				for _, s := range resp.Shows {
					if s.ID == "" {
						continue
					}
					result[s.ID] = showMeta{
						ShowID:        s.ID,
						Name:          s.Name,
						PublisherName: s.Publisher,
						ImageURL:      firstImage(s.Images),
						TotalEpisodes: s.TotalEpisodes,
					}
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

func (c *spotifyClient) ListEpisodes(ctx context.Context, showID string) ([]episode, error) {
	var episodes []episode
	err := c.quota.WithTracking(ctx, 1, func(ctx context.Context) error {
		return c.limiter.Fetch(ctx, "spotify", c.userID, func(ctx context.Context) error {
			resp, err := c.getEpisodesPage(ctx, showID)
			if err != nil {
				return err
			}
			for _, e := range resp.Items {
				episodes = append(episodes, episode{
					EpisodeID:            e.ID,
					Name:                 e.Name,
					Description:          e.Description,
					ReleaseDate:          e.ReleaseDate,
					ReleaseDatePrecision: e.ReleaseDatePrecision,
					DurationMs:           e.DurationMs,
					ExternalURL:          e.ExternalURLs.Spotify,
					ImageURL:             firstImage(e.Images),
				})
			}
			return nil
		})
	})
	return episodes, err
}

func firstImage(images []wireImage) string {
	if len(images) == 0 {
		return ""
	}
	return images[0].URL
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

func (c *spotifyClient) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
}

func (c *spotifyClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		return &statusError{code: resp.StatusCode, retryAfter: resp.Header.Get("Retry-After")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("spotify api: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// statusError lets internal/ratelimit classify a 429 without string matching.
type statusError struct {
	code       int
	retryAfter string
}

func (e *statusError) Error() string            { return fmt.Sprintf("spotify api: status %d", e.code) }
func (e *statusError) StatusCode() int          { return e.code }
func (e *statusError) RetryAfterHeader() string { return e.retryAfter }
