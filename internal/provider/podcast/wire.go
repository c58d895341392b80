package podcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// wireImage mirrors Spotify's {url, height, width} image object.
type wireImage struct {
	URL string `json:"url"`
}

type wireShow struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Publisher     string      `json:"publisher"`
	Images        []wireImage `json:"images"`
	TotalEpisodes int         `json:"total_episodes"`
}

type wireShowsResponse struct {
	Shows []wireShow `json:"shows"`
}

type wireEpisode struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	ReleaseDate          string      `json:"release_date"`
	ReleaseDatePrecision string      `json:"release_date_precision"`
	DurationMs           int         `json:"duration_ms"`
	Images               []wireImage `json:"images"`
	ExternalURLs         struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
}

type wireEpisodesResponse struct {
	Items []wireEpisode `json:"items"`
	Next  string        `json:"next"`
}

func (c *spotifyClient) getShowsPage(ctx context.Context, showIDs []string) (*wireShowsResponse, error) {
	u := fmt.Sprintf("%s/shows?ids=%s", c.baseURL, url.QueryEscape(strings.Join(showIDs, ",")))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("shows request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out wireShowsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode shows response: %w", err)
	}
	return &out, nil
}

func (c *spotifyClient) getEpisodesPage(ctx context.Context, showID string) (*wireEpisodesResponse, error) {
	u := fmt.Sprintf("%s/shows/%s/episodes?limit=50", c.baseURL, url.PathEscape(showID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("episodes request: %w", err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var out wireEpisodesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode episodes response: %w", err)
	}
	return &out, nil
}
