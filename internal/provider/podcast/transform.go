package podcast

import (
	"encoding/json"
	"time"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/storage"
)

// candidate pairs one episode with the show it belongs to, ready for
// Transform.
type candidate struct {
	showID string
	show   showMeta
	ep     episode
}

// transform projects a podcast episode into the canonical Item shape plus
// its creator info.
func transform(c candidate) (*storage.Item, *ingest.CreatorInfo, error) {
	publishedAt, err := ParseReleaseDate(c.ep.ReleaseDate, c.ep.ReleaseDatePrecision)
	if err != nil {
		publishedAt = time.Now().UTC()
	} else {
		publishedAt = publishedAt.UTC()
	}

	raw, err := json.Marshal(c.ep)
	if err != nil {
		return nil, nil, err
	}

	var summary *string
	if c.ep.Description != "" {
		summary = &c.ep.Description
	}
	var thumb *string
	img := c.ep.ImageURL
	if img == "" {
		img = c.show.ImageURL
	}
	if img != "" {
		thumb = &img
	}

	var duration *int
	if c.ep.DurationMs > 0 {
		seconds := c.ep.DurationMs / 1000
		duration = &seconds
	}

	canonicalURL := c.ep.ExternalURL
	if canonicalURL == "" {
		canonicalURL = "https://open.spotify.com/episode/" + c.ep.EpisodeID
	}

	item := &storage.Item{
		ProviderID:      c.ep.EpisodeID,
		ContentType:     "podcast_episode",
		CanonicalURL:    canonicalURL,
		Title:           c.ep.Name,
		Summary:         summary,
		PublishedAt:     publishedAt,
		DurationSeconds: duration,
		ThumbnailURL:    thumb,
		RawMetadata:     raw,
	}

	creator := &ingest.CreatorInfo{
		ProviderCreatorID: c.showID,
		DisplayName:       c.show.Name,
		ImageURL:          nonEmptyPtr(c.show.ImageURL),
	}

	return item, creator, nil
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
