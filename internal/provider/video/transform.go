package video

import (
	"encoding/json"
	"time"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/storage"
)

// shortsThresholdSeconds is the Shorts filter boundary: durations strictly
// greater than this survive (spec.md §4.6 boundary scenario 2: exactly 180s
// is excluded, 181s is kept).
const shortsThresholdSeconds = 180

// candidate is one playlist entry paired with its fetched video details,
// ready for the keep/filter decision and Transform.
type candidate struct {
	videoID string
	details videoDetails
	at      time.Time
}

// keep reports whether c survives the Shorts filter: unknown duration is
// kept fail-safe (spec.md §4.6 — losing content is worse than a false keep).
func (c candidate) keep() bool {
	return c.details.DurationSeconds == nil || *c.details.DurationSeconds > shortsThresholdSeconds
}

// transform projects a video candidate into the canonical Item shape plus
// its creator info, the pure mapping Transform's contract requires.
func transform(c candidate) (*storage.Item, *ingest.CreatorInfo, error) {
	publishedAt := c.at
	if publishedAt.IsZero() {
		parsed, err := time.Parse(time.RFC3339, c.details.PublishedAt)
		if err != nil {
			parsed = time.Now().UTC()
		}
		publishedAt = parsed
	}

	raw, err := json.Marshal(c.details)
	if err != nil {
		return nil, nil, err
	}

	var summary *string
	if c.details.Description != "" {
		summary = &c.details.Description
	}
	var thumb *string
	if c.details.ThumbnailURL != "" {
		thumb = &c.details.ThumbnailURL
	}

	item := &storage.Item{
		ProviderID:      c.videoID,
		ContentType:     "video",
		CanonicalURL:    "https://www.youtube.com/watch?v=" + c.videoID,
		Title:           c.details.Title,
		Summary:         summary,
		PublishedAt:     publishedAt,
		DurationSeconds: c.details.DurationSeconds,
		ThumbnailURL:    thumb,
		RawMetadata:     raw,
	}

	creator := &ingest.CreatorInfo{
		ProviderCreatorID: c.details.ChannelID,
		DisplayName:       c.details.ChannelTitle,
	}

	return item, creator, nil
}
