package newsletter

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/storage"
)

var displayNamePrefix = regexp.MustCompile(`^\s*"?([^"<]+?)"?\s*<`)

// SenderDisplayName extracts the human-readable name portion of a From
// header, e.g. `"Weekly Digest" <news@example.com>` -> "Weekly Digest".
// Falls back to the bare address when no display name is present. Exported
// so internal/admin's creator backfill can recover the same name from a
// stored rawMetadata.from field without duplicating the parsing regex.
func SenderDisplayName(from string) string {
	if m := displayNamePrefix.FindStringSubmatch(from); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	return strings.TrimSpace(from)
}

// rawNewsletterMetadata is the provider-specific rawMetadata payload stored
// alongside a newsletter item, read back by the admin creator-backfill tool.
type rawNewsletterMetadata struct {
	MessageID    string `json:"messageId"`
	CanonicalKey string `json:"canonicalKey"`
	FromHeader   string `json:"from"`
}

type candidateMessage struct {
	messageID   string
	headers     Headers
	issueURL    string
	snippet     string
	publishedAt time.Time
	feed        *storage.NewsletterFeed
}

// transform maps one qualifying Gmail message to the canonical Item shape
// (spec.md §4.6, §4.7).
func transform(c candidateMessage) (*storage.Item, *ingest.CreatorInfo, error) {
	raw, err := json.Marshal(rawNewsletterMetadata{
		MessageID:    c.messageID,
		CanonicalKey: c.feed.CanonicalKey,
		FromHeader:   c.headers.From,
	})
	if err != nil {
		return nil, nil, err
	}

	item := &storage.Item{
		ProviderID:   c.messageID,
		ContentType:  "newsletter",
		CanonicalURL: c.issueURL,
		Title:        strings.TrimSpace(c.headers.Subject),
		PublishedAt:  c.publishedAt,
		RawMetadata:  raw,
	}
	if snippet := strings.TrimSpace(c.snippet); snippet != "" {
		item.Summary = &snippet
	}

	creator := &ingest.CreatorInfo{
		ProviderCreatorID: c.feed.CanonicalKey,
		DisplayName:       c.feed.DisplayName,
	}

	return item, creator, nil
}
