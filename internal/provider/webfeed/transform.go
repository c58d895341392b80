package webfeed

import (
	"strings"
	"time"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/storage"
)

// transform maps one feed entry to the canonical Item shape (spec.md §4.7).
// Web feeds have no native creator identity, so CreatorInfo carries no
// ProviderCreatorID; ingest.Pipeline synthesizes one from the feed's title.
func transform(feedURL, feedTitle string, e rawEntry) (*storage.Item, *ingest.CreatorInfo) {
	published := parseEntryDate(e.Date)
	if published.IsZero() {
		published = time.Now().UTC()
	}

	item := &storage.Item{
		ProviderID:   entryID(feedURL, e),
		ContentType:  "webfeed",
		CanonicalURL: e.Link,
		Title:        strings.TrimSpace(e.Title),
		PublishedAt:  published,
	}
	if summary := strings.TrimSpace(e.Summary); summary != "" {
		item.Summary = &summary
	}

	creator := &ingest.CreatorInfo{DisplayName: strings.TrimSpace(feedTitle)}

	return item, creator
}

// entryID derives the providerId: the entry's own guid/id when present
// (unique within the feed), else the feed URL plus its link as a fallback
// for feeds that omit stable identifiers.
func entryID(feedURL string, e rawEntry) string {
	if e.GUID != "" {
		return e.GUID
	}
	return feedURL + "#" + e.Link
}
