package webfeed

import "time"

// rssDateLayouts are the date formats RSS's pubDate and Atom's
// published/updated fields are observed to carry in the wild, tried in
// order until one parses.
var rssDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// parseEntryDate tries every known layout, falling back to the zero time
// when none match. transform replaces a zero date with the current time; an
// undated entry sorts last in sortNewestFirst, and filterDelta drops it once
// the subscription has a watermark.
func parseEntryDate(raw string) time.Time {
	for _, layout := range rssDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
