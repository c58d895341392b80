package newsletter

import (
	"regexp"
	"strings"
)

var angleBracketEntry = regexp.MustCompile(`<([^>]+)>`)

// CanonicalKey derives a feed's stable identity deterministically, in
// priority order: List-Id, then an unsubscribe URL, then an unsubscribe
// mailto, then the sender address (spec.md §4.6).
func CanonicalKey(h Headers) string {
	if id := extractListID(h.ListID); id != "" {
		return "list-id:" + id
	}
	if url := firstUnsubscribeURL(h.ListUnsubscribe); url != "" {
		return "unsub-url:" + url
	}
	if mailto := firstUnsubscribeMailto(h.ListUnsubscribe); mailto != "" {
		return "unsub-mailto:" + mailto
	}
	if sender := strings.TrimSpace(strings.ToLower(h.From)); sender != "" {
		return "sender:" + sender
	}
	return ""
}

// extractListID strips the enclosing angle brackets Gmail's List-Id header
// always carries, e.g. "<newsletter.substack.com>" -> "newsletter.substack.com".
func extractListID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if m := angleBracketEntry.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}
	return strings.ToLower(raw)
}

func unsubscribeEntries(raw string) []string {
	var entries []string
	for _, m := range angleBracketEntry.FindAllStringSubmatch(raw, -1) {
		entries = append(entries, strings.TrimSpace(m[1]))
	}
	return entries
}

func firstUnsubscribeURL(raw string) string {
	for _, e := range unsubscribeEntries(raw) {
		if strings.HasPrefix(strings.ToLower(e), "http://") || strings.HasPrefix(strings.ToLower(e), "https://") {
			return e
		}
	}
	return ""
}

func firstUnsubscribeMailto(raw string) string {
	for _, e := range unsubscribeEntries(raw) {
		if strings.HasPrefix(strings.ToLower(e), "mailto:") {
			return strings.ToLower(strings.TrimPrefix(e, "mailto:"))
		}
	}
	return ""
}
