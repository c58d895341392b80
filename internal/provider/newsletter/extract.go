package newsletter

import (
	"regexp"
	"strings"
)

var (
	anchorTag  = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["'][^>]*>(.*?)</a>`)
	htmlTag    = regexp.MustCompile(`(?is)<[^>]+>`)
	bareURL    = regexp.MustCompile(`https?://[^\s<>"')]+`)
	addressish = regexp.MustCompile(`[\w.+-]+@([\w.-]+)`)
)

// extractIssueURLCandidates builds the scored candidate pool from a
// message's body, in priority order: HTML anchors, then plain-text URLs,
// then the snippet (spec.md §4.6: "anchor tags > plain text > snippet").
func extractIssueURLCandidates(b body) []IssueURLCandidate {
	var candidates []IssueURLCandidate
	index := 0

	for _, m := range anchorTag.FindAllStringSubmatch(b.HTML, -1) {
		text := strings.TrimSpace(htmlTag.ReplaceAllString(m[2], " "))
		candidates = append(candidates, IssueURLCandidate{URL: m[1], Text: text, Kind: KindHTMLAnchor, Index: index})
		index++
	}

	for _, u := range bareURL.FindAllString(b.Text, -1) {
		candidates = append(candidates, IssueURLCandidate{URL: u, Text: "", Kind: KindText, Index: index})
		index++
	}

	for _, u := range bareURL.FindAllString(b.Snippet, -1) {
		candidates = append(candidates, IssueURLCandidate{URL: u, Text: b.Snippet, Kind: KindSnippet, Index: index})
		index++
	}

	return candidates
}

// senderDomain pulls the domain out of a From header's email address, e.g.
// `"Weekly Digest" <news@example.com>` -> "example.com".
func senderDomain(from string) string {
	m := addressish.FindStringSubmatch(from)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// listIDDomain extracts the domain-shaped identifier Gmail's List-Id header
// carries once CanonicalKey has stripped its angle brackets, e.g.
// "newsletter.substack.com" -> "substack.com" is unnecessary here: the raw
// host itself suffixes-matches in domainMatches, so the full value is used.
func listIDDomain(listID string) string {
	return strings.ToLower(extractListID(listID))
}
