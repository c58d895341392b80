package newsletter

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Candidate kinds, scored differently per spec.md §9.
const (
	KindHTMLAnchor = "html_anchor"
	KindText       = "text"
	KindSnippet    = "snippet"
)

var (
	nonContentAnchor = regexp.MustCompile(`(?i)unsubscribe|manage|preferences|privacy|terms|view in browser`)
	contentHintPath  = regexp.MustCompile(`(?i)/p(/|$)|/posts?(/|$)|/article|/blog|/stories|/issues|/watch`)
)

// IssueURLCandidate is one candidate link pulled from a message body,
// pending the scored selection in spec.md §9.
type IssueURLCandidate struct {
	URL   string
	Text  string
	Kind  string
	Index int
}

// ScoreIssueURLCandidate implements spec.md §9's issue-URL scoring model.
func ScoreIssueURLCandidate(c IssueURLCandidate, senderDomain, listIDDomain string) float64 {
	var score float64

	switch c.Kind {
	case KindHTMLAnchor:
		score += 1.3
	case KindText:
		score += 1.0
	case KindSnippet:
		score += 0.7
	}

	if nonContentAnchor.MatchString(c.Text) {
		score -= 1.1
	}
	if len(strings.TrimSpace(c.Text)) > 8 {
		score += 0.35
	}

	parsed, err := url.Parse(c.URL)
	if err == nil {
		if contentHintPath.MatchString(parsed.Path) {
			score += 1.35
		}

		host := strings.ToLower(parsed.Hostname())
		if strings.HasSuffix(host, ".substack.com") {
			score += 0.75
			if strings.HasPrefix(parsed.Path, "/p/") {
				score += 1.1
			}
		}

		if senderDomain != "" && domainMatches(host, senderDomain) {
			score += 0.50
		}
		if listIDDomain != "" && domainMatches(host, listIDDomain) {
			score += 0.35
		}
	}

	score -= 0.015 * float64(c.Index)

	return score
}

func domainMatches(host, reference string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	reference = strings.ToLower(strings.TrimPrefix(reference, "www."))
	return host != "" && (host == reference || strings.HasSuffix(host, "."+reference))
}

// SelectBestIssueURL picks the highest-scoring candidate, or ok=false when
// the pool is empty (callers fall back to a mailbox deep link per spec.md
// §4.6).
func SelectBestIssueURL(candidates []IssueURLCandidate, senderDomain, listIDDomain string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}

	scored := make([]struct {
		url   string
		score float64
	}, len(candidates))

	for i, c := range candidates {
		scored[i].url = UnwrapRedirect(c.URL)
		scored[i].score = ScoreIssueURLCandidate(c, senderDomain, listIDDomain)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	return scored[0].url, true
}

// UnwrapRedirect resolves the known tracking-redirect shapes spec.md §4.6
// names, returning the inner destination URL when recognizable.
func UnwrapRedirect(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	host := strings.ToLower(parsed.Hostname())

	// Google "click tracking": https://www.google.com/url?q=<dest>
	if strings.HasSuffix(host, "google.com") && parsed.Path == "/url" {
		if dest := parsed.Query().Get("q"); dest != "" {
			return dest
		}
	}

	// Substack email redirector: https://substack.com/redirect/<id>?url=<dest>
	if strings.Contains(host, "substack.com") && strings.HasPrefix(parsed.Path, "/redirect/") {
		if dest := parsed.Query().Get("url"); dest != "" {
			return dest
		}
	}

	// Substack open-tracking wrapper: https://open.substack.com/pub/<pub>/p/<slug>?...
	if host == "open.substack.com" && strings.HasPrefix(parsed.Path, "/pub/") {
		if dest, ok := unwrapSubstackOpenPath(parsed.Path); ok {
			return dest
		}
	}

	return raw
}

// unwrapSubstackOpenPath rewrites /pub/<pub>/p/<slug> into the canonical
// <pub>.substack.com/p/<slug> article URL.
func unwrapSubstackOpenPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// parts: ["pub", "<pub>", "p", "<slug>", ...]
	if len(parts) < 4 || parts[0] != "pub" || parts[2] != "p" {
		return "", false
	}
	return "https://" + parts[1] + ".substack.com/p/" + parts[3], true
}
