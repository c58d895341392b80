package newsletter

import (
	"regexp"
	"strings"
)

// acceptThreshold is the minimum score to classify a message as a
// newsletter (spec.md §9).
const acceptThreshold = 0.78

var (
	newsletterKeyword    = regexp.MustCompile(`(?i)newsletter|digest|briefing|roundup|weekly|daily|issue|dispatch|substack`)
	platformMarker       = regexp.MustCompile(`(?i)substack|beehiiv|convertkit|mailchimp|ghost`)
	transactionalSender  = regexp.MustCompile(`(?i)no-reply|notifications?|billing|support|security|alerts?|accounts?`)
	transactionalSubject = regexp.MustCompile(`(?i)receipt|invoice|verification|password|order|shipping|login|pull request|mentioned`)
	promotionalSubject   = regexp.MustCompile(`(?i)% off|limited time|act now|sale ends|exclusive offer`)
)

// Headers is the trimmed header set the detector works from, matching
// spec.md §4.6's "header-only" fetch.
type Headers struct {
	From                string
	Subject             string
	ListID              string
	ListUnsubscribe     string
	ListUnsubscribePost string
}

// Score computes the additive/subtractive newsletter-detection score
// (spec.md §9), clamped to [0,1].
func Score(h Headers) float64 {
	var score float64

	hasListID := strings.TrimSpace(h.ListID) != ""
	hasUnsubscribe := strings.TrimSpace(h.ListUnsubscribe) != ""

	if hasListID {
		score += 0.33
	}
	if hasUnsubscribe {
		score += 0.22
	}
	if strings.EqualFold(strings.TrimSpace(h.ListUnsubscribePost), "List-Unsubscribe=One-Click") {
		score += 0.10
	}

	keywordHaystack := h.Subject + " " + h.From + " " + h.ListID
	if newsletterKeyword.MatchString(keywordHaystack) {
		score += 0.24
	}
	if platformMarker.MatchString(keywordHaystack) {
		score += 0.20
	}
	if hasListID && hasUnsubscribe {
		score += 0.12
	}

	if transactionalSender.MatchString(h.From) {
		score -= 0.45
	}
	if transactionalSubject.MatchString(h.Subject) {
		score -= 0.65
	}
	if promotionalSubject.MatchString(h.Subject) {
		score -= 0.20
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// vetoedByTransactionalSender reports whether the sender matches a
// transactional pattern with no offsetting newsletter signal — the veto
// spec.md §9 requires independent of the raw score.
func vetoedByTransactionalSender(h Headers) bool {
	if !transactionalSender.MatchString(h.From) {
		return false
	}
	keywordHaystack := h.Subject + " " + h.From + " " + h.ListID
	return !newsletterKeyword.MatchString(keywordHaystack) && !platformMarker.MatchString(keywordHaystack)
}

// IsNewsletter classifies h per spec.md boundary scenario 6: score ≥ 0.78,
// not vetoed by a bare transactional sender, and feed identity passes the
// "likely newsletter" predicate (a resolvable canonicalKey).
func IsNewsletter(h Headers) bool {
	if vetoedByTransactionalSender(h) {
		return false
	}
	if CanonicalKey(h) == "" {
		return false
	}
	return Score(h) >= acceptThreshold
}
