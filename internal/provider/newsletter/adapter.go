// Package newsletter implements the Gmail-style email-newsletter content
// provider (spec.md §4.6), structured like the other provider packages
// (adapter.go for the struct/constructor, client.go for the wire client,
// transform.go for the pure canonicalization) but with an extra wrinkle:
// subscriptions here represent a user's mailbox sync job rather than a
// pre-existing channel, so the feed identity is discovered per message via
// canonical.go/score.go and persisted through FeedStore as it is seen.
package newsletter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/provider"
	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/storage"
	"github.com/briefloop/ingestcore/internal/token"
)

// initialWindowDays is how far back ListRecent looks when a mailbox has no
// usable history cursor (spec.md §4.6: "an initial query over the last 30 days").
const initialWindowDays = 30

// mailboxDeepLinkPrefix is the fallback canonical URL shape used when no
// content link is resolvable in a message body (spec.md §4.6). It doubles
// as the IsFallback predicate's recognition prefix for the ingestion
// pipeline's upgrade-in-place rule.
const mailboxDeepLinkPrefix = "https://mail.google.com/mail/u/0/#inbox/"

// FeedStore is the narrow storage.RelationalStore surface the newsletter
// adapter needs beyond item/creator ingestion.
type FeedStore interface {
	GetOrCreateMailbox(ctx context.Context, userID, provider string) (*storage.Mailbox, error)
	UpdateMailboxCursor(ctx context.Context, mailboxID, cursor string) error
	FindOrCreateNewsletterFeed(ctx context.Context, f *storage.NewsletterFeed) (*storage.NewsletterFeed, error)
}

// Adapter implements provider.Adapter for Gmail-backed newsletter discovery.
type Adapter struct {
	tokens  *token.Manager
	limiter *ratelimit.Limiter
	store   FeedStore
}

// NewAdapter builds a newsletter Adapter.
func NewAdapter(tokens *token.Manager, limiter *ratelimit.Limiter, store FeedStore) *Adapter {
	return &Adapter{tokens: tokens, limiter: limiter, store: store}
}

// Provider implements provider.Adapter.
func (a *Adapter) Provider() provider.Tag { return provider.TagNewsletter }

// GetClient implements provider.Adapter.
func (a *Adapter) GetClient(ctx context.Context, conn *storage.ProviderConnection) (any, error) {
	accessToken, err := a.tokens.GetValidAccessToken(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

	svc, err := newGmailService(ctx, accessToken, conn.TokenExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("build gmail client: %w", err)
	}

	return newGmailClient(svc, a.limiter, conn.UserID), nil
}

// PollOne implements provider.Adapter. sub represents the user's mailbox
// sync job: one subscription row per (user, gmail), not per feed.
func (a *Adapter) PollOne(ctx context.Context, sub *storage.Subscription, c any) (*provider.PollResult, error) {
	gc, ok := c.(client)
	if !ok {
		return nil, fmt.Errorf("newsletter adapter: unexpected client type %T", c)
	}

	mailbox, err := a.store.GetOrCreateMailbox(ctx, sub.UserID, string(provider.TagNewsletter))
	if err != nil {
		return nil, fmt.Errorf("get or create mailbox: %w", err)
	}

	messageIDs, newCursor, err := a.listCandidateMessages(ctx, gc, mailbox)
	if err != nil {
		return nil, fmt.Errorf("list candidate messages: %w", err)
	}

	result := &provider.PollResult{SkipAdvance: true}
	var newest time.Time

	for _, messageID := range messageIDs {
		item, creatorInfo, published, err := a.pollMessage(ctx, gc, sub, messageID)
		if err != nil {
			return nil, fmt.Errorf("poll message %s: %w", messageID, err)
		}
		if item == nil {
			continue
		}

		result.Items = append(result.Items, provider.ReadyItem{Item: item, Creator: creatorInfo})
		result.SkipAdvance = false
		if newest.IsZero() || published.After(newest) {
			newest = published
		}
	}

	if newCursor != "" && newCursor != derefCursor(mailbox.HistoryCursor) {
		if err := a.store.UpdateMailboxCursor(ctx, mailbox.ID, newCursor); err != nil {
			return nil, fmt.Errorf("update mailbox cursor: %w", err)
		}
	}

	if !newest.IsZero() {
		result.NewWatermark = &newest
	}

	return result, nil
}

// listCandidateMessages resolves message IDs via the incremental history
// cursor, falling back to a fixed lookback window when the cursor is
// missing or stale (spec.md §4.6).
func (a *Adapter) listCandidateMessages(ctx context.Context, gc client, mailbox *storage.Mailbox) ([]string, string, error) {
	if mailbox.HistoryCursor != nil && *mailbox.HistoryCursor != "" {
		ids, newCursor, ok, err := gc.HistorySince(ctx, *mailbox.HistoryCursor)
		if err != nil {
			return nil, "", err
		}
		if ok {
			return ids, newCursor, nil
		}
	}

	return listRecentFallback(ctx, gc)
}

func listRecentFallback(ctx context.Context, gc client) ([]string, string, error) {
	ids, newCursor, err := gc.ListRecent(ctx, initialWindowDays)
	if err != nil {
		return nil, "", err
	}
	return ids, newCursor, nil
}

func derefCursor(cursor *string) string {
	if cursor == nil {
		return ""
	}
	return *cursor
}

// pollMessage classifies a single message and, if it qualifies, resolves
// its feed identity and issue URL. Returns a nil item for messages that
// don't classify as newsletters.
func (a *Adapter) pollMessage(ctx context.Context, gc client, sub *storage.Subscription, messageID string) (*storage.Item, *ingest.CreatorInfo, time.Time, error) {
	headers, err := gc.GetHeaders(ctx, messageID)
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	if !IsNewsletter(headers) {
		return nil, nil, time.Time{}, nil
	}

	canonicalKey := CanonicalKey(headers)

	feed, err := a.store.FindOrCreateNewsletterFeed(ctx, &storage.NewsletterFeed{
		ID:             uuid.NewString(),
		UserID:         sub.UserID,
		CanonicalKey:   canonicalKey,
		DisplayName:    SenderDisplayName(headers.From),
		DetectionScore: Score(headers),
		Status:         storage.FeedActive,
	})
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("find or create newsletter feed: %w", err)
	}

	msgBody, err := gc.GetBody(ctx, messageID)
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	issueURL := resolveIssueURL(msgBody, headers, messageID)

	published := msgBody.PublishedAt
	if published.IsZero() {
		published = time.Now().UTC()
	}

	item, creatorInfo, err := transform(candidateMessage{
		messageID:   messageID,
		headers:     headers,
		issueURL:    issueURL,
		snippet:     msgBody.Snippet,
		publishedAt: published,
		feed:        feed,
	})
	if err != nil {
		return nil, nil, time.Time{}, err
	}

	return item, creatorInfo, published, nil
}

// resolveIssueURL selects the best scored issue-URL candidate from a
// message's body, falling back to a mailbox deep link when none qualify
// (spec.md §4.6).
func resolveIssueURL(b body, h Headers, messageID string) string {
	candidates := extractIssueURLCandidates(b)
	if url, ok := SelectBestIssueURL(candidates, senderDomain(h.From), listIDDomain(h.ListID)); ok {
		return url
	}
	return mailboxDeepLink(messageID)
}

func mailboxDeepLink(messageID string) string {
	return mailboxDeepLinkPrefix + messageID
}

// IsFallbackURL reports whether url is this provider's mailbox-deep-link
// placeholder rather than a resolved issue URL (ingest.URLUpgrade's
// IsFallback for the newsletter provider's upgrade-in-place rule,
// spec.md §4.6).
func IsFallbackURL(url string) bool {
	return strings.HasPrefix(url, mailboxDeepLinkPrefix)
}

// IsFallbackURL implements provider.URLFallbackDetector so the scheduler can
// build an ingest.URLUpgrade for this provider without special-casing its
// package by name.
func (a *Adapter) IsFallbackURL(url string) bool {
	return IsFallbackURL(url)
}
