package newsletter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/briefloop/ingestcore/internal/ratelimit"
	"github.com/briefloop/ingestcore/internal/token"
)

// fetchedHeaders names the subset of headers Transform/detection needs
// (spec.md §4.6: "pull only the headers From, Subject, List-Id,
// List-Unsubscribe, List-Unsubscribe-Post").
var fetchedHeaders = map[string]bool{
	"From":                  true,
	"Subject":               true,
	"List-Id":               true,
	"List-Unsubscribe":      true,
	"List-Unsubscribe-Post": true,
}

// message is one candidate email, header-only until it clears detection.
type message struct {
	ID      string
	Headers Headers
}

// client is the narrow surface the adapter needs from the Gmail API, named
// so tests can substitute a fake.
type client interface {
	// HistorySince lists message IDs added since cursor. ok=false signals a
	// stale/expired cursor (404), and callers fall back to ListRecent.
	HistorySince(ctx context.Context, cursor string) (messageIDs []string, newCursor string, ok bool, err error)

	// ListRecent lists message IDs from the last `days` days, used as the
	// fallback when there is no usable history cursor.
	ListRecent(ctx context.Context, days int) (messageIDs []string, newCursor string, err error)

	// GetHeaders fetches only the header subset needed for detection.
	GetHeaders(ctx context.Context, messageID string) (Headers, error)

	// GetBody fetches the full message body HTML/plain text/snippet for
	// issue-URL candidate extraction.
	GetBody(ctx context.Context, messageID string) (body, error)
}

// body is the raw content issue-URL candidate extraction works from.
type body struct {
	HTML        string
	Text        string
	Snippet     string
	PublishedAt time.Time
}

// gmailClient wraps the real gmail/v1 service, wrapping every call in the
// rate limiter (Gmail has no published per-call quota unit cost model
// comparable to YouTube's, so no quota.Tracker accounting here — only the
// rate limiter's 429 handling applies).
type gmailClient struct {
	svc     *gmail.Service
	limiter *ratelimit.Limiter
	userID  string
}

func newGmailClient(svc *gmail.Service, limiter *ratelimit.Limiter, userID string) *gmailClient {
	return &gmailClient{svc: svc, limiter: limiter, userID: userID}
}

func (c *gmailClient) HistorySince(ctx context.Context, cursor string) ([]string, string, bool, error) {
	var ids []string
	var newCursor string
	ok := true

	err := c.limiter.Fetch(ctx, "gmail", c.userID, func(ctx context.Context) error {
		call := c.svc.Users.History.List("me").StartHistoryId(mustParseUint64(cursor)).Context(ctx)
		resp, err := call.Do()
		if err != nil {
			if isGoogleNotFound(err) {
				ok = false
				return nil
			}
			return fmt.Errorf("history.list: %w", err)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil {
					ids = append(ids, added.Message.Id)
				}
			}
		}
		newCursor = fmt.Sprintf("%d", resp.HistoryId)
		return nil
	})
	return ids, newCursor, ok, err
}

func (c *gmailClient) ListRecent(ctx context.Context, days int) ([]string, string, error) {
	var ids []string
	var newCursor string

	err := c.limiter.Fetch(ctx, "gmail", c.userID, func(ctx context.Context) error {
		query := fmt.Sprintf("newer_than:%dd", days)
		resp, err := c.svc.Users.Messages.List("me").Q(query).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("messages.list: %w", err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}

		profile, err := c.svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("users.getProfile: %w", err)
		}
		newCursor = fmt.Sprintf("%d", profile.HistoryId)
		return nil
	})
	return ids, newCursor, err
}

func (c *gmailClient) GetHeaders(ctx context.Context, messageID string) (Headers, error) {
	var headers Headers
	err := c.limiter.Fetch(ctx, "gmail", c.userID, func(ctx context.Context) error {
		msg, err := c.svc.Users.Messages.Get("me", messageID).Format("metadata").
			MetadataHeaders("From", "Subject", "List-Id", "List-Unsubscribe", "List-Unsubscribe-Post").
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("messages.get metadata: %w", err)
		}
		if msg.Payload == nil {
			return nil
		}
		for _, h := range msg.Payload.Headers {
			if !fetchedHeaders[h.Name] {
				continue
			}
			switch h.Name {
			case "From":
				headers.From = h.Value
			case "Subject":
				headers.Subject = h.Value
			case "List-Id":
				headers.ListID = h.Value
			case "List-Unsubscribe":
				headers.ListUnsubscribe = h.Value
			case "List-Unsubscribe-Post":
				headers.ListUnsubscribePost = h.Value
			}
		}
		return nil
	})
	return headers, err
}

func (c *gmailClient) GetBody(ctx context.Context, messageID string) (body, error) {
	var b body
	err := c.limiter.Fetch(ctx, "gmail", c.userID, func(ctx context.Context) error {
		msg, err := c.svc.Users.Messages.Get("me", messageID).Format("full").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("messages.get full: %w", err)
		}
		b.Snippet = msg.Snippet
		b.PublishedAt = time.UnixMilli(msg.InternalDate).UTC()
		if msg.Payload != nil {
			b.HTML, b.Text = extractBodyParts(msg.Payload)
		}
		return nil
	})
	return b, err
}

// newGmailService builds a gmail/v1 client authenticated with a short-lived
// access token already validated by internal/token.
func newGmailService(ctx context.Context, accessToken string, expiresAt time.Time) (*gmail.Service, error) {
	ts := oauth2.StaticTokenSource(token.ToOAuth2Token(accessToken, expiresAt))
	return gmail.NewService(ctx, option.WithTokenSource(ts))
}
