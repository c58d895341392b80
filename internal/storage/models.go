// Package storage defines the persisted entities of the ingestion core and
// the interfaces used to read and write them. The relational store owns
// User, ProviderConnection, Subscription, Item, UserItem, Creator,
// NewsletterFeed, and Mailbox records; the KV store (see redis.go) owns
// locks, quota counters, rate-limit state, and provider side caches.
package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// ConnectionStatus is the lifecycle state of a ProviderConnection.
type ConnectionStatus string

const (
	ConnectionActive       ConnectionStatus = "ACTIVE"
	ConnectionExpired      ConnectionStatus = "EXPIRED"
	ConnectionDisconnected ConnectionStatus = "DISCONNECTED"
)

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "ACTIVE"
	SubscriptionDisconnected SubscriptionStatus = "DISCONNECTED"

	// SubscriptionError is webfeed-specific (spec.md §4.6): a feed that has
	// accrued the web-feed adapter's errorThreshold consecutive fetch errors.
	SubscriptionError SubscriptionStatus = "ERROR"
)

// UserItemState tracks a user's relationship to an ingested item.
type UserItemState string

const (
	UserItemInbox    UserItemState = "INBOX"
	UserItemArchived UserItemState = "ARCHIVED"
)

// FeedStatus is the lifecycle state of a NewsletterFeed.
type FeedStatus string

const (
	FeedActive       FeedStatus = "ACTIVE"
	FeedHidden       FeedStatus = "HIDDEN"
	FeedUnsubscribed FeedStatus = "UNSUBSCRIBED"
)

// User is a stable identifier created externally to the ingestion core.
type User struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// TokenRotation records a single refresh-token rotation event. ProviderConnection
// keeps a short ring of these for operator diagnosis of repeated refresh failures.
type TokenRotation struct {
	RotatedAt time.Time `json:"rotatedAt"`
	Reason    string    `json:"reason"`
}

// MaxRotationHistory bounds the ring kept on a ProviderConnection.
const MaxRotationHistory = 5

// ProviderConnection holds the encrypted OAuth material for one (user, provider)
// pair. Access and refresh tokens are stored as opaque envelopes produced by
// internal/crypto; this package never sees plaintext tokens.
type ProviderConnection struct {
	ID                  string           `json:"id" db:"id"`
	UserID              string           `json:"userId" db:"user_id"`
	Provider            string           `json:"provider" db:"provider"`
	EncryptedAccessToken string          `json:"-" db:"encrypted_access_token"`
	EncryptedRefreshToken string         `json:"-" db:"encrypted_refresh_token"`
	TokenExpiresAt      time.Time        `json:"tokenExpiresAt" db:"token_expires_at"`
	RotationHistory     []TokenRotation  `json:"rotationHistory,omitempty" db:"rotation_history"`
	Status              ConnectionStatus `json:"status" db:"status"`
	LastRefreshedAt      *time.Time      `json:"lastRefreshedAt,omitempty" db:"last_refreshed_at"`
	CreatedAt           time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time        `json:"updatedAt" db:"updated_at"`
}

// PushRotation appends a rotation event, trimming the history to MaxRotationHistory.
func (c *ProviderConnection) PushRotation(reason string, at time.Time) {
	c.RotationHistory = append(c.RotationHistory, TokenRotation{RotatedAt: at, Reason: reason})
	if len(c.RotationHistory) > MaxRotationHistory {
		c.RotationHistory = c.RotationHistory[len(c.RotationHistory)-MaxRotationHistory:]
	}
}

// Subscription is a user's poll target within a provider: a channel, show,
// mailbox-derived newsletter feed, or RSS/Atom feed.
type Subscription struct {
	ID                string             `json:"id" db:"id"`
	UserID            string             `json:"userId" db:"user_id"`
	Provider          string             `json:"provider" db:"provider"`
	ProviderChannelID string             `json:"providerChannelId" db:"provider_channel_id"`
	DisplayName       string             `json:"displayName" db:"display_name"`
	PollIntervalSeconds int              `json:"pollIntervalSeconds" db:"poll_interval_seconds"`
	LastPolledAt      *time.Time         `json:"lastPolledAt,omitempty" db:"last_polled_at"`
	LastPublishedAt   *time.Time         `json:"lastPublishedAt,omitempty" db:"last_published_at"`
	TotalItems        *int               `json:"totalItems,omitempty" db:"total_items"`
	Status            SubscriptionStatus `json:"status" db:"status"`
	ErrorCount        int                `json:"errorCount" db:"error_count"`
	LastError         *string            `json:"lastError,omitempty" db:"last_error"`
	CreatedAt         time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time          `json:"updatedAt" db:"updated_at"`
}

// IsDue reports whether the subscription should be polled at instant now,
// per the scheduler's due-selection rule (nulls-first, then elapsed interval).
func (s *Subscription) IsDue(now time.Time) bool {
	if s.LastPolledAt == nil {
		return true
	}
	interval := time.Duration(s.PollIntervalSeconds) * time.Second
	return s.LastPolledAt.Add(interval).Before(now)
}

// AdvanceWatermark applies invariant I1: lastPublishedAt only moves forward.
func (s *Subscription) AdvanceWatermark(observed time.Time) {
	if s.LastPublishedAt == nil || observed.After(*s.LastPublishedAt) {
		t := observed
		s.LastPublishedAt = &t
	}
}

// Item is the canonical representation of an external object (video, episode,
// newsletter issue, feed entry), unique per (Provider, ProviderID).
type Item struct {
	ID               string          `json:"id" db:"id"`
	Provider         string          `json:"provider" db:"provider"`
	ProviderID       string          `json:"providerId" db:"provider_id"`
	ContentType      string          `json:"contentType" db:"content_type"`
	CanonicalURL     string          `json:"canonicalUrl" db:"canonical_url"`
	Title            string          `json:"title" db:"title"`
	Summary          *string         `json:"summary,omitempty" db:"summary"`
	PublishedAt      time.Time       `json:"publishedAt" db:"published_at"`
	DurationSeconds  *int            `json:"durationSeconds,omitempty" db:"duration_seconds"`
	ThumbnailURL     *string         `json:"thumbnailUrl,omitempty" db:"thumbnail_url"`
	RawMetadata      json.RawMessage `json:"rawMetadata,omitempty" db:"raw_metadata"`
	CreatorID        *string         `json:"creatorId,omitempty" db:"creator_id"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time       `json:"updatedAt" db:"updated_at"`
}

// BackfillFrom copies non-null fields from other into i wherever i's own
// field is currently unset, per the ingestion pipeline's back-fill rule:
// metadata updates never erase already-present, user-relevant data.
func (i *Item) BackfillFrom(other *Item) {
	if i.Summary == nil && other.Summary != nil {
		i.Summary = other.Summary
	}
	if i.DurationSeconds == nil && other.DurationSeconds != nil {
		i.DurationSeconds = other.DurationSeconds
	}
	if i.ThumbnailURL == nil && other.ThumbnailURL != nil {
		i.ThumbnailURL = other.ThumbnailURL
	}
	if i.CreatorID == nil && other.CreatorID != nil {
		i.CreatorID = other.CreatorID
	}
	if len(i.RawMetadata) == 0 && len(other.RawMetadata) > 0 {
		i.RawMetadata = other.RawMetadata
	}
}

// UserItem binds a user to a canonical Item, unique per (UserID, ItemID).
type UserItem struct {
	ID         string        `json:"id" db:"id"`
	UserID     string        `json:"userId" db:"user_id"`
	ItemID     string        `json:"itemId" db:"item_id"`
	State      UserItemState `json:"state" db:"state"`
	IngestedAt time.Time     `json:"ingestedAt" db:"ingested_at"`
	Progress   *float64      `json:"progress,omitempty" db:"progress"`
}

// Creator is a content author/channel/show owner, unique per (Provider, ProviderCreatorID).
type Creator struct {
	ID                string    `json:"id" db:"id"`
	Provider          string    `json:"provider" db:"provider"`
	ProviderCreatorID string    `json:"providerCreatorId" db:"provider_creator_id"`
	DisplayName       string    `json:"displayName" db:"display_name"`
	NormalizedName    string    `json:"normalizedName" db:"normalized_name"`
	Handle            *string   `json:"handle,omitempty" db:"handle"`
	ImageURL          *string   `json:"imageUrl,omitempty" db:"image_url"`
	ExternalURL       *string   `json:"externalUrl,omitempty" db:"external_url"`
	Synthetic         bool      `json:"synthetic" db:"synthetic"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
}

// NewsletterFeed is a per-user logical subscription derived from email
// identity rather than an explicit subscribe action.
type NewsletterFeed struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"userId" db:"user_id"`
	CanonicalKey   string     `json:"canonicalKey" db:"canonical_key"`
	DisplayName    string     `json:"displayName" db:"display_name"`
	DetectionScore float64    `json:"detectionScore" db:"detection_score"`
	Status         FeedStatus `json:"status" db:"status"`
	FirstSeenAt    time.Time  `json:"firstSeenAt" db:"first_seen_at"`
	LastSeenAt     time.Time  `json:"lastSeenAt" db:"last_seen_at"`
}

// Mailbox is a per-user binding to an email provider identity, carrying the
// opaque incremental sync cursor (e.g. Gmail historyId).
type Mailbox struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"userId" db:"user_id"`
	Provider      string    `json:"provider" db:"provider"`
	HistoryCursor *string   `json:"historyCursor,omitempty" db:"history_cursor"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// QuotaState is the rolled daily usage counter for one provider, keyed by the
// provider's own calendar date. It round-trips through the KV store as JSON.
type QuotaState struct {
	Provider    string    `json:"provider"`
	Date        string    `json:"date"`
	Used        int       `json:"used"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MarshalBinary implements encoding.BinaryMarshaler for KV storage.
func (q *QuotaState) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal quota state: %w", err)
	}
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for KV storage.
func (q *QuotaState) UnmarshalBinary(data []byte) error {
	if err := json.Unmarshal(data, q); err != nil {
		return fmt.Errorf("unmarshal quota state: %w", err)
	}
	return nil
}

// RateLimitState is the per-(provider, user) circuit state for the rate limiter.
type RateLimitState struct {
	Provider            string     `json:"provider"`
	UserID              string     `json:"userId"`
	RetryAfter          *time.Time `json:"retryAfter,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastRequest         *time.Time `json:"lastRequest,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for KV storage.
func (r *RateLimitState) MarshalBinary() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal rate limit state: %w", err)
	}
	return data, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for KV storage.
func (r *RateLimitState) UnmarshalBinary(data []byte) error {
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal rate limit state: %w", err)
	}
	return nil
}

// IsLimited reports whether retryAfter is set and still in the future at now.
func (r *RateLimitState) IsLimited(now time.Time) bool {
	return r.RetryAfter != nil && r.RetryAfter.After(now)
}
