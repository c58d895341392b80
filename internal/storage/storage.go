package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConnectionNotFound is returned when a user has no connection for a provider.
	ErrConnectionNotFound = errors.New("provider connection not found")

	// ErrInvalidID is returned when an entity ID is empty or malformed.
	ErrInvalidID = errors.New("invalid entity id")

	// ErrStorageUnavailable is returned when the storage backend cannot be reached.
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)

// RelationalStore is the relational persistence surface: Subscription, Item, UserItem,
// Creator, ProviderConnection, NewsletterFeed, and Mailbox records. It owns
// conditional inserts (`on conflict do nothing`) and narrow updates; it never
// issues multi-row transactions, per the concurrency model's shared-resource
// policy.
//
// Implementations must be safe for concurrent use.
type RelationalStore interface {
	// ListDueSubscriptions returns up to limit ACTIVE subscriptions whose
	// lastPolledAt is NULL or older than now minus their own poll interval,
	// ordered lastPolledAt ASC NULLS FIRST.
	ListDueSubscriptions(ctx context.Context, limit int) ([]*Subscription, error)

	// GetSubscription retrieves a subscription by ID. Returns ErrNotFound if absent.
	GetSubscription(ctx context.Context, id string) (*Subscription, error)

	// UpdateSubscriptionPoll advances lastPolledAt and, monotonically,
	// lastPublishedAt (I1), and resets the consecutive-error counter since a
	// successful poll observed the subscription responding normally.
	UpdateSubscriptionPoll(ctx context.Context, id string, polledAt time.Time, newWatermark *time.Time) error

	// MarkSubscriptionsDisconnected transitions all subscriptions for a user+provider to DISCONNECTED.
	MarkSubscriptionsDisconnected(ctx context.Context, userID, provider string) error

	// RecordSubscriptionError increments the error counter and stores the last error message.
	RecordSubscriptionError(ctx context.Context, id string, message string) error

	// AdvanceSubscriptionPollOnError advances lastPolledAt and records the
	// failure in the same write, without touching lastPublishedAt or
	// resetting the error counter UpdateSubscriptionPoll would clear on
	// success (spec.md §4.1 step 6f: "always update lastPolledAt = now even
	// on error, to prevent tight retry loops").
	AdvanceSubscriptionPollOnError(ctx context.Context, id string, polledAt time.Time, message string) error

	// SetSubscriptionStatus narrowly updates a single subscription's status,
	// used by the web-feed adapter's consecutive-error threshold (spec.md §4.6).
	SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus) error

	// GetActiveConnection fetches the ACTIVE ProviderConnection for a user+provider.
	// Returns ErrConnectionNotFound if none exists.
	GetActiveConnection(ctx context.Context, userID, provider string) (*ProviderConnection, error)

	// UpdateConnection persists a rotated token, new expiry, and status.
	UpdateConnection(ctx context.Context, conn *ProviderConnection) error

	// FindOrCreateCreator performs the idempotent creator upsert keyed by (provider, providerCreatorID).
	FindOrCreateCreator(ctx context.Context, c *Creator) (*Creator, error)

	// UpsertItem inserts the canonical item on conflict do nothing, returning the stored row
	// (existing or newly created) and whether it was newly created.
	UpsertItem(ctx context.Context, item *Item) (stored *Item, created bool, err error)

	// BackfillItem applies metadata back-fill to an existing item (only null fields are set).
	BackfillItem(ctx context.Context, item *Item) error

	// EnsureUserItem inserts the UserItem on conflict do nothing.
	EnsureUserItem(ctx context.Context, ui *UserItem) error

	// ItemsMissingCreator lists canonical items with a NULL creator, for the backfill admin tool.
	ItemsMissingCreator(ctx context.Context, limit int) ([]*Item, error)

	// SubscriptionsForRepair lists subscriptions whose watermark may be inconsistent
	// with their newest known item, for the repair admin tool.
	SubscriptionsForRepair(ctx context.Context) ([]*Subscription, error)

	// NewestItemPublishedAt returns the newest publishedAt among items ingested for a
	// subscription, or nil if none exist.
	NewestItemPublishedAt(ctx context.Context, subscriptionID string) (*time.Time, error)

	// ResetWatermark sets lastPublishedAt directly, bypassing I1 (repair-only path).
	ResetWatermark(ctx context.Context, subscriptionID string, watermark *time.Time) error

	// GetOrCreateMailbox returns the user's mailbox row for provider, creating
	// one with a NULL history cursor if none exists yet.
	GetOrCreateMailbox(ctx context.Context, userID, provider string) (*Mailbox, error)

	// UpdateMailboxCursor persists a mailbox's latest incremental sync cursor.
	UpdateMailboxCursor(ctx context.Context, mailboxID, cursor string) error

	// FindOrCreateNewsletterFeed performs the idempotent feed upsert keyed by
	// (userID, canonicalKey), bumping lastSeenAt and the stored detection
	// score's high-water mark on an existing row.
	FindOrCreateNewsletterFeed(ctx context.Context, f *NewsletterFeed) (*NewsletterFeed, error)

	// UpgradeItemCanonicalURL overwrites an item's canonical URL in place,
	// the one path allowed to replace an already-set field outside backfill
	// (spec.md §4.6 newsletter upgrade-in-place rule).
	UpgradeItemCanonicalURL(ctx context.Context, itemID, newURL string) error

	// Close releases the underlying connection pool.
	Close() error

	// Ping checks connectivity to the backend. Returns ErrStorageUnavailable on failure.
	Ping(ctx context.Context) error
}
