package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/briefloop/ingestcore/internal/config"
)

// PostgresStore implements RelationalStore over PostgreSQL via sqlx, using
// conditional inserts and narrow single-row updates exclusively — no
// multi-row transactions, per the concurrency model's shared-resource policy.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens a connection pool against cfg.DSN and configures it
// per cfg.MaxOpenConns/MaxIdleConns/ConnMaxLifetime.
func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already-open *sqlx.DB, used in tests against
// a disposable Postgres instance.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListDueSubscriptions implements RelationalStore.ListDueSubscriptions.
func (p *PostgresStore) ListDueSubscriptions(ctx context.Context, limit int) ([]*Subscription, error) {
	const query = `
		SELECT id, user_id, provider, provider_channel_id, display_name,
		       poll_interval_seconds, last_polled_at, last_published_at,
		       total_items, status, error_count, last_error, created_at, updated_at
		FROM subscriptions
		WHERE status = $1
		  AND (last_polled_at IS NULL OR last_polled_at < now() - (poll_interval_seconds || ' seconds')::interval)
		ORDER BY last_polled_at ASC NULLS FIRST
		LIMIT $2`

	var subs []*Subscription
	if err := p.db.SelectContext(ctx, &subs, query, SubscriptionActive, limit); err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	return subs, nil
}

// GetSubscription implements RelationalStore.GetSubscription.
func (p *PostgresStore) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	const query = `
		SELECT id, user_id, provider, provider_channel_id, display_name,
		       poll_interval_seconds, last_polled_at, last_published_at,
		       total_items, status, error_count, last_error, created_at, updated_at
		FROM subscriptions WHERE id = $1`

	var sub Subscription
	if err := p.db.GetContext(ctx, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

// UpdateSubscriptionPoll implements RelationalStore.UpdateSubscriptionPoll.
// The watermark update uses GREATEST so I1 (monotonicity) holds even under
// a concurrent overlapping cycle (§5 "Cancellation").
func (p *PostgresStore) UpdateSubscriptionPoll(ctx context.Context, id string, polledAt time.Time, newWatermark *time.Time) error {
	const query = `
		UPDATE subscriptions
		SET last_polled_at = $2,
		    last_published_at = GREATEST(last_published_at, $3),
		    error_count = 0,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1`

	_, err := p.db.ExecContext(ctx, query, id, polledAt, newWatermark)
	if err != nil {
		return fmt.Errorf("update subscription poll: %w", err)
	}
	return nil
}

// AdvanceSubscriptionPollOnError implements RelationalStore.AdvanceSubscriptionPollOnError.
func (p *PostgresStore) AdvanceSubscriptionPollOnError(ctx context.Context, id string, polledAt time.Time, message string) error {
	const query = `
		UPDATE subscriptions
		SET last_polled_at = $2,
		    error_count = error_count + 1,
		    last_error = $3,
		    updated_at = now()
		WHERE id = $1`

	_, err := p.db.ExecContext(ctx, query, id, polledAt, message)
	if err != nil {
		return fmt.Errorf("advance subscription poll on error: %w", err)
	}
	return nil
}

// MarkSubscriptionsDisconnected implements RelationalStore.MarkSubscriptionsDisconnected.
func (p *PostgresStore) MarkSubscriptionsDisconnected(ctx context.Context, userID, provider string) error {
	const query = `
		UPDATE subscriptions SET status = $3, updated_at = now()
		WHERE user_id = $1 AND provider = $2 AND status = $4`

	_, err := p.db.ExecContext(ctx, query, userID, provider, SubscriptionDisconnected, SubscriptionActive)
	if err != nil {
		return fmt.Errorf("mark subscriptions disconnected: %w", err)
	}
	return nil
}

// RecordSubscriptionError implements RelationalStore.RecordSubscriptionError.
func (p *PostgresStore) RecordSubscriptionError(ctx context.Context, id string, message string) error {
	const query = `
		UPDATE subscriptions
		SET error_count = error_count + 1, last_error = $2, updated_at = now()
		WHERE id = $1`

	_, err := p.db.ExecContext(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("record subscription error: %w", err)
	}
	return nil
}

// SetSubscriptionStatus implements RelationalStore.SetSubscriptionStatus.
func (p *PostgresStore) SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus) error {
	const query = `UPDATE subscriptions SET status = $2, updated_at = now() WHERE id = $1`

	_, err := p.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("set subscription status: %w", err)
	}
	return nil
}

// GetActiveConnection implements RelationalStore.GetActiveConnection.
func (p *PostgresStore) GetActiveConnection(ctx context.Context, userID, provider string) (*ProviderConnection, error) {
	const query = `
		SELECT id, user_id, provider, encrypted_access_token, encrypted_refresh_token,
		       token_expires_at, rotation_history, status, last_refreshed_at, created_at, updated_at
		FROM provider_connections
		WHERE user_id = $1 AND provider = $2 AND status = $3`

	var row connectionRow
	err := p.db.GetContext(ctx, &row, query, userID, provider, ConnectionActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("get active connection: %w", err)
	}
	return row.toConnection()
}

// UpdateConnection implements RelationalStore.UpdateConnection.
func (p *PostgresStore) UpdateConnection(ctx context.Context, conn *ProviderConnection) error {
	history, err := json.Marshal(conn.RotationHistory)
	if err != nil {
		return fmt.Errorf("marshal rotation history: %w", err)
	}

	const query = `
		UPDATE provider_connections
		SET encrypted_access_token = $2, encrypted_refresh_token = $3, token_expires_at = $4,
		    rotation_history = $5, status = $6, last_refreshed_at = $7, updated_at = now()
		WHERE id = $1`

	_, err = p.db.ExecContext(ctx, query, conn.ID, conn.EncryptedAccessToken, conn.EncryptedRefreshToken,
		conn.TokenExpiresAt, history, conn.Status, conn.LastRefreshedAt)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return nil
}

// FindOrCreateCreator implements RelationalStore.FindOrCreateCreator: an
// idempotent upsert keyed by (provider, provider_creator_id). ON CONFLICT
// DO UPDATE with a no-op SET lets a single round trip return the existing row.
func (p *PostgresStore) FindOrCreateCreator(ctx context.Context, c *Creator) (*Creator, error) {
	const query = `
		INSERT INTO creators (id, provider, provider_creator_id, display_name, normalized_name, handle, image_url, external_url, synthetic, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (provider, provider_creator_id) DO UPDATE SET provider = EXCLUDED.provider
		RETURNING id, provider, provider_creator_id, display_name, normalized_name, handle, image_url, external_url, synthetic, created_at`

	var stored Creator
	err := p.db.GetContext(ctx, &stored, query,
		c.ID, c.Provider, c.ProviderCreatorID, c.DisplayName, c.NormalizedName, c.Handle, c.ImageURL, c.ExternalURL, c.Synthetic)
	if err != nil {
		return nil, fmt.Errorf("find or create creator: %w", err)
	}
	return &stored, nil
}

// UpsertItem implements RelationalStore.UpsertItem (I2: duplicate inserts are no-ops).
func (p *PostgresStore) UpsertItem(ctx context.Context, item *Item) (*Item, bool, error) {
	const insert = `
		INSERT INTO items (id, provider, provider_id, content_type, canonical_url, title, summary,
		                    published_at, duration_seconds, thumbnail_url, raw_metadata, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (provider, provider_id) DO NOTHING`

	res, err := p.db.ExecContext(ctx, insert,
		item.ID, item.Provider, item.ProviderID, item.ContentType, item.CanonicalURL, item.Title, item.Summary,
		item.PublishedAt, item.DurationSeconds, item.ThumbnailURL, item.RawMetadata, item.CreatorID)
	if err != nil {
		return nil, false, fmt.Errorf("insert item: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert item rows affected: %w", err)
	}
	if rows > 0 {
		return item, true, nil
	}

	existing, err := p.getItemByNaturalKey(ctx, item.Provider, item.ProviderID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (p *PostgresStore) getItemByNaturalKey(ctx context.Context, provider, providerID string) (*Item, error) {
	const query = `
		SELECT id, provider, provider_id, content_type, canonical_url, title, summary,
		       published_at, duration_seconds, thumbnail_url, raw_metadata, creator_id, created_at, updated_at
		FROM items WHERE provider = $1 AND provider_id = $2`

	var item Item
	if err := p.db.GetContext(ctx, &item, query, provider, providerID); err != nil {
		return nil, fmt.Errorf("get item by natural key: %w", err)
	}
	return &item, nil
}

// BackfillItem implements RelationalStore.BackfillItem: only NULL columns are
// set, so previously ingested user-relevant data is never overwritten.
func (p *PostgresStore) BackfillItem(ctx context.Context, item *Item) error {
	const query = `
		UPDATE items SET
			summary = COALESCE(summary, $2),
			duration_seconds = COALESCE(duration_seconds, $3),
			thumbnail_url = COALESCE(thumbnail_url, $4),
			creator_id = COALESCE(creator_id, $5),
			raw_metadata = COALESCE(raw_metadata, $6),
			updated_at = now()
		WHERE id = $1`

	_, err := p.db.ExecContext(ctx, query, item.ID, item.Summary, item.DurationSeconds, item.ThumbnailURL, item.CreatorID, item.RawMetadata)
	if err != nil {
		return fmt.Errorf("backfill item: %w", err)
	}
	return nil
}

// EnsureUserItem implements RelationalStore.EnsureUserItem (I2: no-op on duplicate).
func (p *PostgresStore) EnsureUserItem(ctx context.Context, ui *UserItem) error {
	const query = `
		INSERT INTO user_items (id, user_id, item_id, state, ingested_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id, item_id) DO NOTHING`

	_, err := p.db.ExecContext(ctx, query, ui.ID, ui.UserID, ui.ItemID, ui.State)
	if err != nil {
		return fmt.Errorf("ensure user item: %w", err)
	}
	return nil
}

// ItemsMissingCreator implements RelationalStore.ItemsMissingCreator.
func (p *PostgresStore) ItemsMissingCreator(ctx context.Context, limit int) ([]*Item, error) {
	const query = `
		SELECT id, provider, provider_id, content_type, canonical_url, title, summary,
		       published_at, duration_seconds, thumbnail_url, raw_metadata, creator_id, created_at, updated_at
		FROM items WHERE creator_id IS NULL LIMIT $1`

	var items []*Item
	if err := p.db.SelectContext(ctx, &items, query, limit); err != nil {
		return nil, fmt.Errorf("items missing creator: %w", err)
	}
	return items, nil
}

// SubscriptionsForRepair implements RelationalStore.SubscriptionsForRepair.
func (p *PostgresStore) SubscriptionsForRepair(ctx context.Context) ([]*Subscription, error) {
	const query = `
		SELECT s.id, s.user_id, s.provider, s.provider_channel_id, s.display_name,
		       s.poll_interval_seconds, s.last_polled_at, s.last_published_at,
		       s.total_items, s.status, s.error_count, s.last_error, s.created_at, s.updated_at
		FROM subscriptions s
		WHERE s.last_published_at IS NOT NULL
		  AND (
		    s.last_published_at > COALESCE((SELECT MAX(i.published_at) FROM items i
		        JOIN user_items ui ON ui.item_id = i.id WHERE ui.user_id = s.user_id), 'epoch'::timestamptz) + interval '1 day'
		    OR NOT EXISTS (SELECT 1 FROM user_items ui WHERE ui.user_id = s.user_id)
		  )`

	var subs []*Subscription
	if err := p.db.SelectContext(ctx, &subs, query); err != nil {
		return nil, fmt.Errorf("subscriptions for repair: %w", err)
	}
	return subs, nil
}

// NewestItemPublishedAt implements RelationalStore.NewestItemPublishedAt.
func (p *PostgresStore) NewestItemPublishedAt(ctx context.Context, subscriptionID string) (*time.Time, error) {
	const query = `
		SELECT MAX(i.published_at) FROM items i
		JOIN user_items ui ON ui.item_id = i.id
		JOIN subscriptions s ON s.user_id = ui.user_id
		WHERE s.id = $1`

	var newest sql.NullTime
	if err := p.db.GetContext(ctx, &newest, query, subscriptionID); err != nil {
		return nil, fmt.Errorf("newest item published at: %w", err)
	}
	if !newest.Valid {
		return nil, nil
	}
	return &newest.Time, nil
}

// ResetWatermark implements RelationalStore.ResetWatermark — the only path
// permitted to violate I1 (spec.md §4.8).
func (p *PostgresStore) ResetWatermark(ctx context.Context, subscriptionID string, watermark *time.Time) error {
	const query = `UPDATE subscriptions SET last_published_at = $2, updated_at = now() WHERE id = $1`
	if _, err := p.db.ExecContext(ctx, query, subscriptionID, watermark); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}
	return nil
}

// GetOrCreateMailbox implements RelationalStore.GetOrCreateMailbox.
func (p *PostgresStore) GetOrCreateMailbox(ctx context.Context, userID, provider string) (*Mailbox, error) {
	const upsert = `
		INSERT INTO mailboxes (id, user_id, provider, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (user_id, provider) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, provider, history_cursor, created_at, updated_at`

	var mailbox Mailbox
	err := p.db.GetContext(ctx, &mailbox, upsert, uuid.NewString(), userID, provider)
	if err != nil {
		return nil, fmt.Errorf("get or create mailbox: %w", err)
	}
	return &mailbox, nil
}

// UpdateMailboxCursor implements RelationalStore.UpdateMailboxCursor.
func (p *PostgresStore) UpdateMailboxCursor(ctx context.Context, mailboxID, cursor string) error {
	const query = `UPDATE mailboxes SET history_cursor = $2, updated_at = now() WHERE id = $1`
	if _, err := p.db.ExecContext(ctx, query, mailboxID, cursor); err != nil {
		return fmt.Errorf("update mailbox cursor: %w", err)
	}
	return nil
}

// FindOrCreateNewsletterFeed implements RelationalStore.FindOrCreateNewsletterFeed:
// an idempotent upsert keyed by (user_id, canonical_key); lastSeenAt and the
// score high-water mark advance on every observation of an existing feed.
func (p *PostgresStore) FindOrCreateNewsletterFeed(ctx context.Context, f *NewsletterFeed) (*NewsletterFeed, error) {
	const query = `
		INSERT INTO newsletter_feeds (id, user_id, canonical_key, display_name, detection_score, status, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (user_id, canonical_key) DO UPDATE SET
			detection_score = GREATEST(newsletter_feeds.detection_score, EXCLUDED.detection_score),
			last_seen_at = now()
		RETURNING id, user_id, canonical_key, display_name, detection_score, status, first_seen_at, last_seen_at`

	var stored NewsletterFeed
	err := p.db.GetContext(ctx, &stored, query,
		f.ID, f.UserID, f.CanonicalKey, f.DisplayName, f.DetectionScore, f.Status)
	if err != nil {
		return nil, fmt.Errorf("find or create newsletter feed: %w", err)
	}
	return &stored, nil
}

// UpgradeItemCanonicalURL implements RelationalStore.UpgradeItemCanonicalURL.
func (p *PostgresStore) UpgradeItemCanonicalURL(ctx context.Context, itemID, newURL string) error {
	const query = `UPDATE items SET canonical_url = $2, updated_at = now() WHERE id = $1`
	if _, err := p.db.ExecContext(ctx, query, itemID, newURL); err != nil {
		return fmt.Errorf("upgrade item canonical url: %w", err)
	}
	return nil
}

// Close implements RelationalStore.Close.
func (p *PostgresStore) Close() error {
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("close postgres: %w", err)
	}
	return nil
}

// Ping implements RelationalStore.Ping.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// connectionRow maps provider_connections columns, decoding rotation_history
// from its stored JSON representation.
type connectionRow struct {
	ID                    string          `db:"id"`
	UserID                string          `db:"user_id"`
	Provider              string          `db:"provider"`
	EncryptedAccessToken  string          `db:"encrypted_access_token"`
	EncryptedRefreshToken string          `db:"encrypted_refresh_token"`
	TokenExpiresAt        time.Time       `db:"token_expires_at"`
	RotationHistory       json.RawMessage `db:"rotation_history"`
	Status                ConnectionStatus `db:"status"`
	LastRefreshedAt       *time.Time      `db:"last_refreshed_at"`
	CreatedAt             time.Time       `db:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at"`
}

func (r *connectionRow) toConnection() (*ProviderConnection, error) {
	var history []TokenRotation
	if len(r.RotationHistory) > 0 {
		if err := json.Unmarshal(r.RotationHistory, &history); err != nil {
			return nil, fmt.Errorf("unmarshal rotation history: %w", err)
		}
	}
	return &ProviderConnection{
		ID:                    r.ID,
		UserID:                r.UserID,
		Provider:              r.Provider,
		EncryptedAccessToken:  r.EncryptedAccessToken,
		EncryptedRefreshToken: r.EncryptedRefreshToken,
		TokenExpiresAt:        r.TokenExpiresAt,
		RotationHistory:       history,
		Status:                r.Status,
		LastRefreshedAt:       r.LastRefreshedAt,
		CreatedAt:             r.CreatedAt,
		UpdatedAt:             r.UpdatedAt,
	}, nil
}
