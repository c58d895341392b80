// Package ingest implements the idempotent dedupe-then-insert pipeline
// described in spec.md §4.7. The upsert/backfill/ensure shape is grounded in
// the other_examples storetheindex ingest.go and gold_ingestion.go pattern:
// look up by natural key, back-fill only unset fields, and let the store's
// ON CONFLICT clauses make repeated runs a no-op.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/briefloop/ingestcore/internal/storage"
)

// CreatorInfo is the creator metadata an adapter's Transform extracts
// alongside the canonical Item. Provider omitted here: it is always the
// owning subscription's provider.
type CreatorInfo struct {
	ProviderCreatorID string
	DisplayName       string
	Handle            *string
	ImageURL          *string
	ExternalURL       *string
}

// Result is what IngestItem returns.
type Result struct {
	Created bool
	ItemID  string
}

// URLUpgrade lets a provider whose canonical URL sometimes falls back to a
// placeholder ask the pipeline to replace an already-stored placeholder URL
// in place once a better one resolves on a later poll (spec.md §4.6,
// newsletter provider's "upgrade in place" rule). Only the newsletter
// provider sets this today; every other provider passes nil.
type URLUpgrade struct {
	// IsFallback reports whether a canonical URL is this provider's
	// placeholder shape, e.g. a mailbox deep link rather than a real issue URL.
	IsFallback func(url string) bool
}

// Pipeline runs the ingestion algorithm against a relational store.
type Pipeline struct {
	store storage.RelationalStore
}

// NewPipeline builds a Pipeline over the given store.
func NewPipeline(store storage.RelationalStore) *Pipeline {
	return &Pipeline{store: store}
}

// IngestItem runs the full spec.md §4.7 algorithm for one canonical item
// already produced by a provider's Transform. provider is the owning
// subscription's provider tag; userID is the owning user.
//
// The pipeline is idempotent: calling it twice with equivalent item/creator
// values leaves the store in the same end state, with created=false on the
// second call.
func (p *Pipeline) IngestItem(ctx context.Context, provider, userID string, item *storage.Item, creator *CreatorInfo, upgrade *URLUpgrade) (Result, error) {
	item.Provider = provider

	if creator != nil {
		resolved, err := p.resolveCreator(ctx, provider, creator)
		if err != nil {
			return Result{}, fmt.Errorf("resolve creator: %w", err)
		}
		item.CreatorID = &resolved.ID
	}

	stored, created, err := p.store.UpsertItem(ctx, item)
	if err != nil {
		return Result{}, fmt.Errorf("upsert item: %w", err)
	}

	if !created {
		stored.BackfillFrom(item)
		if err := p.store.BackfillItem(ctx, stored); err != nil {
			return Result{}, fmt.Errorf("backfill item: %w", err)
		}

		if upgrade != nil && upgrade.IsFallback != nil &&
			upgrade.IsFallback(stored.CanonicalURL) && !upgrade.IsFallback(item.CanonicalURL) {
			if err := p.store.UpgradeItemCanonicalURL(ctx, stored.ID, item.CanonicalURL); err != nil {
				return Result{}, fmt.Errorf("upgrade canonical url: %w", err)
			}
			stored.CanonicalURL = item.CanonicalURL
		}
	}

	userItem := &storage.UserItem{
		ID:     uuid.NewString(),
		UserID: userID,
		ItemID: stored.ID,
		State:  storage.UserItemInbox,
	}
	if err := p.store.EnsureUserItem(ctx, userItem); err != nil {
		return Result{}, fmt.Errorf("ensure user item: %w", err)
	}

	return Result{Created: created, ItemID: stored.ID}, nil
}

func (p *Pipeline) resolveCreator(ctx context.Context, provider string, info *CreatorInfo) (*storage.Creator, error) {
	candidate := &storage.Creator{
		ID:                uuid.NewString(),
		Provider:          provider,
		ProviderCreatorID: info.ProviderCreatorID,
		DisplayName:       info.DisplayName,
		NormalizedName:    NormalizeName(info.DisplayName),
		Handle:            info.Handle,
		ImageURL:          info.ImageURL,
		ExternalURL:       info.ExternalURL,
		Synthetic:         info.ProviderCreatorID == "",
	}

	if candidate.ProviderCreatorID == "" {
		candidate.ProviderCreatorID = SyntheticCreatorID(provider, candidate.NormalizedName)
	}

	return p.store.FindOrCreateCreator(ctx, candidate)
}

// SyntheticCreatorID deterministically derives a provider creator ID for
// providers with no native creator identity (generic web, web feeds, some
// newsletters): SHA-256 of "<provider>:<normalizedName>", truncated to 32
// hex characters (spec.md §4.7).
func SyntheticCreatorID(provider, normalizedName string) string {
	sum := sha256.Sum256([]byte(provider + ":" + normalizedName))
	return hex.EncodeToString(sum[:])[:32]
}

// NormalizeName lowercases and collapses whitespace in a creator's display
// name so distinct-looking names that refer to the same creator converge to
// one normalized key (used both for dedup and synthetic ID derivation).
func NormalizeName(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, " ")
}
