// Package admin implements the two operator-facing repair tools described
// in spec.md §4.8: creator backfill for items that slipped through without
// a resolved creator, and watermark repair for subscriptions whose
// lastPublishedAt has drifted from reality. Both run read-then-write, both
// support a dry-run mode that only reports what would change, grounded in
// the teacher's cmd/compliance report-then-optionally-apply shape.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/observability"
	"github.com/briefloop/ingestcore/internal/provider/newsletter"
	"github.com/briefloop/ingestcore/internal/storage"
)

// backfillBatchLimit bounds how many creator-less items one CreatorBackfill
// call scans, matching the scheduler's BatchLimit order of magnitude so a
// single admin invocation stays a bounded, retriable unit of work.
const backfillBatchLimit = 500

// Admin runs the repair operations against the relational store.
type Admin struct {
	store  storage.RelationalStore
	logger *observability.Logger
}

// New builds an Admin over store.
func New(store storage.RelationalStore, logger *observability.Logger) *Admin {
	return &Admin{store: store, logger: logger}
}

// CreatorBackfillDetail reports the outcome for one scanned item.
type CreatorBackfillDetail struct {
	ItemID   string `json:"itemId"`
	Provider string `json:"provider"`
	Applied  bool   `json:"applied"`
	Reason   string `json:"reason,omitempty"`
}

// CreatorBackfillResult is what CreatorBackfill returns.
type CreatorBackfillResult struct {
	DryRun     bool                    `json:"dryRun"`
	Scanned    int                     `json:"scanned"`
	Backfilled int                     `json:"backfilled"`
	Skipped    int                     `json:"skipped"`
	Details    []CreatorBackfillDetail `json:"details"`
}

// CreatorBackfill scans items lacking a creator and, where rawMetadata
// carries enough to resolve one (a provider-native creator ID, or a name to
// synthesize one from), attaches it — deduplicating to one Creator row per
// normalized name within a single run the same way the ingestion pipeline
// does across runs (spec.md §4.8). Items whose rawMetadata carries no
// creator-identifying field (e.g. podcast episodes, which don't persist
// their show's ID) are reported skipped rather than guessed at.
func (a *Admin) CreatorBackfill(ctx context.Context, dryRun bool) (CreatorBackfillResult, error) {
	items, err := a.store.ItemsMissingCreator(ctx, backfillBatchLimit)
	if err != nil {
		return CreatorBackfillResult{}, fmt.Errorf("list items missing creator: %w", err)
	}

	result := CreatorBackfillResult{DryRun: dryRun}

	for _, item := range items {
		result.Scanned++

		info, ok := extractCreatorInfo(item)
		if !ok {
			result.Skipped++
			result.Details = append(result.Details, CreatorBackfillDetail{
				ItemID: item.ID, Provider: item.Provider, Applied: false,
				Reason: "rawMetadata carries no recoverable creator identity",
			})
			continue
		}

		if dryRun {
			result.Backfilled++
			result.Details = append(result.Details, CreatorBackfillDetail{ItemID: item.ID, Provider: item.Provider, Applied: false, Reason: "dry-run"})
			continue
		}

		creator, err := a.resolveCreator(ctx, item.Provider, info)
		if err != nil {
			return result, fmt.Errorf("resolve creator for item %s: %w", item.ID, err)
		}

		if err := a.store.BackfillItem(ctx, &storage.Item{ID: item.ID, CreatorID: &creator.ID}); err != nil {
			return result, fmt.Errorf("backfill item %s: %w", item.ID, err)
		}

		result.Backfilled++
		result.Details = append(result.Details, CreatorBackfillDetail{ItemID: item.ID, Provider: item.Provider, Applied: true})
	}

	if a.logger != nil {
		a.logger.Info("creator backfill complete",
			zap.Int("scanned", result.Scanned),
			zap.Int("backfilled", result.Backfilled),
			zap.Int("skipped", result.Skipped),
			zap.Bool("dryRun", dryRun),
		)
	}

	return result, nil
}

// resolveCreator dedupes within this run: two items resolving to the same
// (provider, providerCreatorID) attach to the same creator row, mirroring
// internal/ingest.Pipeline.resolveCreator's FindOrCreateCreator contract.
func (a *Admin) resolveCreator(ctx context.Context, provider string, info creatorInfo) (*storage.Creator, error) {
	candidate := &storage.Creator{
		ID:                uuid.NewString(),
		Provider:          provider,
		ProviderCreatorID: info.providerCreatorID,
		DisplayName:       info.displayName,
		NormalizedName:    ingest.NormalizeName(info.displayName),
	}
	if candidate.ProviderCreatorID == "" {
		candidate.ProviderCreatorID = ingest.SyntheticCreatorID(provider, candidate.NormalizedName)
		candidate.Synthetic = true
	}
	return a.store.FindOrCreateCreator(ctx, candidate)
}

// creatorInfo is the minimal shape extractCreatorInfo needs to recover:
// either a provider-native creator ID, or just enough of a display name to
// synthesize one.
type creatorInfo struct {
	providerCreatorID string
	displayName       string
}

// videoRawMetadata mirrors internal/provider/video's marshaled videoDetails
// (field names only, no json tags on either side).
type videoRawMetadata struct {
	ChannelID    string
	ChannelTitle string
}

// newsletterRawMetadata mirrors internal/provider/newsletter's
// rawNewsletterMetadata shape.
type newsletterRawMetadata struct {
	CanonicalKey string `json:"canonicalKey"`
	FromHeader   string `json:"from"`
}

// extractCreatorInfo attempts to recover creator identity from an item's
// rawMetadata, dispatching on contentType the same way a provider tag
// would. Returns ok=false when the stored payload has nothing to recover
// (e.g. podcast episodes, whose rawMetadata never carried the parent show).
func extractCreatorInfo(item *storage.Item) (creatorInfo, bool) {
	if len(item.RawMetadata) == 0 {
		return creatorInfo{}, false
	}

	switch item.ContentType {
	case "video":
		var raw videoRawMetadata
		if err := json.Unmarshal(item.RawMetadata, &raw); err != nil || raw.ChannelID == "" {
			return creatorInfo{}, false
		}
		return creatorInfo{providerCreatorID: raw.ChannelID, displayName: raw.ChannelTitle}, true

	case "newsletter":
		var raw newsletterRawMetadata
		if err := json.Unmarshal(item.RawMetadata, &raw); err != nil || raw.CanonicalKey == "" {
			return creatorInfo{}, false
		}
		return creatorInfo{providerCreatorID: raw.CanonicalKey, displayName: newsletter.SenderDisplayName(raw.FromHeader)}, true

	default:
		return creatorInfo{}, false
	}
}

// WatermarkRepairDetail reports the outcome for one inspected subscription.
type WatermarkRepairDetail struct {
	SubscriptionID  string     `json:"subscriptionId"`
	OldWatermark    *time.Time `json:"oldWatermark,omitempty"`
	NewWatermark    *time.Time `json:"newWatermark,omitempty"`
	Applied         bool       `json:"applied"`
}

// WatermarkRepairResult is what WatermarkRepair returns.
type WatermarkRepairResult struct {
	DryRun     bool                    `json:"dryRun"`
	Inspected  int                     `json:"inspected"`
	Repaired   int                     `json:"repaired"`
	Details    []WatermarkRepairDetail `json:"details"`
}

// watermarkDriftThreshold is the repair candidate's threshold (spec.md
// §4.8): lastPublishedAt more than this far past the newest known item is
// considered drifted, not merely racy.
const watermarkDriftThreshold = 24 * time.Hour

// WatermarkRepair finds subscriptions whose lastPublishedAt has drifted
// past their newest ingested item by more than a day, or which carry a
// watermark with no items at all, and resets it to the newest item's
// publishedAt (or nil, to trigger a full backfill on the next poll) — the
// only path in this core allowed to decrease lastPublishedAt (spec.md I1).
func (a *Admin) WatermarkRepair(ctx context.Context, dryRun bool) (WatermarkRepairResult, error) {
	subs, err := a.store.SubscriptionsForRepair(ctx)
	if err != nil {
		return WatermarkRepairResult{}, fmt.Errorf("list subscriptions for repair: %w", err)
	}

	result := WatermarkRepairResult{DryRun: dryRun}

	for _, sub := range subs {
		result.Inspected++

		newest, err := a.store.NewestItemPublishedAt(ctx, sub.ID)
		if err != nil {
			return result, fmt.Errorf("newest item published at for %s: %w", sub.ID, err)
		}

		detail := WatermarkRepairDetail{SubscriptionID: sub.ID, OldWatermark: sub.LastPublishedAt, NewWatermark: newest}

		if dryRun {
			result.Repaired++
			result.Details = append(result.Details, detail)
			continue
		}

		if err := a.store.ResetWatermark(ctx, sub.ID, newest); err != nil {
			return result, fmt.Errorf("reset watermark for %s: %w", sub.ID, err)
		}
		detail.Applied = true
		result.Repaired++
		result.Details = append(result.Details, detail)
	}

	if a.logger != nil {
		a.logger.Info("watermark repair complete",
			zap.Int("inspected", result.Inspected),
			zap.Int("repaired", result.Repaired),
			zap.Bool("dryRun", dryRun),
		)
	}

	return result, nil
}
