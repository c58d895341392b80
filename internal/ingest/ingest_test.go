package ingest_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briefloop/ingestcore/internal/ingest"
	"github.com/briefloop/ingestcore/internal/storage"
)

// fakeStore is a minimal in-memory RelationalStore double exercising only
// the ingestion pipeline's surface; unused methods panic if called.
type fakeStore struct {
	mu        sync.Mutex
	items     map[string]*storage.Item // keyed by provider:providerID
	userItems map[string]*storage.UserItem
	creators  map[string]*storage.Creator // keyed by provider:providerCreatorID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:     map[string]*storage.Item{},
		userItems: map[string]*storage.UserItem{},
		creators:  map[string]*storage.Creator{},
	}
}

func (f *fakeStore) FindOrCreateCreator(ctx context.Context, c *storage.Creator) (*storage.Creator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := c.Provider + ":" + c.ProviderCreatorID
	if existing, ok := f.creators[key]; ok {
		return existing, nil
	}
	f.creators[key] = c
	return c, nil
}

func (f *fakeStore) UpsertItem(ctx context.Context, item *storage.Item) (*storage.Item, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := item.Provider + ":" + item.ProviderID
	if existing, ok := f.items[key]; ok {
		return existing, false, nil
	}
	clone := *item
	clone.ID = key
	f.items[key] = &clone
	return &clone, true, nil
}

func (f *fakeStore) BackfillItem(ctx context.Context, item *storage.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := item.Provider + ":" + item.ProviderID
	clone := *item
	f.items[key] = &clone
	return nil
}

func (f *fakeStore) EnsureUserItem(ctx context.Context, ui *storage.UserItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := ui.UserID + ":" + ui.ItemID
	if _, ok := f.userItems[key]; ok {
		return nil
	}
	f.userItems[key] = ui
	return nil
}

func (f *fakeStore) userItemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.userItems)
}

func (f *fakeStore) itemCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeStore) ListDueSubscriptions(ctx context.Context, limit int) ([]*storage.Subscription, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) GetSubscription(ctx context.Context, id string) (*storage.Subscription, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) UpdateSubscriptionPoll(ctx context.Context, id string, polledAt time.Time, newWatermark *time.Time) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) MarkSubscriptionsDisconnected(ctx context.Context, userID, provider string) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) RecordSubscriptionError(ctx context.Context, id string, message string) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) AdvanceSubscriptionPollOnError(ctx context.Context, id string, polledAt time.Time, message string) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) SetSubscriptionStatus(ctx context.Context, id string, status storage.SubscriptionStatus) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) GetActiveConnection(ctx context.Context, userID, provider string) (*storage.ProviderConnection, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) UpdateConnection(ctx context.Context, conn *storage.ProviderConnection) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) ItemsMissingCreator(ctx context.Context, limit int) ([]*storage.Item, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) SubscriptionsForRepair(ctx context.Context) ([]*storage.Subscription, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) NewestItemPublishedAt(ctx context.Context, subscriptionID string) (*time.Time, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) ResetWatermark(ctx context.Context, subscriptionID string, watermark *time.Time) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) GetOrCreateMailbox(ctx context.Context, userID, provider string) (*storage.Mailbox, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) UpdateMailboxCursor(ctx context.Context, mailboxID, cursor string) error {
	panic("not used by ingest tests")
}
func (f *fakeStore) FindOrCreateNewsletterFeed(ctx context.Context, feed *storage.NewsletterFeed) (*storage.NewsletterFeed, error) {
	panic("not used by ingest tests")
}
func (f *fakeStore) UpgradeItemCanonicalURL(ctx context.Context, itemID, newURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		if item.ID == itemID {
			item.CanonicalURL = newURL
			return nil
		}
	}
	return storage.ErrNotFound
}
func (f *fakeStore) Close() error                  { return nil }
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

var _ storage.RelationalStore = (*fakeStore)(nil)

func TestIngestItemCreatesNewItemAndUserItem(t *testing.T) {
	store := newFakeStore()
	p := ingest.NewPipeline(store)
	ctx := context.Background()

	item := &storage.Item{ProviderID: "vid-1", ContentType: "video", CanonicalURL: "https://example.com/1", Title: "Hello", PublishedAt: time.Now()}
	creator := &ingest.CreatorInfo{ProviderCreatorID: "channel-1", DisplayName: "Example Channel"}

	result, err := p.IngestItem(ctx, "youtube", "user-1", item, creator, nil)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 1, store.itemCount())
	assert.Equal(t, 1, store.userItemCount())
}

func TestIngestItemIsIdempotent(t *testing.T) {
	store := newFakeStore()
	p := ingest.NewPipeline(store)
	ctx := context.Background()

	item := func() *storage.Item {
		return &storage.Item{ProviderID: "vid-1", ContentType: "video", CanonicalURL: "https://example.com/1", Title: "Hello", PublishedAt: time.Now()}
	}
	creator := &ingest.CreatorInfo{ProviderCreatorID: "channel-1", DisplayName: "Example Channel"}

	first, err := p.IngestItem(ctx, "youtube", "user-1", item(), creator, nil)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := p.IngestItem(ctx, "youtube", "user-1", item(), creator, nil)
	require.NoError(t, err)
	assert.False(t, second.Created, "ingesting the same raw input twice must not create a second item")
	assert.Equal(t, first.ItemID, second.ItemID)

	assert.Equal(t, 1, store.itemCount())
	assert.Equal(t, 1, store.userItemCount())
}

func TestIngestItemSharesCreatorAcrossItems(t *testing.T) {
	store := newFakeStore()
	p := ingest.NewPipeline(store)
	ctx := context.Background()
	creator := &ingest.CreatorInfo{ProviderCreatorID: "channel-1", DisplayName: "Example Channel"}

	item1 := &storage.Item{ProviderID: "vid-1", ContentType: "video", CanonicalURL: "https://example.com/1", Title: "A", PublishedAt: time.Now()}
	item2 := &storage.Item{ProviderID: "vid-2", ContentType: "video", CanonicalURL: "https://example.com/2", Title: "B", PublishedAt: time.Now()}

	r1, err := p.IngestItem(ctx, "youtube", "user-1", item1, creator, nil)
	require.NoError(t, err)
	r2, err := p.IngestItem(ctx, "youtube", "user-1", item2, creator, nil)
	require.NoError(t, err)

	assert.NotEqual(t, r1.ItemID, r2.ItemID)
	assert.Len(t, store.creators, 1, "two items from the same creator must resolve to one creator row")
}

func TestIngestItemSynthesizesCreatorIDWhenAbsent(t *testing.T) {
	store := newFakeStore()
	p := ingest.NewPipeline(store)
	ctx := context.Background()

	item := &storage.Item{ProviderID: "page-1", ContentType: "webfeed", CanonicalURL: "https://blog.example.com/post", Title: "Post", PublishedAt: time.Now()}
	creator := &ingest.CreatorInfo{DisplayName: "Example Blog"}

	_, err := p.IngestItem(ctx, "webfeed", "user-1", item, creator, nil)
	require.NoError(t, err)

	require.Len(t, store.creators, 1)
	for _, c := range store.creators {
		assert.True(t, c.Synthetic)
		assert.Len(t, c.ProviderCreatorID, 32)
	}
}

func TestSyntheticCreatorIDIsDeterministic(t *testing.T) {
	a := ingest.SyntheticCreatorID("webfeed", ingest.NormalizeName("Example Blog"))
	b := ingest.SyntheticCreatorID("webfeed", ingest.NormalizeName("  EXAMPLE   blog "))
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestIngestItemWithoutCreatorInfoLeavesCreatorIDNil(t *testing.T) {
	store := newFakeStore()
	p := ingest.NewPipeline(store)
	ctx := context.Background()

	item := &storage.Item{ProviderID: "vid-3", ContentType: "video", CanonicalURL: "https://example.com/3", Title: "C", PublishedAt: time.Now()}

	result, err := p.IngestItem(ctx, "youtube", "user-1", item, nil, nil)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Empty(t, store.creators)
}
