package fetch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/domain"
)

type fakeEntryStore struct {
	entries map[string]*domain.Entry // keyed by feedID + "\x00" + guid

	inserts    int
	touches    int
	updates    int
	insertErr  error
	lastTouch  string
	lastSeenAt time.Time
}

func newFakeEntryStore() *fakeEntryStore {
	return &fakeEntryStore{entries: make(map[string]*domain.Entry)}
}

func entryKey(feedID, guid string) string {
	return feedID + "\x00" + guid
}

func (s *fakeEntryStore) GetEntryByKey(_ context.Context, feedID, guid string) (*domain.Entry, error) {
	entry, ok := s.entries[entryKey(feedID, guid)]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	copied := *entry
	return &copied, nil
}

func (s *fakeEntryStore) InsertEntry(_ context.Context, entry *domain.Entry) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts++
	copied := *entry
	s.entries[entryKey(entry.FeedID, entry.GUID)] = &copied
	return nil
}

func (s *fakeEntryStore) TouchEntrySeen(_ context.Context, entryID string, seenAt time.Time) error {
	s.touches++
	s.lastTouch = entryID
	s.lastSeenAt = seenAt
	for _, entry := range s.entries {
		if entry.EntryID == entryID {
			entry.LastSeenAt = &seenAt
		}
	}
	return nil
}

func (s *fakeEntryStore) UpdateEntryContent(_ context.Context, entry *domain.Entry) error {
	s.updates++
	copied := *entry
	s.entries[entryKey(entry.FeedID, entry.GUID)] = &copied
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconciler_Reconcile_InsertsNewEntry(t *testing.T) {
	store := newFakeEntryStore()
	r := NewReconciler(store, discardLogger())
	now := time.Now()

	item := domain.Item{GUID: "guid-1", Title: "Hello", URL: "https://example.com/1", Content: "body"}
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", item, now))

	assert.Equal(t, 1, store.inserts)
	assert.Zero(t, store.touches)
	assert.Zero(t, store.updates)

	entry := store.entries[entryKey("feed-1", "guid-1")]
	require.NotNil(t, entry)
	assert.Equal(t, "Hello", entry.Title)
	assert.Equal(t, item.Hash(), entry.ContentHash)
	require.NotNil(t, entry.LastSeenAt)
	assert.Equal(t, now, *entry.LastSeenAt)
	assert.NotEmpty(t, entry.EntryID)
}

func TestReconciler_Reconcile_UnchangedItemOnlyTouches(t *testing.T) {
	store := newFakeEntryStore()
	r := NewReconciler(store, discardLogger())

	item := domain.Item{GUID: "guid-1", Title: "Hello", URL: "https://example.com/1", Content: "body"}
	first := time.Now()
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", item, first))

	second := first.Add(time.Hour)
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", item, second))

	assert.Equal(t, 1, store.inserts)
	assert.Equal(t, 1, store.touches)
	assert.Zero(t, store.updates)
	assert.Equal(t, second, store.lastSeenAt)
}

func TestReconciler_Reconcile_ChangedContentUpdates(t *testing.T) {
	store := newFakeEntryStore()
	r := NewReconciler(store, discardLogger())

	item := domain.Item{GUID: "guid-1", Title: "Hello", URL: "https://example.com/1", Content: "body"}
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", item, time.Now()))

	item.Content = "rewritten body"
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", item, time.Now()))

	assert.Equal(t, 1, store.inserts)
	assert.Zero(t, store.touches)
	assert.Equal(t, 1, store.updates)

	entry := store.entries[entryKey("feed-1", "guid-1")]
	assert.Equal(t, "rewritten body", entry.Content)
	assert.Equal(t, item.Hash(), entry.ContentHash)
}

func TestReconciler_Reconcile_KeyFallsBackToURL(t *testing.T) {
	store := newFakeEntryStore()
	r := NewReconciler(store, discardLogger())

	item := domain.Item{Title: "No GUID", URL: "https://example.com/no-guid"}
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", item, time.Now()))

	entry := store.entries[entryKey("feed-1", "https://example.com/no-guid")]
	require.NotNil(t, entry)
	assert.Equal(t, "https://example.com/no-guid", entry.GUID)
}

func TestReconciler_ReconcileAll_AbsentItemsUntouched(t *testing.T) {
	store := newFakeEntryStore()
	r := NewReconciler(store, discardLogger())

	old := domain.Item{GUID: "old", Title: "Old"}
	first := time.Now()
	require.NoError(t, r.Reconcile(context.Background(), "feed-1", old, first))

	// The next fetch no longer carries "old"; its last_seen_at must freeze.
	fresh := []domain.Item{{GUID: "fresh", Title: "Fresh"}}
	require.NoError(t, r.ReconcileAll(context.Background(), "feed-1", fresh, first.Add(time.Hour)))

	entry := store.entries[entryKey("feed-1", "old")]
	require.NotNil(t, entry)
	require.NotNil(t, entry.LastSeenAt)
	assert.Equal(t, first, *entry.LastSeenAt)
}

func TestReconciler_ReconcileAll_IsolatesItemFailures(t *testing.T) {
	store := newFakeEntryStore()
	store.insertErr = errors.New("insert failed")
	r := NewReconciler(store, discardLogger())

	seeded := domain.Item{GUID: "seeded", Title: "Seeded"}
	store.entries[entryKey("feed-1", "seeded")] = &domain.Entry{
		EntryID:     "entry-seeded",
		FeedID:      "feed-1",
		GUID:        "seeded",
		Title:       "Seeded",
		ContentHash: seeded.Hash(),
	}

	items := []domain.Item{
		{GUID: "broken", Title: "Broken"},
		seeded,
	}

	err := r.ReconcileAll(context.Background(), "feed-1", items, time.Now())
	assert.Error(t, err)
	// The failing insert must not block the item after it.
	assert.Equal(t, 1, store.touches)
	assert.Equal(t, "entry-seeded", store.lastTouch)
}
