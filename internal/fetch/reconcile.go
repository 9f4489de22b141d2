package fetch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"feedsync/internal/domain"
)

// EntryStore is the storage surface the reconciler needs.
type EntryStore interface {
	GetEntryByKey(ctx context.Context, feedID, guid string) (*domain.Entry, error)
	InsertEntry(ctx context.Context, entry *domain.Entry) error
	TouchEntrySeen(ctx context.Context, entryID string, seenAt time.Time) error
	UpdateEntryContent(ctx context.Context, entry *domain.Entry) error
}

// Reconciler applies candidate items to the entries table. Reconcile is
// idempotent, so it is safe to run concurrently across feeds and safe to feed
// from both polling and push delivery for the same feed: whichever arrives
// second degrades to a timestamp touch.
type Reconciler struct {
	store  EntryStore
	logger *slog.Logger
}

// NewReconciler creates a new Reconciler instance
func NewReconciler(store EntryStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger,
	}
}

// Reconcile upserts one candidate item for the feed at time now.
// Items absent from the latest fetch are deliberately never touched here:
// their last_seen_at freezes, which preserves read/star history through
// transient source omissions and allows clean re-appearance.
func (r *Reconciler) Reconcile(ctx context.Context, feedID string, item domain.Item, now time.Time) error {
	key := item.Key()

	existing, err := r.store.GetEntryByKey(ctx, feedID, key)
	if err != nil {
		if !errors.Is(err, domain.ErrEntryNotFound) {
			return err
		}

		entry := &domain.Entry{
			EntryID:     uuid.New().String(),
			FeedID:      feedID,
			GUID:        key,
			Title:       item.Title,
			URL:         item.URL,
			Content:     item.Content,
			ContentHash: item.Hash(),
			PublishedAt: item.PublishedAt,
			FetchedAt:   now,
			LastSeenAt:  &now,
		}

		// The unique (feed_id, guid) constraint absorbs the race where a
		// push notification inserted the same item between our lookup and
		// this insert.
		return r.store.InsertEntry(ctx, entry)
	}

	if existing.ContentHash == item.Hash() {
		return r.store.TouchEntrySeen(ctx, existing.EntryID, now)
	}

	existing.Title = item.Title
	existing.URL = item.URL
	existing.Content = item.Content
	existing.ContentHash = item.Hash()
	existing.PublishedAt = item.PublishedAt
	existing.FetchedAt = now

	r.logger.Debug("Entry content changed",
		slog.String("feed_id", feedID),
		slog.String("entry_id", existing.EntryID),
	)

	return r.store.UpdateEntryContent(ctx, existing)
}

// ReconcileAll applies a batch of items, isolating failures per item so one
// bad item cannot block the rest of the feed.
func (r *Reconciler) ReconcileAll(ctx context.Context, feedID string, items []domain.Item, now time.Time) error {
	var errs []error
	for _, item := range items {
		if err := r.Reconcile(ctx, feedID, item, now); err != nil {
			r.logger.Error("Failed to reconcile item",
				slog.String("feed_id", feedID),
				slog.String("item_key", item.Key()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
