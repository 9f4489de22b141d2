package fetch

import (
	"context"
	"errors"
	"log/slog"

	"feedsync/internal/domain"
)

// MigrationStore is the storage surface the redirect handler needs.
type MigrationStore interface {
	GetFeedByURL(ctx context.Context, url string) (*domain.Feed, error)
	CreateFeed(ctx context.Context, url string) (*domain.Feed, error)
	MigrateSubscriptions(ctx context.Context, oldFeedID, newFeedID string) error
}

// Migrator handles permanent feed relocations. The destination feed record
// owns all fetch cadence and backoff state from then on; subscriber history
// is preserved by folding the old feed id into each subscription's
// redirect-history set.
type Migrator struct {
	store  MigrationStore
	logger *slog.Logger
}

// NewMigrator creates a new Migrator instance
func NewMigrator(store MigrationStore, logger *slog.Logger) *Migrator {
	return &Migrator{
		store:  store,
		logger: logger,
	}
}

// HandleRedirect migrates oldFeed to newURL and returns the destination feed.
// If a feed record for newURL already exists the subscriptions link to it;
// otherwise a new record with cadence defaults is created.
func (m *Migrator) HandleRedirect(ctx context.Context, oldFeed *domain.Feed, newURL string) (*domain.Feed, error) {
	dest, err := m.store.GetFeedByURL(ctx, newURL)
	if err != nil {
		if !errors.Is(err, domain.ErrFeedNotFound) {
			return nil, err
		}

		dest, err = m.store.CreateFeed(ctx, newURL)
		if err != nil {
			return nil, err
		}
	}

	if dest.FeedID == oldFeed.FeedID {
		return oldFeed, nil
	}

	if err := m.store.MigrateSubscriptions(ctx, oldFeed.FeedID, dest.FeedID); err != nil {
		return nil, err
	}

	m.logger.Info("Feed migrated to new canonical URL",
		slog.String("old_feed_id", oldFeed.FeedID),
		slog.String("old_url", oldFeed.URL),
		slog.String("new_feed_id", dest.FeedID),
		slog.String("new_url", newURL),
	)

	return dest, nil
}
