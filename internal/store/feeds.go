package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"feedsync/internal/domain"
)

const feedColumns = `
	feed_id, url, title, etag, last_modified, body_hash, hub_url, push_active,
	last_fetched_at, next_fetch_at, consecutive_failures, last_error,
	created_at, updated_at
`

// CreateFeed inserts a new feed with default fetch cadence. If a feed with
// the same canonical URL already exists, the existing record is returned.
func (s *Store) CreateFeed(ctx context.Context, url string) (*domain.Feed, error) {
	query := `
		INSERT INTO feeds (feed_id, url)
		VALUES ($1, $2)
		ON CONFLICT (url) DO NOTHING
	`

	feedID := uuid.New().String()
	res, err := s.db.ExecContext(ctx, query, feedID, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create feed: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return s.GetFeedByURL(ctx, url)
	}

	s.logger.Info("Feed created",
		slog.String("feed_id", feedID),
		slog.String("url", url),
	)

	return s.GetFeed(ctx, feedID)
}

// GetFeed retrieves a feed by id.
func (s *Store) GetFeed(ctx context.Context, feedID string) (*domain.Feed, error) {
	var feed domain.Feed
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE feed_id = $1`

	if err := s.db.GetContext(ctx, &feed, query, feedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFeedNotFound
		}
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return &feed, nil
}

// GetFeedByURL retrieves a feed by its canonical URL.
func (s *Store) GetFeedByURL(ctx context.Context, url string) (*domain.Feed, error) {
	var feed domain.Feed
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE url = $1`

	if err := s.db.GetContext(ctx, &feed, query, url); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrFeedNotFound
		}
		return nil, fmt.Errorf("failed to get feed by url: %w", err)
	}

	return &feed, nil
}

// ListDueFeeds returns feeds whose next fetch time has arrived.
func (s *Store) ListDueFeeds(ctx context.Context, limit int) ([]domain.Feed, error) {
	var feeds []domain.Feed
	query := `
		SELECT ` + feedColumns + `
		FROM feeds
		WHERE next_fetch_at <= NOW()
		ORDER BY next_fetch_at
		LIMIT $1
	`

	if err := s.db.SelectContext(ctx, &feeds, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}

	return feeds, nil
}

// ListFeeds returns every feed, oldest first.
func (s *Store) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	var feeds []domain.Feed
	query := `SELECT ` + feedColumns + ` FROM feeds ORDER BY created_at`

	if err := s.db.SelectContext(ctx, &feeds, query); err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}

	return feeds, nil
}

// MarkFetchUnchanged records a fetch that found no new content: timestamps
// and validators advance, the failure streak resets, nothing else moves.
func (s *Store) MarkFetchUnchanged(ctx context.Context, feedID, etag, lastModified string, nextFetchAt time.Time) error {
	query := `
		UPDATE feeds
		SET etag = $1,
		    last_modified = $2,
		    last_fetched_at = NOW(),
		    next_fetch_at = $3,
		    consecutive_failures = 0,
		    last_error = '',
		    updated_at = NOW()
		WHERE feed_id = $4
	`

	if _, err := s.db.ExecContext(ctx, query, etag, lastModified, nextFetchAt, feedID); err != nil {
		return fmt.Errorf("failed to mark feed unchanged: %w", err)
	}

	return nil
}

// MarkFetchSuccess records a successful fetch with a fresh body.
func (s *Store) MarkFetchSuccess(ctx context.Context, feedID, title, etag, lastModified, bodyHash, hubURL string, nextFetchAt time.Time) error {
	query := `
		UPDATE feeds
		SET title = $1,
		    etag = $2,
		    last_modified = $3,
		    body_hash = $4,
		    hub_url = $5,
		    last_fetched_at = NOW(),
		    next_fetch_at = $6,
		    consecutive_failures = 0,
		    last_error = '',
		    updated_at = NOW()
		WHERE feed_id = $7
	`

	if _, err := s.db.ExecContext(ctx, query, title, etag, lastModified, bodyHash, hubURL, nextFetchAt, feedID); err != nil {
		return fmt.Errorf("failed to mark feed fetched: %w", err)
	}

	return nil
}

// MarkFetchFailure records a failed fetch: the failure streak and error are
// stored and the next attempt is pushed out by the caller-computed backoff.
// Feeds are never disabled here; they only slow down.
func (s *Store) MarkFetchFailure(ctx context.Context, feedID, lastError string, failures int, nextFetchAt time.Time) error {
	query := `
		UPDATE feeds
		SET consecutive_failures = $1,
		    last_error = $2,
		    next_fetch_at = $3,
		    updated_at = NOW()
		WHERE feed_id = $4
	`

	if _, err := s.db.ExecContext(ctx, query, failures, lastError, nextFetchAt, feedID); err != nil {
		return fmt.Errorf("failed to mark feed failure: %w", err)
	}

	return nil
}

// RetireFeed takes a feed out of the polling rotation after a redirect
// migration. The record and its entries stay; only the destination feed owns
// fetch cadence from here on.
func (s *Store) RetireFeed(ctx context.Context, feedID string) error {
	query := `
		UPDATE feeds
		SET next_fetch_at = 'infinity',
		    updated_at = NOW()
		WHERE feed_id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, feedID); err != nil {
		return fmt.Errorf("failed to retire feed: %w", err)
	}

	s.logger.Info("Feed retired from polling", slog.String("feed_id", feedID))
	return nil
}

// SetPushActive flips the push flag. Deactivation is the polling fallback
// path taken on any hub failure.
func (s *Store) SetPushActive(ctx context.Context, feedID string, active bool) error {
	query := `UPDATE feeds SET push_active = $1, updated_at = NOW() WHERE feed_id = $2`

	if _, err := s.db.ExecContext(ctx, query, active, feedID); err != nil {
		return fmt.Errorf("failed to set push_active: %w", err)
	}

	s.logger.Info("Feed push flag updated",
		slog.String("feed_id", feedID),
		slog.Bool("push_active", active),
	)

	return nil
}
