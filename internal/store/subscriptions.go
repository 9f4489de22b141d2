package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"feedsync/internal/domain"
)

type subscriptionRow struct {
	SubscriptionID  string         `db:"subscription_id"`
	UserID          string         `db:"user_id"`
	FeedID          string         `db:"feed_id"`
	PreviousFeedIDs pq.StringArray `db:"previous_feed_ids"`
	CreatedAt       sql.NullTime   `db:"created_at"`
}

func (r subscriptionRow) toDomain() domain.Subscription {
	sub := domain.Subscription{
		SubscriptionID:  r.SubscriptionID,
		UserID:          r.UserID,
		FeedID:          r.FeedID,
		PreviousFeedIDs: []string(r.PreviousFeedIDs),
	}
	if r.CreatedAt.Valid {
		sub.CreatedAt = r.CreatedAt.Time
	}
	return sub
}

// CreateSubscription links a user to a feed. Re-subscribing is a no-op.
func (s *Store) CreateSubscription(ctx context.Context, userID, feedID string) (*domain.Subscription, error) {
	query := `
		INSERT INTO subscriptions (subscription_id, user_id, feed_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, feed_id) DO NOTHING
	`

	if _, err := s.db.ExecContext(ctx, query, uuid.New().String(), userID, feedID); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	return s.GetSubscription(ctx, userID, feedID)
}

// GetSubscription retrieves one user-feed link.
func (s *Store) GetSubscription(ctx context.Context, userID, feedID string) (*domain.Subscription, error) {
	var row subscriptionRow
	query := `
		SELECT subscription_id, user_id, feed_id, previous_feed_ids, created_at
		FROM subscriptions
		WHERE user_id = $1 AND feed_id = $2
	`

	if err := s.db.GetContext(ctx, &row, query, userID, feedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	sub := row.toDomain()
	return &sub, nil
}

// ListSubscriptionsForUser returns all of a user's subscriptions.
func (s *Store) ListSubscriptionsForUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	var rows []subscriptionRow
	query := `
		SELECT subscription_id, user_id, feed_id, previous_feed_ids, created_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at
	`

	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	subs := make([]domain.Subscription, len(rows))
	for i, row := range rows {
		subs[i] = row.toDomain()
	}

	return subs, nil
}

// DeleteSubscription removes one user-feed link.
func (s *Store) DeleteSubscription(ctx context.Context, userID, feedID string) error {
	query := `DELETE FROM subscriptions WHERE user_id = $1 AND feed_id = $2`

	res, err := s.db.ExecContext(ctx, query, userID, feedID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return domain.ErrSubscriptionNotFound
	}

	s.logger.Info("Subscription removed",
		slog.String("user_id", userID),
		slog.String("feed_id", feedID),
	)
	return nil
}

// CountSubscriptionsForFeed returns how many users still follow the feed.
func (s *Store) CountSubscriptionsForFeed(ctx context.Context, feedID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM subscriptions WHERE feed_id = $1`

	if err := s.db.GetContext(ctx, &count, query, feedID); err != nil {
		return 0, fmt.Errorf("failed to count subscriptions: %w", err)
	}

	return count, nil
}

// MigrateSubscriptions repoints every subscription of oldFeedID at newFeedID,
// appending the old id to each subscription's redirect history so entries
// recorded under the old identity stay visible. Historical entries are never
// rewritten. Users already subscribed to the destination feed have the two
// subscriptions merged instead.
func (s *Store) MigrateSubscriptions(ctx context.Context, oldFeedID, newFeedID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Users holding both feeds: fold the old identity (and its history) into
	// the destination subscription, then drop the old one.
	mergeQuery := `
		UPDATE subscriptions dst
		SET previous_feed_ids = dst.previous_feed_ids || src.previous_feed_ids || src.feed_id
		FROM subscriptions src
		WHERE dst.feed_id = $1
		  AND src.feed_id = $2
		  AND src.user_id = dst.user_id
	`
	if _, err := tx.ExecContext(ctx, mergeQuery, newFeedID, oldFeedID); err != nil {
		return fmt.Errorf("failed to merge subscriptions: %w", err)
	}

	deleteQuery := `
		DELETE FROM subscriptions src
		WHERE src.feed_id = $1
		  AND EXISTS (
			SELECT 1 FROM subscriptions dst
			WHERE dst.feed_id = $2 AND dst.user_id = src.user_id
		  )
	`
	if _, err := tx.ExecContext(ctx, deleteQuery, oldFeedID, newFeedID); err != nil {
		return fmt.Errorf("failed to drop merged subscriptions: %w", err)
	}

	// Everyone else: move the subscription, appending the old id to history.
	moveQuery := `
		UPDATE subscriptions
		SET feed_id = $1,
		    previous_feed_ids = previous_feed_ids || feed_id
		WHERE feed_id = $2
	`
	res, err := tx.ExecContext(ctx, moveQuery, newFeedID, oldFeedID)
	if err != nil {
		return fmt.Errorf("failed to move subscriptions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	moved, _ := res.RowsAffected()
	s.logger.Info("Subscriptions migrated",
		slog.String("old_feed_id", oldFeedID),
		slog.String("new_feed_id", newFeedID),
		slog.Int64("moved", moved),
	)

	return nil
}
