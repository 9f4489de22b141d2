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

const pushColumns = `
	push_id, feed_id, hub_url, topic, secret, status, lease_expires_at,
	subscribe_verified_at, unsubscribe_requested_at, unsubscribe_verified_at,
	created_at, updated_at
`

// CreatePushSubscription inserts a PENDING push subscription for a
// (feed, hub) pair. An existing pair is reset to PENDING with a new secret
// so a fresh subscribe attempt starts from a clean slate.
func (s *Store) CreatePushSubscription(ctx context.Context, feedID, hubURL, topic, secret string) (*domain.PushSubscription, error) {
	query := `
		INSERT INTO push_subscriptions (push_id, feed_id, hub_url, topic, secret, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (feed_id, hub_url) DO UPDATE
		SET topic = EXCLUDED.topic,
		    secret = EXCLUDED.secret,
		    status = EXCLUDED.status,
		    updated_at = NOW()
		RETURNING ` + pushColumns

	var push domain.PushSubscription
	err := s.db.GetContext(ctx, &push, query,
		uuid.New().String(), feedID, hubURL, topic, secret, domain.PushStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to create push subscription: %w", err)
	}

	s.logger.Info("Push subscription created",
		slog.String("push_id", push.PushID),
		slog.String("feed_id", feedID),
		slog.String("hub_url", hubURL),
	)

	return &push, nil
}

// GetPushSubscription retrieves a push subscription by id.
func (s *Store) GetPushSubscription(ctx context.Context, pushID string) (*domain.PushSubscription, error) {
	var push domain.PushSubscription
	query := `SELECT ` + pushColumns + ` FROM push_subscriptions WHERE push_id = $1`

	if err := s.db.GetContext(ctx, &push, query, pushID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPushSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get push subscription: %w", err)
	}

	return &push, nil
}

// GetPushSubscriptionByFeed retrieves the push subscription for a (feed, hub) pair.
func (s *Store) GetPushSubscriptionByFeed(ctx context.Context, feedID, hubURL string) (*domain.PushSubscription, error) {
	var push domain.PushSubscription
	query := `SELECT ` + pushColumns + ` FROM push_subscriptions WHERE feed_id = $1 AND hub_url = $2`

	if err := s.db.GetContext(ctx, &push, query, feedID, hubURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPushSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get push subscription: %w", err)
	}

	return &push, nil
}

// MarkSubscribeVerified transitions PENDING -> ACTIVE after the hub's
// subscribe-verification challenge was echoed within the grace window.
func (s *Store) MarkSubscribeVerified(ctx context.Context, pushID string, leaseExpiresAt time.Time) error {
	query := `
		UPDATE push_subscriptions
		SET status = $1,
		    lease_expires_at = $2,
		    subscribe_verified_at = NOW(),
		    updated_at = NOW()
		WHERE push_id = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.PushStatusActive, leaseExpiresAt, pushID); err != nil {
		return fmt.Errorf("failed to mark push subscription verified: %w", err)
	}

	s.logger.Info("Push subscription active",
		slog.String("push_id", pushID),
		slog.Time("lease_expires_at", leaseExpiresAt),
	)

	return nil
}

// MarkPushFailed records a verification or renewal failure.
func (s *Store) MarkPushFailed(ctx context.Context, pushID string) error {
	query := `
		UPDATE push_subscriptions
		SET status = $1, updated_at = NOW()
		WHERE push_id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, domain.PushStatusFailed, pushID); err != nil {
		return fmt.Errorf("failed to mark push subscription failed: %w", err)
	}

	return nil
}

// MarkPushExpired transitions subscriptions whose lease elapsed without renewal.
func (s *Store) MarkPushExpired(ctx context.Context, pushID string) error {
	query := `
		UPDATE push_subscriptions
		SET status = $1, updated_at = NOW()
		WHERE push_id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, domain.PushStatusExpired, pushID); err != nil {
		return fmt.Errorf("failed to mark push subscription expired: %w", err)
	}

	return nil
}

// RecordUnsubscribeRequested stamps the moment we asked the hub to stop.
// The subscription is not removed yet; the hub must confirm with its own
// unsubscribe-verification request first.
func (s *Store) RecordUnsubscribeRequested(ctx context.Context, pushID string) error {
	query := `
		UPDATE push_subscriptions
		SET unsubscribe_requested_at = NOW(), updated_at = NOW()
		WHERE push_id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, pushID); err != nil {
		return fmt.Errorf("failed to record unsubscribe request: %w", err)
	}

	return nil
}

// FinalizeUnsubscribe stamps the hub's unsubscribe confirmation and removes
// the subscription.
func (s *Store) FinalizeUnsubscribe(ctx context.Context, pushID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stamp := `
		UPDATE push_subscriptions
		SET unsubscribe_verified_at = NOW(), updated_at = NOW()
		WHERE push_id = $1
	`
	if _, err := tx.ExecContext(ctx, stamp, pushID); err != nil {
		return fmt.Errorf("failed to stamp unsubscribe verification: %w", err)
	}

	remove := `DELETE FROM push_subscriptions WHERE push_id = $1`
	if _, err := tx.ExecContext(ctx, remove, pushID); err != nil {
		return fmt.Errorf("failed to remove push subscription: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit unsubscribe: %w", err)
	}

	s.logger.Info("Push subscription removed after hub confirmation",
		slog.String("push_id", pushID),
	)

	return nil
}

// ListExpiringPushSubscriptions returns ACTIVE subscriptions whose lease runs
// out before now+window, for the daily renewal sweep.
func (s *Store) ListExpiringPushSubscriptions(ctx context.Context, window time.Duration) ([]domain.PushSubscription, error) {
	var pushes []domain.PushSubscription
	query := `
		SELECT ` + pushColumns + `
		FROM push_subscriptions
		WHERE status = $1
		  AND (lease_expires_at IS NULL OR lease_expires_at <= NOW() + $2 * INTERVAL '1 second')
		ORDER BY lease_expires_at NULLS FIRST
	`

	if err := s.db.SelectContext(ctx, &pushes, query, domain.PushStatusActive, int(window.Seconds())); err != nil {
		return nil, fmt.Errorf("failed to list expiring push subscriptions: %w", err)
	}

	return pushes, nil
}
