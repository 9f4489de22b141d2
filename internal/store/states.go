package store

import (
	"context"
	"fmt"
	"time"
)

// ApplyReadState records a read/unread mutation for (userID, entryID).
// The write is idempotent and ordered by changedAt: a change that is not
// strictly newer than the recorded one is a no-op, which makes at-least-once
// delivery from a client queue safe. Returns whether the state changed.
func (s *Store) ApplyReadState(ctx context.Context, userID, entryID string, read bool, changedAt time.Time) (bool, error) {
	query := `
		INSERT INTO entry_states (user_id, entry_id, read, read_changed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, entry_id) DO UPDATE
		SET read = EXCLUDED.read,
		    read_changed_at = EXCLUDED.read_changed_at
		WHERE entry_states.read_changed_at IS NULL
		   OR entry_states.read_changed_at < EXCLUDED.read_changed_at
	`

	res, err := s.db.ExecContext(ctx, query, userID, entryID, read, changedAt)
	if err != nil {
		return false, fmt.Errorf("failed to apply read state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n > 0, nil
}

// ApplyStarState records a star/unstar mutation for (userID, entryID), with
// the same idempotent changedAt ordering as ApplyReadState.
func (s *Store) ApplyStarState(ctx context.Context, userID, entryID string, starred bool, changedAt time.Time) (bool, error) {
	query := `
		INSERT INTO entry_states (user_id, entry_id, starred, star_changed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, entry_id) DO UPDATE
		SET starred = EXCLUDED.starred,
		    star_changed_at = EXCLUDED.star_changed_at
		WHERE entry_states.star_changed_at IS NULL
		   OR entry_states.star_changed_at < EXCLUDED.star_changed_at
	`

	res, err := s.db.ExecContext(ctx, query, userID, entryID, starred, changedAt)
	if err != nil {
		return false, fmt.Errorf("failed to apply star state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return n > 0, nil
}
