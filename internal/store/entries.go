package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"feedsync/internal/domain"
)

const entryColumns = `
	entry_id, feed_id, guid, title, url, content, content_hash,
	published_at, fetched_at, last_seen_at
`

// GetEntryByKey retrieves an entry by its (feed, guid) dedup key.
func (s *Store) GetEntryByKey(ctx context.Context, feedID, guid string) (*domain.Entry, error) {
	var entry domain.Entry
	query := `SELECT ` + entryColumns + ` FROM entries WHERE feed_id = $1 AND guid = $2`

	if err := s.db.GetContext(ctx, &entry, query, feedID, guid); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	return &entry, nil
}

// InsertEntry inserts a new entry. The unique (feed_id, guid) constraint is
// the backstop against double-insert races between a polled fetch and a push
// notification for the same feed: the loser of the race degrades to a
// last_seen_at touch instead of failing.
func (s *Store) InsertEntry(ctx context.Context, entry *domain.Entry) error {
	query := `
		INSERT INTO entries (entry_id, feed_id, guid, title, url, content,
		                     content_hash, published_at, fetched_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (feed_id, guid) DO UPDATE
		SET fetched_at = EXCLUDED.fetched_at,
		    last_seen_at = EXCLUDED.last_seen_at
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.EntryID,
		entry.FeedID,
		entry.GUID,
		entry.Title,
		entry.URL,
		entry.Content,
		entry.ContentHash,
		entry.PublishedAt,
		entry.FetchedAt,
		entry.LastSeenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	return nil
}

// TouchEntrySeen refreshes only the liveness timestamps of an unchanged entry.
func (s *Store) TouchEntrySeen(ctx context.Context, entryID string, seenAt time.Time) error {
	query := `
		UPDATE entries
		SET fetched_at = $1, last_seen_at = $1
		WHERE entry_id = $2
	`

	if _, err := s.db.ExecContext(ctx, query, seenAt, entryID); err != nil {
		return fmt.Errorf("failed to touch entry: %w", err)
	}

	return nil
}

// UpdateEntryContent rewrites the mutable fields of a changed entry and
// refreshes its liveness timestamps.
func (s *Store) UpdateEntryContent(ctx context.Context, entry *domain.Entry) error {
	query := `
		UPDATE entries
		SET title = $1,
		    url = $2,
		    content = $3,
		    content_hash = $4,
		    published_at = $5,
		    fetched_at = $6,
		    last_seen_at = $6
		WHERE entry_id = $7
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.Title,
		entry.URL,
		entry.Content,
		entry.ContentHash,
		entry.PublishedAt,
		entry.FetchedAt,
		entry.EntryID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}

	return nil
}

// EntryWithState is an entry joined with one user's read/star state.
type EntryWithState struct {
	domain.Entry
	Read    bool `db:"read"`
	Starred bool `db:"starred"`
}

// ListEntriesForUser returns entries across the given feed ids (a
// subscription's effective visibility set) joined with the user's state,
// newest first.
func (s *Store) ListEntriesForUser(ctx context.Context, userID string, feedIDs []string, limit int) ([]EntryWithState, error) {
	query := `
		SELECT e.entry_id, e.feed_id, e.guid, e.title, e.url, e.content,
		       e.content_hash, e.published_at, e.fetched_at, e.last_seen_at,
		       COALESCE(st.read, FALSE) AS read,
		       COALESCE(st.starred, FALSE) AS starred
		FROM entries e
		LEFT JOIN entry_states st
		  ON st.entry_id = e.entry_id AND st.user_id = $1
		WHERE e.feed_id = ANY($2)
		ORDER BY e.published_at DESC NULLS LAST, e.entry_id
		LIMIT $3
	`

	var entries []EntryWithState
	if err := s.db.SelectContext(ctx, &entries, query, userID, pq.Array(feedIDs), limit); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	return entries, nil
}
