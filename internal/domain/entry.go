package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one item of a feed. Entries are never hard-deleted when they
// disappear from the source: LastSeenAt freezes instead, so read/star history
// survives transient source omissions and re-appearance.
type Entry struct {
	EntryID     string     `db:"entry_id"`
	FeedID      string     `db:"feed_id"`
	GUID        string     `db:"guid"`
	Title       string     `db:"title"`
	URL         string     `db:"url"`
	Content     string     `db:"content"`
	ContentHash string     `db:"content_hash"`
	PublishedAt *time.Time `db:"published_at"`
	FetchedAt   time.Time  `db:"fetched_at"`
	LastSeenAt  *time.Time `db:"last_seen_at"`
}

// Item is a normalized feed item, the format-agnostic shape all wire formats
// (RSS, Atom, JSON Feed) unify into before reconciliation.
type Item struct {
	GUID        string
	Title       string
	URL         string
	Content     string
	PublishedAt *time.Time
}

// Key returns the dedup key for the item: the source GUID when present,
// otherwise the item URL.
func (i Item) Key() string {
	if i.GUID != "" {
		return i.GUID
	}
	return i.URL
}

// Hash digests the item's mutable fields, used to detect no-op updates.
func (i Item) Hash() string {
	h := sha256.New()
	h.Write([]byte(i.Title))
	h.Write([]byte{0})
	h.Write([]byte(i.URL))
	h.Write([]byte{0})
	h.Write([]byte(i.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// EntryState is the per-user read/star state of an entry. Mutations are
// idempotent: a change with a timestamp not newer than the recorded one is a
// no-op, which makes at-least-once delivery from the client queue safe.
type EntryState struct {
	UserID        string     `db:"user_id"`
	EntryID       string     `db:"entry_id"`
	Read          bool       `db:"read"`
	Starred       bool       `db:"starred"`
	ReadChangedAt *time.Time `db:"read_changed_at"`
	StarChangedAt *time.Time `db:"star_changed_at"`
}
