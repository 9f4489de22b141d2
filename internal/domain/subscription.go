package domain

import "time"

// Subscription links a user to a feed. PreviousFeedIDs is the append-only
// redirect history: when a feed migrates to a new canonical URL, the old feed
// id is appended here so entries recorded under it stay visible.
type Subscription struct {
	SubscriptionID  string    `db:"subscription_id"`
	UserID          string    `db:"user_id"`
	FeedID          string    `db:"feed_id"`
	PreviousFeedIDs []string  `db:"previous_feed_ids"`
	CreatedAt       time.Time `db:"created_at"`
}

// VisibleFeedIDs returns the effective visibility set: the current feed plus
// every prior identity the subscription has migrated through.
func (s *Subscription) VisibleFeedIDs() []string {
	ids := make([]string, 0, len(s.PreviousFeedIDs)+1)
	ids = append(ids, s.FeedID)
	ids = append(ids, s.PreviousFeedIDs...)
	return ids
}
