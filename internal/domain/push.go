package domain

import "time"

// Push subscription status constants
const (
	PushStatusPending = "PENDING"
	PushStatusActive  = "ACTIVE"
	PushStatusExpired = "EXPIRED"
	PushStatusFailed  = "FAILED"
)

// PushSubscription tracks the hub protocol state for one (feed, hub) pair.
// Subscribe and unsubscribe verifications carry separate timestamps because
// the protocol treats them as independent confirmations.
type PushSubscription struct {
	PushID                 string     `db:"push_id"`
	FeedID                 string     `db:"feed_id"`
	HubURL                 string     `db:"hub_url"`
	Topic                  string     `db:"topic"`
	Secret                 string     `db:"secret"`
	Status                 string     `db:"status"`
	LeaseExpiresAt         *time.Time `db:"lease_expires_at"`
	SubscribeVerifiedAt    *time.Time `db:"subscribe_verified_at"`
	UnsubscribeRequestedAt *time.Time `db:"unsubscribe_requested_at"`
	UnsubscribeVerifiedAt  *time.Time `db:"unsubscribe_verified_at"`
	CreatedAt              time.Time  `db:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at"`
}

// LeaseExpiresWithin reports whether the lease runs out before now+window.
// A missing lease counts as expiring.
func (p *PushSubscription) LeaseExpiresWithin(now time.Time, window time.Duration) bool {
	if p.LeaseExpiresAt == nil {
		return true
	}
	return p.LeaseExpiresAt.Before(now.Add(window))
}
