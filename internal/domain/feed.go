package domain

import "time"

// Feed is a polled content source. The cache validators (ETag, Last-Modified,
// BodyHash) let a fetch short-circuit when the source is unchanged.
// NextFetchAt is always derived from ConsecutiveFailures via backoff.
type Feed struct {
	FeedID              string     `db:"feed_id"`
	URL                 string     `db:"url"`
	Title               string     `db:"title"`
	ETag                string     `db:"etag"`
	LastModified        string     `db:"last_modified"`
	BodyHash            string     `db:"body_hash"`
	HubURL              string     `db:"hub_url"`
	PushActive          bool       `db:"push_active"`
	LastFetchedAt       *time.Time `db:"last_fetched_at"`
	NextFetchAt         time.Time  `db:"next_fetch_at"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	LastError           string     `db:"last_error"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// PollInterval returns the interval until the feed's next fetch, as a function
// of its failure count and push state.
func (f *Feed) PollInterval(policy BackoffPolicy) time.Duration {
	if f.ConsecutiveFailures > 0 {
		return policy.Delay(f.ConsecutiveFailures)
	}
	if f.PushActive {
		return PushPollInterval
	}
	return policy.Base
}
