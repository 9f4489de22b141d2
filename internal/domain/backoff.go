package domain

import "time"

// BackoffPolicy derives a retry delay from a consecutive failure count.
// The delay doubles per failure starting from Base and never exceeds Cap.
type BackoffPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the delay for the given number of consecutive failures.
// failures <= 0 yields Base.
func (p BackoffPolicy) Delay(failures int) time.Duration {
	if failures <= 0 {
		return p.Base
	}

	delay := p.Base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= p.Cap || delay <= 0 {
			return p.Cap
		}
	}
	return delay
}

// DefaultJobBackoff is the reschedule policy for failed jobs.
var DefaultJobBackoff = BackoffPolicy{
	Base: 30 * time.Second,
	Cap:  30 * time.Minute,
}

// DefaultFeedBackoff is the polling cadence policy for failing feeds. A feed
// with zero consecutive failures polls at Base; a broken feed is retried at
// progressively longer intervals up to Cap, never abandoned.
var DefaultFeedBackoff = BackoffPolicy{
	Base: 30 * time.Minute,
	Cap:  24 * time.Hour,
}

// PushPollInterval is the reduced polling cadence for feeds with an active
// push subscription. Polling continues as a safety net while push is active.
const PushPollInterval = 12 * time.Hour
