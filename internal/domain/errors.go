package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when attempting to claim a job that's
	// already claimed, not yet due, or not in PENDING status
	ErrJobAlreadyClaimed = errors.New("job already claimed or not claimable")

	// ErrInvalidPayload is returned when a job payload fails schema validation
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrFeedNotFound is returned when a feed cannot be found in the database
	ErrFeedNotFound = errors.New("feed not found")

	// ErrEntryNotFound is returned when an entry cannot be found in the database
	ErrEntryNotFound = errors.New("entry not found")

	// ErrSubscriptionNotFound is returned when a user-feed link does not exist
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPushSubscriptionNotFound is returned when a push subscription cannot be found
	ErrPushSubscriptionNotFound = errors.New("push subscription not found")

	// ErrSignatureMismatch is returned when a hub notification fails HMAC verification
	ErrSignatureMismatch = errors.New("hub signature mismatch")
)

// RetryableError wraps transient errors that should be retried with backoff
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
