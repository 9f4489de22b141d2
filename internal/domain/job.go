package domain

import (
	"time"
)

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Job type constants. The set is closed: the job store rejects anything else
// at the enqueue boundary and the worker dispatches on it with a single switch.
const (
	JobTypeFetchFeed      = "fetch_feed"
	JobTypeHubRenew       = "hub_renew"
	JobTypeHubUnsubscribe = "hub_unsubscribe"
)

// Job represents a unit of deferred work owned by the job store.
type Job struct {
	JobID        string     `db:"job_id"`
	JobType      string     `db:"job_type"`
	Payload      string     `db:"payload"` // JSON, shape determined by JobType
	Status       string     `db:"status"`
	ScheduledFor time.Time  `db:"scheduled_for"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	Attempts     int        `db:"attempts"`
	MaxAttempts  int        `db:"max_attempts"`
	LastError    string     `db:"last_error"`
	WorkerID     string     `db:"worker_id"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// JobMessage is the dispatch notification published to RabbitMQ. The database
// row remains the single source of truth; the message only carries the id.
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
