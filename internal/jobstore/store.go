package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"feedsync/internal/domain"
)

// Store is the single source of truth for pending and in-flight work.
// Claim ownership is arbitrated by conditional updates on the jobs table,
// never by the message broker.
type Store struct {
	db      *sqlx.DB
	logger  *slog.Logger
	backoff domain.BackoffPolicy
}

// NewStore creates a new Store instance
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:      db,
		logger:  logger,
		backoff: domain.DefaultJobBackoff,
	}
}

// Enqueue inserts a new PENDING job. The payload is validated against the
// job type's schema before it is ever persisted.
func (s *Store) Enqueue(ctx context.Context, jobType, payload string, scheduledFor time.Time) (*domain.Job, error) {
	if err := domain.ValidatePayload(jobType, payload); err != nil {
		return nil, err
	}

	job := &domain.Job{
		JobID:        uuid.New().String(),
		JobType:      jobType,
		Payload:      payload,
		Status:       domain.JobStatusPending,
		ScheduledFor: scheduledFor,
		MaxAttempts:  5,
	}

	query := `
		INSERT INTO jobs (job_id, job_type, payload, status, scheduled_for, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID,
		job.JobType,
		job.Payload,
		job.Status,
		job.ScheduledFor,
		job.MaxAttempts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.Time("scheduled_for", job.ScheduledFor),
	)

	return job, nil
}

// EnqueueFetch enqueues a fetch_feed job for the feed unless a live one
// already exists, so overlapping sweeps cannot double-schedule a feed.
func (s *Store) EnqueueFetch(ctx context.Context, feedID string, scheduledFor time.Time) error {
	payload, err := domain.EncodePayload(domain.FetchFeedPayload{FeedID: feedID})
	if err != nil {
		return err
	}
	return s.enqueueUnique(ctx, domain.JobTypeFetchFeed, payload, scheduledFor)
}

// EnqueueHubRenew enqueues a hub_renew job for the push subscription unless a
// live one already exists. The renewal sweep runs repeatedly inside the lease
// window, so without this guard every sweep would pile on another job.
func (s *Store) EnqueueHubRenew(ctx context.Context, pushID string, scheduledFor time.Time) error {
	payload, err := domain.EncodePayload(domain.HubRenewPayload{PushID: pushID})
	if err != nil {
		return err
	}
	return s.enqueueUnique(ctx, domain.JobTypeHubRenew, payload, scheduledFor)
}

// EnqueueHubUnsubscribe enqueues a hub_unsubscribe job for the push
// subscription unless a live one already exists. Run when a feed loses its
// last subscriber, so the hub stops delivering content nobody reads.
func (s *Store) EnqueueHubUnsubscribe(ctx context.Context, pushID string, scheduledFor time.Time) error {
	payload, err := domain.EncodePayload(domain.HubUnsubscribePayload{PushID: pushID})
	if err != nil {
		return err
	}
	return s.enqueueUnique(ctx, domain.JobTypeHubUnsubscribe, payload, scheduledFor)
}

// enqueueUnique inserts a PENDING job unless a PENDING or RUNNING job with the
// same type and payload already exists.
func (s *Store) enqueueUnique(ctx context.Context, jobType, payload string, scheduledFor time.Time) error {
	if err := domain.ValidatePayload(jobType, payload); err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (job_id, job_type, payload, status, scheduled_for, max_attempts)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM jobs
			WHERE job_type = $2
			  AND payload = $3::jsonb
			  AND status IN ($4, $7)
		)
	`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New().String(),
		jobType,
		payload,
		domain.JobStatusPending,
		scheduledFor,
		5,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}

	return nil
}

// Claim attempts to take exclusive ownership of a job. The transition
// PENDING -> RUNNING happens in one conditional update, so under concurrent
// claim attempts exactly one worker wins; the rest get ErrJobAlreadyClaimed.
// A job scheduled in the future is not claimable.
func (s *Store) Claim(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    attempts = attempts + 1,
		    started_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		  AND scheduled_for <= NOW()
		RETURNING job_id, job_type, payload, attempts, max_attempts, scheduled_for
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending).Scan(
		&job.JobID,
		&job.JobType,
		&job.Payload,
		&job.Attempts,
		&job.MaxAttempts,
		&job.ScheduledFor,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed, not due, or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusRunning
	job.WorkerID = workerID

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("job_type", job.JobType),
		slog.Int("attempts", job.Attempts),
	)

	return &job, nil
}

// Complete marks a RUNNING job COMPLETED.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $2 AND status = $3
	`

	if _, err := s.db.ExecContext(ctx, query, domain.JobStatusCompleted, jobID, domain.JobStatusRunning); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	s.logger.Info("Job completed", slog.String("job_id", jobID))
	return nil
}

// Fail records a failed execution. Below the attempt limit the job returns to
// PENDING with an exponentially backed-off schedule; at the limit it becomes
// terminal FAILED and stays visible for operators, never silently dropped.
func (s *Store) Fail(ctx context.Context, job *domain.Job, jobErr error) error {
	if job.Attempts < job.MaxAttempts {
		delay := s.backoff.Delay(job.Attempts)

		query := `
			UPDATE jobs
			SET status = $1,
			    scheduled_for = NOW() + $2 * INTERVAL '1 second',
			    last_error = $3,
			    updated_at = NOW()
			WHERE job_id = $4 AND status = $5
		`

		_, err := s.db.ExecContext(ctx, query,
			domain.JobStatusPending,
			int(delay.Seconds()),
			jobErr.Error(),
			job.JobID,
			domain.JobStatusRunning,
		)
		if err != nil {
			return fmt.Errorf("failed to reschedule job: %w", err)
		}

		s.logger.Info("Job rescheduled after failure",
			slog.String("job_id", job.JobID),
			slog.Int("attempts", job.Attempts),
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", jobErr.Error()),
		)
		return nil
	}

	query := `
		UPDATE jobs
		SET status = $1,
		    completed_at = NOW(),
		    last_error = $2,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	_, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed,
		jobErr.Error(),
		job.JobID,
		domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	s.logger.Warn("Job exceeded max attempts, marked failed",
		slog.String("job_id", job.JobID),
		slog.Int("attempts", job.Attempts),
		slog.String("error", jobErr.Error()),
	)
	return nil
}

// ListDue returns ids of PENDING jobs whose schedule has arrived, earliest
// first. The sweeper publishes these to the broker for pickup.
func (s *Store) ListDue(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT job_id FROM jobs
		WHERE status = $1 AND scheduled_for <= NOW()
		ORDER BY scheduled_for
		LIMIT $2
	`

	var ids []string
	if err := s.db.SelectContext(ctx, &ids, query, domain.JobStatusPending, limit); err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}

	return ids, nil
}

// GetByID retrieves a job by its ID.
func (s *Store) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, job_type, payload, status, scheduled_for, started_at,
		       completed_at, attempts, max_attempts,
		       COALESCE(last_error, '') AS last_error,
		       COALESCE(worker_id, '') AS worker_id,
		       created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// JobFilter narrows List results.
type JobFilter struct {
	JobType  string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset position for job pagination.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// List returns jobs matching the filter, newest first, keyset-paginated.
// One extra row beyond PageSize is fetched so the caller can detect more.
func (s *Store) List(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `
		SELECT job_id, job_type, payload, status, scheduled_for, started_at,
		       completed_at, attempts, max_attempts,
		       COALESCE(last_error, '') AS last_error,
		       COALESCE(worker_id, '') AS worker_id,
		       created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
