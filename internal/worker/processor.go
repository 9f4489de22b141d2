package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"feedsync/internal/domain"
)

// processJob claims and executes a single job. A nil return means the message
// is settled: either the job ran, or the database already accounts for it
// (claimed by another worker, rescheduled with backoff, terminally failed).
// A non-nil return means the job row could not be updated and the message
// itself must be redelivered.
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.jobs.Claim(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			// Another worker won the claim, or the sweeper republished a job
			// that has since been rescheduled. Either way the row is owned.
			w.logger.Debug("Job not claimable, skipping",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			w.logger.Warn("Dispatch message references unknown job",
				slog.String("job_id", msg.JobID),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	w.logger.Info("Processing job",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.Int("attempt", job.Attempts),
	)

	if err := domain.ValidatePayload(job.JobType, job.Payload); err != nil {
		// Payloads are validated at enqueue, so this only happens after a
		// schema change or manual row edit. Retrying cannot fix it.
		w.logger.Error("Job payload failed validation",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		job.Attempts = job.MaxAttempts
		if failErr := w.jobs.Fail(ctx, job, err); failErr != nil {
			return domain.NewRetryableError(failErr)
		}
		return nil
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	execErr := w.executeJob(jobCtx, job)
	if execErr != nil {
		w.logger.Error("Job execution failed",
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
			slog.String("error", execErr.Error()),
		)
		if failErr := w.jobs.Fail(ctx, job, execErr); failErr != nil {
			return domain.NewRetryableError(failErr)
		}
		return nil
	}

	if err := w.jobs.Complete(ctx, job.JobID); err != nil {
		return domain.NewRetryableError(err)
	}

	return nil
}

// executeJob dispatches on the job type.
func (w *Worker) executeJob(ctx context.Context, job *domain.Job) error {
	switch job.JobType {
	case domain.JobTypeFetchFeed:
		var p domain.FetchFeedPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		return w.pipeline.Run(ctx, p.FeedID)

	case domain.JobTypeHubRenew:
		var p domain.HubRenewPayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		return w.hub.Renew(ctx, p.PushID)

	case domain.JobTypeHubUnsubscribe:
		var p domain.HubUnsubscribePayload
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
		}
		return w.hub.RequestUnsubscribe(ctx, p.PushID)

	default:
		return fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidPayload, job.JobType)
	}
}
