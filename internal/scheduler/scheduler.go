package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"feedsync/internal/hub"
	"feedsync/internal/jobstore"
	"feedsync/internal/store"
	"feedsync/shared/rabbitmq"
)

const (
	sweepBatchSize      = 200
	sweepTimeout        = time.Minute
	renewalCronSpec     = "@every 1h"
	dispatchContentType = "application/json"
)

// Config holds scheduler configuration
type Config struct {
	Logger        *slog.Logger
	Jobs          *jobstore.Store
	Store         *store.Store
	Hub           *hub.Manager
	RabbitClient  *rabbitmq.Client
	SweepInterval time.Duration
	RenewalWindow time.Duration
}

// Scheduler periodically turns database state into dispatched work: due feeds
// become fetch jobs, due jobs become RabbitMQ messages, and expiring push
// leases become renewal jobs. Every sweep is idempotent, so a missed or
// doubled tick changes nothing.
type Scheduler struct {
	ctx           context.Context
	cron          *cron.Cron
	logger        *slog.Logger
	jobs          *jobstore.Store
	store         *store.Store
	hub           *hub.Manager
	rabbitClient  *rabbitmq.Client
	sweepInterval time.Duration
	renewalWindow time.Duration
}

// New creates a scheduler bound to ctx. Sweeps stop when ctx is canceled.
func New(ctx context.Context, cfg *Config) *Scheduler {
	return &Scheduler{
		ctx:           ctx,
		cron:          cron.New(cron.WithLocation(time.UTC)),
		logger:        cfg.Logger,
		jobs:          cfg.Jobs,
		store:         cfg.Store,
		hub:           cfg.Hub,
		rabbitClient:  cfg.RabbitClient,
		sweepInterval: cfg.SweepInterval,
		renewalWindow: cfg.RenewalWindow,
	}
}

// Start registers the sweep entries and starts the cron loop.
func (s *Scheduler) Start() error {
	sweepSpec := fmt.Sprintf("@every %s", s.sweepInterval)

	if _, err := s.cron.AddFunc(sweepSpec, s.sweep); err != nil {
		return fmt.Errorf("failed to register sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(renewalCronSpec, s.sweepPushLeases); err != nil {
		return fmt.Errorf("failed to register push lease sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		slog.Duration("sweep_interval", s.sweepInterval),
		slog.Duration("renewal_window", s.renewalWindow),
	)

	return nil
}

// Stop stops the cron loop and waits for running sweeps to finish.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler stopped")
}

// sweep is the main tick: due feeds get fetch jobs, due jobs get dispatched.
func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	if ctx.Err() != nil {
		return
	}

	s.sweepDueFeeds(ctx)
	s.dispatchDueJobs(ctx)
}

// sweepDueFeeds enqueues a fetch job for every feed whose next_fetch_at has
// arrived. The job store skips feeds that already have a live fetch job.
func (s *Scheduler) sweepDueFeeds(ctx context.Context) {
	feeds, err := s.store.ListDueFeeds(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list due feeds", slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	enqueued := 0
	for i := range feeds {
		if err := s.jobs.EnqueueFetch(ctx, feeds[i].FeedID, now); err != nil {
			s.logger.Error("Failed to enqueue fetch job",
				slog.String("feed_id", feeds[i].FeedID),
				slog.String("error", err.Error()),
			)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.logger.Info("Due feeds swept",
			slog.Int("due", len(feeds)),
			slog.Int("enqueued", enqueued),
		)
	}
}

// dispatchDueJobs publishes a dispatch message for every PENDING job whose
// schedule has arrived. Publishing the same job twice is safe: the claim
// guard lets only one consumer take it.
func (s *Scheduler) dispatchDueJobs(ctx context.Context) {
	jobIDs, err := s.jobs.ListDue(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("Failed to list due jobs", slog.String("error", err.Error()))
		return
	}

	published := 0
	for _, jobID := range jobIDs {
		body, err := json.Marshal(struct {
			JobID string `json:"job_id"`
		}{JobID: jobID})
		if err != nil {
			s.logger.Error("Failed to marshal dispatch message",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := s.rabbitClient.Publish(ctx, body, dispatchContentType); err != nil {
			s.logger.Error("Failed to publish dispatch message",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		}
		published++
	}

	if published > 0 {
		s.logger.Info("Due jobs dispatched",
			slog.Int("due", len(jobIDs)),
			slog.Int("published", published),
		)
	}
}

// sweepPushLeases enqueues renewals for push subscriptions whose lease ends
// inside the renewal window, then downgrades any that already lapsed.
func (s *Scheduler) sweepPushLeases() {
	ctx, cancel := context.WithTimeout(s.ctx, sweepTimeout)
	defer cancel()

	if ctx.Err() != nil {
		return
	}

	expiring, err := s.store.ListExpiringPushSubscriptions(ctx, s.renewalWindow)
	if err != nil {
		s.logger.Error("Failed to list expiring push subscriptions",
			slog.String("error", err.Error()),
		)
		return
	}

	now := time.Now()
	for i := range expiring {
		if err := s.jobs.EnqueueHubRenew(ctx, expiring[i].PushID, now); err != nil {
			s.logger.Error("Failed to enqueue hub renewal",
				slog.String("push_id", expiring[i].PushID),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(expiring) > 0 {
		s.logger.Info("Push lease renewals enqueued", slog.Int("count", len(expiring)))
	}

	if err := s.hub.ExpireLapsed(ctx); err != nil {
		s.logger.Error("Failed to expire lapsed push subscriptions",
			slog.String("error", err.Error()),
		)
	}
}
