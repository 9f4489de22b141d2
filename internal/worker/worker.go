package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/fetch"
	"feedsync/internal/hub"
	"feedsync/internal/jobstore"
	"feedsync/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Jobs          *jobstore.Store
	RabbitClient  *rabbitmq.Client
	Pipeline      *fetch.Pipeline
	Hub           *hub.Manager
	WorkerID      string
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// Worker consumes job dispatch messages from RabbitMQ and executes them.
// Messages only carry a job id; every claim, retry and status transition
// happens in Postgres through the job store, so a duplicated or replayed
// message is harmless.
type Worker struct {
	logger        *slog.Logger
	jobs          *jobstore.Store
	rabbitClient  *rabbitmq.Client
	pipeline      *fetch.Pipeline
	hub           *hub.Manager
	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	jobsChan      chan *domain.JobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		jobs:          cfg.Jobs,
		rabbitClient:  cfg.RabbitClient,
		pipeline:      cfg.Pipeline,
		hub:           cfg.Hub,
		workerID:      cfg.WorkerID,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		jobTimeout:    cfg.JobTimeout,
		jobsChan:      make(chan *domain.JobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until the context is
// canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker, draining in-flight jobs.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
