package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"feedsync/internal/config"
	"feedsync/internal/fetch"
	"feedsync/internal/hub"
	"feedsync/internal/jobstore"
	"feedsync/internal/scheduler"
	"feedsync/internal/store"
	"feedsync/internal/worker"
	"feedsync/shared/logger"
	"feedsync/shared/postgresql"
	"feedsync/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("FETCH_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/fetch-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	workerID := fmt.Sprintf("fetch-worker-%s", uuid.New().String()[:8])

	appLogger.Info("Starting fetch worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("worker_id", workerID),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		ExchangeName:       cfg.RabbitMQ.Exchange.Name,
		ExchangeType:       cfg.RabbitMQ.Exchange.Type,
		ExchangeDurable:    cfg.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: cfg.RabbitMQ.Exchange.AutoDelete,
		QueueName:          cfg.RabbitMQ.Queue.Name,
		QueueDurable:       cfg.RabbitMQ.Queue.Durable,
		QueueAutoDelete:    cfg.RabbitMQ.Queue.AutoDelete,
		QueueExclusive:     cfg.RabbitMQ.Queue.Exclusive,
		RoutingKey:         cfg.RabbitMQ.RoutingKey,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  cfg.RabbitMQ.Connection.ConnectionTimeout,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	db := dbClient.GetDB()
	dataStore := store.NewStore(db, appLogger.Logger)
	jobs := jobstore.NewStore(db, appLogger.Logger)

	reconciler := fetch.NewReconciler(dataStore, appLogger.Logger)
	migrator := fetch.NewMigrator(dataStore, appLogger.Logger)
	hubManager := hub.NewManager(dataStore, reconciler, hub.Config{
		CallbackBaseURL:   cfg.Hub.CallbackBaseURL,
		LeaseSeconds:      cfg.Hub.LeaseSeconds,
		VerificationGrace: cfg.Hub.VerificationGrace,
		HTTPTimeout:       cfg.Fetch.HTTPTimeout,
	}, appLogger.Logger)

	pipeline := fetch.NewPipeline(&fetch.PipelineConfig{
		Feeds:      dataStore,
		Fetcher:    fetch.NewFetcher(cfg.Fetch.UserAgent, cfg.Fetch.HTTPTimeout, cfg.Fetch.MaxBodySize),
		Parser:     fetch.NewParser(),
		Reconciler: reconciler,
		Migrator:   migrator,
		Subscriber: hubManager,
		Logger:     appLogger.Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(ctx, &scheduler.Config{
		Logger:        appLogger.Logger,
		Jobs:          jobs,
		Store:         dataStore,
		Hub:           hubManager,
		RabbitClient:  rabbitClient,
		SweepInterval: cfg.Worker.SweepInterval,
		RenewalWindow: cfg.Hub.RenewalWindow,
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	w := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		Jobs:          jobs,
		RabbitClient:  rabbitClient,
		Pipeline:      pipeline,
		Hub:           hubManager,
		WorkerID:      workerID,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:    cfg.Worker.JobTimeout,
	})

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker stopped with error", slog.Any("error", err))
		}
	}

	appLogger.Info("Shutting down fetch worker...")

	sched.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Fetch worker shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timed out, some jobs may be requeued")
	}

	return nil
}
