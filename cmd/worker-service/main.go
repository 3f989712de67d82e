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

	"github.com/joho/godotenv"

	"github.com/aiwilsonsam/cantomeet-notes/internal/blob"
	"github.com/aiwilsonsam/cantomeet-notes/internal/config"
	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
	"github.com/aiwilsonsam/cantomeet-notes/internal/stage"
	"github.com/aiwilsonsam/cantomeet-notes/internal/worker"
	"github.com/aiwilsonsam/cantomeet-notes/shared/logger"
	"github.com/aiwilsonsam/cantomeet-notes/shared/postgresql"
	"github.com/aiwilsonsam/cantomeet-notes/shared/rabbitmq"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)

	// Initialize PostgreSQL client and apply migrations
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize the stage queue
	stageQueue, err := initQueue(cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	defer stageQueue.Close()

	appLogger.Info("Queue connection established", slog.String("backend", cfg.Queue.Backend))

	// Initialize upload storage
	blobs, err := blob.NewLocalFS(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("failed to initialize upload storage: %w", err)
	}

	// Wire the pipeline
	jobStore := pipeline.NewPostgresStore(dbClient.GetDB())

	transcriber := stage.NewTranscriber(stage.TranscriberConfig{
		BaseURL:      cfg.ASR.BaseURL,
		APIKey:       cfg.ASR.APIKey,
		PollInterval: cfg.ASR.PollInterval,
		MaxRetries:   cfg.ASR.MaxRetries,
	}, blobs, appLogger.Logger)

	summarizer := stage.NewSummarizer(stage.SummarizerConfig{
		BaseURL:    cfg.Summarizer.BaseURL,
		APIKey:     cfg.Summarizer.APIKey,
		Model:      cfg.Summarizer.Model,
		MaxRetries: cfg.Summarizer.MaxRetries,
	}, appLogger.Logger)

	orchestrator := pipeline.NewOrchestrator(jobStore, stageQueue, transcriber, summarizer,
		pipeline.OrchestratorConfig{
			MaxAttempts:  cfg.Worker.MaxAttempts,
			StageTimeout: cfg.Worker.StageTimeout,
			JobTTL:       cfg.Worker.JobTTL,
		}, appLogger.Logger)

	reclaimer := pipeline.NewReclaimer(jobStore, stageQueue, pipeline.ReclaimerConfig{
		Interval:   cfg.Worker.ReclaimInterval,
		StaleAfter: cfg.Worker.StaleAfter,
	}, appLogger.Logger)

	pool := worker.New(stageQueue, orchestrator, worker.Config{
		Concurrency:    cfg.Worker.Concurrency,
		DequeueTimeout: cfg.Queue.DequeueTimeout,
	}, appLogger.Logger)

	// Run until interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reclaimer.Run(ctx)

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	appLogger.Info("Worker service is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down worker service...")
	cancel()

	// Wait for in-flight stages to settle, up to the shutdown timeout
	select {
	case <-poolDone:
		appLogger.Info("Worker service shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Shutdown timeout exceeded, exiting with work in flight")
	}

	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initQueue creates the configured queue backend
func initQueue(cfg *config.Config, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendMemory:
		return queue.NewMemoryQueue(0), nil

	case config.QueueBackendRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return queue.NewRedisQueue(ctx, queue.RedisConfig{
			Addr:      cfg.Queue.Redis.Addr,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			KeyPrefix: cfg.Queue.Redis.KeyPrefix,
		}, logger)

	case config.QueueBackendRabbitMQ:
		client, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:            cfg.Queue.RabbitMQ.Host,
			Port:            cfg.Queue.RabbitMQ.Port,
			User:            cfg.Queue.RabbitMQ.User,
			Password:        cfg.Queue.RabbitMQ.Password,
			VHost:           cfg.Queue.RabbitMQ.VHost,
			ExchangeName:    cfg.Queue.RabbitMQ.ExchangeName,
			ExchangeType:    cfg.Queue.RabbitMQ.ExchangeType,
			ExchangeDurable: true,
			QueueName:       cfg.Queue.RabbitMQ.QueueName,
			QueueDurable:    true,
			MaxPriority:     cfg.Queue.RabbitMQ.MaxPriority,
			RoutingKey:      cfg.Queue.RabbitMQ.RoutingKey,
			RetryAttempts:   cfg.Queue.RabbitMQ.RetryAttempts,
			RetryInterval:   cfg.Queue.RabbitMQ.RetryInterval,
			Heartbeat:       cfg.Queue.RabbitMQ.Heartbeat,
			PrefetchCount:   cfg.Queue.RabbitMQ.PrefetchCount,
		}, logger)
		if err != nil {
			return nil, err
		}
		return queue.NewRabbitMQQueue(client, cfg.App.Name), nil

	default:
		return nil, fmt.Errorf("unknown queue backend: %q", cfg.Queue.Backend)
	}
}
