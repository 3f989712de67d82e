package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/aiwilsonsam/cantomeet-notes/internal/api/handler"
	"github.com/aiwilsonsam/cantomeet-notes/internal/api/router"
	"github.com/aiwilsonsam/cantomeet-notes/internal/blob"
	"github.com/aiwilsonsam/cantomeet-notes/internal/config"
	"github.com/aiwilsonsam/cantomeet-notes/internal/meeting"
	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client and apply migrations
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := dbClient.Migrate(); err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize the stage queue
	stageQueue, err := initQueue(cfg, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize queue: %w", err)
	}

	appLogger.Info("Queue connection established", slog.String("backend", cfg.Queue.Backend))

	// Initialize upload storage
	blobs, err := blob.NewLocalFS(cfg.Storage.Root)
	if err != nil {
		dbClient.Close()
		stageQueue.Close()
		return fmt.Errorf("failed to initialize upload storage: %w", err)
	}

	// Wire domain services
	jobStore := pipeline.NewPostgresStore(dbClient.GetDB())
	meetingStore := meeting.NewPostgresStore(dbClient.GetDB())
	creator := meeting.NewCreator(meetingStore, appLogger.Logger)
	pipelineService := pipeline.NewService(jobStore, stageQueue, creator, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, pipelineService, meetingStore, blobs)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if stageQueue != nil {
			stageQueue.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, pipelineService *pipeline.Service, meetings meeting.Store, blobs blob.Store) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	handlerDeps := &handler.Dependencies{
		Logger:        logger,
		Pipeline:      pipelineService,
		Meetings:      meetings,
		Blobs:         blobs,
		MaxUploadSize: cfg.Server.MaxUploadSize,
	}

	return router.SetupRouter(handlerDeps)
}
