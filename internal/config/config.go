package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue backend names accepted in queue.backend.
const (
	QueueBackendMemory   = "memory"
	QueueBackendRedis    = "redis"
	QueueBackendRabbitMQ = "rabbitmq"
)

// Config represents the complete application configuration
type Config struct {
	App        AppConfig        `yaml:"app"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	Storage    StorageConfig    `yaml:"storage"`
	ASR        ASRConfig        `yaml:"asr"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Worker     WorkerConfig     `yaml:"worker"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadSize   int64         `yaml:"max_upload_size"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QueueConfig selects and configures the queue backend
type QueueConfig struct {
	Backend        string         `yaml:"backend"`
	DequeueTimeout time.Duration  `yaml:"dequeue_timeout"`
	RabbitMQ       RabbitMQConfig `yaml:"rabbitmq"`
	Redis          RedisConfig    `yaml:"redis"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	VHost         string        `yaml:"vhost"`
	ExchangeName  string        `yaml:"exchange_name"`
	ExchangeType  string        `yaml:"exchange_type"`
	QueueName     string        `yaml:"queue_name"`
	RoutingKey    string        `yaml:"routing_key"`
	MaxPriority   int           `yaml:"max_priority"`
	PrefetchCount int           `yaml:"prefetch_count"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// RedisConfig holds Redis queue configuration
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// StorageConfig holds uploaded-file storage configuration
type StorageConfig struct {
	Root string `yaml:"root"`
}

// ASRConfig holds transcription service configuration
type ASRConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxRetries   uint64        `yaml:"max_retries"`
}

// SummarizerConfig holds summarization service configuration
type SummarizerConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	MaxRetries uint64 `yaml:"max_retries"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	MaxAttempts     int           `yaml:"max_attempts"`
	StageTimeout    time.Duration `yaml:"stage_timeout"`
	JobTTL          time.Duration `yaml:"job_ttl"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// Load reads and parses the configuration file. Secrets can be supplied
// via environment variables instead of the file.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvOverrides()

	return &config, nil
}

// applyEnvOverrides lets deployment environments inject credentials
// without writing them into the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.Queue.RabbitMQ.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Queue.Redis.Password = v
	}
	if v := os.Getenv("ASR_API_KEY"); v != "" {
		c.ASR.APIKey = v
	}
	if v := os.Getenv("SUMMARIZER_API_KEY"); v != "" {
		c.Summarizer.APIKey = v
	}
}

// validateQueueConfig checks the selected queue backend's settings
func (c *Config) validateQueueConfig() error {
	switch c.Queue.Backend {
	case QueueBackendMemory:
		return nil
	case QueueBackendRedis:
		if c.Queue.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required")
		}
		return nil
	case QueueBackendRabbitMQ:
		if c.Queue.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.Queue.RabbitMQ.Port < MinPort || c.Queue.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.Queue.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.Queue.RabbitMQ.ExchangeName == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.Queue.RabbitMQ.QueueName == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown queue backend: %q", c.Queue.Backend)
	}
}

func (c *Config) validateDatabaseConfig() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabaseConfig(); err != nil {
		return err
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	return c.validateQueueConfig()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker max_attempts must be greater than 0")
	}

	if c.Worker.StageTimeout <= 0 {
		return fmt.Errorf("worker stage_timeout must be greater than 0")
	}

	if err := c.validateDatabaseConfig(); err != nil {
		return err
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.ASR.BaseURL == "" {
		return fmt.Errorf("asr base_url is required")
	}

	if c.Summarizer.BaseURL == "" {
		return fmt.Errorf("summarizer base_url is required")
	}

	if c.Summarizer.Model == "" {
		return fmt.Errorf("summarizer model is required")
	}

	return c.validateQueueConfig()
}
