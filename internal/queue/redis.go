package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis queue configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	// PollInterval is how often Dequeue re-checks the lists while blocked.
	PollInterval time.Duration
}

// RedisQueue is a reliable queue on Redis lists. Messages are LPUSHed onto
// per-priority lists and atomically moved into a processing list on
// dequeue; Ack removes the entry, Nack pushes it back. Entries stranded in
// the processing list after a crash are recovered by the job reclaimer,
// not by the queue.
type RedisQueue struct {
	client *redis.Client
	logger *slog.Logger

	highKey       string
	defaultKey    string
	processingKey string
	pollInterval  time.Duration

	mu         sync.Mutex
	highStreak int
}

// NewRedisQueue connects to Redis and verifies the connection.
func NewRedisQueue(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pipeline"
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}

	logger.Info("Redis queue initialized",
		slog.String("addr", cfg.Addr),
		slog.String("key_prefix", prefix),
	)

	return &RedisQueue{
		client:        client,
		logger:        logger,
		highKey:       prefix + ":high",
		defaultKey:    prefix + ":default",
		processingKey: prefix + ":processing",
		pollInterval:  pollInterval,
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg Message, priority Priority) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}

	key := q.defaultKey
	if priority >= PriorityHigh {
		key = q.highKey
	}

	if err := q.client.LPush(ctx, key, body).Err(); err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	q.logger.Debug("Message enqueued",
		slog.String("job_id", msg.JobID),
		slog.String("stage", msg.Stage),
		slog.String("key", key),
	)
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	deadline := time.Now().Add(timeout)

	for {
		body, sourceKey, err := q.tryMove(ctx)
		if err != nil {
			return nil, err
		}
		if body != "" {
			return q.delivery(body, sourceKey)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		wait := q.pollInterval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryMove pops one message into the processing list without blocking,
// honoring the high-priority streak limit. Returns the list the message
// came from so a nack can send it back to the same lane.
func (q *RedisQueue) tryMove(ctx context.Context) (string, string, error) {
	q.mu.Lock()
	preferDefault := q.highStreak >= highStreakLimit
	q.mu.Unlock()

	keys := []string{q.highKey, q.defaultKey}
	if preferDefault {
		keys = []string{q.defaultKey, q.highKey}
	}

	for _, key := range keys {
		body, err := q.client.LMove(ctx, key, q.processingKey, "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to dequeue message: %w", err)
		}

		q.mu.Lock()
		if key == q.highKey {
			q.highStreak++
		} else {
			q.highStreak = 0
		}
		q.mu.Unlock()

		return body, key, nil
	}

	return "", "", nil
}

func (q *RedisQueue) delivery(body, sourceKey string) (*Delivery, error) {
	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		// Undecodable entries would loop forever, drop them.
		if remErr := q.client.LRem(context.Background(), q.processingKey, 1, body).Err(); remErr != nil {
			q.logger.Error("Failed to drop malformed queue entry", slog.Any("error", remErr))
		}
		return nil, fmt.Errorf("failed to decode queue message: %w", err)
	}

	return &Delivery{
		Message: msg,
		Ack: func() error {
			if err := q.client.LRem(context.Background(), q.processingKey, 1, body).Err(); err != nil {
				return fmt.Errorf("failed to ack message: %w", err)
			}
			return nil
		},
		Nack: func(requeue bool) error {
			ctx := context.Background()
			if err := q.client.LRem(ctx, q.processingKey, 1, body).Err(); err != nil {
				return fmt.Errorf("failed to nack message: %w", err)
			}
			if !requeue {
				return nil
			}
			if err := q.client.LPush(ctx, sourceKey, body).Err(); err != nil {
				return fmt.Errorf("failed to requeue message: %w", err)
			}
			return nil
		},
	}, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
