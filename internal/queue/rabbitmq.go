package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aiwilsonsam/cantomeet-notes/shared/rabbitmq"
)

// RabbitMQQueue adapts the shared RabbitMQ client to the Queue interface.
// Priority ordering is delegated to the broker via x-max-priority.
type RabbitMQQueue struct {
	client      *rabbitmq.Client
	consumerTag string

	consumeOnce sync.Once
	consumeErr  error
	deliveries  <-chan amqp.Delivery
}

// NewRabbitMQQueue wraps an already-connected client.
func NewRabbitMQQueue(client *rabbitmq.Client, consumerTag string) *RabbitMQQueue {
	return &RabbitMQQueue{
		client:      client,
		consumerTag: consumerTag,
	}
}

func (q *RabbitMQQueue) Enqueue(ctx context.Context, msg Message, priority Priority) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode queue message: %w", err)
	}

	if priority < 0 {
		priority = 0
	}
	return q.client.Publish(ctx, body, "application/json", uint8(priority))
}

func (q *RabbitMQQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	q.consumeOnce.Do(func() {
		q.deliveries, q.consumeErr = q.client.Consume(q.consumerTag)
	})
	if q.consumeErr != nil {
		return nil, q.consumeErr
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case d, ok := <-q.deliveries:
		if !ok {
			return nil, ErrClosed
		}

		var msg Message
		if err := json.Unmarshal(d.Body, &msg); err != nil {
			// Malformed payloads would be redelivered forever.
			if rejErr := d.Reject(false); rejErr != nil {
				return nil, fmt.Errorf("failed to reject malformed message: %w", rejErr)
			}
			return nil, fmt.Errorf("failed to decode queue message: %w", err)
		}

		return &Delivery{
			Message: msg,
			Ack:     func() error { return d.Ack(false) },
			Nack:    func(requeue bool) error { return d.Nack(false, requeue) },
		}, nil
	}
}

func (q *RabbitMQQueue) Close() error {
	return q.client.Close()
}
