// Package queue provides the work distribution layer between the upload API
// and the stage workers. Three interchangeable backends exist: an in-process
// channel queue for tests and single-binary deployments, a Redis reliable
// queue, and RabbitMQ with priority queues.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Priority orders messages within a queue. Higher is served first, but the
// backends guarantee lower priorities are never starved.
type Priority int

const (
	PriorityDefault Priority = 0
	PriorityHigh    Priority = 5
)

// Message is one unit of stage work. Attempt is the fencing token: the
// worker's claim on the job store must match it, so duplicate deliveries
// and stale re-deliveries lose the claim race instead of double-running.
type Message struct {
	JobID   string `json:"job_id"`
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
}

// Delivery is a dequeued message plus its settlement callbacks.
type Delivery struct {
	Message Message

	// Ack marks the delivery as settled. Processing outcomes are recorded in
	// the job store, so messages are acked even when the stage failed.
	Ack func() error

	// Nack returns the delivery to the queue (requeue=true) or drops it.
	// Used only for infrastructure errors where the work was never claimed.
	Nack func(requeue bool) error
}

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Queue is the transport for stage work. Dequeue blocks up to timeout and
// returns (nil, nil) when no message arrived.
type Queue interface {
	Enqueue(ctx context.Context, msg Message, priority Priority) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Close() error
}

// highStreakLimit bounds how many consecutive high-priority messages are
// served while default-priority work is waiting.
const highStreakLimit = 4

// MemoryQueue is an in-process Queue backed by buffered channels.
type MemoryQueue struct {
	high chan Message
	def  chan Message

	mu         sync.Mutex
	highStreak int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemoryQueue creates an in-process queue with the given per-priority
// buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		high:   make(chan Message, capacity),
		def:    make(chan Message, capacity),
		closed: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg Message, priority Priority) error {
	target := q.def
	if priority >= PriorityHigh {
		target = q.high
	}

	select {
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case target <- msg:
		return nil
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Fast path: serve whatever is already buffered, preferring high
	// priority until the fairness streak runs out.
	if msg, lane, ok := q.tryDequeue(); ok {
		return q.delivery(msg, lane), nil
	}

	select {
	case <-q.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case msg := <-q.high:
		q.noteServed(true)
		return q.delivery(msg, q.high), nil
	case msg := <-q.def:
		q.noteServed(false)
		return q.delivery(msg, q.def), nil
	}
}

// tryDequeue takes a buffered message without blocking, returning the lane
// it came from. High priority wins unless it has been served
// highStreakLimit times in a row with default work still waiting.
func (q *MemoryQueue) tryDequeue() (Message, chan Message, bool) {
	q.mu.Lock()
	preferDefault := q.highStreak >= highStreakLimit
	q.mu.Unlock()

	if preferDefault {
		select {
		case msg := <-q.def:
			q.noteServed(false)
			return msg, q.def, true
		default:
		}
	}

	select {
	case msg := <-q.high:
		q.noteServed(true)
		return msg, q.high, true
	default:
	}

	select {
	case msg := <-q.def:
		q.noteServed(false)
		return msg, q.def, true
	default:
	}

	return Message{}, nil, false
}

func (q *MemoryQueue) noteServed(high bool) {
	q.mu.Lock()
	if high {
		q.highStreak++
	} else {
		q.highStreak = 0
	}
	q.mu.Unlock()
}

// delivery wraps a message with settlement callbacks. Nack requeues onto
// the lane the message was dequeued from so it keeps its priority.
func (q *MemoryQueue) delivery(msg Message, lane chan Message) *Delivery {
	return &Delivery{
		Message: msg,
		Ack:     func() error { return nil },
		Nack: func(requeue bool) error {
			if !requeue {
				return nil
			}
			select {
			case <-q.closed:
				return ErrClosed
			case lane <- msg:
				return nil
			default:
				return errors.New("queue is full, message dropped")
			}
		},
	}
}

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}
