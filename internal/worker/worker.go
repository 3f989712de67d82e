// Package worker runs the consumption loop: dequeue stage messages and
// hand them to the pipeline orchestrator.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
)

// Processor handles one stage message. A nil return means the message is
// settled, including handled stage failures; an error means infrastructure
// trouble and the message should be redelivered.
type Processor interface {
	Process(ctx context.Context, msg queue.Message) error
}

// Config tunes the worker pool.
type Config struct {
	Concurrency    int
	DequeueTimeout time.Duration
}

// Worker runs a pool of goroutines draining the queue.
type Worker struct {
	queue     queue.Queue
	processor Processor
	logger    *slog.Logger
	config    Config
}

func New(q queue.Queue, processor Processor, config Config, logger *slog.Logger) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.DequeueTimeout <= 0 {
		config.DequeueTimeout = 5 * time.Second
	}
	return &Worker{
		queue:     q,
		processor: processor,
		logger:    logger,
		config:    config,
	}
}

// Run blocks until the context is cancelled and all in-flight messages are
// settled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker pool started", slog.Int("concurrency", w.config.Concurrency))

	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	w.logger.Info("Worker pool stopped")
}

func (w *Worker) loop(ctx context.Context, id int) {
	log := w.logger.With(slog.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delivery, err := w.queue.Dequeue(ctx, w.config.DequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to dequeue message", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		w.handle(ctx, log, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, log *slog.Logger, delivery *queue.Delivery) {
	msg := delivery.Message

	if err := w.processor.Process(ctx, msg); err != nil {
		// Infrastructure failure: the job was never claimed or the store is
		// unreachable, so put the message back.
		log.Error("Processing failed, requeueing message",
			slog.String("job_id", msg.JobID),
			slog.String("stage", msg.Stage),
			slog.Any("error", err),
		)
		if nackErr := delivery.Nack(true); nackErr != nil {
			log.Error("Failed to nack message", slog.Any("error", nackErr))
		}
		return
	}

	// Stage outcomes, including failures and retries, live in the job
	// store; the message itself is done.
	if err := delivery.Ack(); err != nil {
		log.Error("Failed to ack message",
			slog.String("job_id", msg.JobID),
			slog.Any("error", err),
		)
	}
}
