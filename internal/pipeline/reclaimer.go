package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
)

// ReclaimerConfig tunes the stale-job sweep.
type ReclaimerConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
}

// Reclaimer re-enqueues jobs stranded mid-pipeline: a worker crashed after
// claiming, or an enqueue to the next stage was lost. It relies on the
// attempt fence for safety, so a re-enqueued message for a job that is
// actually still being worked on simply loses the claim race.
type Reclaimer struct {
	store  Store
	queue  queue.Queue
	logger *slog.Logger
	config ReclaimerConfig
}

func NewReclaimer(store Store, q queue.Queue, config ReclaimerConfig, logger *slog.Logger) *Reclaimer {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 5 * time.Minute
	}
	return &Reclaimer{
		store:  store,
		queue:  q,
		logger: logger,
		config: config,
	}
}

// Run sweeps on an interval until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("Stale job reclaimer started",
		slog.Duration("interval", r.config.Interval),
		slog.Duration("stale_after", r.config.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stale job reclaimer stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("Stale job sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Sweep re-enqueues every in-progress job that has not been touched within
// the staleness window.
func (r *Reclaimer) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.config.StaleAfter)
	states := []State{StateTranscribing, StateSummarizing}

	stale, err := r.store.ListStale(ctx, states, cutoff)
	if err != nil {
		return err
	}

	for _, job := range stale {
		stage := stageForJobState(job.State)
		if stage == "" {
			continue
		}

		// The log append bumps updated_at, so the next sweep skips this job
		// until the staleness window elapses again.
		if err := r.store.AppendLog(ctx, job.ID, "job reclaimed after worker stall"); err != nil {
			r.logger.Warn("Failed to mark job as reclaimed",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		err := r.queue.Enqueue(ctx, queue.Message{
			JobID:   job.ID,
			Stage:   stage,
			Attempt: job.Attempt,
		}, queue.PriorityHigh)
		if err != nil {
			r.logger.Error("Failed to re-enqueue stale job",
				slog.String("job_id", job.ID),
				slog.Any("error", err),
			)
			continue
		}

		r.logger.Info("Re-enqueued stale job",
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
			slog.Int("attempt", job.Attempt),
		)
	}

	return nil
}

func stageForJobState(state State) string {
	switch state {
	case StateTranscribing:
		return StageTranscribe
	case StateSummarizing:
		return StageSummarize
	}
	return ""
}
