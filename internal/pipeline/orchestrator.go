package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
)

// ProgressFunc reports stage-local progress (0-100) and an optional log
// note. The orchestrator maps it into the stage's slice of the job-level
// progress window.
type ProgressFunc func(pct int, note string)

// Transcriber converts an uploaded recording into a normalized transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, job *Job, progress ProgressFunc) (*Transcript, error)
}

// Summarizer produces structured meeting notes from a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, job *Job, progress ProgressFunc) (*Summary, error)
}

// OrchestratorConfig tunes retry and timeout behavior.
type OrchestratorConfig struct {
	// MaxAttempts is the per-stage attempt budget. The attempt counter
	// resets when the job advances to the next stage.
	MaxAttempts int

	// StageTimeout bounds a single stage execution.
	StageTimeout time.Duration

	// JobTTL is the global deadline measured from job creation. Expired
	// jobs fail instead of being processed.
	JobTTL time.Duration
}

// Orchestrator drives one queue message through its stage: claim the job
// with a fenced compare-and-swap, run the stage handler, and record the
// outcome. A nil return means the message is settled (including handled
// failures); an error means infrastructure trouble and the message should
// be redelivered.
type Orchestrator struct {
	store  Store
	queue  queue.Queue
	logger *slog.Logger
	config OrchestratorConfig

	stages map[string]stageSpec
}

// stageSpec describes one pipeline stage: which states it may claim the
// job from, the state it runs in, where success leads, and the slice of
// the progress window it owns.
type stageSpec struct {
	name      string
	claimFrom []State
	running   State
	next      State
	startPct  int
	donePct   int
	run       func(ctx context.Context, job *Job, progress ProgressFunc) (func(*TransitionRequest), error)
}

// NewOrchestrator wires the stage table.
func NewOrchestrator(
	store Store,
	q queue.Queue,
	transcriber Transcriber,
	summarizer Summarizer,
	config OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}

	o := &Orchestrator{
		store:  store,
		queue:  q,
		logger: logger,
		config: config,
	}

	o.stages = map[string]stageSpec{
		StageTranscribe: {
			name: StageTranscribe,
			// TRANSCRIBING is claimable so retry re-deliveries can re-claim
			// the job without a state change.
			claimFrom: []State{StateQueued, StateTranscribing},
			running:   StateTranscribing,
			next:      StateSummarizing,
			startPct:  5,
			donePct:   50,
			run: func(ctx context.Context, job *Job, progress ProgressFunc) (func(*TransitionRequest), error) {
				transcript, err := transcriber.Transcribe(ctx, job, progress)
				if err != nil {
					return nil, err
				}
				return func(req *TransitionRequest) {
					req.Transcript = transcript
					req.LogEntry = "transcription complete"
				}, nil
			},
		},
		StageSummarize: {
			name:      StageSummarize,
			claimFrom: []State{StateSummarizing},
			running:   StateSummarizing,
			next:      StateReviewReady,
			startPct:  55,
			donePct:   100,
			run: func(ctx context.Context, job *Job, progress ProgressFunc) (func(*TransitionRequest), error) {
				summary, err := summarizer.Summarize(ctx, job, progress)
				if err != nil {
					return nil, err
				}
				return func(req *TransitionRequest) {
					req.Summary = summary
					req.LogEntry = "summary ready for review"
				}, nil
			},
		},
	}

	return o
}

// Process handles one dequeued message end to end.
func (o *Orchestrator) Process(ctx context.Context, msg queue.Message) error {
	log := o.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("stage", msg.Stage),
		slog.Int("attempt", msg.Attempt),
	)

	spec, ok := o.stages[msg.Stage]
	if !ok {
		log.Warn("Dropping message with unknown stage")
		return nil
	}

	job, err := o.store.Get(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			log.Warn("Dropping message for unknown job")
			return nil
		}
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.State.Terminal() {
		log.Debug("Dropping message for terminal job", slog.String("state", string(job.State)))
		return nil
	}

	if o.config.JobTTL > 0 && time.Since(job.CreatedAt) > o.config.JobTTL {
		return o.expire(ctx, job, log)
	}

	claimed, err := o.claim(ctx, job, msg, spec)
	if err != nil {
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState) {
			// Duplicate delivery or stale re-delivery lost the race.
			log.Debug("Claim lost, dropping message", slog.Any("error", err))
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	log.Info("Stage started", slog.Int("claimed_attempt", claimed.Attempt))

	stageCtx := ctx
	if o.config.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.config.StageTimeout)
		defer cancel()
	}

	progress := o.progressFunc(ctx, claimed.ID, spec)
	apply, stageErr := spec.run(stageCtx, claimed, progress)
	if stageErr != nil {
		return o.settleFailure(ctx, claimed, spec, stageErr, log)
	}

	return o.settleSuccess(ctx, claimed, spec, apply, log)
}

// claim moves the job into the stage's running state with a fenced CAS.
// The message's attempt must match the stored counter, and claiming
// increments it, so each delivery claims at most once.
func (o *Orchestrator) claim(ctx context.Context, job *Job, msg queue.Message, spec stageSpec) (*Job, error) {
	claimable := false
	for _, from := range spec.claimFrom {
		if job.State == from {
			claimable = true
			break
		}
	}
	if !claimable {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidState, job.State)
	}

	expectedAttempt := msg.Attempt
	startPct := spec.startPct

	return o.store.Transition(ctx, job.ID, TransitionRequest{
		Expected:         job.State,
		To:               spec.running,
		ExpectedAttempt:  &expectedAttempt,
		IncrementAttempt: true,
		Progress:         &startPct,
		LogEntry:         fmt.Sprintf("%s started (attempt %d)", spec.name, msg.Attempt+1),
	})
}

// progressFunc maps stage-local progress into the stage's window. Uses the
// parent context so final heartbeats survive a stage timeout.
func (o *Orchestrator) progressFunc(ctx context.Context, jobID string, spec stageSpec) ProgressFunc {
	return func(pct int, note string) {
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		mapped := spec.startPct + pct*(spec.donePct-spec.startPct)/100

		if err := o.store.Heartbeat(ctx, jobID, spec.running, mapped, note); err != nil {
			o.logger.Warn("Failed to record job heartbeat",
				slog.String("job_id", jobID),
				slog.Any("error", err),
			)
		}
	}
}

func (o *Orchestrator) settleSuccess(ctx context.Context, claimed *Job, spec stageSpec, apply func(*TransitionRequest), log *slog.Logger) error {
	donePct := spec.donePct
	expectedAttempt := claimed.Attempt

	req := TransitionRequest{
		Expected:        spec.running,
		To:              spec.next,
		ExpectedAttempt: &expectedAttempt,
		Progress:        &donePct,
		ResetAttempt:    true,
	}
	apply(&req)

	if _, err := o.store.Transition(ctx, claimed.ID, req); err != nil {
		if errors.Is(err, ErrConflict) {
			log.Warn("Lost completion race, discarding stage result")
			return nil
		}
		return fmt.Errorf("failed to record stage result: %w", err)
	}

	log.Info("Stage completed", slog.String("next_state", string(spec.next)))

	// REVIEW_READY waits for the user; everything else feeds the next stage.
	if spec.next == StateReviewReady {
		return nil
	}

	nextStage := o.stageForState(spec.next)
	if nextStage == "" {
		return nil
	}

	err := o.queue.Enqueue(ctx, queue.Message{
		JobID:   claimed.ID,
		Stage:   nextStage,
		Attempt: 0,
	}, queue.PriorityDefault)
	if err != nil {
		// The job sits in its new state with a fresh updated_at; the stale
		// reclaimer will re-enqueue it.
		log.Error("Failed to enqueue next stage, leaving job for reclaimer",
			slog.String("next_stage", nextStage),
			slog.Any("error", err),
		)
	}
	return nil
}

func (o *Orchestrator) settleFailure(ctx context.Context, claimed *Job, spec stageSpec, stageErr error, log *slog.Logger) error {
	if IsRetryable(stageErr) && claimed.Attempt < o.config.MaxAttempts {
		startPct := spec.startPct
		expectedAttempt := claimed.Attempt

		_, err := o.store.Transition(ctx, claimed.ID, TransitionRequest{
			Expected:        spec.running,
			To:              spec.running,
			ExpectedAttempt: &expectedAttempt,
			Progress:        &startPct,
			LogEntry: fmt.Sprintf("%s attempt %d failed, retrying: %s",
				spec.name, claimed.Attempt, stageErr.Error()),
		})
		if err != nil {
			if errors.Is(err, ErrConflict) {
				log.Warn("Lost retry race, dropping")
				return nil
			}
			return fmt.Errorf("failed to record retry: %w", err)
		}

		err = o.queue.Enqueue(ctx, queue.Message{
			JobID:   claimed.ID,
			Stage:   spec.name,
			Attempt: claimed.Attempt,
		}, queue.PriorityDefault)
		if err != nil {
			log.Error("Failed to enqueue retry, leaving job for reclaimer", slog.Any("error", err))
		}

		log.Warn("Stage failed, retry scheduled",
			slog.Int("next_attempt", claimed.Attempt+1),
			slog.Any("error", stageErr),
		)
		return nil
	}

	expectedAttempt := claimed.Attempt
	_, err := o.store.Transition(ctx, claimed.ID, TransitionRequest{
		Expected:        spec.running,
		To:              StateFailed,
		ExpectedAttempt: &expectedAttempt,
		ErrorMessage:    stageErr.Error(),
		LogEntry:        fmt.Sprintf("%s failed: %s", spec.name, stageErr.Error()),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			log.Warn("Lost failure race, dropping")
			return nil
		}
		return fmt.Errorf("failed to record stage failure: %w", err)
	}

	log.Error("Stage failed permanently",
		slog.Int("attempt", claimed.Attempt),
		slog.Any("error", stageErr),
	)
	return nil
}

// expire fails a job that outlived its global deadline.
func (o *Orchestrator) expire(ctx context.Context, job *Job, log *slog.Logger) error {
	message := fmt.Sprintf("job exceeded processing deadline of %s", o.config.JobTTL)

	_, err := o.store.Transition(ctx, job.ID, TransitionRequest{
		Expected:     job.State,
		To:           StateFailed,
		ErrorMessage: message,
		LogEntry:     message,
	})
	if err != nil && !errors.Is(err, ErrConflict) && !errors.Is(err, ErrInvalidState) {
		return fmt.Errorf("failed to expire job: %w", err)
	}

	log.Warn("Job expired", slog.Time("created_at", job.CreatedAt))
	return nil
}

// stageForState maps a running state back to the stage that serves it.
func (o *Orchestrator) stageForState(state State) string {
	for name, spec := range o.stages {
		for _, from := range spec.claimFrom {
			if from == state {
				return name
			}
		}
	}
	return ""
}
