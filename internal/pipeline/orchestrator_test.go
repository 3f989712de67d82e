package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
)

type fakeTranscriber struct {
	fn    func(ctx context.Context, job *Job, progress ProgressFunc) (*Transcript, error)
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, job *Job, progress ProgressFunc) (*Transcript, error) {
	f.calls++
	return f.fn(ctx, job, progress)
}

type fakeSummarizer struct {
	fn    func(ctx context.Context, job *Job, progress ProgressFunc) (*Summary, error)
	calls int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, job *Job, progress ProgressFunc) (*Summary, error) {
	f.calls++
	return f.fn(ctx, job, progress)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func okTranscriber() *fakeTranscriber {
	return &fakeTranscriber{fn: func(ctx context.Context, job *Job, progress ProgressFunc) (*Transcript, error) {
		progress(50, "transcription in progress")
		return &Transcript{
			Content:         "hello everyone",
			Segments:        []Segment{{Start: 0, End: 2.5, Speaker: "S1", Text: "hello everyone"}},
			DurationSeconds: 120,
			Language:        "yue",
		}, nil
	}}
}

func okSummarizer() *fakeSummarizer {
	return &fakeSummarizer{fn: func(ctx context.Context, job *Job, progress ProgressFunc) (*Summary, error) {
		return &Summary{
			ExecutiveSummary: "weekly standup recap",
			Decisions:        []string{"ship on friday"},
			ActionItems:      []ActionItem{{Description: "update docs", Owner: "kit", Priority: "medium"}},
		}, nil
	}}
}

func newOrchestratorEnv(t *testing.T, transcriber Transcriber, summarizer Summarizer, cfg OrchestratorConfig) (*Orchestrator, *MemoryStore, *queue.MemoryQueue) {
	t.Helper()
	store := NewMemoryStore()
	q := queue.NewMemoryQueue(64)
	t.Cleanup(func() { q.Close() })
	return NewOrchestrator(store, q, transcriber, summarizer, cfg, discardLogger()), store, q
}

func drainOne(t *testing.T, q *queue.MemoryQueue) queue.Message {
	t.Helper()
	d, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, d, "expected a queued message")
	require.NoError(t, d.Ack())
	return d.Message
}

func TestOrchestrator_HappyPath(t *testing.T) {
	o, store, q := newOrchestratorEnv(t, okTranscriber(), okSummarizer(), OrchestratorConfig{MaxAttempts: 3})
	ctx := context.Background()

	job, err := store.Create(ctx, CreateParams{
		WorkspaceID: "ws-1",
		SourceRef:   "audio_1",
		Filename:    "standup.m4a",
	})
	require.NoError(t, err)

	// Transcribe stage.
	err = o.Process(ctx, queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0})
	require.NoError(t, err)

	afterTranscribe, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSummarizing, afterTranscribe.State)
	assert.Equal(t, 50, afterTranscribe.Progress)
	assert.Equal(t, 0, afterTranscribe.Attempt, "attempt resets when the stage advances")
	require.NotNil(t, afterTranscribe.Transcript)
	assert.Equal(t, "hello everyone", afterTranscribe.Transcript.Content)
	assert.Nil(t, afterTranscribe.Summary)

	// Transcribe success enqueues the summarize stage.
	next := drainOne(t, q)
	assert.Equal(t, job.ID, next.JobID)
	assert.Equal(t, StageSummarize, next.Stage)
	assert.Equal(t, 0, next.Attempt)

	// Summarize stage.
	err = o.Process(ctx, next)
	require.NoError(t, err)

	final, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReviewReady, final.State)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Summary)
	assert.Equal(t, "weekly standup recap", final.Summary.ExecutiveSummary)
	assert.Empty(t, final.ErrorMessage)

	// REVIEW_READY waits for the user, nothing else is enqueued.
	d, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestOrchestrator_PermanentFailure(t *testing.T) {
	transcriber := &fakeTranscriber{fn: func(ctx context.Context, job *Job, progress ProgressFunc) (*Transcript, error) {
		return nil, NewPermanentServiceError("unsupported codec")
	}}
	o, store, q := newOrchestratorEnv(t, transcriber, okSummarizer(), OrchestratorConfig{MaxAttempts: 3})
	ctx := context.Background()

	job, err := store.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "audio_1", Filename: "a.wav"})
	require.NoError(t, err)

	err = o.Process(ctx, queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0})
	require.NoError(t, err)

	failed, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, 1, failed.Attempt)
	assert.Equal(t, "unsupported codec", failed.ErrorMessage, "service message is preserved verbatim")
	assert.Equal(t, 1, transcriber.calls, "permanent failures are not retried")

	d, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d, "no retry is enqueued for a permanent failure")
}

func TestOrchestrator_RetryThenExhaustion(t *testing.T) {
	transcriber := &fakeTranscriber{fn: func(ctx context.Context, job *Job, progress ProgressFunc) (*Transcript, error) {
		return nil, NewTransientServiceError("transcription service unavailable")
	}}
	o, store, q := newOrchestratorEnv(t, transcriber, okSummarizer(), OrchestratorConfig{MaxAttempts: 3})
	ctx := context.Background()

	job, err := store.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "audio_1", Filename: "a.wav"})
	require.NoError(t, err)

	msg := queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0}
	for i := 0; i < 2; i++ {
		require.NoError(t, o.Process(ctx, msg))

		current, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StateTranscribing, current.State, "retryable failures keep the job in its stage")

		msg = drainOne(t, q)
		assert.Equal(t, StageTranscribe, msg.Stage)
		assert.Equal(t, current.Attempt, msg.Attempt, "retry message carries the fenced attempt")
	}

	// Third attempt exhausts the budget.
	require.NoError(t, o.Process(ctx, msg))

	failed, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, 3, failed.Attempt)
	assert.Equal(t, "transcription service unavailable", failed.ErrorMessage)
	assert.Equal(t, 3, transcriber.calls)

	attemptLogs := 0
	for _, entry := range failed.Logs {
		if strings.Contains(entry, "transcribe started") {
			attemptLogs++
		}
	}
	assert.Equal(t, 3, attemptLogs, "each attempt leaves a log entry")

	d, err := q.Dequeue(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestOrchestrator_DuplicateDeliveryIsNoOp(t *testing.T) {
	o, store, _ := newOrchestratorEnv(t, okTranscriber(), okSummarizer(), OrchestratorConfig{MaxAttempts: 3})
	ctx := context.Background()

	job, err := store.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "audio_1", Filename: "a.wav"})
	require.NoError(t, err)

	msg := queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0}
	require.NoError(t, o.Process(ctx, msg))

	first, err := store.Get(ctx, job.ID)
	require.NoError(t, err)

	// Redelivery of the already-processed message loses the attempt fence.
	require.NoError(t, o.Process(ctx, msg))

	second, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Attempt, second.Attempt)
	assert.Equal(t, len(first.Logs), len(second.Logs), "duplicate delivery leaves no trace")
}

func TestOrchestrator_TerminalJobMessageDropped(t *testing.T) {
	o, store, _ := newOrchestratorEnv(t, okTranscriber(), okSummarizer(), OrchestratorConfig{MaxAttempts: 3})
	ctx := context.Background()

	job, err := store.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "audio_1", Filename: "a.wav"})
	require.NoError(t, err)

	_, err = store.Transition(ctx, job.ID, TransitionRequest{
		Expected:     StateQueued,
		To:           StateFailed,
		ErrorMessage: "upload corrupted",
	})
	require.NoError(t, err)

	require.NoError(t, o.Process(ctx, queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0}))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "upload corrupted", got.ErrorMessage)
}

func TestOrchestrator_UnknownJobMessageDropped(t *testing.T) {
	o, _, _ := newOrchestratorEnv(t, okTranscriber(), okSummarizer(), OrchestratorConfig{MaxAttempts: 3})

	err := o.Process(context.Background(), queue.Message{JobID: "missing", Stage: StageTranscribe})
	assert.NoError(t, err)
}

func TestOrchestrator_ExpiredJobFails(t *testing.T) {
	o, store, _ := newOrchestratorEnv(t, okTranscriber(), okSummarizer(), OrchestratorConfig{
		MaxAttempts: 3,
		JobTTL:      time.Hour,
	})
	ctx := context.Background()

	store.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	job, err := store.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "audio_1", Filename: "a.wav"})
	require.NoError(t, err)
	store.now = time.Now

	require.NoError(t, o.Process(ctx, queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0}))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.ErrorMessage, "deadline")
}

func TestOrchestrator_ProgressMappedIntoStageWindow(t *testing.T) {
	store := NewMemoryStore()
	q := queue.NewMemoryQueue(16)
	defer q.Close()
	ctx := context.Background()

	var midProgress int
	transcriber := &fakeTranscriber{}
	transcriber.fn = func(stageCtx context.Context, job *Job, progress ProgressFunc) (*Transcript, error) {
		progress(50, "halfway through the recording")
		current, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		midProgress = current.Progress
		return &Transcript{Content: "x"}, nil
	}
	o := NewOrchestrator(store, q, transcriber, okSummarizer(), OrchestratorConfig{MaxAttempts: 3}, discardLogger())

	job, err := store.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "audio_1", Filename: "a.wav"})
	require.NoError(t, err)

	require.NoError(t, o.Process(ctx, queue.Message{JobID: job.ID, Stage: StageTranscribe, Attempt: 0}))

	// Stage-local 50% lands in the middle of the transcribe window (5..50).
	assert.Equal(t, 27, midProgress)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSummarizing, got.State)
	assert.Equal(t, 50, got.Progress)
}
