package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func newTestJob(t *testing.T, s *MemoryStore) *Job {
	t.Helper()
	job, err := s.Create(context.Background(), CreateParams{
		WorkspaceID: "ws-1",
		SourceRef:   "audio_1",
		Filename:    "standup.m4a",
		FileSize:    1024,
	})
	require.NoError(t, err)
	return job
}

func TestMemoryStore_Create(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob(t, s)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StateQueued, job.State)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, "yue", job.Language, "language defaults when not provided")
	require.Len(t, job.Logs, 1)
	assert.Contains(t, job.Logs[0], "job queued")
}

func TestMemoryStore_CreateValidation(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Create(context.Background(), CreateParams{WorkspaceID: "ws-1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Create(context.Background(), CreateParams{SourceRef: "audio_1"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStore_TransitionCAS(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob(t, s)
	ctx := context.Background()

	// First claim wins.
	claimed, err := s.Transition(ctx, job.ID, TransitionRequest{
		Expected:         StateQueued,
		To:               StateTranscribing,
		ExpectedAttempt:  intPtr(0),
		IncrementAttempt: true,
		Progress:         intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, StateTranscribing, claimed.State)
	assert.Equal(t, 1, claimed.Attempt)
	assert.Equal(t, 5, claimed.Progress)

	// A duplicate delivery carrying the old attempt loses on state.
	_, err = s.Transition(ctx, job.ID, TransitionRequest{
		Expected:         StateQueued,
		To:               StateTranscribing,
		ExpectedAttempt:  intPtr(0),
		IncrementAttempt: true,
	})
	assert.ErrorIs(t, err, ErrConflict)

	// A stale worker carrying the old attempt loses on the attempt fence
	// even though the state matches.
	_, err = s.Transition(ctx, job.ID, TransitionRequest{
		Expected:         StateTranscribing,
		To:               StateTranscribing,
		ExpectedAttempt:  intPtr(0),
		IncrementAttempt: true,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_TransitionIllegalEdge(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob(t, s)

	_, err := s.Transition(context.Background(), job.ID, TransitionRequest{
		Expected: StateQueued,
		To:       StateCompleted,
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestMemoryStore_TransitionNotFound(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.Transition(context.Background(), "missing", TransitionRequest{
		Expected: StateQueued,
		To:       StateTranscribing,
	})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemoryStore_TransitionAttachesPayloads(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob(t, s)
	ctx := context.Background()

	_, err := s.Transition(ctx, job.ID, TransitionRequest{
		Expected:         StateQueued,
		To:               StateTranscribing,
		IncrementAttempt: true,
	})
	require.NoError(t, err)

	transcript := &Transcript{Content: "hello world", DurationSeconds: 42, Language: "yue"}
	updated, err := s.Transition(ctx, job.ID, TransitionRequest{
		Expected:     StateTranscribing,
		To:           StateSummarizing,
		Transcript:   transcript,
		ResetAttempt: true,
		Progress:     intPtr(50),
		LogEntry:     "transcription complete",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.Transcript)
	assert.Equal(t, "hello world", updated.Transcript.Content)
	assert.Equal(t, 0, updated.Attempt, "attempt resets on stage advance")
	assert.Equal(t, 50, updated.Progress)
	assert.Contains(t, updated.Logs[len(updated.Logs)-1], "transcription complete")
}

func TestMemoryStore_LogEntriesTimestamped(t *testing.T) {
	s := NewMemoryStore()
	s.now = func() time.Time {
		return time.Date(2026, 8, 29, 14, 30, 5, 0, time.UTC)
	}

	job := newTestJob(t, s)
	require.NoError(t, s.AppendLog(context.Background(), job.ID, "checking in"))

	got, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "[14:30:05] checking in", got.Logs[1])
}

func TestMemoryStore_HeartbeatMonotonicProgress(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob(t, s)
	ctx := context.Background()

	_, err := s.Transition(ctx, job.ID, TransitionRequest{
		Expected: StateQueued,
		To:       StateTranscribing,
		Progress: intPtr(30),
	})
	require.NoError(t, err)

	// A late, lower heartbeat must not rewind progress.
	require.NoError(t, s.Heartbeat(ctx, job.ID, StateTranscribing, 10, ""))
	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Progress)

	require.NoError(t, s.Heartbeat(ctx, job.ID, StateTranscribing, 45, "still working"))
	got, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 45, got.Progress)
	assert.Contains(t, got.Logs[len(got.Logs)-1], "still working")
}

func TestMemoryStore_HeartbeatWrongState(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob(t, s)

	err := s.Heartbeat(context.Background(), job.ID, StateTranscribing, 20, "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStore_ListStale(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	stale := newTestJob(t, s)
	_, err := s.Transition(ctx, stale.ID, TransitionRequest{
		Expected: StateQueued,
		To:       StateTranscribing,
	})
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	fresh := newTestJob(t, s)
	_, err = s.Transition(ctx, fresh.ID, TransitionRequest{
		Expected: StateQueued,
		To:       StateTranscribing,
	})
	require.NoError(t, err)

	got, err := s.ListStale(ctx, []State{StateTranscribing, StateSummarizing}, base.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestMemoryStore_ListByWorkspace(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "a", Filename: "a.wav"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateParams{WorkspaceID: "ws-1", SourceRef: "b", Filename: "b.wav"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateParams{WorkspaceID: "ws-2", SourceRef: "c", Filename: "c.wav"})
	require.NoError(t, err)

	jobs, err := s.ListByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = s.ListByWorkspace(ctx, "ws-3")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
