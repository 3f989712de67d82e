package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CreateParams carries the fields needed to open a new job.
type CreateParams struct {
	WorkspaceID string
	SourceRef   string
	Filename    string
	FileSize    int64
	Language    string
}

// TransitionRequest describes a compare-and-swap mutation. Expected must
// match the stored state at update time or the request fails with
// ErrConflict. Expected == To is allowed for progress/log updates and
// retry claims that do not change state.
type TransitionRequest struct {
	Expected State
	To       State

	// ExpectedAttempt, when set, additionally fences the CAS on the stored
	// attempt counter. Duplicate queue deliveries and stale workers lose
	// this race.
	ExpectedAttempt *int

	IncrementAttempt bool
	ResetAttempt     bool

	Progress     *int
	LogEntry     string
	ErrorMessage string

	Transcript *Transcript
	Summary    *Summary
	MeetingID  string
}

// Store is the durable, authoritative record of processing jobs. Transition
// is the only state-mutation path; AppendLog and Heartbeat are side channels
// for stage narration that never change state.
type Store interface {
	Create(ctx context.Context, params CreateParams) (*Job, error)
	Get(ctx context.Context, id string) (*Job, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*Job, error)
	Transition(ctx context.Context, id string, req TransitionRequest) (*Job, error)
	AppendLog(ctx context.Context, id string, entry string) error

	// Heartbeat raises progress (never lowers it), optionally appends a log
	// entry, and bumps updated_at. Fails with ErrConflict if the job is no
	// longer in the given state.
	Heartbeat(ctx context.Context, id string, inState State, progress int, entry string) error

	// ListStale returns jobs in one of the given states whose updated_at is
	// older than the cutoff. Used by the stale-job reclaimer.
	ListStale(ctx context.Context, states []State, olderThan time.Time) ([]*Job, error)
}

func formatLogEntry(now time.Time, entry string) string {
	return fmt.Sprintf("[%s] %s", now.UTC().Format("15:04:05"), entry)
}

// MemoryStore is an in-memory Store used by tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, params CreateParams) (*Job, error) {
	if params.SourceRef == "" {
		return nil, fmt.Errorf("%w: source ref is required", ErrValidation)
	}
	if params.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	language := params.Language
	if language == "" {
		language = "yue"
	}

	job := &Job{
		ID:          uuid.New().String(),
		WorkspaceID: params.WorkspaceID,
		SourceRef:   params.SourceRef,
		Filename:    params.Filename,
		FileSize:    params.FileSize,
		Language:    language,
		State:       StateQueued,
		Progress:    0,
		Logs:        []string{formatLogEntry(now, "job queued")},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job

	return job.Clone(), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.WorkspaceID == workspaceID {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, req TransitionRequest) (*Job, error) {
	if !CanTransition(req.Expected, req.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidState, req.Expected, req.To)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.State != req.Expected {
		return nil, fmt.Errorf("%w: job is %s, expected %s", ErrConflict, job.State, req.Expected)
	}
	if req.ExpectedAttempt != nil && job.Attempt != *req.ExpectedAttempt {
		return nil, fmt.Errorf("%w: job attempt is %d, expected %d", ErrConflict, job.Attempt, *req.ExpectedAttempt)
	}

	now := s.now()
	job.State = req.To
	job.UpdatedAt = now

	if req.IncrementAttempt {
		job.Attempt++
	}
	if req.ResetAttempt {
		job.Attempt = 0
	}
	if req.Progress != nil {
		job.Progress = *req.Progress
	}
	if req.LogEntry != "" {
		job.Logs = append(job.Logs, formatLogEntry(now, req.LogEntry))
	}
	if req.ErrorMessage != "" {
		job.ErrorMessage = req.ErrorMessage
	}
	if req.Transcript != nil {
		job.Transcript = req.Transcript
	}
	if req.Summary != nil {
		job.Summary = req.Summary
	}
	if req.MeetingID != "" {
		job.MeetingID = req.MeetingID
	}

	return job.Clone(), nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, id string, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}

	now := s.now()
	job.Logs = append(job.Logs, formatLogEntry(now, entry))
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Heartbeat(ctx context.Context, id string, inState State, progress int, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.State != inState {
		return fmt.Errorf("%w: job is %s, expected %s", ErrConflict, job.State, inState)
	}

	now := s.now()
	if progress > job.Progress {
		job.Progress = progress
	}
	if entry != "" {
		job.Logs = append(job.Logs, formatLogEntry(now, entry))
	}
	job.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListStale(ctx context.Context, states []State, olderThan time.Time) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if !job.UpdatedAt.Before(olderThan) {
			continue
		}
		for _, state := range states {
			if job.State == state {
				out = append(out, job.Clone())
				break
			}
		}
	}
	return out, nil
}
