package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aiwilsonsam/cantomeet-notes/internal/queue"
)

// audioExtensions lists the accepted upload formats.
var audioExtensions = map[string]bool{
	".m4a":  true,
	".wav":  true,
	".mp3":  true,
	".aac":  true,
	".flac": true,
	".ogg":  true,
}

// MeetingMetadata carries the user-supplied fields of a finalize request.
type MeetingMetadata struct {
	Title    string
	Template string
	Tags     []string
}

// MeetingCreator materializes a permanent meeting record from a finished
// job. Implemented by the meeting package.
type MeetingCreator interface {
	CreateFromJob(ctx context.Context, meetingID string, job *Job, meta MeetingMetadata) error
}

// Service is the API-facing surface of the pipeline: job intake, status
// reads, and finalization.
type Service struct {
	store    Store
	queue    queue.Queue
	meetings MeetingCreator
	logger   *slog.Logger
}

func NewService(store Store, q queue.Queue, meetings MeetingCreator, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		queue:    q,
		meetings: meetings,
		logger:   logger,
	}
}

// ValidateAudioFilename checks the upload extension against the accepted
// audio formats.
func ValidateAudioFilename(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("%w: filename has no extension", ErrValidation)
	}
	if !audioExtensions[ext] {
		return fmt.Errorf("%w: unsupported audio format %q", ErrValidation, ext)
	}
	return nil
}

// CreateJob records a new job and enqueues its first stage. If the enqueue
// fails the job is failed immediately rather than left stranded in QUEUED.
func (s *Service) CreateJob(ctx context.Context, params CreateParams) (*Job, error) {
	if err := ValidateAudioFilename(params.Filename); err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, params)
	if err != nil {
		return nil, err
	}

	err = s.queue.Enqueue(ctx, queue.Message{
		JobID:   job.ID,
		Stage:   StageTranscribe,
		Attempt: 0,
	}, queue.PriorityDefault)
	if err != nil {
		s.logger.Error("Failed to enqueue new job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)

		message := "failed to schedule processing"
		failed, failErr := s.store.Transition(ctx, job.ID, TransitionRequest{
			Expected:     StateQueued,
			To:           StateFailed,
			ErrorMessage: message,
			LogEntry:     message,
		})
		if failErr != nil {
			return nil, fmt.Errorf("failed to enqueue job: %w", err)
		}
		return failed, nil
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("workspace_id", job.WorkspaceID),
		slog.String("filename", job.Filename),
	)
	return job, nil
}

// Status returns the current job record.
func (s *Service) Status(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// ListByWorkspace returns all jobs in a workspace, newest first.
func (s *Service) ListByWorkspace(ctx context.Context, workspaceID string) ([]*Job, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", ErrValidation)
	}
	return s.store.ListByWorkspace(ctx, workspaceID)
}

// Finalize creates the meeting record for a reviewed job, then moves the
// job to COMPLETED. The meeting id is derived from the job id and creation
// is idempotent, so a finalize interrupted between the two steps leaves the
// job reviewable and a retry converges on the same meeting.
func (s *Service) Finalize(ctx context.Context, id string, meta MeetingMetadata) (*Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch job.State {
	case StateReviewReady:
		// proceed
	case StateCompleted:
		return nil, fmt.Errorf("%w: job already finalized", ErrInvalidState)
	default:
		return nil, fmt.Errorf("%w: job is %s, finalize requires %s",
			ErrInvalidState, job.State, StateReviewReady)
	}

	meetingID := meetingIDForJob(job.ID)
	if err := s.meetings.CreateFromJob(ctx, meetingID, job, meta); err != nil {
		return nil, fmt.Errorf("failed to create meeting record: %w", err)
	}

	completed, err := s.store.Transition(ctx, id, TransitionRequest{
		Expected:  StateReviewReady,
		To:        StateCompleted,
		MeetingID: meetingID,
		LogEntry:  "job finalized",
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			// A concurrent finalize won; report the state-based error.
			return nil, fmt.Errorf("%w: job already finalized", ErrInvalidState)
		}
		return nil, err
	}

	s.logger.Info("Job finalized",
		slog.String("job_id", id),
		slog.String("meeting_id", meetingID),
	)
	return completed, nil
}

// meetingIDForJob derives a stable meeting id from the job id so every
// finalize attempt for a job targets the same meeting record.
func meetingIDForJob(jobID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("meeting:"+jobID)).String()
}
