package meeting

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

// Creator materializes meeting records from finalized jobs. It implements
// pipeline.MeetingCreator.
type Creator struct {
	store  Store
	logger *slog.Logger
}

func NewCreator(store Store, logger *slog.Logger) *Creator {
	return &Creator{store: store, logger: logger}
}

// CreateFromJob builds the meeting from the job's review payloads. Creation
// is idempotent: an existing record for the same job counts as success, so
// a finalize retried after a partial failure converges.
func (c *Creator) CreateFromJob(ctx context.Context, meetingID string, job *pipeline.Job, meta pipeline.MeetingMetadata) error {
	title := meta.Title
	if title == "" {
		title = defaultTitle(job.Filename)
	}

	m := &Meeting{
		ID:          meetingID,
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
		Title:       title,
		Template:    meta.Template,
		Tags:        meta.Tags,
		Language:    job.Language,
		Transcript:  job.Transcript,
		Summary:     job.Summary,
	}

	if err := c.store.Create(ctx, m); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			c.logger.Warn("Meeting already exists for job, treating as success",
				slog.String("job_id", job.ID),
				slog.String("meeting_id", meetingID),
			)
			return nil
		}
		return err
	}

	c.logger.Info("Meeting created",
		slog.String("meeting_id", meetingID),
		slog.String("job_id", job.ID),
		slog.String("workspace_id", job.WorkspaceID),
	)
	return nil
}

// defaultTitle derives a title from the uploaded filename.
func defaultTitle(filename string) string {
	if filename == "" {
		return "Untitled meeting"
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" {
		return "Untitled meeting"
	}
	return base
}
