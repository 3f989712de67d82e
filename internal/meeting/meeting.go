// Package meeting holds the permanent records produced by finalized jobs.
package meeting

import (
	"context"
	"errors"
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

var (
	// ErrNotFound is returned when a meeting cannot be found
	ErrNotFound = errors.New("meeting not found")

	// ErrAlreadyExists is returned when a meeting for the same job already
	// exists. Finalize retries treat this as success.
	ErrAlreadyExists = errors.New("meeting already exists")
)

// Meeting is the reviewed, permanent record of one processed recording.
type Meeting struct {
	ID          string               `json:"id"`
	WorkspaceID string               `json:"workspace_id"`
	JobID       string               `json:"job_id"`
	Title       string               `json:"title"`
	Template    string               `json:"template,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	Language    string               `json:"language"`
	Transcript  *pipeline.Transcript `json:"transcript,omitempty"`
	Summary     *pipeline.Summary    `json:"summary,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// UpdateParams are the editable fields of a meeting. Nil means unchanged.
type UpdateParams struct {
	Title   *string
	Tags    *[]string
	Summary *pipeline.Summary
}

// Store persists meetings.
type Store interface {
	Create(ctx context.Context, m *Meeting) error
	Get(ctx context.Context, id string) (*Meeting, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*Meeting, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Meeting, error)
}
