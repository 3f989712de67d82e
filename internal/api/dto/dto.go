package dto

import (
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/meeting"
	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

type FinalizeRequest struct {
	Title    string   `json:"title"`
	Template string   `json:"template"`
	Tags     []string `json:"tags"`
}

type UpdateMeetingRequest struct {
	Title   *string           `json:"title"`
	Tags    *[]string         `json:"tags"`
	Summary *pipeline.Summary `json:"summary"`
}

type JobDTO struct {
	JobID        string               `json:"job_id"`
	WorkspaceID  string               `json:"workspace_id"`
	Filename     string               `json:"filename"`
	FileSize     int64                `json:"file_size"`
	Language     string               `json:"language"`
	State        string               `json:"state"`
	Progress     int                  `json:"progress"`
	Logs         []string             `json:"logs"`
	Transcript   *pipeline.Transcript `json:"transcript,omitempty"`
	Summary      *pipeline.Summary    `json:"summary,omitempty"`
	MeetingID    string               `json:"meeting_id,omitempty"`
	ErrorMessage string               `json:"error_message,omitempty"`
	CreatedAt    string               `json:"created_at"`
	UpdatedAt    string               `json:"updated_at"`
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type MeetingDTO struct {
	MeetingID   string               `json:"meeting_id"`
	WorkspaceID string               `json:"workspace_id"`
	JobID       string               `json:"job_id"`
	Title       string               `json:"title"`
	Template    string               `json:"template,omitempty"`
	Tags        []string             `json:"tags,omitempty"`
	Language    string               `json:"language"`
	Transcript  *pipeline.Transcript `json:"transcript,omitempty"`
	Summary     *pipeline.Summary    `json:"summary,omitempty"`
	CreatedAt   string               `json:"created_at"`
	UpdatedAt   string               `json:"updated_at"`
}

type ListMeetingsResponse struct {
	Meetings []MeetingDTO `json:"meetings"`
}

func FromJob(job *pipeline.Job) JobDTO {
	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}
	return JobDTO{
		JobID:        job.ID,
		WorkspaceID:  job.WorkspaceID,
		Filename:     job.Filename,
		FileSize:     job.FileSize,
		Language:     job.Language,
		State:        string(job.State),
		Progress:     job.Progress,
		Logs:         logs,
		Transcript:   job.Transcript,
		Summary:      job.Summary,
		MeetingID:    job.MeetingID,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

func FromMeeting(m *meeting.Meeting) MeetingDTO {
	return MeetingDTO{
		MeetingID:   m.ID,
		WorkspaceID: m.WorkspaceID,
		JobID:       m.JobID,
		Title:       m.Title,
		Template:    m.Template,
		Tags:        m.Tags,
		Language:    m.Language,
		Transcript:  m.Transcript,
		Summary:     m.Summary,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   m.UpdatedAt.Format(time.RFC3339),
	}
}
