package pipeline

import "time"

// State is the lifecycle state of a processing job.
type State string

const (
	StateQueued       State = "QUEUED"
	StateTranscribing State = "TRANSCRIBING"
	StateSummarizing  State = "SUMMARIZING"
	StateReviewReady  State = "REVIEW_READY"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

// Stage names carried on queue messages.
const (
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
)

// transitions holds the directed edges of the job state machine. FAILED is
// additionally reachable from every non-terminal state, and a non-terminal
// state may transition to itself (progress/log updates, retry claims).
var transitions = map[State][]State{
	StateQueued:       {StateTranscribing},
	StateTranscribing: {StateSummarizing},
	StateSummarizing:  {StateReviewReady},
	StateReviewReady:  {StateCompleted},
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateTranscribing, StateSummarizing, StateReviewReady, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether the edge from -> to is legal.
func CanTransition(from, to State) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to == StateFailed || to == from {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Segment is one timestamped, speaker-attributed slice of a transcript.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
}

// Transcript is the normalized output of the transcription stage.
type Transcript struct {
	Content         string    `json:"content"`
	Segments        []Segment `json:"segments"`
	DurationSeconds int       `json:"duration_seconds"`
	Language        string    `json:"language"`
}

// ActionItem is a discrete task extracted by the summarization stage.
type ActionItem struct {
	Description string `json:"description"`
	Owner       string `json:"owner"`
	DueDate     string `json:"due_date,omitempty"`
	Priority    string `json:"priority"`
}

// Summary is the structured output of the summarization stage.
type Summary struct {
	ExecutiveSummary string       `json:"executive_summary"`
	DetailedMinutes  string       `json:"detailed_minutes,omitempty"`
	Decisions        []string     `json:"decisions"`
	ActionItems      []ActionItem `json:"action_items"`
	GeneratedByModel string       `json:"generated_by_model,omitempty"`
}

// Job tracks one uploaded recording from queued to completed/failed.
type Job struct {
	ID           string      `json:"id"`
	WorkspaceID  string      `json:"workspace_id"`
	SourceRef    string      `json:"source_ref"`
	Filename     string      `json:"filename"`
	FileSize     int64       `json:"file_size"`
	Language     string      `json:"language"`
	State        State       `json:"state"`
	Progress     int         `json:"progress"`
	Attempt      int         `json:"attempt"`
	Logs         []string    `json:"logs"`
	Transcript   *Transcript `json:"transcript,omitempty"`
	Summary      *Summary    `json:"summary,omitempty"`
	MeetingID    string      `json:"meeting_id,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Logs = append([]string(nil), j.Logs...)
	if j.Transcript != nil {
		t := *j.Transcript
		t.Segments = append([]Segment(nil), j.Transcript.Segments...)
		cp.Transcript = &t
	}
	if j.Summary != nil {
		s := *j.Summary
		s.Decisions = append([]string(nil), j.Summary.Decisions...)
		s.ActionItems = append([]ActionItem(nil), j.Summary.ActionItems...)
		cp.Summary = &s
	}
	return &cp
}
