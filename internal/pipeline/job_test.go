package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		to      State
		allowed bool
	}{
		{"queued to transcribing", StateQueued, StateTranscribing, true},
		{"transcribing to summarizing", StateTranscribing, StateSummarizing, true},
		{"summarizing to review ready", StateSummarizing, StateReviewReady, true},
		{"review ready to completed", StateReviewReady, StateCompleted, true},

		{"queued to failed", StateQueued, StateFailed, true},
		{"transcribing to failed", StateTranscribing, StateFailed, true},
		{"summarizing to failed", StateSummarizing, StateFailed, true},
		{"review ready to failed", StateReviewReady, StateFailed, true},

		{"queued to itself", StateQueued, StateQueued, true},
		{"transcribing to itself", StateTranscribing, StateTranscribing, true},
		{"summarizing to itself", StateSummarizing, StateSummarizing, true},
		{"review ready to itself", StateReviewReady, StateReviewReady, true},

		{"queued skips to summarizing", StateQueued, StateSummarizing, false},
		{"queued skips to review ready", StateQueued, StateReviewReady, false},
		{"queued skips to completed", StateQueued, StateCompleted, false},
		{"transcribing back to queued", StateTranscribing, StateQueued, false},
		{"transcribing skips to review ready", StateTranscribing, StateReviewReady, false},
		{"summarizing back to transcribing", StateSummarizing, StateTranscribing, false},
		{"review ready back to summarizing", StateReviewReady, StateSummarizing, false},

		{"completed to itself", StateCompleted, StateCompleted, false},
		{"completed to failed", StateCompleted, StateFailed, false},
		{"completed back to review ready", StateCompleted, StateReviewReady, false},
		{"failed to itself", StateFailed, StateFailed, false},
		{"failed back to queued", StateFailed, StateQueued, false},
		{"failed to completed", StateFailed, StateCompleted, false},

		{"unknown from state", State("PENDING"), StateTranscribing, false},
		{"unknown to state", StateQueued, State("PENDING"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateQueued.Terminal())
	assert.False(t, StateTranscribing.Terminal())
	assert.False(t, StateSummarizing.Terminal())
	assert.False(t, StateReviewReady.Terminal())
}

func TestJobClone(t *testing.T) {
	job := &Job{
		ID:    "job-1",
		State: StateReviewReady,
		Logs:  []string{"a", "b"},
		Transcript: &Transcript{
			Content:  "hello",
			Segments: []Segment{{Start: 0, End: 1.5, Speaker: "S1", Text: "hello"}},
		},
		Summary: &Summary{
			ExecutiveSummary: "short",
			Decisions:        []string{"ship it"},
			ActionItems:      []ActionItem{{Description: "follow up", Owner: "sam"}},
		},
	}

	cp := job.Clone()
	cp.Logs[0] = "mutated"
	cp.Transcript.Segments[0].Text = "mutated"
	cp.Summary.Decisions[0] = "mutated"
	cp.Summary.ActionItems[0].Owner = "mutated"

	assert.Equal(t, "a", job.Logs[0])
	assert.Equal(t, "hello", job.Transcript.Segments[0].Text)
	assert.Equal(t, "ship it", job.Summary.Decisions[0])
	assert.Equal(t, "sam", job.Summary.ActionItems[0].Owner)
}
