package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

// SummarizerConfig holds the summarization service settings.
type SummarizerConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries uint64
}

// Summarizer asks a chat-completions endpoint for structured meeting notes.
type Summarizer struct {
	config SummarizerConfig
	client *http.Client
	logger *slog.Logger
}

func NewSummarizer(config SummarizerConfig, logger *slog.Logger) *Summarizer {
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &Summarizer{
		config: config,
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

const summarySystemPrompt = `You are a meeting minutes assistant for Cantonese (and mixed Cantonese/English) meetings.
Given a meeting transcript, respond with a JSON object containing:
"executive_summary" (a few sentences), "detailed_minutes" (markdown),
"decisions" (array of strings) and "action_items" (array of objects with
"description", "owner", "due_date" and "priority"). Keep the summary in the
transcript's language. Respond with JSON only.`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *Summarizer) Summarize(ctx context.Context, job *pipeline.Job, progress pipeline.ProgressFunc) (*pipeline.Summary, error) {
	if job.Transcript == nil || job.Transcript.Content == "" {
		return nil, pipeline.NewPermanentServiceError("no transcript available for summarization")
	}

	progress(5, "generating meeting summary")

	reqPayload := chatRequest{
		Model: s.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: job.Transcript.Content},
		},
		Temperature: 0.2,
	}
	reqPayload.ResponseFormat.Type = "json_object"

	reqBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary request: %w", err)
	}

	body, err := doWithRetry(ctx, s.client, s.config.MaxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, s.config.BaseURL+"/v1/chat/completions", bytes.NewReader(reqBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+s.config.APIKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	progress(80, "parsing model output")

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, pipeline.NewTransientServiceError("summarization service returned malformed response")
	}
	if len(completion.Choices) == 0 {
		return nil, pipeline.NewTransientServiceError("summarization service returned no choices")
	}

	var summary pipeline.Summary
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &summary); err != nil {
		// A malformed completion usually means the model drifted; a rerun
		// tends to produce valid JSON.
		return nil, pipeline.NewTransientServiceError("model output was not valid summary JSON")
	}
	summary.GeneratedByModel = s.config.Model

	s.logger.Info("Summary generated",
		slog.String("job_id", job.ID),
		slog.String("model", s.config.Model),
		slog.Int("action_items", len(summary.ActionItems)),
	)
	return &summary, nil
}
