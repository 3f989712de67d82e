package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/aiwilsonsam/cantomeet-notes/internal/blob"
	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

// TranscriberConfig holds the transcription service settings.
type TranscriberConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxRetries   uint64
}

// Transcriber submits audio to the transcription service, polls until the
// remote job settles, and fetches the transcript.
type Transcriber struct {
	config TranscriberConfig
	client *http.Client
	blobs  blob.Store
	logger *slog.Logger
}

func NewTranscriber(config TranscriberConfig, blobs blob.Store, logger *slog.Logger) *Transcriber {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	return &Transcriber{
		config: config,
		client: &http.Client{Timeout: 2 * time.Minute},
		blobs:  blobs,
		logger: logger,
	}
}

type createJobResponse struct {
	ID string `json:"id"`
}

type pollJobResponse struct {
	Job struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error"`
	} `json:"job"`
}

type transcriptResponse struct {
	Segments        []pipeline.Segment `json:"segments"`
	DurationSeconds int                `json:"duration_seconds"`
	Language        string             `json:"language"`
}

func (t *Transcriber) Transcribe(ctx context.Context, job *pipeline.Job, progress pipeline.ProgressFunc) (*pipeline.Transcript, error) {
	progress(0, "uploading audio to transcription service")

	remoteID, err := t.createRemoteJob(ctx, job)
	if err != nil {
		return nil, err
	}

	t.logger.Info("Transcription job submitted",
		slog.String("job_id", job.ID),
		slog.String("remote_id", remoteID),
	)
	progress(10, "audio submitted, waiting for transcription")

	if err := t.waitForRemoteJob(ctx, remoteID, progress); err != nil {
		return nil, err
	}

	progress(90, "fetching transcript")
	transcript, err := t.fetchTranscript(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	if transcript.Language == "" {
		transcript.Language = job.Language
	}
	return transcript, nil
}

// createRemoteJob uploads the audio as multipart form data. The body is
// buffered once so HTTP retries can replay it.
func (t *Transcriber) createRemoteJob(ctx context.Context, job *pipeline.Job) (string, error) {
	audio, err := t.blobs.Open(ctx, job.SourceRef)
	if err != nil {
		return "", pipeline.NewPermanentServiceError(fmt.Sprintf("audio file unavailable: %s", err))
	}
	defer audio.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("data_file", job.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", pipeline.NewTransientServiceError(fmt.Sprintf("failed to read audio file: %s", err))
	}

	jobConfig := map[string]interface{}{
		"type": "transcription",
		"transcription_config": map[string]interface{}{
			"language":    job.Language,
			"diarization": "speaker",
		},
	}
	configJSON, err := json.Marshal(jobConfig)
	if err != nil {
		return "", fmt.Errorf("failed to encode job config: %w", err)
	}
	if err := writer.WriteField("config", string(configJSON)); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	formBytes := buf.Bytes()
	contentType := writer.FormDataContentType()

	body, err := doWithRetry(ctx, t.client, t.config.MaxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, t.config.BaseURL+"/v2/jobs", bytes.NewReader(formBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var created createJobResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", pipeline.NewTransientServiceError("transcription service returned malformed response")
	}
	if created.ID == "" {
		return "", pipeline.NewTransientServiceError("transcription service returned no job id")
	}
	return created.ID, nil
}

// waitForRemoteJob polls until the remote job is done or rejected. Poll
// progress creeps from 10 toward 85 so long recordings still show motion.
func (t *Transcriber) waitForRemoteJob(ctx context.Context, remoteID string, progress pipeline.ProgressFunc) error {
	pct := 10
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.config.PollInterval):
		}

		body, err := doWithRetry(ctx, t.client, t.config.MaxRetries, func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodGet, t.config.BaseURL+"/v2/jobs/"+remoteID, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
			return req, nil
		})
		if err != nil {
			return err
		}

		var status pollJobResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return pipeline.NewTransientServiceError("transcription service returned malformed status")
		}

		switch status.Job.Status {
		case "done":
			return nil
		case "rejected", "error":
			msg := status.Job.Error
			if msg == "" {
				msg = fmt.Sprintf("transcription %s", status.Job.Status)
			}
			return pipeline.NewPermanentServiceError(msg)
		}

		if pct < 85 {
			pct += 5
		}
		progress(pct, "")
	}
}

func (t *Transcriber) fetchTranscript(ctx context.Context, remoteID string) (*pipeline.Transcript, error) {
	body, err := doWithRetry(ctx, t.client, t.config.MaxRetries, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, t.config.BaseURL+"/v2/jobs/"+remoteID+"/transcript?format=json", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var payload transcriptResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, pipeline.NewTransientServiceError("transcription service returned malformed transcript")
	}

	texts := make([]string, 0, len(payload.Segments))
	for _, seg := range payload.Segments {
		if seg.Text != "" {
			texts = append(texts, seg.Text)
		}
	}

	return &pipeline.Transcript{
		Content:         strings.Join(texts, "\n"),
		Segments:        payload.Segments,
		DurationSeconds: payload.DurationSeconds,
		Language:        payload.Language,
	}, nil
}
