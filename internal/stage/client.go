// Package stage calls the external transcription and summarization
// services. Errors are classified once here, at the service boundary:
// everything leaving this package is either a transient or a permanent
// service error, so the orchestrator never inspects HTTP details.
package stage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aiwilsonsam/cantomeet-notes/internal/pipeline"
)

const maxErrorBodyBytes = 512

// retryableStatus reports whether an HTTP status is worth retrying.
// Client errors are the caller's fault and will not improve, except for
// timeouts and rate limits.
func retryableStatus(status int) bool {
	if status >= 500 {
		return true
	}
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests
}

// serviceMessage extracts a short, human-readable failure message from a
// response body, falling back to the status text.
func serviceMessage(status int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBodyBytes {
		msg = msg[:maxErrorBodyBytes]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return msg
}

// doWithRetry executes an HTTP request with exponential backoff. The build
// function is called per attempt so request bodies are fresh. Returns the
// response body on 2xx; otherwise a classified pipeline error.
func doWithRetry(ctx context.Context, client *http.Client, maxRetries uint64, build func() (*http.Request, error)) ([]byte, error) {
	operation := func() ([]byte, error) {
		req, err := build()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			return nil, pipeline.NewTransientServiceError(err.Error())
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, pipeline.NewTransientServiceError(fmt.Sprintf("failed to read response: %s", err))
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return body, nil
		}

		msg := serviceMessage(resp.StatusCode, body)
		if retryableStatus(resp.StatusCode) {
			return nil, pipeline.NewTransientServiceError(msg)
		}
		return nil, backoff.Permanent(pipeline.NewPermanentServiceError(msg))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second

	return backoff.RetryWithData(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxRetries), ctx))
}
