package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrConflict is returned when a compare-and-swap transition loses the
	// race: another actor already moved the job. Callers abandon silently.
	ErrConflict = errors.New("job state conflict")

	// ErrInvalidState is returned when the requested operation is illegal
	// for the job's current state
	ErrInvalidState = errors.New("operation invalid for job state")

	// ErrValidation is returned for malformed input at job creation
	ErrValidation = errors.New("validation error")
)

// ServiceError wraps a failure reported by an external stage service,
// classified once at the stage boundary. Error() returns the service
// message verbatim so it survives into the job's error field.
type ServiceError struct {
	Retryable bool
	Message   string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// NewTransientServiceError creates a retryable stage error
func NewTransientServiceError(message string) error {
	return &ServiceError{Retryable: true, Message: message}
}

// NewPermanentServiceError creates a non-retryable stage error
func NewPermanentServiceError(message string) error {
	return &ServiceError{Retryable: false, Message: message}
}

// IsRetryable reports whether a stage failure should be retried. Stage
// timeouts count as retryable.
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
