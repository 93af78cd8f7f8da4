package models

import (
	"context"
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrNotFound is returned when a handle cannot be resolved to an identity
	ErrNotFound = errors.New("identity not found")

	// ErrConflict is returned when a caller-supplied fid and handle disagree
	ErrConflict = errors.New("fid and handle refer to different identities")

	// ErrValidation is returned for malformed option values
	ErrValidation = errors.New("invalid option value")

	// ErrCircuitOpen is returned when an endpoint is temporarily suspended
	ErrCircuitOpen = errors.New("endpoint circuit is open")

	// ErrTimeout is returned when an upstream call exceeds its absolute timeout
	ErrTimeout = errors.New("upstream request timed out")

	// ErrRateLimited is returned when the upstream signals too many requests
	ErrRateLimited = errors.New("upstream rate limit exceeded")
)

// UpstreamError describes a failed hub call: a non-2xx status or a malformed
// payload. It wraps the underlying cause for errors.Is/As matching.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upstream %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s failed: %v", e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err as an UpstreamError for the given endpoint.
func NewUpstreamError(endpoint string, status int, err error) *UpstreamError {
	return &UpstreamError{Endpoint: endpoint, StatusCode: status, Err: err}
}

// IsTransient reports whether an error is worth retrying: rate limiting or a
// timed-out request. Everything else surfaces immediately.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
