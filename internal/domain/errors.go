// Package domain provides canonical error types for the governance core.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a governance failure.
type ErrorKind string

const (
	// KindRateLimited indicates the caller exceeded its request window.
	KindRateLimited ErrorKind = "rate_limited"

	// KindCapacityRejected indicates the tracking table was full and the
	// caller was a previously unseen identity.
	KindCapacityRejected ErrorKind = "capacity_rejected"

	// KindQuotaExceeded indicates a daily model quota was exhausted.
	KindQuotaExceeded ErrorKind = "quota_exceeded"

	// KindContextLength indicates an input did not fit the model's
	// context window.
	KindContextLength ErrorKind = "context_length"
)

// GovernanceError is a typed failure emitted by the admission and budget
// layers. Callers branch on Kind (or Retryable) to distinguish
// retry-later-might from retry-now-won't-help.
type GovernanceError struct {
	Kind    ErrorKind
	Model   string
	Message string
}

// Error implements the error interface.
func (e *GovernanceError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Model, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// HTTPStatusCode returns the HTTP status to surface for this error.
func (e *GovernanceError) HTTPStatusCode() int {
	switch e.Kind {
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCapacityRejected:
		return http.StatusServiceUnavailable
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindContextLength:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether retrying later can succeed. Window pressure
// clears on its own; a spent daily quota or an oversized input does not.
func (e *GovernanceError) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindCapacityRejected:
		return true
	default:
		return false
	}
}

// ErrRateLimited creates a rate-limited error for a client key.
func ErrRateLimited(key string) *GovernanceError {
	return &GovernanceError{
		Kind:    KindRateLimited,
		Message: fmt.Sprintf("request limit exceeded for %s", key),
	}
}

// ErrCapacityRejected creates a capacity-rejection error.
func ErrCapacityRejected() *GovernanceError {
	return &GovernanceError{
		Kind:    KindCapacityRejected,
		Message: "tracking table at capacity",
	}
}

// ErrQuotaExceeded creates a daily-quota error naming the model.
func ErrQuotaExceeded(model string) *GovernanceError {
	return &GovernanceError{
		Kind:    KindQuotaExceeded,
		Model:   model,
		Message: "daily request quota exhausted",
	}
}

// ErrContextLength creates a context-window error naming the model.
func ErrContextLength(model string, have, limit int) *GovernanceError {
	return &GovernanceError{
		Kind:    KindContextLength,
		Model:   model,
		Message: fmt.Sprintf("input of ~%d tokens exceeds window of %d", have, limit),
	}
}

// IsKind reports whether err is a GovernanceError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ge *GovernanceError
	return errors.As(err, &ge) && ge.Kind == kind
}
