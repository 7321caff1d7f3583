package core

import (
	"errors"
	"fmt"
)

// Error is the canonical error carried across the liveness core. It holds a
// coarse category for propagation decisions and a machine-readable code that
// is recorded verbatim in participant results.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`

	// RetryAfter is set on rate-limit errors when the upstream supplied one,
	// in seconds.
	RetryAfter *int `json:"retry_after,omitempty"`

	// RequestID is attached by the HTTP layer before the error is written.
	RequestID string `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors by how they propagate.
type ErrorType string

const (
	// ErrCapacity rejects a session start at the concurrency ceiling.
	ErrCapacity ErrorType = "capacity_error"
	// ErrConnectivity is a stream join failure or disconnect; session-fatal.
	ErrConnectivity ErrorType = "connectivity_error"
	// ErrAccumulation means a participant produced too little data in time.
	ErrAccumulation ErrorType = "accumulation_error"
	// ErrDecode means batch decode failed or produced too few frames.
	ErrDecode ErrorType = "decode_error"
	// ErrScoring wraps a typed error from the scoring collaborator.
	ErrScoring ErrorType = "scoring_error"
	// ErrInvalidRequest is a malformed inbound request.
	ErrInvalidRequest ErrorType = "invalid_request_error"
	// ErrAuthentication is a missing or invalid operator credential.
	ErrAuthentication ErrorType = "authentication_error"
	// ErrNotFound is an unknown meeting or participant.
	ErrNotFound ErrorType = "not_found_error"
)

// Participant-level error codes recorded in the result store. Scoring codes
// are passed through verbatim and are not enumerated here.
const (
	CodeNoData             = "no_data"
	CodeStreamTimeout      = "stream_timeout"
	CodeInsufficientFrames = "insufficient_frames"
	CodeDecodeFailed       = "decode_failed"
	CodeTooManySessions    = "too_many_sessions"
)

// NewCapacityError creates a capacity error for a rejected session start.
func NewCapacityError(message string) *Error {
	return &Error{Type: ErrCapacity, Message: message, Code: CodeTooManySessions}
}

// NewConnectivityError creates a session-fatal connectivity error.
func NewConnectivityError(message string) *Error {
	return &Error{Type: ErrConnectivity, Message: message}
}

// NewAccumulationError creates a participant-fatal accumulation error.
func NewAccumulationError(code, message string) *Error {
	return &Error{Type: ErrAccumulation, Message: message, Code: code}
}

// NewDecodeError creates a participant-fatal decode error.
func NewDecodeError(code, message string) *Error {
	return &Error{Type: ErrDecode, Message: message, Code: code}
}

// NewScoringError wraps a scoring collaborator failure, keeping its code.
func NewScoringError(code, message string) *Error {
	return &Error{Type: ErrScoring, Message: message, Code: code}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// IsRetryable reports whether the operation that produced the error may be
// retried. Capacity and connectivity failures are never retried
// automatically; the external trigger may re-issue the start.
func (e *Error) IsRetryable() bool {
	return e.Code == "rate_limit_exceeded"
}

// ParticipantFatal reports whether the error terminates only the owning
// participant pipeline, leaving the session and its other pipelines running.
func (e *Error) ParticipantFatal() bool {
	switch e.Type {
	case ErrAccumulation, ErrDecode, ErrScoring:
		return true
	default:
		return false
	}
}

// CodeOf extracts the machine-readable code from any error, falling back to
// "internal_error" for errors outside the canonical taxonomy.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) && ce != nil {
		if ce.Code != "" {
			return ce.Code
		}
		return string(ce.Type)
	}
	return "internal_error"
}
