package streams

import (
	"errors"
	"fmt"
)

// StreamError represents a domain-specific error.
type StreamError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeSourceNotFound = "SOURCE_NOT_FOUND"
	ErrCodeJobActive      = "JOB_ACTIVE"
	ErrCodeSpawnFailed    = "SPAWN_FAILED"
	ErrCodeJobNotFound    = "JOB_NOT_FOUND"
	ErrCodeShuttingDown   = "SHUTTING_DOWN"
)

// NewStreamError creates a new stream error.
func NewStreamError(code, message string, cause error) *StreamError {
	return &StreamError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode returns the StreamError code in err's chain, or "".
func ErrorCode(err error) string {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
