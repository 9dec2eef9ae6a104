package synth

import (
	"errors"
	"fmt"
)

// ErrorCode identifies specific synthesis error types. Retryability is
// decided by code, not by error type.
type ErrorCode string

const (
	// CodeUnsupportedVoice means the adapter cannot serve the requested
	// voice. Never retried; triggers immediate fallback.
	CodeUnsupportedVoice ErrorCode = "UNSUPPORTED_VOICE"

	// CodeServiceError is a transient adapter failure.
	CodeServiceError ErrorCode = "TTS_SERVICE_ERROR"

	// CodeServiceTimeout is a transient adapter timeout.
	CodeServiceTimeout ErrorCode = "TTS_SERVICE_TIMEOUT"

	// CodeMaxRetriesExceeded is raised when the retry loop is exhausted.
	// It triggers fallback; callers see the underlying cause instead.
	CodeMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"

	// CodeFallbackError is a generic failure inside fallback handling.
	CodeFallbackError ErrorCode = "FALLBACK_ERROR"

	// CodeUnknown classifies panics and errors with no code of their own.
	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// SynthError is the typed error surfaced for synthesis failures. It carries
// the adapter name, operation, and request id for traceability.
type SynthError struct {
	Code      ErrorCode
	Adapter   string
	Op        string
	RequestID string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *SynthError) Error() string {
	msg := fmt.Sprintf("%s: %s (adapter=%s op=%s request=%s)",
		e.Code, e.Message, e.Adapter, e.Op, e.RequestID)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *SynthError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error is transient and worth retrying.
func (e *SynthError) Retryable() bool {
	switch e.Code {
	case CodeServiceError, CodeServiceTimeout:
		return true
	default:
		return false
	}
}

// NewSynthError creates a synthesis error with full context.
func NewSynthError(code ErrorCode, adapter, op, requestID, message string, cause error) *SynthError {
	return &SynthError{
		Code:      code,
		Adapter:   adapter,
		Op:        op,
		RequestID: requestID,
		Message:   message,
		Cause:     cause,
	}
}

// AsSynthError extracts a *SynthError from an error chain.
func AsSynthError(err error) (*SynthError, bool) {
	var se *SynthError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the error code of an error, or CodeUnknown for errors that
// carry none.
func CodeOf(err error) ErrorCode {
	if se, ok := AsSynthError(err); ok {
		return se.Code
	}
	return CodeUnknown
}

// Retryable classifies any error by code. Errors without a code are not
// retried.
func Retryable(err error) bool {
	se, ok := AsSynthError(err)
	return ok && se.Retryable()
}

// ConfigError reports registry misuse: duplicate names, invalid adapters,
// unknown configuration values. Configuration errors are never retried and
// propagate synchronously to the caller.
type ConfigError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return "configuration error: " + e.Message + ": " + e.Cause.Error()
	}
	return "configuration error: " + e.Message
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a configuration error.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

// IsConfigError reports whether the error chain contains a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
