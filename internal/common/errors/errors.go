// Package errors provides the standardized error types of the pipeline.
//
// Three categories exist. Validation errors reject bad input synchronously and
// are never retried. Dispatch errors mean the queue was unavailable; the caller
// is expected to retry the original submission. Dependency errors cover every
// external call made during worker processing and are converted into degraded
// results at the call site, except when they are the final unrecoverable
// condition of an invocation.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidJSON      ErrorCode = "INVALID_JSON"

	ErrCodeDispatchFailed ErrorCode = "DISPATCH_FAILED"

	ErrCodeSearchFailed       ErrorCode = "SEARCH_FAILED"
	ErrCodeModelCallFailed    ErrorCode = "MODEL_CALL_FAILED"
	ErrCodeModelCallTimeout   ErrorCode = "MODEL_CALL_TIMEOUT"
	ErrCodeGraphCallFailed    ErrorCode = "GRAPH_CALL_FAILED"
	ErrCodeSinkWriteFailed    ErrorCode = "SINK_WRITE_FAILED"
	ErrCodeCallbackFailed     ErrorCode = "CALLBACK_DELIVERY_FAILED"
	ErrCodeEnvelopeUnparsable ErrorCode = "ENVELOPE_UNPARSABLE"
)

// StandardError is the structured application error carried across package
// boundaries.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// HTTPStatus maps an error to the status the ingest API responds with.
func HTTPStatus(err error) int {
	var stdErr *StandardError
	if !stderrors.As(err, &stdErr) {
		return http.StatusInternalServerError
	}
	switch stdErr.Code {
	case ErrCodeValidationFailed, ErrCodeInvalidJSON:
		return http.StatusBadRequest
	case ErrCodeDispatchFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var stdErr *StandardError
	if !stderrors.As(err, &stdErr) {
		return false
	}
	return stdErr.Code == ErrCodeValidationFailed || stdErr.Code == ErrCodeInvalidJSON
}

// NewValidationError creates a non-retryable bad-input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidJSONError creates a non-retryable malformed-body error.
func NewInvalidJSONError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidJSON,
		Message:   "Invalid JSON format",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDispatchError creates a retryable queue-unavailable error.
func NewDispatchError(queue string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchFailed,
		Message:   "Failed to enqueue message",
		Details:   fmt.Sprintf("queue: %s, error: %s", queue, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSearchFailedError creates a retryable context-retrieval error.
func NewSearchFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSearchFailed,
		Message:   "Context retrieval query failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelCallFailedError creates a retryable model completion error.
func NewModelCallFailedError(model string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelCallFailed,
		Message:   "Model completion call failed",
		Details:   fmt.Sprintf("model: %s, error: %s", model, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelCallTimeoutError creates a retryable model timeout error.
func NewModelCallTimeoutError(model string) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelCallTimeout,
		Message:   "Model completion call timed out",
		Details:   fmt.Sprintf("model: %s", model),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGraphCallFailedError creates a retryable provisioning-step error.
func NewGraphCallFailedError(step string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGraphCallFailed,
		Message:   "Microsoft Graph call failed",
		Details:   fmt.Sprintf("step: %s, error: %s", step, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSinkWriteFailedError creates a logged-only sink error.
func NewSinkWriteFailedError(destination string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSinkWriteFailed,
		Message:   "Result sink write failed",
		Details:   fmt.Sprintf("destination: %s, error: %s", destination, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCallbackFailedError creates a logged-only delivery error.
func NewCallbackFailedError(url string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCallbackFailed,
		Message:   "Callback delivery failed",
		Details:   fmt.Sprintf("url: %s, error: %s", url, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEnvelopeUnparsableError marks a poison message that can never be
// processed. Not retryable: redelivery would fail identically.
func NewEnvelopeUnparsableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEnvelopeUnparsable,
		Message:   "Queue envelope could not be decoded",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
