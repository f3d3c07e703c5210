// Package errors provides standardized error handling for the collection gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Collection platform
	ErrCodeUpstreamList   ErrorCode = "UPSTREAM_LIST_FAILED"
	ErrCodeTaskNotFound   ErrorCode = "TASK_NOT_FOUND"
	ErrCodeDispatchFailed ErrorCode = "DISPATCH_FAILED"

	// Coordinator
	ErrCodeQueryTimeout ErrorCode = "QUERY_TIMEOUT"
	ErrCodeCacheFailed  ErrorCode = "CACHE_OPERATION_FAILED"

	// Request validation
	ErrCodeInvalidQueryParams    ErrorCode = "INVALID_QUERY_PARAMS"
	ErrCodeInvalidWebhookPayload ErrorCode = "INVALID_WEBHOOK_PAYLOAD"

	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches another StandardError by code, so errors.Is(err, &StandardError{Code: X}) works.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// ==========================
// 2. Error Constructors
// ==========================

// NewUpstreamListError reports a failed or malformed managed-task list call.
func NewUpstreamListError(details string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeUpstreamList,
		Message:   "Failed to list managed tasks on the collection platform",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewTaskNotFoundError carries the names the platform did return for diagnosis.
func NewTaskNotFoundError(taskName string, available []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskNotFound,
		Message:   fmt.Sprintf("Managed task %q not found on the collection platform", taskName),
		Details:   fmt.Sprintf("available tasks: [%s]", strings.Join(available, ", ")),
		Retryable: false,
		Metadata: map[string]interface{}{
			"taskName":       taskName,
			"availableTasks": available,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewDispatchError reports a failed execute call or a response without an execution id.
func NewDispatchError(details string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDispatchFailed,
		Message:   "Failed to dispatch collection request",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

// NewQueryTimeoutError is returned when no webhook result arrived in time.
func NewQueryTimeoutError(timeout time.Duration, executionID string) *StandardError {
	return &StandardError{
		Code: ErrCodeQueryTimeout,
		Message: fmt.Sprintf(
			"query timed out after %s; the external platform did not deliver a result via webhook in time",
			timeout,
		),
		Details:   fmt.Sprintf("executionId: %s", executionID),
		Retryable: true,
		Metadata:  map[string]interface{}{"executionId": executionID},
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheError wraps a cache adapter failure; the cause stays reachable through errors.Is.
func NewCacheError(op, key string, cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheFailed,
		Message:   fmt.Sprintf("Cache %s failed", op),
		Details:   fmt.Sprintf("key: %s, error: %v", key, cause),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewInvalidQueryParamsError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQueryParams,
		Message:   "Invalid query parameters",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewInvalidWebhookPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidWebhookPayload,
		Message:   "Invalid webhook payload",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. HTTP Mapping
// ==========================

// HTTPStatusMapping maps internal error codes to response statuses.
var HTTPStatusMapping = map[ErrorCode]int{
	ErrCodeUpstreamList:          http.StatusBadGateway,
	ErrCodeTaskNotFound:          http.StatusBadGateway,
	ErrCodeDispatchFailed:        http.StatusBadGateway,
	ErrCodeQueryTimeout:          http.StatusGatewayTimeout,
	ErrCodeCacheFailed:           http.StatusServiceUnavailable,
	ErrCodeInvalidQueryParams:    http.StatusBadRequest,
	ErrCodeInvalidWebhookPayload: http.StatusBadRequest,
}

// HTTPStatus returns the response status for a code, 500 when unmapped.
func HTTPStatus(code ErrorCode) int {
	if status, ok := HTTPStatusMapping[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ==========================
// 4. Utility Functions
// ==========================

// AsStandardError normalizes any error into a StandardError.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// HasCode reports whether err is (or wraps) a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "UPSTREAM") || strings.Contains(codeStr, "TASK") || strings.Contains(codeStr, "DISPATCH"):
		return "PLATFORM"
	case strings.Contains(codeStr, "TIMEOUT"):
		return "TIMEOUT"
	case strings.Contains(codeStr, "CACHE"):
		return "CACHE"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
