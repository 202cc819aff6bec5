package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeConfig        = "CONFIG_ERROR"
	ErrCodeRepoRoot      = "REPO_ROOT_ERROR"
	ErrCodeSession       = "SESSION_ERROR"
	ErrCodeResolution    = "RESOLUTION_ERROR"
	ErrCodeMappingSource = "MAPPING_SOURCE_ERROR"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeMCP           = "MCP_ERROR"
	ErrCodeIO            = "IO_ERROR"
	ErrCodeTimeout       = "TIMEOUT_ERROR"
)

// SyncError is the structured error type for all envsync operations.
// Resolution errors must never carry raw resolver output in Message or
// Details; only the reference identifier and a generic cause are allowed.
type SyncError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Key     string         `json:"key,omitempty"`
	Cause   error          `json:"-"`
}

func (e *SyncError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Key, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// NewError creates a new SyncError.
func NewError(code, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// NewErrorf creates a new SyncError with a formatted message.
func NewErrorf(code, format string, args ...any) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithKey attaches the variable name the error relates to.
func (e *SyncError) WithKey(key string) *SyncError {
	e.Key = key
	return e
}

// WithCause attaches an underlying cause.
func (e *SyncError) WithCause(err error) *SyncError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *SyncError) WithDetails(details map[string]any) *SyncError {
	e.Details = details
	return e
}

// HasCode reports whether err (or anything it wraps) is a SyncError with the
// given code.
func HasCode(err error, code string) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
