package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Pipeline errors
	ErrCodeTransientIO        ErrorCode = "TRANSIENT_IO"
	ErrCodeCorruptInput       ErrorCode = "CORRUPT_INPUT"
	ErrCodeEngineUnavailable  ErrorCode = "ENGINE_UNAVAILABLE"
	ErrCodeUnrecognizedOutput ErrorCode = "UNRECOGNIZED_OUTPUT"
	ErrCodeQueueFull          ErrorCode = "QUEUE_FULL"
	ErrCodeCallbackFailure    ErrorCode = "CALLBACK_FAILURE"
	ErrCodeConfigInconsistent ErrorCode = "CONFIG_INCONSISTENT"

	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// General errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// InspectError represents a structured error with context
type InspectError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *InspectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *InspectError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *InspectError) WithDetail(key string, value interface{}) *InspectError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *InspectError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new InspectError
func New(code ErrorCode, message string) *InspectError {
	return &InspectError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an InspectError
func Wrap(err error, code ErrorCode, message string) *InspectError {
	return &InspectError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific InspectError code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	inspectErr, ok := err.(*InspectError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	if inspectErr.Code == code {
		return true
	}
	return Is(inspectErr.Cause, code)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	if inspectErr, ok := err.(*InspectError); ok {
		return inspectErr.Code
	}

	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return GetCode(unwrapper.Unwrap())
	}

	return ErrCodeInternal
}
