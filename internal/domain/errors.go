package domain

import (
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodePrecondition   = "PRECONDITION_FAILED"
	ErrCodeDatabaseError  = "DATABASE_ERROR"
	ErrCodeReference      = "REFERENCE_ERROR"
	ErrCodeRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalServer = "INTERNAL_SERVER_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeUnavailable    = "SERVICE_UNAVAILABLE"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// PreconditionError is returned when a subject's cases violate the builder's input contract.
type PreconditionError struct {
	SubjectID string `json:"subject_id"`
	Index     int    `json:"index"`
	Reason    string `json:"reason"`
}

// Error implements the error interface
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("subject %s: case at index %d: %s", e.SubjectID, e.Index, e.Reason)
}

// Is lets errors.Is match the unsorted-input sentinel.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrUnsortedInput
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// NewUnsortedError creates a PreconditionError for out-of-order input.
func NewUnsortedError(subjectID string, index int) *PreconditionError {
	return &PreconditionError{
		SubjectID: subjectID,
		Index:     index,
		Reason:    "start date precedes the previous case",
	}
}
