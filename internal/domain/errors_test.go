package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Validation error",
			code:      ErrCodeValidation,
			message:   "code_a is required",
			details:   "field code_a failed on the required tag",
			requestID: "req-123",
		},
		{
			name:      "Unavailable",
			code:      ErrCodeUnavailable,
			message:   "no leave-case source configured",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().UTC()
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}
			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}
			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}
			if err.Timestamp.Before(before) {
				t.Errorf("Expected timestamp after %v, got %v", before, err.Timestamp)
			}
			if want := tt.code + ": " + tt.message; err.Error() != want {
				t.Errorf("Expected %q, got %q", want, err.Error())
			}
		})
	}
}

func TestPreconditionError(t *testing.T) {
	err := NewUnsortedError("subj-1", 3)

	if !errors.Is(err, ErrUnsortedInput) {
		t.Error("Expected errors.Is to match ErrUnsortedInput")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Expected errors.Is not to match ErrNotFound")
	}

	wrapped := fmt.Errorf("build failed: %w", err)
	var pe *PreconditionError
	if !errors.As(wrapped, &pe) {
		t.Fatal("Expected errors.As to find the PreconditionError")
	}
	if pe.SubjectID != "subj-1" || pe.Index != 3 {
		t.Errorf("Unexpected fields: %+v", pe)
	}
	if want := "subject subj-1: case at index 3: start date precedes the previous case"; pe.Error() != want {
		t.Errorf("Expected %q, got %q", want, pe.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := NewValidationError("days", "must be positive", -4)

	if err.Field != "days" || err.Value != -4 {
		t.Errorf("Unexpected fields: %+v", err)
	}
	if want := "validation error for field 'days': must be positive"; err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}
