package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for state-machine preconditions and lookups. Public
// operations wrap these with context via %w so callers can test with
// errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrAllelesIncomplete  = errors.New("alleles not yet entered")
	ErrAlreadyConfirmed   = errors.New("already confirmed by this person")
	ErrAlreadyFinalized   = errors.New("already finalized")
	ErrFullyConfirmed     = errors.New("already fully confirmed")
	ErrReasonRequired     = errors.New("rejection reason is required")
	ErrUnknownAssayType   = errors.New("unknown assay type")
	ErrUnmatchedRule      = errors.New("no rule matched; default applied")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrRateLimited        = errors.New("too many login attempts")
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

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// FailedOutcome builds the Outcome for a validation or precondition
// failure. No state mutation has occurred when this is returned.
func FailedOutcome(err error) Outcome {
	return Outcome{Success: false, Message: err.Error()}
}
