package services

import (
	"errors"
	"fmt"
)

// ValidationError marks malformed or over-limit request input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PreconditionError is a request that parsed fine but cannot proceed in
// the current state. Code is a stable enum string for clients.
type PreconditionError struct {
	Code    string
	Message string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(code, message string) error {
	return &PreconditionError{Code: code, Message: message}
}

// AsPreconditionError unwraps err into a precondition error when it is one.
func AsPreconditionError(err error) (*PreconditionError, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
