package config

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRequiredField indicates a required setting is missing
	ErrMissingRequiredField = errors.New("missing required setting")

	// ErrInvalidValue indicates a setting has an invalid value
	ErrInvalidValue = errors.New("invalid setting value")

	// ErrUnknownSetting indicates a runtime patch named a setting that does not exist
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrImmutableSetting indicates a runtime patch tried to change a boot-only setting
	ErrImmutableSetting = errors.New("setting cannot be changed at runtime")
)

// ValidationError wraps a setting validation failure with its key.
type ValidationError struct {
	Key string // Environment key of the offending setting
	Err error  // Underlying error
}

// Error returns formatted error message
func (e *ValidationError) Error() string {
	return fmt.Sprintf("setting %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new validation error
func NewValidationError(key string, err error) *ValidationError {
	return &ValidationError{Key: key, Err: err}
}
