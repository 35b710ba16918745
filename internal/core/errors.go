package core

import (
	"errors"
)

// Error kinds surfaced by the core. Callers match them with errors.Is.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrDuplicateID      = errors.New("duplicate id")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrConflict         = errors.New("conflict")
)

// ValidationError carries the field-level problems behind an ErrValidation.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// NewValidationError wraps a plain message as a validation failure.
func NewValidationError(msg string) error {
	return &ValidationError{Err: errors.New(msg)}
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	return &ValidationError{Err: err}
}
