package sessions

import (
	"errors"
	"fmt"
)

// ErrNotFound covers a session or image that is absent or expired. Normal
// absence is a structured negative result, never a panic.
var ErrNotFound = errors.New("not found")

// ErrValidation is the sentinel behind every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError carries a human-readable reason for a rejected request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
