package domain

import (
	"errors"
	"fmt"
)

var (
	ErrStaleTransition = errors.New("stale transition")
	ErrValidation      = errors.New("validation failed")
)

// StaleTransitionError reports an attempt to overwrite a finalized field.
type StaleTransitionError struct {
	Field string
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("stale transition: %s already set to a different value", e.Field)
}

func (e *StaleTransitionError) Is(target error) bool { return target == ErrStaleTransition }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
