// Package apperr defines the error kinds shared by the domain services.
// Domain errors wrap one of the kind sentinels so callers can branch on
// either the specific error or its kind with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnavailable  = errors.New("unavailable")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Kind reports which sentinel err belongs to, or nil for infrastructure errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrInvalidState, ErrNotFound, ErrConflict, ErrForbidden, ErrUnavailable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
