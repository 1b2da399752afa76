package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("save question: %w", Invalid("content.options", "at least two options required"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation kind, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError in chain")
	}
	if ve.Field != "content.options" {
		t.Fatalf("expected field content.options, got %q", ve.Field)
	}
}

func TestKind(t *testing.T) {
	errClosed := fmt.Errorf("%w: exam is closed", ErrInvalidState)
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "wrapped state", err: fmt.Errorf("submit: %w", errClosed), want: ErrInvalidState},
		{name: "validation", err: Invalid("x", "bad"), want: ErrValidation},
		{name: "not found", err: ErrNotFound, want: ErrNotFound},
		{name: "infra", err: errors.New("connection reset"), want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
