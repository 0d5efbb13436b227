package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleState indicates a concurrent modification was detected on a
	// workflow transition. Safe to retry after re-fetching current state.
	ErrStaleState = errors.New("record modified concurrently, re-fetch and retry")
)

// ValidationError reports malformed or policy-violating input. It names the
// offending field so callers can build actionable messages. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidation constructs a ValidationError for the given field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
