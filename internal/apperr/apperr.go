// Package apperr defines the error taxonomy surfaced across service
// boundaries. Storage degradation and heuristic stalls are deliberately not
// errors here: they are recovered locally and only logged.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("not found")

// ErrAccessDenied is returned on ownership mismatch. It carries no detail so
// callers cannot distinguish a foreign record from a missing one beyond the
// generic denial.
var ErrAccessDenied = errors.New("access denied")

// ValidationError rejects bad input before any side effect.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UpstreamError wraps a failed LLM or sandbox call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// TimeoutError marks a job that hit its hard ceiling without completing.
type TimeoutError struct {
	After string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s", e.After)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
