package collector

import (
	"errors"
	"fmt"
)

// ErrUnauthorized covers an unknown host, a wrong secret and a source address mismatch
// alike, so a caller cannot tell which check failed.
var ErrUnauthorized = errors.New("unauthorized")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid report: " + e.Reason
	}
	return fmt.Sprintf("invalid report: %s %s", e.Field, e.Reason)
}

// PersistenceError wraps a failed write. The report was not stored.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist report: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
