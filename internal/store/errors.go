package store

import (
	"errors"
	"fmt"
)

// Errors returned by repositories and the services built on them.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflicting update")
)

// ValidationError reports caller input that violates a constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid returns a *ValidationError for field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// OpError is an opaque failure from the persistence layer.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *OpError) Unwrap() error { return e.Err }

// WrapOp wraps err as an *OpError unless it is nil or already one of the
// classified errors above.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.As(err, &ve) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &OpError{Op: op, Err: err}
}

// NotFound returns ErrNotFound annotated with the missing entity.
func NotFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, ErrNotFound)
}
