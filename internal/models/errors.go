package models

import (
	"errors"
	"fmt"
)

// Error kinds returned by index, search, and storage operations. Use errors.Is to test.
var (
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrPersistence       = errors.New("persistence failure")
	ErrCorruptSnapshot   = errors.New("corrupt snapshot")
)

// Error is an operation error carrying the operation name and the document it targeted.
type Error struct {
	Op         string
	DocumentID string
	Err        error
}

func (e *Error) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s [document=%s]: %v", e.Op, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err for op on documentID.
func NewError(op, documentID string, err error) *Error {
	return &Error{Op: op, DocumentID: documentID, Err: err}
}

// Errorf returns an error wrapping kind with a formatted detail message.
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// KindOf returns the wire name of the error kind wrapped by err.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, ErrCorruptSnapshot):
		return "corrupt_snapshot"
	default:
		return "internal"
	}
}
