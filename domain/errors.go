package domain

import (
	"errors"
	"strings"
)

// Store-boundary failures. They are told apart only for logging; callers
// treat all of them the same way.
var (
	ErrFetch   = errors.New("failed to fetch tasks")
	ErrCreate  = errors.New("failed to create task")
	ErrUpdate  = errors.New("failed to update task")
	ErrDelete  = errors.New("failed to delete task")
	ErrReorder = errors.New("failed to reorder task")
)

var (
	// ErrNotFound indicates the addressed record does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrConflict indicates that the store rejected a write because a newer
	// version of the record is already persisted.
	ErrConflict = errors.New("concurrency conflict")
)

// StoreError ties a store-boundary failure kind to its cause.
type StoreError struct {
	Kind   error
	TaskID string
	Err    error
}

// NewStoreError wraps err as a failure of the given kind. A nil err yields nil.
func NewStoreError(kind error, taskID string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Kind: kind, TaskID: taskID, Err: err}
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.TaskID != "" {
		b.WriteString(" ")
		b.WriteString(e.TaskID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *StoreError) Unwrap() []error { return []error{e.Kind, e.Err} }

// ValidationError reports bad input caught before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
