package domain

import "fmt"

// SessionConflictError is returned when a compare-and-set session update lost
// the race to a concurrent message from the same user.
type SessionConflictError struct {
	UserKey string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("concurrent session update for %s", e.UserKey)
}

// TaskNotFoundError is returned when a task ID has no stored record.
type TaskNotFoundError struct {
	TaskID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task not found: %s", e.TaskID)
}

// UnknownKindError is returned when no handler is registered for a task kind.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no handler registered for task kind %q", e.Kind)
}

// InvalidPayloadError is returned when a task payload does not match the
// shape its kind requires. It is a permanent failure, not a crash.
type InvalidPayloadError struct {
	Kind   TaskKind
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Reason)
}

// TaskFailedError is a permanent domain failure whose Detail is safe to show
// to the user ("The image you provided is not a valid invoice", ...).
type TaskFailedError struct {
	Detail string
}

func (e *TaskFailedError) Error() string { return e.Detail }
