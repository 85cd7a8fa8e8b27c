package reconcile

import "fmt"

// DuplicateTaskError reports a second registration under an id that is
// already taken. The original registration stays active.
type DuplicateTaskError struct {
	TaskID string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q is already registered", e.TaskID)
}

// NotFoundError reports a lookup or execution request for an unknown task id.
type NotFoundError struct {
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no task registered for id: %s", e.TaskID)
}

// ExecutionError wraps whatever Reconcile returned (or panicked with),
// tagged with the task id. Cron and startup paths log it and move on;
// manual callers get it back directly.
type ExecutionError struct {
	TaskID string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %q execution failed: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
