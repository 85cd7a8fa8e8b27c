package reconcile

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// cronParser validates cron expressions at registration time. Standard
// 5-field syntax plus descriptors like @hourly; this matches what gocron
// accepts when the timer is armed later.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Registry is the process-wide catalog of reconciliation tasks.
// Registration order is preserved: the startup pass executes tasks in the
// order they were registered.
//
// Not safe for concurrent use. By contract all Register calls happen during
// single-goroutine bootstrap, before the scheduler starts.
type Registry struct {
	order []Task
	byID  map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Task)}
}

// Register adds a task under its id. A colliding id is rejected with
// DuplicateTaskError and the existing registration is unaffected. The
// schedule is validated here so a bad cron expression surfaces at bootstrap
// instead of when the timer is armed.
func (r *Registry) Register(task Task) error {
	id := task.ID()
	if id == "" {
		return fmt.Errorf("task id must not be empty")
	}
	if _, exists := r.byID[id]; exists {
		return &DuplicateTaskError{TaskID: id}
	}
	if err := validateSchedule(task.Schedule()); err != nil {
		return fmt.Errorf("task %q: %w", id, err)
	}
	r.byID[id] = task
	r.order = append(r.order, task)
	return nil
}

// Get returns the task registered under id, or NotFoundError.
func (r *Registry) Get(id string) (Task, error) {
	task, exists := r.byID[id]
	if !exists {
		return nil, &NotFoundError{TaskID: id}
	}
	return task, nil
}

// All returns the registered tasks in registration order.
func (r *Registry) All() []Task {
	out := make([]Task, len(r.order))
	copy(out, r.order)
	return out
}

func validateSchedule(s Schedule) error {
	if s.Cron != "" {
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.Cron, err)
		}
		return nil
	}
	if s.Every <= 0 {
		return fmt.Errorf("schedule needs a cron expression or a positive interval")
	}
	return nil
}
