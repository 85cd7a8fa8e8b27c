package reconcile

import (
	"context"
	"time"
)

// Trigger values recorded on each TaskRun.
const (
	TriggerStartup = "startup"
	TriggerCron    = "cron"
	TriggerManual  = "manual"
)

// SystemActor is the triggered_by value for runs the scheduler starts itself.
const SystemActor = "system"

// Schedule describes how often a task runs automatically. When Cron is set
// it takes precedence over Every; otherwise Every must be a positive
// fixed interval.
type Schedule struct {
	Cron  string
	Every time.Duration
}

// Summary carries the counts a reconcile pass reports back.
type Summary struct {
	Scanned   int `json:"scanned"`
	Corrected int `json:"corrected"`
	Skipped   int `json:"skipped"`
}

// Discrepancy identifies one internal record whose state disagrees with the
// external system of record. Tasks log these while correcting; they are not
// persisted as their own entity.
type Discrepancy struct {
	RecordID string
	Expected string
	Observed string
	Action   string
}

// Task is one pluggable reconciliation unit: it re-checks local records
// against an external system and corrects drift caused by missed events.
//
// Reconcile must be safe to invoke again immediately after a failed or
// partial invocation without double-applying corrections; the scheduler's
// model is at-least-once execution with the next tick as the retry.
// The scheduler imposes no deadline on Reconcile; any timeout has to be
// enforced by the implementation itself.
type Task interface {
	ID() string
	DisplayName() string
	Schedule() Schedule
	Enabled() bool
	Reconcile(ctx context.Context) (Summary, error)
}
