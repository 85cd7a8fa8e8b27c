package events

import "time"

// RunCompletedPayload is published to Kafka when a reconciliation run
// reaches a terminal status. Downstream audit consumers live outside this
// service.
type RunCompletedPayload struct {
	RunID       uint       `json:"run_id"`
	TaskID      string     `json:"task_id"`
	Trigger     string     `json:"trigger"`
	TriggeredBy string     `json:"triggered_by"`
	Status      string     `json:"status"`
	Scanned     int        `json:"scanned"`
	Corrected   int        `json:"corrected"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
