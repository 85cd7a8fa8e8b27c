package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// TaskRun statuses. Running is the only non-terminal status; a run reaches
// succeeded or failed exactly once and is never mutated after that.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrRunNotRunning is returned by Finish when the targeted run is not in
// running status anymore (already finalized, or never persisted).
var ErrRunNotRunning = errors.New("task run is not in running status")

// TaskRun records one execution attempt of a reconciliation task.
// Rows are retained for audit and never deleted by this service.
type TaskRun struct {
	gorm.Model
	TaskID      string     `json:"task_id" gorm:"index"`
	Trigger     string     `json:"trigger" gorm:"index"` // startup, cron or manual
	TriggeredBy string     `json:"triggered_by"`
	Status      string     `json:"status" gorm:"index"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Scanned     int        `json:"scanned"`
	Corrected   int        `json:"corrected"`
	Skipped     int        `json:"skipped"`
	Error       string     `json:"error,omitempty" gorm:"type:text"`
}

// RunStore persists TaskRun records through GORM.
type RunStore struct {
	DB *gorm.DB
}

func NewRunStore(gormDB *gorm.DB) *RunStore {
	return &RunStore{DB: gormDB}
}

// Create persists a fresh run. Callers write the record with StatusRunning
// before invoking the task so a crash mid-run still leaves a visible row.
func (s *RunStore) Create(ctx context.Context, run *TaskRun) error {
	return s.DB.WithContext(ctx).Create(run).Error
}

// Finish moves a running record to its terminal status. The conditional
// update on status makes the running -> terminal transition happen at most
// once; a second Finish on the same run reports ErrRunNotRunning and leaves
// the row untouched.
func (s *RunStore) Finish(ctx context.Context, run *TaskRun) error {
	result := s.DB.WithContext(ctx).Model(&TaskRun{}).
		Where("id = ? AND status = ?", run.ID, StatusRunning).
		Updates(map[string]interface{}{
			"status":      run.Status,
			"finished_at": run.FinishedAt,
			"scanned":     run.Scanned,
			"corrected":   run.Corrected,
			"skipped":     run.Skipped,
			"error":       run.Error,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRunNotRunning
	}
	return nil
}

// Recent returns run history newest first, optionally filtered by task id.
func (s *RunStore) Recent(ctx context.Context, taskID string, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.DB.WithContext(ctx).Model(&TaskRun{}).Order("id DESC").Limit(limit)
	if taskID != "" {
		query = query.Where("task_id = ?", taskID)
	}
	var runs []TaskRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// Running lists runs still marked running. After a crash these rows show
// which attempts were cut short rather than being silently lost.
func (s *RunStore) Running(ctx context.Context) ([]TaskRun, error) {
	var runs []TaskRun
	err := s.DB.WithContext(ctx).Where("status = ?", StatusRunning).Order("id").Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}
