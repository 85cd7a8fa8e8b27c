package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"

	"reconciliation-service/internal/db"
	"reconciliation-service/internal/reconcile"
)

// AdminHandler is the thin administrative surface over the scheduler: it
// triggers manual runs and exposes task definitions and run history. All
// semantics live in the scheduler and the run store.
type AdminHandler struct {
	Scheduler *reconcile.Scheduler
	Runs      *db.RunStore
}

func NewAdminHandler(scheduler *reconcile.Scheduler, runs *db.RunStore) *AdminHandler {
	return &AdminHandler{Scheduler: scheduler, Runs: runs}
}

type TriggerRunRequest struct {
	TriggeredBy string `json:"triggered_by" validate:"required"`
}

type TaskView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Enabled     bool   `json:"enabled"`
	Cron        string `json:"cron,omitempty"`
	Every       string `json:"every,omitempty"`
}

// TriggerRun executes a task on behalf of an administrator. The call waits
// for the run (or the in-flight run it joined) to finish, so a failure is
// surfaced directly to the triggering user.
func (h *AdminHandler) TriggerRun(ctx context.Context, c *app.RequestContext) {
	taskID := c.Param("id")
	var req TriggerRunRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}

	outcome, err := h.Scheduler.ExecuteTask(ctx, taskID, reconcile.TriggerManual, req.TriggeredBy)
	if err != nil {
		var notFound *reconcile.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		var execErr *reconcile.ExecutionError
		if errors.As(err, &execErr) {
			// The run record is returned alongside the error so the admin
			// view can show what the failed attempt did before it stopped.
			c.JSON(http.StatusInternalServerError, utils.H{
				"error":  execErr.Error(),
				"run":    outcome.Run,
				"joined": outcome.Joined,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"run": outcome.Run, "joined": outcome.Joined})
}

// GetTasks lists the registered task definitions in registration order.
func (h *AdminHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	tasks := h.Scheduler.Registry().All()
	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		sched := task.Schedule()
		view := TaskView{
			ID:          task.ID(),
			DisplayName: task.DisplayName(),
			Enabled:     task.Enabled(),
			Cron:        sched.Cron,
		}
		if sched.Cron == "" && sched.Every > 0 {
			view.Every = sched.Every.String()
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, views)
}

// GetRuns returns run history for audit, newest first.
func (h *AdminHandler) GetRuns(ctx context.Context, c *app.RequestContext) {
	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid limit parameter"})
			return
		}
		limit = parsed
	}
	queryCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	runs, err := h.Runs.Recent(queryCtx, c.Query("task_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "Failed to fetch runs: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}
