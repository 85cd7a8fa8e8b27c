package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Bootstrap wires tasks into a scheduler exactly once per process. If the
// hosting process re-invokes the entry path (a development reload), the
// sync.Once guard makes the second Init return the scheduler from the first
// call without re-registering tasks, re-arming timers, or repeating the
// startup pass.
type Bootstrap struct {
	once      sync.Once
	scheduler *Scheduler
	err       error
}

// Init registers every task, starts the scheduler and launches the startup
// pass. A registration collision is logged and that task skipped; the
// process never fails to start because one registration collided.
//
// The startup pass runs detached from Init: one goroutine executes the
// tasks in registration order with trigger=startup, triggeredBy=system,
// logging failures per task and continuing with the rest.
func (b *Bootstrap) Init(ctx context.Context, scheduler *Scheduler, tasks []Task, log zerolog.Logger) (*Scheduler, error) {
	b.once.Do(func() {
		for _, task := range tasks {
			if err := scheduler.Registry().Register(task); err != nil {
				var dup *DuplicateTaskError
				if errors.As(err, &dup) {
					log.Error().Err(err).Str("task_id", task.ID()).Msg("duplicate task registration skipped")
				} else {
					log.Error().Err(err).Str("task_id", task.ID()).Msg("task registration rejected, skipping")
				}
				continue
			}
			log.Info().Str("task_id", task.ID()).Str("name", task.DisplayName()).Msg("reconciliation task registered")
		}

		if err := scheduler.Start(); err != nil {
			b.err = err
			return
		}
		b.scheduler = scheduler

		registered := scheduler.Registry().All()
		go func() {
			for _, task := range registered {
				if _, err := scheduler.ExecuteTask(ctx, task.ID(), TriggerStartup, SystemActor); err != nil {
					log.Error().Err(err).Str("task_id", task.ID()).Msg("startup reconciliation failed")
				}
			}
		}()
	})
	return b.scheduler, b.err
}
