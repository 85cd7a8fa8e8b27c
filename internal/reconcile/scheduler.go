package reconcile

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"reconciliation-service/internal/db"
)

// RunEventPublisher pushes terminal run records to downstream consumers.
// Publishing is best effort: a failed publish is logged and never fails
// the run itself.
type RunEventPublisher interface {
	PublishRunCompleted(ctx context.Context, run *db.TaskRun) error
}

// ExecOutcome is the result of one ExecuteTask call. Joined is true when
// the call attached to an already in-flight run for the same task id
// instead of starting new work.
type ExecOutcome struct {
	Run    *db.TaskRun `json:"run"`
	Joined bool        `json:"joined"`
}

// inflightRun is the shared handle joiners wait on. run and err are only
// read after done is closed.
type inflightRun struct {
	done chan struct{}
	run  *db.TaskRun
	err  error
}

// Scheduler owns the recurring timers and the per-task in-flight guard.
// It is constructed once in the process entry point and passed by reference
// to anything that needs to trigger tasks; Bootstrap guards against a
// second initialization.
type Scheduler struct {
	registry *Registry
	runs     *db.RunStore
	events   RunEventPublisher // may be nil
	log      zerolog.Logger
	cron     gocron.Scheduler

	mu       sync.Mutex
	started  bool
	inflight map[string]*inflightRun

	appContext context.Context
}

func NewScheduler(ctx context.Context, registry *Registry, runs *db.RunStore, events RunEventPublisher, log zerolog.Logger) (*Scheduler, error) {
	c, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{
		registry:   registry,
		runs:       runs,
		events:     events,
		log:        log,
		cron:       c,
		inflight:   make(map[string]*inflightRun),
		appContext: ctx,
	}, nil
}

// Registry exposes the task catalog for bootstrap and the admin surface.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Start arms one recurring timer per enabled registered task. Calling Start
// on an already-started scheduler is a no-op rather than arming duplicate
// timers.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Debug().Msg("scheduler already started, ignoring second Start")
		return nil
	}
	s.cron.Start()
	for _, task := range s.registry.All() {
		if !task.Enabled() {
			s.log.Info().Str("task_id", task.ID()).Msg("task disabled, no timer armed")
			continue
		}
		taskID := task.ID()
		job, err := s.cron.NewJob(
			jobDefinition(task.Schedule()),
			gocron.NewTask(func() { s.runScheduled(taskID) }),
			gocron.WithName(taskID),
			gocron.WithTags("reconcile", "task_id:"+taskID),
		)
		if err != nil {
			return fmt.Errorf("failed to arm timer for task %q: %w", taskID, err)
		}
		event := s.log.Info().Str("task_id", taskID).Str("job_id", job.ID().String())
		if nextRun, errNextRun := job.NextRun(); errNextRun == nil {
			event = event.Time("next_run", nextRun)
		}
		event.Msg("recurring reconciliation timer armed")
	}
	s.started = true
	s.log.Info().Int("jobs", len(s.cron.Jobs())).Msg("scheduler started")
	return nil
}

// Stop cancels all armed timers. It does not abort a run already in
// progress and imposes no deadline on it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if err := s.cron.Shutdown(); err != nil {
		s.log.Error().Err(err).Msg("error shutting down gocron scheduler")
	} else {
		s.log.Info().Msg("scheduler stopped")
	}
}

func jobDefinition(sched Schedule) gocron.JobDefinition {
	if sched.Cron != "" {
		return gocron.CronJob(sched.Cron, false)
	}
	return gocron.DurationJob(sched.Every)
}

// runScheduled is the timer-tick entry point. Failures are contained here:
// they become failed TaskRuns and a log line, never an error thrown up
// through the timer loop, so the timer keeps ticking at the next interval.
func (s *Scheduler) runScheduled(taskID string) {
	outcome, err := s.ExecuteTask(s.appContext, taskID, TriggerCron, SystemActor)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", taskID).Msg("scheduled reconciliation failed")
		return
	}
	if outcome.Joined {
		s.log.Info().Str("task_id", taskID).Uint("run_id", outcome.Run.ID).Msg("tick joined an in-flight run")
	}
}

// ExecuteTask is the single execution primitive behind all three trigger
// paths (startup, cron, manual).
//
// Concurrency contract: if a run for taskID is already in flight this call
// does not start a second one. It joins the existing run, waits for it to
// finish, and returns that run's outcome with Joined set. Reconciliation
// tasks talk to rate-limited external APIs and must never be invoked twice
// concurrently for the same integration.
//
// There is no retry inside a single call; the next scheduled tick (or an
// explicit manual trigger) is the retry mechanism.
func (s *Scheduler) ExecuteTask(ctx context.Context, taskID, trigger, triggeredBy string) (ExecOutcome, error) {
	task, err := s.registry.Get(taskID)
	if err != nil {
		return ExecOutcome{}, err
	}
	switch trigger {
	case TriggerStartup, TriggerCron, TriggerManual:
	default:
		return ExecOutcome{}, fmt.Errorf("unknown trigger %q for task %q", trigger, taskID)
	}

	s.mu.Lock()
	if existing, ok := s.inflight[taskID]; ok {
		s.mu.Unlock()
		select {
		case <-existing.done:
			return ExecOutcome{Run: existing.run, Joined: true}, existing.err
		case <-ctx.Done():
			return ExecOutcome{}, ctx.Err()
		}
	}
	handle := &inflightRun{done: make(chan struct{})}
	s.inflight[taskID] = handle
	s.mu.Unlock()

	handle.run, handle.err = s.runOnce(ctx, task, trigger, triggeredBy)

	s.mu.Lock()
	delete(s.inflight, taskID)
	s.mu.Unlock()
	close(handle.done)

	return ExecOutcome{Run: handle.run}, handle.err
}

// runOnce executes one attempt: persist a running record, invoke Reconcile,
// persist the terminal outcome, publish the completion event.
func (s *Scheduler) runOnce(ctx context.Context, task Task, trigger, triggeredBy string) (*db.TaskRun, error) {
	run := &db.TaskRun{
		TaskID:      task.ID(),
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		Status:      db.StatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	// Store writes go through the application context, not the caller's:
	// a manual caller disconnecting must not lose the run record.
	if err := s.runs.Create(s.appContext, run); err != nil {
		return nil, fmt.Errorf("failed to record task run for %q: %w", task.ID(), err)
	}
	s.log.Info().
		Str("task_id", task.ID()).
		Str("trigger", trigger).
		Str("triggered_by", triggeredBy).
		Uint("run_id", run.ID).
		Msg("reconciliation started")

	summary, reconcileErr := s.invoke(ctx, task)

	finishedAt := time.Now().UTC()
	run.FinishedAt = &finishedAt
	run.Scanned = summary.Scanned
	run.Corrected = summary.Corrected
	run.Skipped = summary.Skipped
	if reconcileErr != nil {
		run.Status = db.StatusFailed
		run.Error = reconcileErr.Error()
	} else {
		run.Status = db.StatusSucceeded
	}
	if err := s.runs.Finish(s.appContext, run); err != nil {
		s.log.Error().Err(err).Uint("run_id", run.ID).Msg("failed to persist terminal run status")
	}
	s.publishCompleted(run)

	if reconcileErr != nil {
		s.log.Error().Err(reconcileErr).Str("task_id", task.ID()).Uint("run_id", run.ID).Msg("reconciliation failed")
		return run, &ExecutionError{TaskID: task.ID(), Err: reconcileErr}
	}
	s.log.Info().
		Str("task_id", task.ID()).
		Uint("run_id", run.ID).
		Int("scanned", summary.Scanned).
		Int("corrected", summary.Corrected).
		Int("skipped", summary.Skipped).
		Msg("reconciliation succeeded")
	return run, nil
}

// invoke calls Reconcile with panic containment: a panicking task becomes a
// failed run, not a dead timer goroutine.
func (s *Scheduler) invoke(ctx context.Context, task Task) (summary Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in reconcile: %v\n%s", r, debug.Stack())
		}
	}()
	return task.Reconcile(ctx)
}

func (s *Scheduler) publishCompleted(run *db.TaskRun) {
	if s.events == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(s.appContext, 10*time.Second)
	defer cancel()
	if err := s.events.PublishRunCompleted(publishCtx, run); err != nil {
		s.log.Error().Err(err).Uint("run_id", run.ID).Str("task_id", run.TaskID).Msg("failed to publish run completion event")
	}
}
