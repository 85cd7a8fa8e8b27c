package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"reconciliation-service/internal/db"
)

func waitForRuns(t *testing.T, store *db.RunStore, taskID string, want int) []db.TaskRun {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		runs, err := store.Recent(context.Background(), taskID, 10)
		assert.NoError(t, err)
		if len(runs) >= want {
			return runs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d run(s) of task %q", want, taskID)
	return nil
}

func TestBootstrap_StartupPassRunsEachTaskOnce(t *testing.T) {
	task := newFakeTask("email-sync")
	task.schedule = Schedule{Every: time.Hour} // no tick during the test
	store, teardown := setupRunStore(t)
	defer teardown()

	registry := NewRegistry()
	scheduler, err := NewScheduler(context.Background(), registry, store, nil, zerolog.Nop())
	assert.NoError(t, err)

	bootstrap := &Bootstrap{}
	got, err := bootstrap.Init(context.Background(), scheduler, []Task{task}, zerolog.Nop())
	assert.NoError(t, err)
	assert.Same(t, scheduler, got)
	defer scheduler.Stop()

	runs := waitForRuns(t, store, "email-sync", 1)
	assert.Equal(t, TriggerStartup, runs[0].Trigger)
	assert.Equal(t, SystemActor, runs[0].TriggeredBy)

	// Settle and confirm the startup pass ran exactly once.
	time.Sleep(100 * time.Millisecond)
	runs, err = store.Recent(context.Background(), "email-sync", 10)
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestBootstrap_InitTwiceReturnsSameScheduler(t *testing.T) {
	task := newFakeTask("email-sync")
	task.schedule = Schedule{Every: time.Hour}
	store, teardown := setupRunStore(t)
	defer teardown()

	registry := NewRegistry()
	scheduler, err := NewScheduler(context.Background(), registry, store, nil, zerolog.Nop())
	assert.NoError(t, err)

	bootstrap := &Bootstrap{}
	first, err := bootstrap.Init(context.Background(), scheduler, []Task{task}, zerolog.Nop())
	assert.NoError(t, err)
	defer scheduler.Stop()

	// A development reload re-invokes the bootstrap path; nothing may be
	// registered, started or executed a second time.
	second, err := bootstrap.Init(context.Background(), scheduler, []Task{newFakeTask("email-sync")}, zerolog.Nop())
	assert.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, registry.All(), 1)

	waitForRuns(t, store, "email-sync", 1)
	time.Sleep(100 * time.Millisecond)
	runs, err := store.Recent(context.Background(), "email-sync", 10)
	assert.NoError(t, err)
	assert.Len(t, runs, 1)
	assert.Equal(t, int32(1), task.calls.Load())
}

func TestBootstrap_DuplicateRegistrationSkippedNotFatal(t *testing.T) {
	original := newFakeTask("email-sync")
	original.schedule = Schedule{Every: time.Hour}
	impostor := newFakeTask("email-sync")
	impostor.name = "Impostor"
	impostor.schedule = Schedule{Every: time.Hour}
	other := newFakeTask("inventory-sync")
	other.schedule = Schedule{Every: time.Hour}

	store, teardown := setupRunStore(t)
	defer teardown()

	registry := NewRegistry()
	scheduler, err := NewScheduler(context.Background(), registry, store, nil, zerolog.Nop())
	assert.NoError(t, err)

	bootstrap := &Bootstrap{}
	_, err = bootstrap.Init(context.Background(), scheduler, []Task{original, impostor, other}, zerolog.Nop())
	assert.NoError(t, err)
	defer scheduler.Stop()

	// The collision skips the impostor but the rest of bootstrap proceeds.
	assert.Len(t, registry.All(), 2)
	got, err := registry.Get("email-sync")
	assert.NoError(t, err)
	assert.Equal(t, "Fake email-sync", got.DisplayName())

	waitForRuns(t, store, "inventory-sync", 1)
	assert.Equal(t, int32(0), impostor.calls.Load())
}

func TestBootstrap_StartupPassFollowsRegistrationOrder(t *testing.T) {
	store, teardown := setupRunStore(t)
	defer teardown()

	orderCh := make(chan string, 3)
	var taskList []Task
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		id := id
		task := newFakeTask(id)
		task.schedule = Schedule{Every: time.Hour}
		task.reconcile = func(ctx context.Context) (Summary, error) {
			orderCh <- id
			return Summary{}, nil
		}
		taskList = append(taskList, task)
	}

	registry := NewRegistry()
	scheduler, err := NewScheduler(context.Background(), registry, store, nil, zerolog.Nop())
	assert.NoError(t, err)

	bootstrap := &Bootstrap{}
	_, err = bootstrap.Init(context.Background(), scheduler, taskList, zerolog.Nop())
	assert.NoError(t, err)
	defer scheduler.Stop()

	var got []string
	for i := 0; i < 3; i++ {
		select {
		case id := <-orderCh:
			got = append(got, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for startup pass (got %v)", got)
		}
	}
	assert.Equal(t, []string{"charlie", "alpha", "bravo"}, got)
}
