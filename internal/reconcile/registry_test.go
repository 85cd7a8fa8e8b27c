package reconcile

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeTask is shared by the registry, scheduler and bootstrap tests.
type fakeTask struct {
	id        string
	name      string
	schedule  Schedule
	enabled   bool
	calls     atomic.Int32
	reconcile func(ctx context.Context) (Summary, error)
}

func (f *fakeTask) ID() string          { return f.id }
func (f *fakeTask) DisplayName() string { return f.name }
func (f *fakeTask) Schedule() Schedule  { return f.schedule }
func (f *fakeTask) Enabled() bool       { return f.enabled }

func (f *fakeTask) Reconcile(ctx context.Context) (Summary, error) {
	f.calls.Add(1)
	if f.reconcile != nil {
		return f.reconcile(ctx)
	}
	return Summary{Scanned: 1}, nil
}

func newFakeTask(id string) *fakeTask {
	return &fakeTask{
		id:       id,
		name:     "Fake " + id,
		schedule: Schedule{Every: time.Hour},
		enabled:  true,
	}
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()
	task := newFakeTask("email-sync")

	assert.NoError(t, registry.Register(task))

	got, err := registry.Get("email-sync")
	assert.NoError(t, err)
	assert.Same(t, task, got.(*fakeTask))
}

func TestRegistry_DuplicateKeepsOriginal(t *testing.T) {
	registry := NewRegistry()
	first := newFakeTask("email-sync")
	second := newFakeTask("email-sync")
	second.name = "Impostor"

	assert.NoError(t, registry.Register(first))

	err := registry.Register(second)
	assert.Error(t, err)
	var dup *DuplicateTaskError
	assert.ErrorAs(t, err, &dup)
	assert.Equal(t, "email-sync", dup.TaskID)

	got, err := registry.Get("email-sync")
	assert.NoError(t, err)
	assert.Equal(t, "Fake email-sync", got.DisplayName())
	assert.Len(t, registry.All(), 1)
}

func TestRegistry_GetUnknown(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Get("no-such-task")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.Equal(t, "no-such-task", notFound.TaskID)
}

func TestRegistry_AllPreservesRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	ids := []string{"charlie", "alpha", "bravo"}
	for _, id := range ids {
		assert.NoError(t, registry.Register(newFakeTask(id)))
	}

	all := registry.All()
	assert.Len(t, all, 3)
	for i, task := range all {
		assert.Equal(t, ids[i], task.ID())
	}
}

func TestRegistry_ScheduleValidation(t *testing.T) {
	testCases := []struct {
		name        string
		schedule    Schedule
		expectError bool
	}{
		{name: "fixed interval", schedule: Schedule{Every: 5 * time.Minute}},
		{name: "cron expression", schedule: Schedule{Cron: "*/5 * * * *"}},
		{name: "cron descriptor", schedule: Schedule{Cron: "@hourly"}},
		{name: "empty schedule", schedule: Schedule{}, expectError: true},
		{name: "negative interval", schedule: Schedule{Every: -time.Minute}, expectError: true},
		{name: "malformed cron", schedule: Schedule{Cron: "not a cron"}, expectError: true},
		{name: "six field cron", schedule: Schedule{Cron: "0 0 0 * * *"}, expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			registry := NewRegistry()
			task := newFakeTask("scheduled")
			task.schedule = tc.schedule
			err := registry.Register(task)
			if tc.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_EmptyIDRejected(t *testing.T) {
	registry := NewRegistry()
	task := newFakeTask("")
	assert.Error(t, registry.Register(task))
}
