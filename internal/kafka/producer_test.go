package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"

	"reconciliation-service/internal/db"
	"reconciliation-service/internal/events"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishRunCompleted(t *testing.T) {
	writer := &fakeWriter{}
	producer := NewRunEventProducer(writer, zerolog.Nop())

	finishedAt := time.Now().UTC()
	run := &db.TaskRun{
		TaskID:      "postmark-bounce-sync",
		Trigger:     "cron",
		TriggeredBy: "system",
		Status:      db.StatusSucceeded,
		StartedAt:   finishedAt.Add(-2 * time.Second),
		FinishedAt:  &finishedAt,
		Scanned:     10,
		Corrected:   1,
		Skipped:     9,
	}
	run.ID = 42

	assert.NoError(t, producer.PublishRunCompleted(context.Background(), run))
	assert.Len(t, writer.messages, 1)
	assert.Equal(t, "postmark-bounce-sync", string(writer.messages[0].Key))

	var payload events.RunCompletedPayload
	assert.NoError(t, json.Unmarshal(writer.messages[0].Value, &payload))
	assert.Equal(t, uint(42), payload.RunID)
	assert.Equal(t, "postmark-bounce-sync", payload.TaskID)
	assert.Equal(t, "cron", payload.Trigger)
	assert.Equal(t, db.StatusSucceeded, payload.Status)
	assert.Equal(t, 10, payload.Scanned)
	assert.Equal(t, 1, payload.Corrected)
	assert.Equal(t, 9, payload.Skipped)
	assert.Empty(t, payload.Error)
}

func TestPublishRunCompleted_WriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("broker unavailable")}
	producer := NewRunEventProducer(writer, zerolog.Nop())

	run := &db.TaskRun{TaskID: "postmark-bounce-sync", Status: db.StatusFailed}
	err := producer.PublishRunCompleted(context.Background(), run)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broker unavailable")
}
