package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"reconciliation-service/internal/db"
	"reconciliation-service/internal/events"
)

const DefaultRunEventsTopic = "reconciliation_run_events"

// NewRunEventWriter builds the writer for the run-events topic.
func NewRunEventWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultRunEventsTopic
	}
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: int(kafka.RequireOne),
		Async:        false,
	})
}

// MessageWriter is the slice of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RunEventProducer publishes terminal TaskRun records as JSON messages.
// It satisfies reconcile.RunEventPublisher.
type RunEventProducer struct {
	Writer MessageWriter
	Log    zerolog.Logger
}

func NewRunEventProducer(writer MessageWriter, log zerolog.Logger) *RunEventProducer {
	return &RunEventProducer{Writer: writer, Log: log}
}

func (p *RunEventProducer) PublishRunCompleted(ctx context.Context, run *db.TaskRun) error {
	payload := events.RunCompletedPayload{
		RunID:       run.ID,
		TaskID:      run.TaskID,
		Trigger:     run.Trigger,
		TriggeredBy: run.TriggeredBy,
		Status:      run.Status,
		Scanned:     run.Scanned,
		Corrected:   run.Corrected,
		Skipped:     run.Skipped,
		Error:       run.Error,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling run completion payload for run %d: %w", run.ID, err)
	}
	// Keyed by task id so consumers see each task's runs in order.
	msg := kafka.Message{Key: []byte(run.TaskID), Value: value}
	if err := p.Writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing run completion event for run %d: %w", run.ID, err)
	}
	p.Log.Debug().Uint("run_id", run.ID).Str("task_id", run.TaskID).Msg("run completion event published")
	return nil
}

func (p *RunEventProducer) Close() error {
	return p.Writer.Close()
}
