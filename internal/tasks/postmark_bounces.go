package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"reconciliation-service/internal/reconcile"
	"reconciliation-service/pkg/validation"
)

// BounceSyncTaskID is stable across restarts; TaskRun history is keyed on it.
const BounceSyncTaskID = "postmark-bounce-sync"

// statusBounced is the local delivery status a provider bounce maps to.
const statusBounced = "bounced"

// Bounce is one suppression event reported by the delivery provider.
type Bounce struct {
	MessageID  string
	Email      string
	Type       string
	Inactive   bool
	RecordedAt time.Time
}

// BounceClient is the narrow slice of the provider API the task needs.
// Offset/count paging keeps individual calls bounded; the provider is
// rate limited, which is why the scheduler never runs this task twice
// concurrently.
type BounceClient interface {
	Bounces(ctx context.Context, since time.Time, offset, count int) (batch []Bounce, total int, err error)
}

// MessageStore is the application data layer the task corrects. MarkBounced
// must upsert on message id so re-running after a partial failure never
// double-applies a correction.
type MessageStore interface {
	DeliveryStatus(ctx context.Context, messageID string) (status string, found bool, err error)
	MarkBounced(ctx context.Context, messageID, bounceType string, recordedAt time.Time) error
}

// bounceSyncSettingsSchema validates the task's settings block from the
// config file before the task is constructed.
const bounceSyncSettingsSchema = `{
	"type": "object",
	"properties": {
		"window": {"type": "string"},
		"batch_size": {"type": "integer", "minimum": 1, "maximum": 500}
	},
	"additionalProperties": false
}`

type bounceSyncSettings struct {
	Window    string `json:"window"`
	BatchSize int    `json:"batch_size"`
}

// BounceSyncTask re-checks locally stored message delivery state against
// the provider's bounce feed and corrects records a missed webhook left
// behind.
type BounceSyncTask struct {
	client   BounceClient
	store    MessageStore
	log      zerolog.Logger
	schedule reconcile.Schedule
	enabled  bool
	window   time.Duration
	batch    int
}

func NewBounceSyncTask(client BounceClient, store MessageStore, schedule reconcile.Schedule, enabled bool, settingsJSON string, log zerolog.Logger) (*BounceSyncTask, error) {
	settings := bounceSyncSettings{Window: "24h", BatchSize: 100}
	if settingsJSON != "" {
		if err := validation.ValidateJSONWithSchema(bounceSyncSettingsSchema, settingsJSON); err != nil {
			return nil, fmt.Errorf("bounce sync settings rejected: %w", err)
		}
		if err := json.Unmarshal([]byte(settingsJSON), &settings); err != nil {
			return nil, fmt.Errorf("bounce sync settings: %w", err)
		}
		if settings.Window == "" {
			settings.Window = "24h"
		}
		if settings.BatchSize == 0 {
			settings.BatchSize = 100
		}
	}
	window, err := time.ParseDuration(settings.Window)
	if err != nil || window <= 0 {
		return nil, fmt.Errorf("bounce sync settings: invalid window %q", settings.Window)
	}
	if schedule.Cron == "" && schedule.Every <= 0 {
		schedule.Every = 5 * time.Minute
	}
	return &BounceSyncTask{
		client:   client,
		store:    store,
		log:      log,
		schedule: schedule,
		enabled:  enabled,
		window:   window,
		batch:    settings.BatchSize,
	}, nil
}

func (t *BounceSyncTask) ID() string                   { return BounceSyncTaskID }
func (t *BounceSyncTask) DisplayName() string          { return "Postmark bounce sync" }
func (t *BounceSyncTask) Schedule() reconcile.Schedule { return t.schedule }
func (t *BounceSyncTask) Enabled() bool                { return t.enabled }

// Reconcile walks the provider's recent bounces page by page, diffs each
// against the local delivery status and marks drifted records bounced.
// A second pass with no external change in between corrects nothing: every
// record it touched the first time already reads as bounced.
func (t *BounceSyncTask) Reconcile(ctx context.Context) (reconcile.Summary, error) {
	var summary reconcile.Summary
	since := time.Now().UTC().Add(-t.window)
	offset := 0
	for {
		batch, total, err := t.client.Bounces(ctx, since, offset, t.batch)
		if err != nil {
			return summary, fmt.Errorf("fetching bounces at offset %d: %w", offset, err)
		}
		for _, bounce := range batch {
			summary.Scanned++
			status, found, err := t.store.DeliveryStatus(ctx, bounce.MessageID)
			if err != nil {
				return summary, fmt.Errorf("reading delivery status for %s: %w", bounce.MessageID, err)
			}
			if !found {
				// Message was never recorded locally; nothing to correct.
				summary.Skipped++
				continue
			}
			if status == statusBounced {
				// Webhook landed after all.
				summary.Skipped++
				continue
			}
			d := reconcile.Discrepancy{
				RecordID: bounce.MessageID,
				Expected: statusBounced,
				Observed: status,
				Action:   "mark bounced",
			}
			if err := t.store.MarkBounced(ctx, bounce.MessageID, bounce.Type, bounce.RecordedAt); err != nil {
				return summary, fmt.Errorf("correcting %s: %w", bounce.MessageID, err)
			}
			t.log.Info().
				Str("message_id", d.RecordID).
				Str("observed", d.Observed).
				Str("expected", d.Expected).
				Str("bounce_type", bounce.Type).
				Msg("corrected drifted delivery status")
			summary.Corrected++
		}
		offset += len(batch)
		if len(batch) == 0 || offset >= total {
			break
		}
	}
	return summary, nil
}
