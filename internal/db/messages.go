package db

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusDeliveryBounced is the stored status a provider bounce maps to.
const StatusDeliveryBounced = "bounced"

// MessageDelivery is the locally stored delivery state for one outbound
// message, normally kept current by provider webhooks. The bounce sync task
// corrects rows a missed webhook left behind.
type MessageDelivery struct {
	gorm.Model
	MessageID  string     `json:"message_id" gorm:"uniqueIndex"`
	Recipient  string     `json:"recipient"`
	Status     string     `json:"status" gorm:"index"` // sent, delivered, bounced
	BounceType string     `json:"bounce_type,omitempty"`
	BouncedAt  *time.Time `json:"bounced_at,omitempty"`
}

// DeliveryStore gives reconciliation tasks read access to delivery state
// and an idempotent corrective write. It satisfies tasks.MessageStore.
type DeliveryStore struct {
	DB *gorm.DB
}

func NewDeliveryStore(gormDB *gorm.DB) *DeliveryStore {
	return &DeliveryStore{DB: gormDB}
}

func (s *DeliveryStore) DeliveryStatus(ctx context.Context, messageID string) (string, bool, error) {
	var delivery MessageDelivery
	err := s.DB.WithContext(ctx).Where("message_id = ?", messageID).First(&delivery).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return delivery.Status, true, nil
}

// MarkBounced upserts on the message_id natural key, so applying the same
// correction twice leaves the row in the same state.
func (s *DeliveryStore) MarkBounced(ctx context.Context, messageID, bounceType string, recordedAt time.Time) error {
	at := recordedAt
	delivery := MessageDelivery{
		MessageID:  messageID,
		Status:     StatusDeliveryBounced,
		BounceType: bounceType,
		BouncedAt:  &at,
	}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "bounce_type", "bounced_at", "updated_at"}),
	}).Create(&delivery).Error
}
