package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CollectionEventRecord is a transactional-outbox row. It is written inside
// the same DB transaction as the collection state change it describes, and
// published to Pub/Sub asynchronously by the outbox dispatcher after commit.
// Dashboards and the notification service consume these events; the collection
// ledger never depends on their delivery.
type CollectionEventRecord struct {
	ID           int                 `gorm:"primary_key" json:"id"`
	BarberId     int                 `gorm:"index;not null" json:"barber_id"`
	CollectionId int                 `gorm:"index;not null" json:"collection_id"`
	EventType    CollectionEventType `gorm:"size:50;not null" json:"event_type"`
	OccurredAt   time.Time           `gorm:"not null" json:"occurred_at"`
	Payload      []byte              `gorm:"type:json" json:"payload"`

	PublishStatus    string     `gorm:"size:20;not null;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pub_sub_message_id"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`

	CorrelationId string    `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type collectionEventPayload struct {
	Status        CollectionStatus `json:"status"`
	Amount        string           `json:"amount"`
	Currency      string           `json:"currency"`
	RetryCount    int              `json:"retry_count"`
	ScheduledDate *time.Time       `json:"scheduled_date,omitempty"`
	FailureReason *string          `json:"failure_reason,omitempty"`
}

// EmitCollectionEvent writes the outbox row on the caller's transaction so the
// event commits (or rolls back) together with the state change.
func EmitCollectionEvent(ctx context.Context, tx *gorm.DB, collection *PlatformCollection, eventType CollectionEventType) error {
	payload, err := json.Marshal(collectionEventPayload{
		Status:        collection.Status,
		Amount:        collection.Amount.StringFixed(2),
		Currency:      collection.Currency,
		RetryCount:    collection.RetryCount,
		ScheduledDate: &collection.ScheduledDate,
		FailureReason: collection.FailureReason,
	})
	if err != nil {
		return err
	}

	record := CollectionEventRecord{
		BarberId:      collection.BarberId,
		CollectionId:  collection.ID,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToEventMessage(rec CollectionEventRecord) config.CollectionEventMessage {
	return config.CollectionEventMessage{
		ID:            rec.ID,
		BarberId:      rec.BarberId,
		CollectionId:  rec.CollectionId,
		EventType:     string(rec.EventType),
		OccurredAt:    rec.OccurredAt,
		Payload:       rec.Payload,
		CorrelationId: rec.CorrelationId,
	}
}
