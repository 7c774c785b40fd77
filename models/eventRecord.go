package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/datamart_backend/config"
	"bitbucket.org/mmdatafocus/datamart_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for EventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Event types written by the allocation, ledger and lifecycle workflows.
const (
	EventAllocationSucceeded    = "allocation.succeeded"
	EventAllocationConflict     = "allocation.conflict"
	EventAllocationInsufficient = "allocation.insufficient"
	EventLedgerEntryCreated     = "ledger.entry.created"
	EventLedgerEntryDeleted     = "ledger.entry.deleted"
	EventLedgerRebuilt          = "ledger.rebuilt"
	EventRequestSubmitted       = "request.submitted"
	EventRequestApproved        = "request.approved"
	EventRequestRejected        = "request.rejected"
	EventRequestCompleted       = "request.completed"
	EventRequestDeleted         = "request.deleted"
	EventPurchaseCompleted      = "purchase.completed"
)

// EventRecord is the transactional outbox row: written inside the same DB
// transaction as the state change, published asynchronously by the
// workflow.OutboxDispatcher after commit.
type EventRecord struct {
	ID                int             `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType         string          `gorm:"size:64;not null;index" json:"event_type"`
	Category          string          `gorm:"size:100" json:"category"`
	DayOfWeek         Weekday         `gorm:"size:10" json:"day_of_week"`
	Date              *time.Time      `json:"date"`
	Quantity          int             `json:"quantity"`
	UserId            string          `gorm:"size:64;index" json:"user_id"`
	PurchaseRequestId int             `gorm:"index" json:"purchase_request_id"`
	Payload           json.RawMessage `gorm:"type:json" json:"payload"`
	PublishStatus     string          `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt       *time.Time      `gorm:"index" json:"published_at"`
	PubSubMessageId   *string         `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts   int             `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt     *time.Time      `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt          *time.Time      `gorm:"index" json:"locked_at"`
	LockedBy          *string         `gorm:"size:100" json:"locked_by"`
	LastPublishError  *string         `gorm:"type:text" json:"last_publish_error"`
	CorrelationId     string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewEvent carries the domain fields of an outbox write.
type NewEvent struct {
	EventType         string
	Category          string
	DayOfWeek         Weekday
	Date              *time.Time
	Quantity          int
	UserId            string
	PurchaseRequestId int
	Payload           interface{}
}

// RecordEvent writes the outbox row inside the caller's transaction.
// It never publishes; the dispatcher does that after commit.
func RecordEvent(ctx context.Context, tx *gorm.DB, event NewEvent) error {
	var payload json.RawMessage
	if event.Payload != nil {
		b, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		payload = b
	}

	record := EventRecord{
		EventType:         event.EventType,
		Category:          event.Category,
		DayOfWeek:         event.DayOfWeek,
		Date:              event.Date,
		Quantity:          event.Quantity,
		UserId:            event.UserId,
		PurchaseRequestId: event.PurchaseRequestId,
		Payload:           payload,
		PublishStatus:     OutboxPublishStatusPending,
		CorrelationId:     correlationIdFromContextOrNew(ctx),
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

// ConvertToMarketplaceEvent maps the outbox row to the Pub/Sub wire shape.
func ConvertToMarketplaceEvent(record EventRecord) config.MarketplaceEvent {
	return config.MarketplaceEvent{
		ID:                record.ID,
		EventType:         record.EventType,
		Category:          record.Category,
		DayOfWeek:         string(record.DayOfWeek),
		Date:              utils.DereferencePtr(record.Date),
		Quantity:          record.Quantity,
		UserId:            record.UserId,
		PurchaseRequestId: record.PurchaseRequestId,
		Payload:           record.Payload,
		CorrelationId:     record.CorrelationId,
	}
}
