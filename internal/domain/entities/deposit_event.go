package entities

import (
	"time"

	"github.com/google/uuid"
)

// DepositEventType classifies entries in a deposit's audit timeline
type DepositEventType string

const (
	EventWebhookMatched  DepositEventType = "WEBHOOK_MATCHED"
	EventUserRetry       DepositEventType = "USER_RETRY"
	EventReconcileFailed DepositEventType = "RECONCILE_FAILED"
	EventAdminReconcile  DepositEventType = "ADMIN_RECONCILE"
	EventAdminRefund     DepositEventType = "REFUNDED"
	EventExpired         DepositEventType = "EXPIRED"
	EventCredited        DepositEventType = "CREDITED"
)

// StarDepositEvent is one append-only entry in a deposit's timeline
type StarDepositEvent struct {
	ID        uuid.UUID        `db:"id" json:"id"`
	DepositID uuid.UUID        `db:"deposit_id" json:"depositId"`
	EventType DepositEventType `db:"event_type" json:"eventType"`
	Message   string           `db:"message" json:"message"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// NewDepositEvent creates a timeline entry for a deposit
func NewDepositEvent(depositID uuid.UUID, eventType DepositEventType, message string) *StarDepositEvent {
	return &StarDepositEvent{
		ID:        uuid.New(),
		DepositID: depositID,
		EventType: eventType,
		Message:   message,
		CreatedAt: time.Now(),
	}
}
