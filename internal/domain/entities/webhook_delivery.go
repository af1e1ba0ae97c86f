package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// DeliveryOutcome is the terminal classification of an inbound delivery
type DeliveryOutcome string

const (
	OutcomeAccepted  DeliveryOutcome = "accepted"
	OutcomeDuplicate DeliveryOutcome = "duplicate"
	OutcomeInvalid   DeliveryOutcome = "invalid"
	OutcomeUnmatched DeliveryOutcome = "unmatched"
)

// WebhookDelivery is an append-only audit record of one inbound webhook
// request. Rows are never mutated after insert except to attach the
// processing outcome.
type WebhookDelivery struct {
	ID              uuid.UUID         `db:"id" json:"id"`
	Provider        Provider          `db:"provider" json:"provider"`
	Chain           Chain             `db:"chain" json:"chain"`
	Endpoint        string            `db:"endpoint" json:"endpoint"`
	SourceIP        string            `db:"source_ip" json:"sourceIp"`
	Headers         map[string]string `db:"-" json:"headers"`
	Payload         []byte            `db:"payload" json:"-"`
	PayloadHash     string            `db:"payload_hash" json:"payloadHash"`
	ProviderEventID *string           `db:"provider_event_id" json:"providerEventId,omitempty"`
	Outcome         DeliveryOutcome   `db:"outcome" json:"outcome"`
	ReceivedAt      time.Time         `db:"received_at" json:"receivedAt"`
}

// NewWebhookDelivery builds a delivery record with the payload hash used
// for idempotent ingestion.
func NewWebhookDelivery(provider Provider, chain Chain, endpoint, sourceIP string, headers map[string]string, payload []byte) *WebhookDelivery {
	sum := sha256.Sum256(payload)
	return &WebhookDelivery{
		ID:          uuid.New(),
		Provider:    provider,
		Chain:       chain,
		Endpoint:    endpoint,
		SourceIP:    sourceIP,
		Headers:     headers,
		Payload:     payload,
		PayloadHash: hex.EncodeToString(sum[:]),
		Outcome:     OutcomeAccepted,
		ReceivedAt:  time.Now(),
	}
}
