package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/pkg/logger"
)

// WebhookDeliveryRepository persists the append-only webhook ingest log
type WebhookDeliveryRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewWebhookDeliveryRepository creates a new webhook delivery repository
func NewWebhookDeliveryRepository(db *sqlx.DB, logger *logger.Logger) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db, logger: logger}
}

// Insert records a delivery. Returns duplicate=true when a delivery with
// the same provider and payload hash already exists; in that case the
// existing row's id is loaded into d.ID.
func (r *WebhookDeliveryRepository) Insert(ctx context.Context, d *entities.WebhookDelivery) (duplicate bool, err error) {
	headersJSON, err := json.Marshal(d.Headers)
	if err != nil {
		return false, fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO webhook_deliveries (
			id, provider, chain, endpoint, source_ip, headers, payload,
			payload_hash, provider_event_id, outcome, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (provider, payload_hash) DO NOTHING
		RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		d.ID,
		string(d.Provider),
		string(d.Chain),
		d.Endpoint,
		d.SourceIP,
		headersJSON,
		d.Payload,
		d.PayloadHash,
		d.ProviderEventID,
		string(d.Outcome),
		d.ReceivedAt,
	).Scan(&d.ID)

	if err == sql.ErrNoRows {
		// Same payload from the same provider was already logged.
		existing := `SELECT id FROM webhook_deliveries WHERE provider = $1 AND payload_hash = $2`
		if scanErr := r.db.GetContext(ctx, &d.ID, existing, string(d.Provider), d.PayloadHash); scanErr != nil {
			return true, fmt.Errorf("failed to load duplicate delivery: %w", scanErr)
		}
		return true, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to insert webhook delivery: %w", err)
	}

	return false, nil
}

// SetOutcome attaches the processing outcome to a delivery
func (r *WebhookDeliveryRepository) SetOutcome(ctx context.Context, id uuid.UUID, outcome entities.DeliveryOutcome) error {
	query := `UPDATE webhook_deliveries SET outcome = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, string(outcome), id); err != nil {
		return fmt.Errorf("failed to set delivery outcome: %w", err)
	}
	return nil
}

// Delete removes a delivery row. Used to roll back ingest when job
// enqueue fails so the provider's redelivery is not deduped away.
func (r *WebhookDeliveryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete delivery: %w", err)
	}
	return nil
}

// GetByID retrieves a delivery by id
func (r *WebhookDeliveryRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.WebhookDelivery, error) {
	query := `
		SELECT id, provider, chain, endpoint, source_ip, payload,
		       payload_hash, provider_event_id, outcome, received_at
		FROM webhook_deliveries
		WHERE id = $1`

	var d entities.WebhookDelivery
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("delivery not found")
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return &d, nil
}

// ListRecent returns the most recent deliveries for the admin audit view
func (r *WebhookDeliveryRepository) ListRecent(ctx context.Context, limit, offset int) ([]*entities.WebhookDelivery, error) {
	query := `
		SELECT id, provider, chain, endpoint, source_ip, payload,
		       payload_hash, provider_event_id, outcome, received_at
		FROM webhook_deliveries
		ORDER BY received_at DESC
		LIMIT $1 OFFSET $2`

	var deliveries []*entities.WebhookDelivery
	if err := r.db.SelectContext(ctx, &deliveries, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return deliveries, nil
}
