package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/pkg/logger"
)

// DepositEventRepository persists the append-only deposit timeline
type DepositEventRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewDepositEventRepository creates a new deposit event repository
func NewDepositEventRepository(db *sqlx.DB, logger *logger.Logger) *DepositEventRepository {
	return &DepositEventRepository{db: db, logger: logger}
}

const insertEventQuery = `
	INSERT INTO star_deposit_events (id, deposit_id, event_type, message, created_at)
	VALUES ($1, $2, $3, $4, $5)`

// Append records a timeline event
func (r *DepositEventRepository) Append(ctx context.Context, ev *entities.StarDepositEvent) error {
	_, err := r.db.ExecContext(ctx, insertEventQuery,
		ev.ID, ev.DepositID, string(ev.EventType), ev.Message, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append deposit event: %w", err)
	}
	return nil
}

// AppendTx records a timeline event inside a transaction
func (r *DepositEventRepository) AppendTx(ctx context.Context, tx *sqlx.Tx, ev *entities.StarDepositEvent) error {
	_, err := tx.ExecContext(ctx, insertEventQuery,
		ev.ID, ev.DepositID, string(ev.EventType), ev.Message, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append deposit event: %w", err)
	}
	return nil
}

// ListByDeposit returns a deposit's timeline, oldest first
func (r *DepositEventRepository) ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.StarDepositEvent, error) {
	query := `
		SELECT id, deposit_id, event_type, message, created_at
		FROM star_deposit_events
		WHERE deposit_id = $1
		ORDER BY created_at ASC`

	var events []*entities.StarDepositEvent
	if err := r.db.SelectContext(ctx, &events, query, depositID); err != nil {
		return nil, fmt.Errorf("failed to list deposit events: %w", err)
	}
	return events, nil
}
