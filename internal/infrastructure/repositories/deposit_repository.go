package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/pkg/logger"
)

const depositColumns = `
	id, user_id, chain, asset, expected_amount, actual_amount, tx_hash,
	deposit_address, status, created_at, updated_at, credited_at, expires_at `

// DepositRepository manages star deposit persistence
type DepositRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewDepositRepository creates a new deposit repository
func NewDepositRepository(db *sqlx.DB, logger *logger.Logger) *DepositRepository {
	return &DepositRepository{db: db, logger: logger}
}

// Create persists a new deposit intent
func (r *DepositRepository) Create(ctx context.Context, d *entities.StarDeposit) error {
	query := `
		INSERT INTO star_deposits (
			id, user_id, chain, asset, expected_amount, deposit_address,
			status, created_at, updated_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.UserID, string(d.Chain), string(d.Asset), d.ExpectedAmount,
		d.DepositAddress, string(d.Status), d.CreatedAt, d.UpdatedAt, d.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create deposit: %w", err)
	}
	return nil
}

// GetByID retrieves a deposit by id
func (r *DepositRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.StarDeposit, error) {
	query := `SELECT` + depositColumns + `FROM star_deposits WHERE id = $1`

	var d entities.StarDeposit
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	return &d, nil
}

// GetForUpdate loads a deposit with a row lock inside the given transaction
func (r *DepositRepository) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.StarDeposit, error) {
	query := `SELECT` + depositColumns + `FROM star_deposits WHERE id = $1 FOR UPDATE`

	var d entities.StarDeposit
	if err := tx.GetContext(ctx, &d, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, domainerrors.ErrDepositNotFound
		}
		return nil, fmt.Errorf("failed to lock deposit: %w", err)
	}
	return &d, nil
}

// FindCreditedByTxHash returns the deposit already credited for a transfer,
// if any. Runs inside the reconcile transaction.
func (r *DepositRepository) FindCreditedByTxHash(ctx context.Context, tx *sqlx.Tx, txHash string, chain entities.Chain) (*entities.StarDeposit, error) {
	query := `SELECT` + depositColumns + `
		FROM star_deposits
		WHERE tx_hash = $1 AND chain = $2 AND status = 'credited'`

	var d entities.StarDeposit
	if err := tx.GetContext(ctx, &d, query, txHash, string(chain)); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check credited tx hash: %w", err)
	}
	return &d, nil
}

// UpdateTx writes a deposit's mutable fields inside a transaction
func (r *DepositRepository) UpdateTx(ctx context.Context, tx *sqlx.Tx, d *entities.StarDeposit) error {
	query := `
		UPDATE star_deposits
		SET status = $1, tx_hash = $2, actual_amount = $3,
		    credited_at = $4, updated_at = $5
		WHERE id = $6`

	result, err := tx.ExecContext(ctx, query,
		string(d.Status), d.TxHash, d.ActualAmount, d.CreditedAt, time.Now(), d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update deposit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domainerrors.ErrDepositNotFound
	}
	return nil
}

// FindMatchCandidates returns pending, unexpired deposits on a
// (chain, asset) pair, oldest first.
func (r *DepositRepository) FindMatchCandidates(ctx context.Context, chain entities.Chain, asset entities.Asset) ([]*entities.StarDeposit, error) {
	query := `SELECT` + depositColumns + `
		FROM star_deposits
		WHERE chain = $1 AND asset = $2 AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at ASC`

	var deposits []*entities.StarDeposit
	if err := r.db.SelectContext(ctx, &deposits, query, string(chain), string(asset)); err != nil {
		return nil, fmt.Errorf("failed to find match candidates: %w", err)
	}
	return deposits, nil
}

// ListByUser returns a user's deposits, newest first
func (r *DepositRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarDeposit, error) {
	query := `SELECT` + depositColumns + `
		FROM star_deposits
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	var deposits []*entities.StarDeposit
	if err := r.db.SelectContext(ctx, &deposits, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list deposits: %w", err)
	}
	return deposits, nil
}

// ExpirePending transitions pending deposits past their deadline to
// expired and returns the affected ids.
func (r *DepositRepository) ExpirePending(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		UPDATE star_deposits
		SET status = 'expired', updated_at = $1
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING id`

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, now); err != nil {
		return nil, fmt.Errorf("failed to expire deposits: %w", err)
	}
	return ids, nil
}
