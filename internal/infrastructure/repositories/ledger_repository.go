package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/pkg/logger"
)

// LedgerRepository manages the star balance and its transaction log.
// Balance mutation and transaction insert always happen inside the same
// DB transaction so the sum-of-deltas invariant holds.
type LedgerRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB, logger *logger.Logger) *LedgerRepository {
	return &LedgerRepository{db: db, logger: logger}
}

// ApplyDelta adjusts a user's star balance inside the given transaction
// and returns the new balance. A negative result aborts the statement via
// the repository-level check so callers get a typed error.
func (r *LedgerRepository) ApplyDelta(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	query := `
		UPDATE users
		SET star_balance = star_balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING star_balance`

	var balance decimal.Decimal
	if err := tx.GetContext(ctx, &balance, query, delta, userID); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, domainerrors.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to apply balance delta: %w", err)
	}

	if balance.IsNegative() {
		return decimal.Zero, domainerrors.ErrInsufficientStars
	}

	return balance, nil
}

// InsertTransaction writes a ledger row inside the given transaction
func (r *LedgerRepository) InsertTransaction(ctx context.Context, tx *sqlx.Tx, st *entities.StarTransaction) error {
	query := `
		INSERT INTO star_transactions (id, user_id, delta, stars, tx_type, deposit_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := tx.ExecContext(ctx, query,
		st.ID, st.UserID, st.Delta, st.Stars, string(st.TxType), st.DepositID, st.Note, st.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert star transaction: %w", err)
	}
	return nil
}

// GetBalance reads a user's current star balance
func (r *LedgerRepository) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := r.db.GetContext(ctx, &balance, `SELECT star_balance FROM users WHERE id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, domainerrors.ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// ListTransactions returns a user's ledger rows, newest first
func (r *LedgerRepository) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarTransaction, error) {
	query := `
		SELECT id, user_id, delta, stars, tx_type, deposit_id, note, created_at
		FROM star_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	var txs []*entities.StarTransaction
	if err := r.db.SelectContext(ctx, &txs, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list star transactions: %w", err)
	}
	return txs, nil
}

// GetUserEmail reads the email used for the deposit-credited notification
func (r *LedgerRepository) GetUserEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	if err := r.db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID); err != nil {
		if err == sql.ErrNoRows {
			return "", domainerrors.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user email: %w", err)
	}
	return email, nil
}
