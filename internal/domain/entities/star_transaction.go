package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StarTxType classifies ledger entries on the star balance
type StarTxType string

const (
	StarTxDepositCredit StarTxType = "deposit_credit"
	StarTxAdminGrant    StarTxType = "admin_grant"
	StarTxAdminDeduct   StarTxType = "admin_deduct"
	StarTxRefund        StarTxType = "refund"
	StarTxGift          StarTxType = "gift"
)

// StarTransaction is one append-only ledger row. The invariant is that
// the sum of Delta per user always equals users.star_balance; both are
// written in the same DB transaction.
type StarTransaction struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	UserID    uuid.UUID       `db:"user_id" json:"userId"`
	Delta     decimal.Decimal `db:"delta" json:"delta"`
	Stars     decimal.Decimal `db:"stars" json:"stars"`
	TxType    StarTxType      `db:"tx_type" json:"txType"`
	DepositID *uuid.UUID      `db:"deposit_id" json:"depositId,omitempty"`
	Note      string          `db:"note" json:"note"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

// NewStarTransaction creates a ledger row. Delta carries the sign;
// Stars is the absolute magnitude.
func NewStarTransaction(userID uuid.UUID, delta decimal.Decimal, txType StarTxType, depositID *uuid.UUID, note string) *StarTransaction {
	return &StarTransaction{
		ID:        uuid.New(),
		UserID:    userID,
		Delta:     delta,
		Stars:     delta.Abs(),
		TxType:    txType,
		DepositID: depositID,
		Note:      note,
		CreatedAt: time.Now(),
	}
}
