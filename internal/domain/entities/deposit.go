package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StarDepositStatus represents the status of a star deposit intent
type StarDepositStatus string

const (
	StarDepositStatusPending  StarDepositStatus = "pending"
	StarDepositStatusMatched  StarDepositStatus = "matched"
	StarDepositStatusCredited StarDepositStatus = "credited"
	StarDepositStatusFailed   StarDepositStatus = "failed"
	StarDepositStatusExpired  StarDepositStatus = "expired"
)

// ValidStarDepositStatuses contains all valid deposit statuses
var ValidStarDepositStatuses = map[StarDepositStatus]bool{
	StarDepositStatusPending:  true,
	StarDepositStatusMatched:  true,
	StarDepositStatusCredited: true,
	StarDepositStatusFailed:   true,
	StarDepositStatusExpired:  true,
}

// ValidStarDepositTransitions defines allowed status transitions.
// credited -> failed is the refund path.
var ValidStarDepositTransitions = map[StarDepositStatus][]StarDepositStatus{
	StarDepositStatusPending:  {StarDepositStatusMatched, StarDepositStatusCredited, StarDepositStatusFailed, StarDepositStatusExpired},
	StarDepositStatusMatched:  {StarDepositStatusCredited, StarDepositStatusFailed, StarDepositStatusExpired},
	StarDepositStatusCredited: {StarDepositStatusFailed},
	StarDepositStatusFailed:   {},
	StarDepositStatusExpired:  {},
}

// IsValid checks if the status is a valid deposit status
func (s StarDepositStatus) IsValid() bool {
	return ValidStarDepositStatuses[s]
}

// CanTransitionTo checks if transition to new status is allowed
func (s StarDepositStatus) CanTransitionTo(newStatus StarDepositStatus) bool {
	allowed, exists := ValidStarDepositTransitions[s]
	if !exists {
		return false
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no webhook can move the deposit further.
// Credited is terminal for webhooks; only an admin refund leaves it.
func (s StarDepositStatus) IsTerminal() bool {
	return s == StarDepositStatusFailed || s == StarDepositStatusExpired
}

// ValidateTransition validates and returns error if transition is invalid
func (s StarDepositStatus) ValidateTransition(newStatus StarDepositStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid deposit status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// Deposit configuration constants
const (
	DepositTimeoutHours = 24 // hours before a pending deposit expires
)

// StarDeposit is a user's intent to purchase stars with a chain transfer
type StarDeposit struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	UserID         uuid.UUID         `db:"user_id" json:"userId"`
	Chain          Chain             `db:"chain" json:"chain"`
	Asset          Asset             `db:"asset" json:"asset"`
	ExpectedAmount decimal.Decimal   `db:"expected_amount" json:"expectedAmount"`
	ActualAmount   *decimal.Decimal  `db:"actual_amount" json:"actualAmount,omitempty"`
	TxHash         *string           `db:"tx_hash" json:"txHash,omitempty"`
	DepositAddress *string           `db:"deposit_address" json:"depositAddress,omitempty"`
	Status         StarDepositStatus `db:"status" json:"status"`
	CreatedAt      time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time         `db:"updated_at" json:"updatedAt"`
	CreditedAt     *time.Time        `db:"credited_at" json:"creditedAt,omitempty"`
	ExpiresAt      time.Time         `db:"expires_at" json:"expiresAt"`
}

// NewStarDeposit creates a pending deposit intent with the default expiry
func NewStarDeposit(userID uuid.UUID, chain Chain, asset Asset, expected decimal.Decimal, depositAddress *string) *StarDeposit {
	now := time.Now()
	return &StarDeposit{
		ID:             uuid.New(),
		UserID:         userID,
		Chain:          chain,
		Asset:          asset,
		ExpectedAmount: expected,
		DepositAddress: depositAddress,
		Status:         StarDepositStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(DepositTimeoutHours * time.Hour),
	}
}

// IsExpired reports whether the intent has passed its deadline
func (d *StarDeposit) IsExpired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// MarkCredited transitions the deposit to credited with the settled
// transfer attached.
func (d *StarDeposit) MarkCredited(txHash string, actual decimal.Decimal) error {
	if err := d.Status.ValidateTransition(StarDepositStatusCredited); err != nil {
		return err
	}
	now := time.Now()
	d.Status = StarDepositStatusCredited
	d.TxHash = &txHash
	d.ActualAmount = &actual
	d.CreditedAt = &now
	d.UpdatedAt = now
	return nil
}
