package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/internal/infrastructure/database"
	"github.com/vidora/stars-service/pkg/logger"
	"github.com/vidora/stars-service/pkg/metrics"
)

// DepositStore is the deposit persistence the reconciler needs
type DepositStore interface {
	GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.StarDeposit, error)
	FindCreditedByTxHash(ctx context.Context, tx *sqlx.Tx, txHash string, chain entities.Chain) (*entities.StarDeposit, error)
	UpdateTx(ctx context.Context, tx *sqlx.Tx, d *entities.StarDeposit) error
}

// EventStore appends to the deposit timeline
type EventStore interface {
	AppendTx(ctx context.Context, tx *sqlx.Tx, ev *entities.StarDepositEvent) error
}

// BalanceStore mutates and reads the star balance ledger
type BalanceStore interface {
	ApplyDelta(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, tx *sqlx.Tx, st *entities.StarTransaction) error
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// Dispatcher receives best-effort notifications after a commit. Failures
// there never affect the ledger.
type Dispatcher interface {
	DepositCredited(deposit *entities.StarDeposit, stars, newBalance decimal.Decimal)
	BalanceChanged(userID uuid.UUID)
}

// Outcome describes what a reconcile attempt did. A no-op outcome is a
// success from the caller's point of view; the reason says why nothing
// was credited.
type Outcome struct {
	Deposit    *entities.StarDeposit
	Credited   bool
	Stars      decimal.Decimal
	NewBalance decimal.Decimal
	NoOpReason string
}

// Service owns every write to the star balance. Credit, refund and
// adjust each run in a single DB transaction that updates the balance
// and appends the matching ledger row, so the sum of ledger deltas per
// user always equals the stored balance.
type Service struct {
	txRunner    database.TxRunner
	deposits    DepositStore
	events      EventStore
	balances    BalanceStore
	dispatcher  Dispatcher
	starsPerUSD decimal.Decimal
	logger      *logger.Logger
}

// NewService creates the ledger service
func NewService(txRunner database.TxRunner, deposits DepositStore, events EventStore, balances BalanceStore, dispatcher Dispatcher, starsPerUSD int, logger *logger.Logger) *Service {
	return &Service{
		txRunner:    txRunner,
		deposits:    deposits,
		events:      events,
		balances:    balances,
		dispatcher:  dispatcher,
		starsPerUSD: decimal.NewFromInt(int64(starsPerUSD)),
		logger:      logger,
	}
}

// StarsFor converts a settled deposit amount to stars
func (s *Service) StarsFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(s.starsPerUSD)
}

// Reconcile credits a deposit for a settled transfer. The whole credit
// runs under a row lock on the deposit so a transfer can credit at most
// once: a repeat of the same (deposit, txHash) pair, a terminal deposit,
// or a txHash already credited elsewhere all come back as no-ops, never
// as a second credit. source records what initiated the attempt on the
// deposit timeline.
func (s *Service) Reconcile(ctx context.Context, depositID uuid.UUID, txHash string, actual decimal.Decimal, source entities.DepositEventType) (*Outcome, error) {
	outcome := &Outcome{}

	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		deposit, err := s.deposits.GetForUpdate(ctx, tx, depositID)
		if err != nil {
			return err
		}
		outcome.Deposit = deposit

		if deposit.Status == entities.StarDepositStatusCredited {
			if deposit.TxHash != nil && *deposit.TxHash == txHash {
				outcome.NoOpReason = "already credited by this transfer"
			} else {
				outcome.NoOpReason = "already credited by another transfer"
			}
			return nil
		}

		if deposit.Status.IsTerminal() {
			outcome.NoOpReason = fmt.Sprintf("deposit is %s", deposit.Status)
			return nil
		}

		// The partial unique index on credited tx hashes backs this
		// check against concurrent reconciles of the same transfer.
		other, err := s.deposits.FindCreditedByTxHash(ctx, tx, txHash, deposit.Chain)
		if err != nil {
			return err
		}
		if other != nil {
			outcome.NoOpReason = fmt.Sprintf("transfer already credited deposit %s", other.ID)
			return nil
		}

		if err := deposit.MarkCredited(txHash, actual); err != nil {
			return fmt.Errorf("%w: %v", domainerrors.ErrConflict, err)
		}
		if err := s.deposits.UpdateTx(ctx, tx, deposit); err != nil {
			return err
		}

		stars := s.StarsFor(actual)
		balance, err := s.balances.ApplyDelta(ctx, tx, deposit.UserID, stars)
		if err != nil {
			return err
		}

		st := entities.NewStarTransaction(deposit.UserID, stars, entities.StarTxDepositCredit, &deposit.ID,
			fmt.Sprintf("deposit credit for tx %s", txHash))
		if err := s.balances.InsertTransaction(ctx, tx, st); err != nil {
			return err
		}

		if source != "" && source != entities.EventCredited {
			if err := s.events.AppendTx(ctx, tx, entities.NewDepositEvent(deposit.ID, source,
				fmt.Sprintf("transfer %s matched (amount %s)", txHash, actual))); err != nil {
				return err
			}
		}
		if err := s.events.AppendTx(ctx, tx, entities.NewDepositEvent(deposit.ID, entities.EventCredited,
			fmt.Sprintf("credited %s stars for tx %s", stars, txHash))); err != nil {
			return err
		}

		outcome.Credited = true
		outcome.Stars = stars
		outcome.NewBalance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcome.Credited {
		s.logger.Info("Deposit credited",
			"deposit_id", depositID,
			"user_id", outcome.Deposit.UserID,
			"tx_hash", txHash,
			"stars", outcome.Stars)
		stars, _ := outcome.Stars.Float64()
		metrics.StarsCreditedTotal.WithLabelValues(string(outcome.Deposit.Chain)).Add(stars)
		if s.dispatcher != nil {
			s.dispatcher.DepositCredited(outcome.Deposit, outcome.Stars, outcome.NewBalance)
		}
	} else {
		s.logger.Info("Reconcile no-op",
			"deposit_id", depositID,
			"tx_hash", txHash,
			"reason", outcome.NoOpReason)
	}

	return outcome, nil
}

// Refund reverses a credited deposit: the credited stars come back off
// the balance, a refund ledger row is written and the deposit moves to
// failed. Only credited deposits can be refunded; a deposit already
// refunded reports a conflict.
func (s *Service) Refund(ctx context.Context, depositID uuid.UUID, note string) (*Outcome, error) {
	outcome := &Outcome{}

	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		deposit, err := s.deposits.GetForUpdate(ctx, tx, depositID)
		if err != nil {
			return err
		}
		outcome.Deposit = deposit

		if deposit.Status != entities.StarDepositStatusCredited {
			if deposit.Status == entities.StarDepositStatusFailed {
				return domainerrors.ErrDepositAlreadyRefunded
			}
			return domainerrors.ErrDepositNotCredited
		}
		if deposit.ActualAmount == nil {
			return fmt.Errorf("%w: credited deposit has no settled amount", domainerrors.ErrInternal)
		}

		stars := s.StarsFor(*deposit.ActualAmount)
		balance, err := s.balances.ApplyDelta(ctx, tx, deposit.UserID, stars.Neg())
		if err != nil {
			return err
		}

		st := entities.NewStarTransaction(deposit.UserID, stars.Neg(), entities.StarTxRefund, &deposit.ID, note)
		if err := s.balances.InsertTransaction(ctx, tx, st); err != nil {
			return err
		}

		deposit.Status = entities.StarDepositStatusFailed
		if err := s.deposits.UpdateTx(ctx, tx, deposit); err != nil {
			return err
		}

		msg := fmt.Sprintf("refunded %s stars", stars)
		if note != "" {
			msg = fmt.Sprintf("%s: %s", msg, note)
		}
		if err := s.events.AppendTx(ctx, tx, entities.NewDepositEvent(deposit.ID, entities.EventAdminRefund, msg)); err != nil {
			return err
		}

		outcome.Stars = stars
		outcome.NewBalance = balance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Deposit refunded",
		"deposit_id", depositID,
		"user_id", outcome.Deposit.UserID,
		"stars", outcome.Stars)
	if s.dispatcher != nil {
		s.dispatcher.BalanceChanged(outcome.Deposit.UserID)
	}

	return outcome, nil
}

// Adjust applies a manual grant or deduction to a user's balance and
// returns the new balance. The sign of delta picks the ledger type.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, note string) (decimal.Decimal, error) {
	if delta.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: adjustment delta must be non-zero", domainerrors.ErrInvalidInput)
	}

	txType := entities.StarTxAdminGrant
	if delta.IsNegative() {
		txType = entities.StarTxAdminDeduct
	}

	var balance decimal.Decimal
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		balance, err = s.balances.ApplyDelta(ctx, tx, userID, delta)
		if err != nil {
			return err
		}
		return s.balances.InsertTransaction(ctx, tx, entities.NewStarTransaction(userID, delta, txType, nil, note))
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrInsufficientStars) {
			return decimal.Zero, domainerrors.NewDomainError(err, "INSUFFICIENT_STARS", "star balance cannot go negative").
				WithDetails(map[string]interface{}{"userId": userID.String(), "delta": delta.String()})
		}
		return decimal.Zero, err
	}

	s.logger.Info("Balance adjusted", "user_id", userID, "delta", delta, "type", txType)
	if s.dispatcher != nil {
		s.dispatcher.BalanceChanged(userID)
	}

	return balance, nil
}

// Balance reads a user's current star balance
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return s.balances.GetBalance(ctx, userID)
}
