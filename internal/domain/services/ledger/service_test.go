package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/pkg/logger"
)

// fakeTxRunner invokes the callback with a nil transaction; the mocked
// stores below ignore the tx argument.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

type mockDepositStore struct {
	mock.Mock
}

func (m *mockDepositStore) GetForUpdate(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*entities.StarDeposit, error) {
	args := m.Called(ctx, tx, id)
	if d := args.Get(0); d != nil {
		return d.(*entities.StarDeposit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDepositStore) FindCreditedByTxHash(ctx context.Context, tx *sqlx.Tx, txHash string, chain entities.Chain) (*entities.StarDeposit, error) {
	args := m.Called(ctx, tx, txHash, chain)
	if d := args.Get(0); d != nil {
		return d.(*entities.StarDeposit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDepositStore) UpdateTx(ctx context.Context, tx *sqlx.Tx, d *entities.StarDeposit) error {
	args := m.Called(ctx, tx, d)
	return args.Error(0)
}

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) AppendTx(ctx context.Context, tx *sqlx.Tx, ev *entities.StarDepositEvent) error {
	args := m.Called(ctx, tx, ev)
	return args.Error(0)
}

type mockBalanceStore struct {
	mock.Mock
}

func (m *mockBalanceStore) ApplyDelta(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	args := m.Called(ctx, tx, userID, delta)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockBalanceStore) InsertTransaction(ctx context.Context, tx *sqlx.Tx, st *entities.StarTransaction) error {
	args := m.Called(ctx, tx, st)
	return args.Error(0)
}

func (m *mockBalanceStore) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type fixture struct {
	deposits *mockDepositStore
	events   *mockEventStore
	balances *mockBalanceStore
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		deposits: new(mockDepositStore),
		events:   new(mockEventStore),
		balances: new(mockBalanceStore),
	}
	f.svc = NewService(fakeTxRunner{}, f.deposits, f.events, f.balances, nil, 100, logger.New("error", "test"))
	return f
}

func pendingDeposit(expected string) *entities.StarDeposit {
	return &entities.StarDeposit{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Chain:          entities.ChainSolana,
		Asset:          entities.AssetUSDC,
		ExpectedAmount: decimal.RequireFromString(expected),
		Status:         entities.StarDepositStatusPending,
		CreatedAt:      time.Now(),
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}
}

func TestReconcileCreditsPendingDeposit(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	actual := decimal.RequireFromString("100.25")

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)
	f.deposits.On("FindCreditedByTxHash", mock.Anything, mock.Anything, "tx1", entities.ChainSolana).Return(nil, nil)
	f.deposits.On("UpdateTx", mock.Anything, mock.Anything, deposit).Return(nil)
	f.balances.On("ApplyDelta", mock.Anything, mock.Anything, deposit.UserID,
		mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(decimal.RequireFromString("10025")) }),
	).Return(decimal.RequireFromString("10025"), nil)
	f.balances.On("InsertTransaction", mock.Anything, mock.Anything, mock.MatchedBy(func(st *entities.StarTransaction) bool {
		return st.TxType == entities.StarTxDepositCredit && st.Delta.Equal(decimal.RequireFromString("10025"))
	})).Return(nil)
	f.events.On("AppendTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	outcome, err := f.svc.Reconcile(context.Background(), deposit.ID, "tx1", actual, entities.EventWebhookMatched)

	require.NoError(t, err)
	assert.True(t, outcome.Credited)
	assert.True(t, outcome.Stars.Equal(decimal.RequireFromString("10025")))
	assert.Equal(t, entities.StarDepositStatusCredited, deposit.Status)
	f.deposits.AssertExpectations(t)
	f.balances.AssertExpectations(t)
}

func TestReconcileSameTransferTwiceIsNoOp(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	tx := "tx1"
	actual := decimal.RequireFromString("100")
	deposit.Status = entities.StarDepositStatusCredited
	deposit.TxHash = &tx
	deposit.ActualAmount = &actual

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)

	outcome, err := f.svc.Reconcile(context.Background(), deposit.ID, "tx1", actual, entities.EventWebhookMatched)

	require.NoError(t, err)
	assert.False(t, outcome.Credited)
	f.balances.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileExpiredDepositIsNoOp(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	deposit.Status = entities.StarDepositStatusExpired

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)

	outcome, err := f.svc.Reconcile(context.Background(), deposit.ID, "tx1", decimal.RequireFromString("100"), entities.EventWebhookMatched)

	require.NoError(t, err)
	assert.False(t, outcome.Credited)
	assert.Contains(t, outcome.NoOpReason, "expired")
	f.balances.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileTransferCreditedElsewhereIsNoOp(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	other := pendingDeposit("100")
	other.Status = entities.StarDepositStatusCredited

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)
	f.deposits.On("FindCreditedByTxHash", mock.Anything, mock.Anything, "tx1", entities.ChainSolana).Return(other, nil)

	outcome, err := f.svc.Reconcile(context.Background(), deposit.ID, "tx1", decimal.RequireFromString("100"), entities.EventWebhookMatched)

	require.NoError(t, err)
	assert.False(t, outcome.Credited)
	assert.Equal(t, entities.StarDepositStatusPending, deposit.Status)
	f.balances.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReconcileMissingDepositFails(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()
	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, id).Return(nil, domainerrors.ErrDepositNotFound)

	_, err := f.svc.Reconcile(context.Background(), id, "tx1", decimal.RequireFromString("100"), entities.EventWebhookMatched)
	assert.ErrorIs(t, err, domainerrors.ErrDepositNotFound)
}

func TestRefundReversesCredit(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	tx := "tx1"
	actual := decimal.RequireFromString("100")
	deposit.Status = entities.StarDepositStatusCredited
	deposit.TxHash = &tx
	deposit.ActualAmount = &actual

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)
	f.balances.On("ApplyDelta", mock.Anything, mock.Anything, deposit.UserID,
		mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(decimal.RequireFromString("-10000")) }),
	).Return(decimal.Zero, nil)
	f.balances.On("InsertTransaction", mock.Anything, mock.Anything, mock.MatchedBy(func(st *entities.StarTransaction) bool {
		return st.TxType == entities.StarTxRefund && st.Delta.IsNegative()
	})).Return(nil)
	f.deposits.On("UpdateTx", mock.Anything, mock.Anything, deposit).Return(nil)
	f.events.On("AppendTx", mock.Anything, mock.Anything, mock.MatchedBy(func(ev *entities.StarDepositEvent) bool {
		return ev.EventType == entities.EventAdminRefund
	})).Return(nil)

	outcome, err := f.svc.Refund(context.Background(), deposit.ID, "chargeback")

	require.NoError(t, err)
	assert.True(t, outcome.Stars.Equal(decimal.RequireFromString("10000")))
	assert.Equal(t, entities.StarDepositStatusFailed, deposit.Status)
	f.balances.AssertExpectations(t)
}

func TestRefundRejectsNonCreditedDeposit(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)

	_, err := f.svc.Refund(context.Background(), deposit.ID, "")
	assert.ErrorIs(t, err, domainerrors.ErrDepositNotCredited)
}

func TestRefundTwiceReportsConflict(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	deposit.Status = entities.StarDepositStatusFailed

	f.deposits.On("GetForUpdate", mock.Anything, mock.Anything, deposit.ID).Return(deposit, nil)

	_, err := f.svc.Refund(context.Background(), deposit.ID, "")
	assert.ErrorIs(t, err, domainerrors.ErrDepositAlreadyRefunded)
}

func TestAdjustGrantAndDeduct(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	f.balances.On("ApplyDelta", mock.Anything, mock.Anything, userID, mock.Anything).Return(decimal.RequireFromString("500"), nil)
	f.balances.On("InsertTransaction", mock.Anything, mock.Anything, mock.MatchedBy(func(st *entities.StarTransaction) bool {
		return st.TxType == entities.StarTxAdminGrant
	})).Return(nil).Once()

	balance, err := f.svc.Adjust(context.Background(), userID, decimal.RequireFromString("500"), "promo grant")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("500")))

	f.balances.On("InsertTransaction", mock.Anything, mock.Anything, mock.MatchedBy(func(st *entities.StarTransaction) bool {
		return st.TxType == entities.StarTxAdminDeduct
	})).Return(nil).Once()

	_, err = f.svc.Adjust(context.Background(), userID, decimal.RequireFromString("-100"), "abuse cleanup")
	require.NoError(t, err)
}

func TestAdjustRejectsZeroDelta(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Adjust(context.Background(), uuid.New(), decimal.Zero, "")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestAdjustInsufficientStarsPropagates(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	f.balances.On("ApplyDelta", mock.Anything, mock.Anything, userID, mock.Anything).Return(decimal.Zero, domainerrors.ErrInsufficientStars)

	_, err := f.svc.Adjust(context.Background(), userID, decimal.RequireFromString("-100"), "")
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientStars)

	// The conflict carries a coded error with the rejected delta so the
	// handler can surface it without string matching.
	var de *domainerrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INSUFFICIENT_STARS", de.Code)
	assert.Equal(t, "-100", de.Details["delta"])
}
