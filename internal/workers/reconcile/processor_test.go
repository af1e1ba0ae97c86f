package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/internal/domain/services/ledger"
	"github.com/vidora/stars-service/internal/domain/services/match"
	"github.com/vidora/stars-service/internal/infrastructure/repositories"
	"github.com/vidora/stars-service/pkg/logger"
)

type mockJobStore struct {
	mock.Mock
}

func (m *mockJobStore) GetNextPendingJobs(ctx context.Context, limit int) ([]*entities.ReconcileJob, error) {
	args := m.Called(ctx, limit)
	if j := args.Get(0); j != nil {
		return j.([]*entities.ReconcileJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobStore) Update(ctx context.Context, job *entities.ReconcileJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *mockJobStore) GetUnmatchedTransfers(ctx context.Context, chain entities.Chain, asset entities.Asset, limit int) ([]*entities.ReconcileJob, error) {
	args := m.Called(ctx, chain, asset, limit)
	if j := args.Get(0); j != nil {
		return j.([]*entities.ReconcileJob), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockJobStore) GetMetrics(ctx context.Context) (*repositories.QueueMetrics, error) {
	args := m.Called(ctx)
	if q := args.Get(0); q != nil {
		return q.(*repositories.QueueMetrics), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDepositStore struct {
	mock.Mock
}

func (m *mockDepositStore) FindMatchCandidates(ctx context.Context, chain entities.Chain, asset entities.Asset) ([]*entities.StarDeposit, error) {
	args := m.Called(ctx, chain, asset)
	if d := args.Get(0); d != nil {
		return d.([]*entities.StarDeposit), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDepositStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.StarDeposit, error) {
	args := m.Called(ctx, id)
	if d := args.Get(0); d != nil {
		return d.(*entities.StarDeposit), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDeliveryStore struct {
	mock.Mock
}

func (m *mockDeliveryStore) SetOutcome(ctx context.Context, id uuid.UUID, outcome entities.DeliveryOutcome) error {
	args := m.Called(ctx, id, outcome)
	return args.Error(0)
}

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, depositID uuid.UUID, txHash string, actual decimal.Decimal, source entities.DepositEventType) (*ledger.Outcome, error) {
	args := m.Called(ctx, depositID, txHash, actual, source)
	if o := args.Get(0); o != nil {
		return o.(*ledger.Outcome), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	jobs       *mockJobStore
	deposits   *mockDepositStore
	deliveries *mockDeliveryStore
	reconciler *mockReconciler
	processor  *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:       new(mockJobStore),
		deposits:   new(mockDepositStore),
		deliveries: new(mockDeliveryStore),
		reconciler: new(mockReconciler),
	}

	cfg := ProcessorConfig{
		WorkerCount:             1,
		PollInterval:            time.Second,
		BatchSize:               10,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   time.Minute,
	}

	p, err := NewProcessor(cfg, f.jobs, f.deposits, f.deliveries, f.reconciler, match.NewMatcher(50), logger.New("error", "test"))
	require.NoError(t, err)
	f.processor = p
	return f
}

func transferJob(amount string) *entities.ReconcileJob {
	deliveryID := uuid.New()
	return entities.NewTransferJob(deliveryID, entities.ChainSolana, entities.AssetUSDC,
		decimal.RequireFromString(amount), "tx-"+uuid.NewString(), nil, nil)
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

func TestProcessTransferJobCreditsMatchedDeposit(t *testing.T) {
	f := newFixture(t)
	job := transferJob("100.2")
	deposit := pendingDeposit("100")

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.deposits.On("FindMatchCandidates", mock.Anything, entities.ChainSolana, entities.AssetUSDC).
		Return([]*entities.StarDeposit{deposit}, nil)
	f.reconciler.On("Reconcile", mock.Anything, deposit.ID, *job.TxHash, job.Amount, entities.EventWebhookMatched).
		Return(&ledger.Outcome{Deposit: deposit, Credited: true}, nil)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusCompleted, job.Status)
	f.reconciler.AssertExpectations(t)
}

func TestProcessTransferJobParksWhenNoCandidate(t *testing.T) {
	f := newFixture(t)
	job := transferJob("250")

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.deposits.On("FindMatchCandidates", mock.Anything, entities.ChainSolana, entities.AssetUSDC).
		Return(nil, nil)
	f.deliveries.On("SetOutcome", mock.Anything, *job.DeliveryID, entities.OutcomeUnmatched).Return(nil)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusUnmatched, job.Status)
	assert.Nil(t, job.NextRetryAt)
	f.deliveries.AssertExpectations(t)
	f.reconciler.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessTransferJobTransientFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	job := transferJob("100")

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.deposits.On("FindMatchCandidates", mock.Anything, entities.ChainSolana, entities.AssetUSDC).
		Return(nil, assert.AnError)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusFailed, job.Status)
	require.NotNil(t, job.NextRetryAt)
	assert.Equal(t, 1, job.AttemptCount)
}

func TestProcessTransferJobExhaustedAttemptsMovesToDLQ(t *testing.T) {
	f := newFixture(t)
	job := transferJob("100")
	job.AttemptCount = entities.JobMaxAttempts - 1 // MarkProcessing bumps to max

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.deposits.On("FindMatchCandidates", mock.Anything, entities.ChainSolana, entities.AssetUSDC).
		Return(nil, assert.AnError)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusDLQ, job.Status)
	assert.NotNil(t, job.MovedToDLQAt)
}

func TestProcessRecheckCreditsFromParkedTransfer(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	job := entities.NewDepositRecheckJob(deposit)

	parked := transferJob("100.1")
	parked.Status = entities.JobStatusUnmatched

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.jobs.On("Update", mock.Anything, parked).Return(nil)
	f.deposits.On("GetByID", mock.Anything, deposit.ID).Return(deposit, nil)
	f.jobs.On("GetUnmatchedTransfers", mock.Anything, entities.ChainSolana, entities.AssetUSDC, unmatchedTransferBatch).
		Return([]*entities.ReconcileJob{parked}, nil)
	f.reconciler.On("Reconcile", mock.Anything, deposit.ID, *parked.TxHash, parked.Amount, entities.EventUserRetry).
		Return(&ledger.Outcome{Deposit: deposit, Credited: true}, nil)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusCompleted, job.Status)
	assert.Equal(t, entities.JobStatusCompleted, parked.Status)
}

func TestProcessRecheckWithNoTransferRetries(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	job := entities.NewDepositRecheckJob(deposit)

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.deposits.On("GetByID", mock.Anything, deposit.ID).Return(deposit, nil)
	f.jobs.On("GetUnmatchedTransfers", mock.Anything, entities.ChainSolana, entities.AssetUSDC, unmatchedTransferBatch).
		Return(nil, nil)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorType)
	assert.Equal(t, entities.ErrorTypeTransient, *job.ErrorType)
}

func TestProcessRecheckSkipsSettledDeposit(t *testing.T) {
	f := newFixture(t)
	deposit := pendingDeposit("100")
	deposit.Status = entities.StarDepositStatusCredited
	job := entities.NewDepositRecheckJob(deposit)

	f.jobs.On("Update", mock.Anything, job).Return(nil)
	f.deposits.On("GetByID", mock.Anything, deposit.ID).Return(deposit, nil)

	f.processor.ProcessJob(context.Background(), job)

	assert.Equal(t, entities.JobStatusCompleted, job.Status)
	f.jobs.AssertNotCalled(t, "GetUnmatchedTransfers", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPickTransferPrefersAddressThenAmountThenAge(t *testing.T) {
	f := newFixture(t)
	addr := "DepositAddr"
	deposit := pendingDeposit("100")
	deposit.DepositAddress = &addr

	exact := transferJob("100")
	addressed := transferJob("100.3")
	addressed.ToAddress = &addr

	got := f.processor.pickTransfer(deposit, []*entities.ReconcileJob{exact, addressed})
	require.NotNil(t, got)
	assert.Equal(t, addressed.ID, got.ID)

	// Without an address hit the closest amount wins.
	deposit.DepositAddress = nil
	got = f.processor.pickTransfer(deposit, []*entities.ReconcileJob{addressed, exact})
	require.NotNil(t, got)
	assert.Equal(t, exact.ID, got.ID)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)

	assert.True(t, cb.CanProcess())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.CanProcess())
	cb.RecordFailure()
	assert.False(t, cb.CanProcess())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.CanProcess())
	cb.RecordSuccess()
	assert.True(t, cb.CanProcess())
}

func TestCategorizeError(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, entities.ErrorTypeTransient, f.processor.categorizeError(errNoSettledTransfer))
	assert.Equal(t, entities.ErrorTypeTransient, f.processor.categorizeError(errors.New("connection refused")))
	assert.Equal(t, entities.ErrorTypeTransient, f.processor.categorizeError(errors.New("request timeout")))
	assert.Equal(t, entities.ErrorTypePermanent, f.processor.categorizeError(errors.New("invalid payload shape")))
	assert.Equal(t, entities.ErrorTypePermanent, f.processor.categorizeError(domainerrors.ErrDepositNotFound))
	// Unrecognized errors retry rather than drop.
	assert.Equal(t, entities.ErrorTypeTransient, f.processor.categorizeError(errors.New("something odd")))
}
