package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/pkg/logger"
)

type mockDepositStore struct {
	mock.Mock
}

func (m *mockDepositStore) ExpirePending(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, now)
	if ids := args.Get(0); ids != nil {
		return ids.([]uuid.UUID), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Append(ctx context.Context, ev *entities.StarDepositEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestSweepRecordsExpiryEvents(t *testing.T) {
	deposits := new(mockDepositStore)
	events := new(mockEventStore)
	expired := []uuid.UUID{uuid.New(), uuid.New()}

	deposits.On("ExpirePending", mock.Anything, mock.Anything).Return(expired, nil)
	events.On("Append", mock.Anything, mock.MatchedBy(func(ev *entities.StarDepositEvent) bool {
		return ev.EventType == entities.EventExpired
	})).Return(nil).Times(len(expired))

	w := NewWorker(deposits, events, logger.New("error", "test"))
	w.Sweep(context.Background())

	deposits.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestSweepWithNothingToExpireIsQuiet(t *testing.T) {
	deposits := new(mockDepositStore)
	events := new(mockEventStore)

	deposits.On("ExpirePending", mock.Anything, mock.Anything).Return(nil, nil)

	w := NewWorker(deposits, events, logger.New("error", "test"))
	w.Sweep(context.Background())

	events.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSweepSurvivesStoreError(t *testing.T) {
	deposits := new(mockDepositStore)
	events := new(mockEventStore)

	deposits.On("ExpirePending", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	w := NewWorker(deposits, events, logger.New("error", "test"))
	w.Sweep(context.Background())

	events.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}
