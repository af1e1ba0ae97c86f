package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/pkg/logger"
)

type mockDepositStore struct {
	mock.Mock
}

func (m *mockDepositStore) Create(ctx context.Context, d *entities.StarDeposit) error {
	return m.Called(ctx, d).Error(0)
}

func (m *mockDepositStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.StarDeposit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.StarDeposit), args.Error(1)
}

func (m *mockDepositStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarDeposit, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.StarDeposit), args.Error(1)
}

type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) Append(ctx context.Context, ev *entities.StarDepositEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockEventStore) ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.StarDepositEvent, error) {
	args := m.Called(ctx, depositID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.StarDepositEvent), args.Error(1)
}

type mockJobQueue struct {
	mock.Mock
}

func (m *mockJobQueue) Enqueue(ctx context.Context, job *entities.ReconcileJob) error {
	return m.Called(ctx, job).Error(0)
}

type mockLedgerReader struct {
	mock.Mock
}

func (m *mockLedgerReader) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// fakeBalanceCache implements cache.RedisClient over a map
type fakeBalanceCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{data: map[string][]byte{}}
}

func (f *fakeBalanceCache) Set(ctx context.Context, key string, value interface{}, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = b
	return nil
}

func (f *fakeBalanceCache) Get(ctx context.Context, key string, dest interface{}) error {
	f.mu.Lock()
	b, ok := f.data[key]
	f.mu.Unlock()
	if !ok {
		return redis.Nil
	}
	return json.Unmarshal(b, dest)
}

func (f *fakeBalanceCache) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeBalanceCache) RPush(ctx context.Context, key string, values ...string) error {
	return nil
}

func (f *fakeBalanceCache) Ping(ctx context.Context) error { return nil }
func (f *fakeBalanceCache) Close() error                   { return nil }
func (f *fakeBalanceCache) Client() *redis.Client          { return nil }

type starsFixture struct {
	deposits *mockDepositStore
	events   *mockEventStore
	queue    *mockJobQueue
	ledger   *mockLedgerReader
	cache    *fakeBalanceCache
	router   *gin.Engine
}

func newStarsFixture(t *testing.T, userID uuid.UUID) *starsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &starsFixture{
		deposits: new(mockDepositStore),
		events:   new(mockEventStore),
		queue:    new(mockJobQueue),
		ledger:   new(mockLedgerReader),
		cache:    newFakeBalanceCache(),
	}

	h := NewStarsHandlers(f.deposits, f.events, f.queue, f.ledger, nil, f.cache, 60, logger.New("error", "test"))

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})
	r.POST("/deposits", h.CreateDeposit)
	r.GET("/deposits", h.ListDeposits)
	r.POST("/deposits/:id/retry", h.RetryDeposit)
	r.GET("/deposits/:id/events", h.DepositEvents)
	r.GET("/balance", h.Balance)
	f.router = r
	return f
}

func (f *starsFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestCreateDepositValidation(t *testing.T) {
	f := newStarsFixture(t, uuid.New())

	cases := []struct {
		name string
		body string
	}{
		{"unknown chain", `{"chain":"DOGECOIN","asset":"USDC","expectedAmount":"10"}`},
		{"unknown asset", `{"chain":"SOLANA","asset":"DOGE","expectedAmount":"10"}`},
		{"negative amount", `{"chain":"SOLANA","asset":"USDC","expectedAmount":"-1"}`},
		{"zero amount", `{"chain":"SOLANA","asset":"USDC","expectedAmount":"0"}`},
		{"non-decimal amount", `{"chain":"SOLANA","asset":"USDC","expectedAmount":"ten"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/deposits", []byte(tc.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	f.deposits.AssertNotCalled(t, "Create")
}

func TestCreateDeposit(t *testing.T) {
	userID := uuid.New()
	f := newStarsFixture(t, userID)
	f.deposits.On("Create", mock.Anything, mock.MatchedBy(func(d *entities.StarDeposit) bool {
		return d.UserID == userID &&
			d.Chain == entities.ChainSolana &&
			d.Asset == entities.AssetUSDC &&
			d.Status == entities.StarDepositStatusPending
	})).Return(nil)

	w := f.do(http.MethodPost, "/deposits", []byte(`{"chain":"solana","asset":"usdc","expectedAmount":"25.5"}`))

	require.Equal(t, http.StatusCreated, w.Code)
	f.deposits.AssertExpectations(t)
}

func TestRetryDepositEnqueuesRecheck(t *testing.T) {
	userID := uuid.New()
	f := newStarsFixture(t, userID)
	deposit := entities.NewStarDeposit(userID, entities.ChainTron, entities.AssetUSDT, decimal.NewFromInt(50), nil)

	f.deposits.On("GetByID", mock.Anything, deposit.ID).Return(deposit, nil)
	f.events.On("Append", mock.Anything, mock.MatchedBy(func(ev *entities.StarDepositEvent) bool {
		return ev.DepositID == deposit.ID && ev.EventType == entities.EventUserRetry
	})).Return(nil)
	f.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(job *entities.ReconcileJob) bool {
		return job.Kind == entities.JobKindDepositRecheck
	})).Return(nil)

	w := f.do(http.MethodPost, "/deposits/"+deposit.ID.String()+"/retry", nil)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		OK    bool      `json:"ok"`
		JobID uuid.UUID `json:"jobId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.OK)
	assert.NotEqual(t, uuid.Nil, resp.JobID)
	f.events.AssertExpectations(t)
	f.queue.AssertExpectations(t)
}

func TestRetryDepositHidesForeignDeposit(t *testing.T) {
	f := newStarsFixture(t, uuid.New())
	other := entities.NewStarDeposit(uuid.New(), entities.ChainSolana, entities.AssetSOL, decimal.NewFromInt(1), nil)
	f.deposits.On("GetByID", mock.Anything, other.ID).Return(other, nil)

	w := f.do(http.MethodPost, "/deposits/"+other.ID.String()+"/retry", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	f.queue.AssertNotCalled(t, "Enqueue")
}

func TestRetryDepositConflictsOnSettled(t *testing.T) {
	userID := uuid.New()
	f := newStarsFixture(t, userID)

	credited := entities.NewStarDeposit(userID, entities.ChainSolana, entities.AssetUSDC, decimal.NewFromInt(10), nil)
	credited.Status = entities.StarDepositStatusCredited
	expired := entities.NewStarDeposit(userID, entities.ChainSolana, entities.AssetUSDC, decimal.NewFromInt(10), nil)
	expired.Status = entities.StarDepositStatusExpired

	f.deposits.On("GetByID", mock.Anything, credited.ID).Return(credited, nil)
	f.deposits.On("GetByID", mock.Anything, expired.ID).Return(expired, nil)

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/deposits/"+credited.ID.String()+"/retry", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/deposits/"+expired.ID.String()+"/retry", nil).Code)
	f.queue.AssertNotCalled(t, "Enqueue")
}

func TestRetryDepositUnknownID(t *testing.T) {
	f := newStarsFixture(t, uuid.New())
	id := uuid.New()
	f.deposits.On("GetByID", mock.Anything, id).Return(nil, domainerrors.ErrDepositNotFound)

	w := f.do(http.MethodPost, "/deposits/"+id.String()+"/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBalanceReadsThroughCache(t *testing.T) {
	userID := uuid.New()
	f := newStarsFixture(t, userID)
	f.ledger.On("Balance", mock.Anything, userID).Return(decimal.NewFromInt(1200), nil).Once()

	// First read misses the cache and hits the ledger.
	w := f.do(http.MethodGet, "/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var first balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.False(t, first.Cached)
	assert.True(t, decimal.NewFromInt(1200).Equal(first.Balance))

	// Second read is served from the cache; the ledger mock would
	// panic on a second call because of Once.
	w = f.do(http.MethodGet, "/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var second balanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.True(t, decimal.NewFromInt(1200).Equal(second.Balance))
}

func TestDepositEventsTimeline(t *testing.T) {
	userID := uuid.New()
	f := newStarsFixture(t, userID)
	deposit := entities.NewStarDeposit(userID, entities.ChainEthereum, entities.AssetUSDC, decimal.NewFromInt(30), nil)

	events := []*entities.StarDepositEvent{
		entities.NewDepositEvent(deposit.ID, entities.EventWebhookMatched, "matched"),
		entities.NewDepositEvent(deposit.ID, entities.EventCredited, "credited"),
	}
	f.deposits.On("GetByID", mock.Anything, deposit.ID).Return(deposit, nil)
	f.events.On("ListByDeposit", mock.Anything, deposit.ID).Return(events, nil)

	w := f.do(http.MethodGet, "/deposits/"+deposit.ID.String()+"/events", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "WEBHOOK_MATCHED")
	assert.Contains(t, w.Body.String(), "CREDITED")
}
