package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/internal/infrastructure/cache"
	"github.com/vidora/stars-service/pkg/logger"
)

// DepositStore is the deposit persistence the user endpoints need
type DepositStore interface {
	Create(ctx context.Context, d *entities.StarDeposit) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.StarDeposit, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarDeposit, error)
}

// EventStore reads and appends the deposit timeline
type EventStore interface {
	Append(ctx context.Context, ev *entities.StarDepositEvent) error
	ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]*entities.StarDepositEvent, error)
}

// JobQueue enqueues recheck work
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.ReconcileJob) error
}

// LedgerReader reads balances and ledger history
type LedgerReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
}

// TransactionLister reads a user's ledger rows
type TransactionLister interface {
	ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*entities.StarTransaction, error)
}

// StarsHandlers serves the authenticated user-facing star endpoints
type StarsHandlers struct {
	deposits        DepositStore
	events          EventStore
	queue           JobQueue
	ledger          LedgerReader
	transactions    TransactionLister
	cache           cache.RedisClient
	balanceCacheTTL time.Duration
	logger          *logger.Logger
}

// NewStarsHandlers creates the user-facing handlers. cache may be nil
// to serve balances straight from the database.
func NewStarsHandlers(
	deposits DepositStore,
	events EventStore,
	queue JobQueue,
	ledgerSvc LedgerReader,
	transactions TransactionLister,
	redisCache cache.RedisClient,
	balanceCacheTTLSeconds int,
	logger *logger.Logger,
) *StarsHandlers {
	return &StarsHandlers{
		deposits:        deposits,
		events:          events,
		queue:           queue,
		ledger:          ledgerSvc,
		transactions:    transactions,
		cache:           redisCache,
		balanceCacheTTL: time.Duration(balanceCacheTTLSeconds) * time.Second,
		logger:          logger,
	}
}

type createDepositRequest struct {
	Chain          string  `json:"chain" binding:"required"`
	Asset          string  `json:"asset" binding:"required"`
	ExpectedAmount string  `json:"expectedAmount" binding:"required"`
	DepositAddress *string `json:"depositAddress,omitempty"`
}

// CreateDeposit registers a deposit intent for the caller
// @Summary Create a star deposit intent
// @Tags stars
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} entities.StarDeposit
// @Router /api/v1/stars/deposits [post]
func (h *StarsHandlers) CreateDeposit(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "authentication required")
		return
	}

	var req createDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body")
		return
	}

	chain := entities.Chain(strings.ToUpper(req.Chain))
	if !chain.IsValid() {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidChain, "unsupported chain", nil)
		return
	}
	asset := entities.Asset(strings.ToUpper(req.Asset))
	if !asset.IsValid() {
		respondBadRequest(c, "unsupported asset")
		return
	}
	expected, err := decimal.NewFromString(req.ExpectedAmount)
	if err != nil || !expected.IsPositive() {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidAmount, "expectedAmount must be a positive decimal", nil)
		return
	}

	deposit := entities.NewStarDeposit(userID, chain, asset, expected, req.DepositAddress)
	if err := h.deposits.Create(c.Request.Context(), deposit); err != nil {
		h.logger.Error("Failed to create deposit", "user_id", userID, "error", err)
		respondInternalError(c, "failed to create deposit")
		return
	}

	c.JSON(http.StatusCreated, deposit)
}

// ListDeposits returns the caller's deposits, newest first
// @Summary List star deposits
// @Tags stars
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/stars/deposits [get]
func (h *StarsHandlers) ListDeposits(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "authentication required")
		return
	}

	limit, offset := paginationParams(c)
	deposits, err := h.deposits.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list deposits", "user_id", userID, "error", err)
		respondInternalError(c, "failed to list deposits")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deposits": deposits, "limit": limit, "offset": offset})
}

// RetryDeposit lets a user nudge a stuck deposit: it records the retry
// on the timeline and queues a recheck that scans parked transfers.
// @Summary Retry matching for a deposit
// @Tags stars
// @Produce json
// @Security BearerAuth
// @Success 202 {object} map[string]interface{}
// @Router /api/v1/stars/deposits/{id}/retry [post]
func (h *StarsHandlers) RetryDeposit(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "authentication required")
		return
	}
	depositID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	deposit, err := h.deposits.GetByID(c.Request.Context(), depositID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if deposit.UserID != userID {
		// Same response as a missing deposit so ids cannot be probed.
		respondNotFound(c, "deposit not found")
		return
	}
	if deposit.Status == entities.StarDepositStatusCredited {
		respondConflict(c, "deposit is already credited")
		return
	}
	if deposit.Status.IsTerminal() {
		respondConflict(c, "deposit is "+strings.ToLower(string(deposit.Status)))
		return
	}

	if err := h.events.Append(c.Request.Context(), entities.NewDepositEvent(depositID, entities.EventUserRetry, "user requested a reconcile retry")); err != nil {
		h.logger.Error("Failed to record retry event", "deposit_id", depositID, "error", err)
	}

	job := entities.NewDepositRecheckJob(deposit)
	if err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to enqueue recheck", "deposit_id", depositID, "error", err)
		respondInternalError(c, "failed to queue recheck")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"ok": true, "jobId": job.ID, "status": job.Status})
}

// DepositEvents returns a deposit's audit timeline, oldest first
// @Summary Deposit timeline
// @Tags stars
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/stars/deposits/{id}/events [get]
func (h *StarsHandlers) DepositEvents(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "authentication required")
		return
	}
	depositID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	deposit, err := h.deposits.GetByID(c.Request.Context(), depositID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if deposit.UserID != userID {
		respondNotFound(c, "deposit not found")
		return
	}

	events, err := h.events.ListByDeposit(c.Request.Context(), depositID)
	if err != nil {
		h.logger.Error("Failed to list deposit events", "deposit_id", depositID, "error", err)
		respondInternalError(c, "failed to load deposit timeline")
		return
	}

	c.JSON(http.StatusOK, gin.H{"depositId": depositID, "events": events})
}

type balanceResponse struct {
	UserID  uuid.UUID       `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
	Cached  bool            `json:"cached"`
}

// Balance returns the caller's star balance, served from cache when warm
// @Summary Star balance
// @Tags stars
// @Produce json
// @Security BearerAuth
// @Success 200 {object} balanceResponse
// @Router /api/v1/stars/balance [get]
func (h *StarsHandlers) Balance(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "authentication required")
		return
	}

	cacheKey := "stars:balance:" + userID.String()
	if h.cache != nil {
		var cached decimal.Decimal
		if err := h.cache.Get(c.Request.Context(), cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, balanceResponse{UserID: userID, Balance: cached, Cached: true})
			return
		}
	}

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if h.cache != nil && h.balanceCacheTTL > 0 {
		if err := h.cache.Set(c.Request.Context(), cacheKey, balance, h.balanceCacheTTL); err != nil {
			h.logger.Warn("Failed to cache balance", "user_id", userID, "error", err)
		}
	}

	c.JSON(http.StatusOK, balanceResponse{UserID: userID, Balance: balance})
}

// Transactions returns the caller's star ledger, newest first
// @Summary Star ledger history
// @Tags stars
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/stars/transactions [get]
func (h *StarsHandlers) Transactions(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c, "authentication required")
		return
	}

	limit, offset := paginationParams(c)
	txs, err := h.transactions.ListTransactions(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list transactions", "user_id", userID, "error", err)
		respondInternalError(c, "failed to list transactions")
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": txs, "limit": limit, "offset": offset})
}
