package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/internal/domain/services/ledger"
	"github.com/vidora/stars-service/internal/infrastructure/repositories"
	"github.com/vidora/stars-service/pkg/logger"
)

// LedgerAdmin is the slice of the ledger service admins drive
type LedgerAdmin interface {
	Reconcile(ctx context.Context, depositID uuid.UUID, txHash string, actual decimal.Decimal, source entities.DepositEventType) (*ledger.Outcome, error)
	Refund(ctx context.Context, depositID uuid.UUID, note string) (*ledger.Outcome, error)
	Adjust(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, note string) (decimal.Decimal, error)
}

// JobAdminStore reads queue state for the admin endpoints
type JobAdminStore interface {
	GetDLQJobs(ctx context.Context, limit, offset int) ([]*entities.ReconcileJob, error)
	GetMetrics(ctx context.Context) (*repositories.QueueMetrics, error)
}

// DeliveryAdminStore lists raw webhook deliveries for debugging
type DeliveryAdminStore interface {
	ListRecent(ctx context.Context, limit, offset int) ([]*entities.WebhookDelivery, error)
}

// AdminHandlers serves the operator endpoints behind AdminAuth
type AdminHandlers struct {
	ledger     LedgerAdmin
	deposits   DepositStore
	events     EventStore
	queue      JobQueue
	jobs       JobAdminStore
	deliveries DeliveryAdminStore
	logger     *logger.Logger
}

// NewAdminHandlers creates the admin handlers
func NewAdminHandlers(
	ledgerSvc LedgerAdmin,
	deposits DepositStore,
	events EventStore,
	queue JobQueue,
	jobs JobAdminStore,
	deliveries DeliveryAdminStore,
	logger *logger.Logger,
) *AdminHandlers {
	return &AdminHandlers{
		ledger:     ledgerSvc,
		deposits:   deposits,
		events:     events,
		queue:      queue,
		jobs:       jobs,
		deliveries: deliveries,
		logger:     logger,
	}
}

type adminReconcileRequest struct {
	TxHash       string `json:"txHash,omitempty"`
	ActualAmount string `json:"actualAmount,omitempty"`
}

// ReconcileDeposit re-runs reconciliation for a deposit. With no body it
// enqueues an immediate recheck that scans parked transfers, on the same
// attempt/backoff policy as a user retry. When the admin already knows
// the settled transfer (txHash + actualAmount) it credits directly; the
// at-most-once rules apply either way, so repeating it is a no-op.
// @Summary Reconcile a deposit now
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/stars/deposits/{id}/reconcile [post]
func (h *AdminHandlers) ReconcileDeposit(c *gin.Context) {
	depositID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req adminReconcileRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}

	if req.TxHash != "" {
		actual, err := decimal.NewFromString(req.ActualAmount)
		if err != nil || !actual.IsPositive() {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidAmount, "actualAmount must be a positive decimal", nil)
			return
		}

		outcome, err := h.ledger.Reconcile(c.Request.Context(), depositID, req.TxHash, actual, entities.EventAdminReconcile)
		if err != nil {
			respondDomainError(c, err)
			return
		}

		h.logger.Info("Admin direct reconcile",
			"deposit_id", depositID,
			"tx_hash", req.TxHash,
			"credited", outcome.Credited,
			"admin_id", adminID(c),
			"request_id", getRequestID(c))

		c.JSON(http.StatusOK, gin.H{
			"deposit":    outcome.Deposit,
			"credited":   outcome.Credited,
			"stars":      outcome.Stars,
			"noOpReason": outcome.NoOpReason,
		})
		return
	}

	deposit, err := h.deposits.GetByID(c.Request.Context(), depositID)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	if err := h.events.Append(c.Request.Context(), entities.NewDepositEvent(depositID, entities.EventAdminReconcile, "admin requested a reconcile")); err != nil {
		h.logger.Error("Failed to record admin reconcile event", "deposit_id", depositID, "error", err)
	}

	job := entities.NewDepositRecheckJob(deposit)
	if err := h.queue.Enqueue(c.Request.Context(), job); err != nil {
		h.logger.Error("Failed to enqueue admin recheck", "deposit_id", depositID, "error", err)
		respondInternalError(c, "failed to queue recheck")
		return
	}

	h.logger.Info("Admin reconcile queued",
		"deposit_id", depositID,
		"job_id", job.ID,
		"admin_id", adminID(c),
		"request_id", getRequestID(c))

	c.JSON(http.StatusOK, gin.H{"ok": true, "jobId": job.ID})
}

type adminRefundRequest struct {
	Reason string `json:"reason,omitempty"`
}

// RefundDeposit reverses a credited deposit: the stars come back off
// the balance and the deposit is marked failed.
// @Summary Refund a credited deposit
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/stars/deposits/{id}/refund [post]
func (h *AdminHandlers) RefundDeposit(c *gin.Context) {
	depositID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req adminRefundRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, "invalid request body")
			return
		}
	}

	outcome, err := h.ledger.Refund(c.Request.Context(), depositID, req.Reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.logger.Info("Admin refund",
		"deposit_id", depositID,
		"stars", outcome.Stars,
		"admin_id", adminID(c),
		"request_id", getRequestID(c))

	c.JSON(http.StatusOK, gin.H{
		"deposit":    outcome.Deposit,
		"stars":      outcome.Stars,
		"newBalance": outcome.NewBalance,
	})
}

type adminAdjustRequest struct {
	UserID string `json:"userId" binding:"required"`
	Delta  string `json:"delta" binding:"required"`
	Note   string `json:"note" binding:"required"`
}

// AdjustBalance applies a signed star delta outside the deposit flow
// @Summary Adjust a user's star balance
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/stars/adjust [post]
func (h *AdminHandlers) AdjustBalance(c *gin.Context) {
	var req adminAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "userId, delta and note are required")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, "invalid userId", nil)
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidAmount, "delta must be a decimal", nil)
		return
	}

	newBalance, err := h.ledger.Adjust(c.Request.Context(), userID, delta, req.Note)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	h.logger.Info("Admin balance adjustment",
		"user_id", userID,
		"delta", delta,
		"admin_id", adminID(c),
		"request_id", getRequestID(c))

	c.JSON(http.StatusOK, gin.H{"userId": userID, "newBalance": newBalance})
}

// DeadLetterJobs lists jobs that exhausted their retries
// @Summary List dead-letter jobs
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/stars/jobs/dlq [get]
func (h *AdminHandlers) DeadLetterJobs(c *gin.Context) {
	limit, offset := paginationParams(c)
	jobs, err := h.jobs.GetDLQJobs(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list DLQ jobs", "error", err)
		respondInternalError(c, "failed to list dead-letter jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "limit": limit, "offset": offset})
}

// QueueMetrics summarizes reconcile queue health
// @Summary Reconcile queue metrics
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} repositories.QueueMetrics
// @Router /api/v1/admin/stars/jobs/metrics [get]
func (h *AdminHandlers) QueueMetrics(c *gin.Context) {
	m, err := h.jobs.GetMetrics(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to load queue metrics", "error", err)
		respondInternalError(c, "failed to load queue metrics")
		return
	}

	c.JSON(http.StatusOK, m)
}

// Deliveries lists recent webhook deliveries for debugging
// @Summary List webhook deliveries
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/stars/deliveries [get]
func (h *AdminHandlers) Deliveries(c *gin.Context) {
	limit, offset := paginationParams(c)
	deliveries, err := h.deliveries.ListRecent(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list deliveries", "error", err)
		respondInternalError(c, "failed to list webhook deliveries")
		return
	}

	c.JSON(http.StatusOK, gin.H{"deliveries": deliveries, "limit": limit, "offset": offset})
}
