package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReconcileJobKind distinguishes the two queue job flavors
type ReconcileJobKind string

const (
	// JobKindTransfer is an extracted chain transfer awaiting a matching deposit
	JobKindTransfer ReconcileJobKind = "transfer"
	// JobKindDepositRecheck re-scans unmatched transfers for one deposit
	JobKindDepositRecheck ReconcileJobKind = "deposit_recheck"
)

// ReconcileJobStatus represents the queue state of a job
type ReconcileJobStatus string

const (
	JobStatusPending    ReconcileJobStatus = "pending"
	JobStatusProcessing ReconcileJobStatus = "processing"
	JobStatusCompleted  ReconcileJobStatus = "completed"
	JobStatusUnmatched  ReconcileJobStatus = "unmatched"
	JobStatusFailed     ReconcileJobStatus = "failed"
	JobStatusDLQ        ReconcileJobStatus = "dlq"
)

// JobErrorType categorizes processing failures for retry policy
type JobErrorType string

const (
	ErrorTypeTransient JobErrorType = "transient"
	ErrorTypePermanent JobErrorType = "permanent"
	ErrorTypeUnknown   JobErrorType = "unknown"
)

// Retry policy constants
const (
	JobMaxAttempts       = 10
	JobRetryBaseDelay    = 5 * time.Second
	JobRetryMaxDelay     = time.Hour
	JobDefaultBatchLimit = 10
)

// ProcessingLogEntry records one processing attempt
type ProcessingLogEntry struct {
	Timestamp  time.Time     `json:"timestamp"`
	Attempt    int           `json:"attempt"`
	Status     string        `json:"status"`
	DurationMs int64         `json:"duration_ms"`
	Error      *string       `json:"error,omitempty"`
	ErrorType  *JobErrorType `json:"error_type,omitempty"`
}

// ReconcileJob is a row in the DB-backed reconcile queue. Transfer jobs
// are deduped on (tx_hash, chain); recheck jobs are enqueued per request.
type ReconcileJob struct {
	ID             uuid.UUID            `db:"id" json:"id"`
	Kind           ReconcileJobKind     `db:"kind" json:"kind"`
	DepositID      *uuid.UUID           `db:"deposit_id" json:"depositId,omitempty"`
	DeliveryID     *uuid.UUID           `db:"delivery_id" json:"deliveryId,omitempty"`
	Chain          Chain                `db:"chain" json:"chain"`
	Asset          Asset                `db:"asset" json:"asset"`
	Amount         decimal.Decimal      `db:"amount" json:"amount"`
	TxHash         *string              `db:"tx_hash" json:"txHash,omitempty"`
	ToAddress      *string              `db:"to_address" json:"toAddress,omitempty"`
	FromAddress    *string              `db:"from_address" json:"fromAddress,omitempty"`
	Status         ReconcileJobStatus   `db:"status" json:"status"`
	AttemptCount   int                  `db:"attempt_count" json:"attemptCount"`
	MaxAttempts    int                  `db:"max_attempts" json:"maxAttempts"`
	LastError      *string              `db:"last_error" json:"lastError,omitempty"`
	ErrorType      *JobErrorType        `db:"error_type" json:"errorType,omitempty"`
	FirstSeenAt    time.Time            `db:"first_seen_at" json:"firstSeenAt"`
	LastAttemptAt  *time.Time           `db:"last_attempt_at" json:"lastAttemptAt,omitempty"`
	NextRetryAt    *time.Time           `db:"next_retry_at" json:"nextRetryAt,omitempty"`
	CompletedAt    *time.Time           `db:"completed_at" json:"completedAt,omitempty"`
	MovedToDLQAt   *time.Time           `db:"moved_to_dlq_at" json:"movedToDlqAt,omitempty"`
	ProcessingLogs []ProcessingLogEntry `db:"-" json:"processingLogs,omitempty"`
	CreatedAt      time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time            `db:"updated_at" json:"updatedAt"`
}

// NewTransferJob creates a queue entry for one extracted chain transfer
func NewTransferJob(deliveryID uuid.UUID, chain Chain, asset Asset, amount decimal.Decimal, txHash string, to, from *string) *ReconcileJob {
	now := time.Now()
	return &ReconcileJob{
		ID:          uuid.New(),
		Kind:        JobKindTransfer,
		DeliveryID:  &deliveryID,
		Chain:       chain,
		Asset:       asset,
		Amount:      amount,
		TxHash:      &txHash,
		ToAddress:   to,
		FromAddress: from,
		Status:      JobStatusPending,
		MaxAttempts: JobMaxAttempts,
		FirstSeenAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// NewDepositRecheckJob creates a queue entry that re-scans unmatched
// transfers for one deposit.
func NewDepositRecheckJob(deposit *StarDeposit) *ReconcileJob {
	now := time.Now()
	depositID := deposit.ID
	return &ReconcileJob{
		ID:          uuid.New(),
		Kind:        JobKindDepositRecheck,
		DepositID:   &depositID,
		Chain:       deposit.Chain,
		Asset:       deposit.Asset,
		Amount:      deposit.ExpectedAmount,
		Status:      JobStatusPending,
		MaxAttempts: JobMaxAttempts,
		FirstSeenAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GetRetryDelay returns the exponential backoff delay for the current
// attempt count: base * 2^(attempt-1), capped.
func (j *ReconcileJob) GetRetryDelay() time.Duration {
	attempt := j.AttemptCount
	if attempt < 1 {
		attempt = 1
	}
	delay := JobRetryBaseDelay << (attempt - 1)
	if delay > JobRetryMaxDelay || delay <= 0 {
		return JobRetryMaxDelay
	}
	return delay
}

// MarkProcessing transitions the job to processing and bumps the attempt
func (j *ReconcileJob) MarkProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.AttemptCount++
	j.LastAttemptAt = &now
	j.UpdatedAt = now
}

// MarkCompleted transitions the job to its success terminal state
func (j *ReconcileJob) MarkCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// MarkUnmatched parks a transfer job with no candidate deposit. Unmatched
// jobs are not retried by the queue; deposit rechecks re-scan them.
func (j *ReconcileJob) MarkUnmatched() {
	now := time.Now()
	j.Status = JobStatusUnmatched
	j.NextRetryAt = nil
	j.UpdatedAt = now
}

// MarkFailed records a failure. Permanent errors and exhausted attempts
// move the job to the DLQ; otherwise a retry is scheduled.
func (j *ReconcileJob) MarkFailed(err error, errorType JobErrorType, retryDelay time.Duration) {
	now := time.Now()
	msg := err.Error()
	j.LastError = &msg
	j.ErrorType = &errorType
	j.UpdatedAt = now

	if errorType == ErrorTypePermanent || j.AttemptCount >= j.MaxAttempts {
		j.Status = JobStatusDLQ
		j.MovedToDLQAt = &now
		j.NextRetryAt = nil
		return
	}

	next := now.Add(retryDelay)
	j.Status = JobStatusFailed
	j.NextRetryAt = &next
}

// AddProcessingLog appends an attempt record to the job's log
func (j *ReconcileJob) AddProcessingLog(entry ProcessingLogEntry) {
	j.ProcessingLogs = append(j.ProcessingLogs, entry)
}
