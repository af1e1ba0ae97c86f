package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/pkg/logger"
)

// ReconcileJobRepository manages the DB-backed reconcile queue
type ReconcileJobRepository struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewReconcileJobRepository creates a new reconcile job repository
func NewReconcileJobRepository(db *sqlx.DB, logger *logger.Logger) *ReconcileJobRepository {
	return &ReconcileJobRepository{db: db, logger: logger}
}

const jobSelectColumns = `
	id, kind, deposit_id, delivery_id, chain, asset, amount, tx_hash,
	to_address, from_address, status, attempt_count, max_attempts,
	last_error, error_type, first_seen_at, last_attempt_at, next_retry_at,
	completed_at, moved_to_dlq_at, processing_logs, created_at, updated_at`

// Enqueue creates a new job. Transfer jobs are idempotent on
// (tx_hash, chain); a duplicate enqueue is a silent no-op.
func (r *ReconcileJobRepository) Enqueue(ctx context.Context, job *entities.ReconcileJob) error {
	logsJSON, err := json.Marshal(job.ProcessingLogs)
	if err != nil {
		return fmt.Errorf("failed to marshal processing logs: %w", err)
	}
	if job.ProcessingLogs == nil {
		logsJSON = []byte("[]")
	}

	query := `
		INSERT INTO reconcile_jobs (
			id, kind, deposit_id, delivery_id, chain, asset, amount, tx_hash,
			to_address, from_address, status, attempt_count, max_attempts,
			first_seen_at, processing_logs, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)`
	if job.Kind == entities.JobKindTransfer {
		query += ` ON CONFLICT (tx_hash, chain) WHERE kind = 'transfer' DO NOTHING`
	}
	query += ` RETURNING id`

	err = r.db.QueryRowContext(ctx, query,
		job.ID,
		string(job.Kind),
		job.DepositID,
		job.DeliveryID,
		string(job.Chain),
		string(job.Asset),
		job.Amount,
		job.TxHash,
		job.ToAddress,
		job.FromAddress,
		string(job.Status),
		job.AttemptCount,
		job.MaxAttempts,
		job.FirstSeenAt,
		logsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.ID)

	if err == sql.ErrNoRows {
		// Transfer already queued, fine (idempotency).
		r.logger.Debug("Job already exists, skipping", "tx_hash", job.TxHash, "chain", job.Chain)
		return nil
	}

	if err != nil {
		r.logger.Error("Failed to enqueue job", "error", err, "kind", job.Kind)
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	return nil
}

// GetNextPendingJobs retrieves jobs ready for processing
func (r *ReconcileJobRepository) GetNextPendingJobs(ctx context.Context, limit int) ([]*entities.ReconcileJob, error) {
	query := `
		SELECT` + jobSelectColumns + `
		FROM reconcile_jobs
		WHERE status = 'pending'
		   OR (status = 'failed' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW())
		ORDER BY first_seen_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entities.ReconcileJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			r.logger.Error("Failed to scan job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// Update writes a job's queue state back
func (r *ReconcileJobRepository) Update(ctx context.Context, job *entities.ReconcileJob) error {
	logsJSON, err := json.Marshal(job.ProcessingLogs)
	if err != nil {
		return fmt.Errorf("failed to marshal processing logs: %w", err)
	}

	query := `
		UPDATE reconcile_jobs
		SET status = $1,
		    attempt_count = $2,
		    last_error = $3,
		    error_type = $4,
		    last_attempt_at = $5,
		    next_retry_at = $6,
		    completed_at = $7,
		    moved_to_dlq_at = $8,
		    processing_logs = $9,
		    updated_at = $10
		WHERE id = $11`

	var errorType *string
	if job.ErrorType != nil {
		et := string(*job.ErrorType)
		errorType = &et
	}

	result, err := r.db.ExecContext(ctx, query,
		string(job.Status),
		job.AttemptCount,
		job.LastError,
		errorType,
		job.LastAttemptAt,
		job.NextRetryAt,
		job.CompletedAt,
		job.MovedToDLQAt,
		logsJSON,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("job not found: %s", job.ID)
	}

	return nil
}

// GetByID retrieves a job by id
func (r *ReconcileJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.ReconcileJob, error) {
	query := `SELECT` + jobSelectColumns + ` FROM reconcile_jobs WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	job, err := r.scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetUnmatchedTransfers returns parked transfer jobs on a (chain, asset)
// pair, oldest first. Deposit rechecks re-scan these.
func (r *ReconcileJobRepository) GetUnmatchedTransfers(ctx context.Context, chain entities.Chain, asset entities.Asset, limit int) ([]*entities.ReconcileJob, error) {
	query := `
		SELECT` + jobSelectColumns + `
		FROM reconcile_jobs
		WHERE kind = 'transfer' AND status = 'unmatched' AND chain = $1 AND asset = $2
		ORDER BY first_seen_at ASC
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, string(chain), string(asset), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unmatched transfers: %w", err)
	}
	defer rows.Close()

	var jobs []*entities.ReconcileJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			r.logger.Error("Failed to scan unmatched transfer", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetDLQJobs retrieves jobs in the dead letter queue
func (r *ReconcileJobRepository) GetDLQJobs(ctx context.Context, limit, offset int) ([]*entities.ReconcileJob, error) {
	query := `
		SELECT` + jobSelectColumns + `
		FROM reconcile_jobs
		WHERE status = 'dlq'
		ORDER BY moved_to_dlq_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*entities.ReconcileJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			r.logger.Error("Failed to scan DLQ job", "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// QueueMetrics summarizes queue health over the last 24 hours
type QueueMetrics struct {
	TotalReceived  int64   `db:"total_received"`
	TotalCompleted int64   `db:"total_completed"`
	TotalUnmatched int64   `db:"total_unmatched"`
	TotalFailed    int64   `db:"total_failed"`
	TotalDLQ       int64   `db:"total_dlq"`
	PendingCount   int64   `db:"pending_count"`
	AvgAttempts    float64 `db:"avg_attempts"`
}

// GetMetrics retrieves queue processing metrics
func (r *ReconcileJobRepository) GetMetrics(ctx context.Context) (*QueueMetrics, error) {
	query := `
		SELECT
			COUNT(*) AS total_received,
			COUNT(*) FILTER (WHERE status = 'completed') AS total_completed,
			COUNT(*) FILTER (WHERE status = 'unmatched') AS total_unmatched,
			COUNT(*) FILTER (WHERE status = 'failed') AS total_failed,
			COUNT(*) FILTER (WHERE status = 'dlq') AS total_dlq,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending_count,
			COALESCE(AVG(attempt_count) FILTER (WHERE status IN ('completed', 'dlq')), 0) AS avg_attempts
		FROM reconcile_jobs
		WHERE created_at > NOW() - INTERVAL '24 hours'`

	var m QueueMetrics
	if err := r.db.GetContext(ctx, &m, query); err != nil {
		return nil, fmt.Errorf("failed to get queue metrics: %w", err)
	}
	return &m, nil
}

// scanJob is a helper to scan a job from a row
func (r *ReconcileJobRepository) scanJob(scanner interface {
	Scan(dest ...interface{}) error
}) (*entities.ReconcileJob, error) {
	var job entities.ReconcileJob
	var kind, chain, asset, status string
	var errorType *string
	var logsJSON []byte

	err := scanner.Scan(
		&job.ID,
		&kind,
		&job.DepositID,
		&job.DeliveryID,
		&chain,
		&asset,
		&job.Amount,
		&job.TxHash,
		&job.ToAddress,
		&job.FromAddress,
		&status,
		&job.AttemptCount,
		&job.MaxAttempts,
		&job.LastError,
		&errorType,
		&job.FirstSeenAt,
		&job.LastAttemptAt,
		&job.NextRetryAt,
		&job.CompletedAt,
		&job.MovedToDLQAt,
		&logsJSON,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = entities.ReconcileJobKind(kind)
	job.Chain = entities.Chain(chain)
	job.Asset = entities.Asset(asset)
	job.Status = entities.ReconcileJobStatus(status)

	if errorType != nil {
		et := entities.JobErrorType(*errorType)
		job.ErrorType = &et
	}

	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &job.ProcessingLogs); err != nil {
			r.logger.Warn("Failed to unmarshal processing logs", "error", err)
		}
	}

	return &job, nil
}
