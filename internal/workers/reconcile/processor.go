package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/internal/domain/services/ledger"
	"github.com/vidora/stars-service/internal/domain/services/match"
	"github.com/vidora/stars-service/internal/infrastructure/config"
	"github.com/vidora/stars-service/internal/infrastructure/repositories"
	"github.com/vidora/stars-service/pkg/logger"
	"github.com/vidora/stars-service/pkg/metrics"
)

// errNoSettledTransfer marks a recheck that found nothing to match yet.
// Transient: the transfer may still arrive, so the job retries with
// backoff until it lands or attempts run out.
var errNoSettledTransfer = errors.New("no settled transfer matches this deposit yet")

// unmatchedTransferBatch caps how many parked transfers one recheck scans
const unmatchedTransferBatch = 100

// JobStore is the queue persistence the processor needs
type JobStore interface {
	GetNextPendingJobs(ctx context.Context, limit int) ([]*entities.ReconcileJob, error)
	Update(ctx context.Context, job *entities.ReconcileJob) error
	GetUnmatchedTransfers(ctx context.Context, chain entities.Chain, asset entities.Asset, limit int) ([]*entities.ReconcileJob, error)
	GetMetrics(ctx context.Context) (*repositories.QueueMetrics, error)
}

// DepositStore is the deposit lookup the processor needs
type DepositStore interface {
	FindMatchCandidates(ctx context.Context, chain entities.Chain, asset entities.Asset) ([]*entities.StarDeposit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entities.StarDeposit, error)
}

// DeliveryStore writes the final outcome back onto the ingest log
type DeliveryStore interface {
	SetOutcome(ctx context.Context, id uuid.UUID, outcome entities.DeliveryOutcome) error
}

// Reconciler is the ledger operation the processor drives
type Reconciler interface {
	Reconcile(ctx context.Context, depositID uuid.UUID, txHash string, actual decimal.Decimal, source entities.DepositEventType) (*ledger.Outcome, error)
}

// ProcessorConfig holds configuration for the reconcile processor
type ProcessorConfig struct {
	WorkerCount             int
	PollInterval            time.Duration
	BatchSize               int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// ConfigFrom builds a processor config from the application worker config
func ConfigFrom(cfg config.WorkerConfig) ProcessorConfig {
	return ProcessorConfig{
		WorkerCount:             cfg.Count,
		PollInterval:            time.Duration(cfg.PollIntervalSeconds) * time.Second,
		BatchSize:               entities.JobDefaultBatchLimit,
		CircuitBreakerThreshold: cfg.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   time.Duration(cfg.CircuitBreakerTimeout) * time.Second,
	}
}

// Processor drains the reconcile queue: transfer jobs look for a deposit
// to credit, recheck jobs re-scan parked transfers for one deposit.
type Processor struct {
	config     ProcessorConfig
	jobs       JobStore
	deposits   DepositStore
	deliveries DeliveryStore
	ledger     Reconciler
	matcher    *match.Matcher
	logger     *logger.Logger

	circuitBreaker *CircuitBreaker

	meter             metric.Meter
	processedCounter  metric.Int64Counter
	durationHistogram metric.Float64Histogram
	retryCounter      metric.Int64Counter
	dlqCounter        metric.Int64Counter

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// NewProcessor creates a reconcile processor
func NewProcessor(
	cfg ProcessorConfig,
	jobs JobStore,
	deposits DepositStore,
	deliveries DeliveryStore,
	ledgerSvc Reconciler,
	matcher *match.Matcher,
	logger *logger.Logger,
) (*Processor, error) {
	ctx, cancel := context.WithCancel(context.Background())

	meter := otel.Meter("reconcile-processor")

	processedCounter, err := meter.Int64Counter(
		"reconcile.processed.total",
		metric.WithDescription("Total number of reconcile jobs processed"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create processed counter: %w", err)
	}

	durationHistogram, err := meter.Float64Histogram(
		"reconcile.processing.duration.seconds",
		metric.WithDescription("Reconcile job processing duration in seconds"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	retryCounter, err := meter.Int64Counter(
		"reconcile.retry.total",
		metric.WithDescription("Total number of reconcile job retries"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create retry counter: %w", err)
	}

	dlqCounter, err := meter.Int64Counter(
		"reconcile.dlq.total",
		metric.WithDescription("Total number of reconcile jobs moved to DLQ"),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create DLQ counter: %w", err)
	}

	return &Processor{
		config:            cfg,
		jobs:              jobs,
		deposits:          deposits,
		deliveries:        deliveries,
		ledger:            ledgerSvc,
		matcher:           matcher,
		logger:            logger,
		circuitBreaker:    NewCircuitBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout),
		meter:             meter,
		processedCounter:  processedCounter,
		durationHistogram: durationHistogram,
		retryCounter:      retryCounter,
		dlqCounter:        dlqCounter,
		shutdownCtx:       ctx,
		shutdownCancel:    cancel,
	}, nil
}

// Start begins draining the queue
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("Starting reconcile processor", "worker_count", p.config.WorkerCount)

	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.metricsReporter(ctx)

	return nil
}

// Shutdown gracefully stops the processor
func (p *Processor) Shutdown(timeout time.Duration) error {
	p.logger.Info("Shutting down reconcile processor", "timeout", timeout)

	p.shutdownCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Reconcile processor shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (p *Processor) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	p.logger.Info("Worker started", "worker_id", workerID)
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Worker stopping", "worker_id", workerID)
			return
		case <-p.shutdownCtx.Done():
			p.logger.Info("Worker stopping due to shutdown", "worker_id", workerID)
			return
		case <-ticker.C:
			p.processBatch(ctx, workerID)
		}
	}
}

func (p *Processor) processBatch(ctx context.Context, workerID int) {
	if !p.circuitBreaker.CanProcess() {
		p.logger.Warn("Circuit breaker open, skipping batch", "worker_id", workerID)
		return
	}

	jobs, err := p.jobs.GetNextPendingJobs(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.Error("Failed to fetch pending jobs", "error", err, "worker_id", workerID)
		return
	}
	if len(jobs) == 0 {
		return
	}

	p.logger.Debug("Processing batch", "worker_id", workerID, "job_count", len(jobs))

	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownCtx.Done():
			return
		default:
			p.ProcessJob(ctx, job)
		}
	}
}

// ProcessJob runs one job through its handler and writes the result back
func (p *Processor) ProcessJob(ctx context.Context, job *entities.ReconcileJob) {
	startTime := time.Now()

	p.logger.Info("Processing job",
		"job_id", job.ID,
		"kind", job.Kind,
		"chain", job.Chain,
		"attempt", job.AttemptCount+1,
	)

	job.MarkProcessing()
	if err := p.jobs.Update(ctx, job); err != nil {
		p.logger.Error("Failed to mark job as processing", "error", err, "job_id", job.ID)
		return
	}

	var unmatched bool
	var err error
	switch job.Kind {
	case entities.JobKindTransfer:
		unmatched, err = p.handleTransfer(ctx, job)
	case entities.JobKindDepositRecheck:
		err = p.handleRecheck(ctx, job)
	default:
		err = fmt.Errorf("invalid job kind: %s", job.Kind)
	}

	duration := time.Since(startTime)

	logEntry := entities.ProcessingLogEntry{
		Timestamp:  time.Now(),
		Attempt:    job.AttemptCount,
		DurationMs: duration.Milliseconds(),
	}

	switch {
	case err != nil:
		errorType := p.categorizeError(err)
		logEntry.Status = "failed"
		errMsg := err.Error()
		logEntry.Error = &errMsg
		logEntry.ErrorType = &errorType
		job.AddProcessingLog(logEntry)

		retryDelay := job.GetRetryDelay()
		job.MarkFailed(err, errorType, retryDelay)

		p.circuitBreaker.RecordFailure()

		p.logger.Warn("Job processing failed",
			"job_id", job.ID,
			"kind", job.Kind,
			"error", err,
			"error_type", errorType,
			"attempt", job.AttemptCount,
			"next_retry_at", job.NextRetryAt,
		)

		p.processedCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("status", "failed"),
				attribute.String("kind", string(job.Kind)),
				attribute.String("error_type", string(errorType)),
			),
		)

		if job.Status == entities.JobStatusDLQ {
			p.dlqCounter.Add(ctx, 1,
				metric.WithAttributes(
					attribute.String("kind", string(job.Kind)),
					attribute.String("error_type", string(errorType)),
				),
			)
		} else {
			p.retryCounter.Add(ctx, 1,
				metric.WithAttributes(attribute.String("kind", string(job.Kind))),
			)
		}

	case unmatched:
		logEntry.Status = "unmatched"
		job.AddProcessingLog(logEntry)
		job.MarkUnmatched()

		p.circuitBreaker.RecordSuccess()

		p.logger.Info("Transfer has no matching deposit, parking",
			"job_id", job.ID,
			"tx_hash", job.TxHash,
			"chain", job.Chain,
			"amount", job.Amount,
		)

		if job.DeliveryID != nil {
			if err := p.deliveries.SetOutcome(ctx, *job.DeliveryID, entities.OutcomeUnmatched); err != nil {
				p.logger.Error("Failed to mark delivery unmatched", "delivery_id", *job.DeliveryID, "error", err)
			}
		}

		p.processedCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("status", "unmatched"),
				attribute.String("kind", string(job.Kind)),
			),
		)

	default:
		logEntry.Status = "completed"
		job.AddProcessingLog(logEntry)
		job.MarkCompleted()

		p.circuitBreaker.RecordSuccess()

		p.logger.Info("Job processed successfully",
			"job_id", job.ID,
			"kind", job.Kind,
			"duration", duration,
		)

		p.processedCounter.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("status", "completed"),
				attribute.String("kind", string(job.Kind)),
			),
		)
	}

	p.durationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", string(job.Kind)),
			attribute.String("status", string(job.Status)),
		),
	)
	metrics.ReconcileJobsTotal.WithLabelValues(string(job.Kind), string(job.Status)).Inc()

	if err := p.jobs.Update(ctx, job); err != nil {
		p.logger.Error("Failed to update job", "error", err, "job_id", job.ID)
	}
}

// handleTransfer finds the deposit a settled transfer pays for and
// credits it. Returns unmatched=true when no pending deposit qualifies.
func (p *Processor) handleTransfer(ctx context.Context, job *entities.ReconcileJob) (unmatched bool, err error) {
	if job.TxHash == nil {
		return false, fmt.Errorf("invalid transfer job %s: missing tx hash", job.ID)
	}

	candidates, err := p.deposits.FindMatchCandidates(ctx, job.Chain, job.Asset)
	if err != nil {
		return false, err
	}

	best := p.matcher.Match(candidates, job.Amount, job.ToAddress)
	if best == nil {
		return true, nil
	}

	outcome, err := p.ledger.Reconcile(ctx, best.ID, *job.TxHash, job.Amount, entities.EventWebhookMatched)
	if err != nil {
		return false, err
	}
	if !outcome.Credited {
		p.logger.Info("Transfer reconcile was a no-op",
			"job_id", job.ID,
			"deposit_id", best.ID,
			"reason", outcome.NoOpReason,
		)
	}
	return false, nil
}

// handleRecheck re-scans parked transfers for one deposit. Finding
// nothing is a transient failure so the job backs off and tries again.
func (p *Processor) handleRecheck(ctx context.Context, job *entities.ReconcileJob) error {
	if job.DepositID == nil {
		return fmt.Errorf("invalid recheck job %s: missing deposit id", job.ID)
	}

	deposit, err := p.deposits.GetByID(ctx, *job.DepositID)
	if err != nil {
		return err
	}

	// Nothing to do for a deposit that already reached a final state.
	if deposit.Status == entities.StarDepositStatusCredited || deposit.Status.IsTerminal() {
		p.logger.Info("Recheck skipped, deposit already settled",
			"job_id", job.ID,
			"deposit_id", deposit.ID,
			"status", deposit.Status,
		)
		return nil
	}

	transfers, err := p.jobs.GetUnmatchedTransfers(ctx, deposit.Chain, deposit.Asset, unmatchedTransferBatch)
	if err != nil {
		return err
	}

	transfer := p.pickTransfer(deposit, transfers)
	if transfer == nil {
		return errNoSettledTransfer
	}

	outcome, err := p.ledger.Reconcile(ctx, deposit.ID, *transfer.TxHash, transfer.Amount, entities.EventUserRetry)
	if err != nil {
		return err
	}

	if outcome.Credited {
		transfer.MarkCompleted()
		if err := p.jobs.Update(ctx, transfer); err != nil {
			p.logger.Error("Failed to complete matched transfer job",
				"transfer_job_id", transfer.ID, "error", err)
		}
	}
	return nil
}

// pickTransfer selects the parked transfer that best fits a deposit:
// address matches first, then smallest amount difference, then oldest.
func (p *Processor) pickTransfer(deposit *entities.StarDeposit, transfers []*entities.ReconcileJob) *entities.ReconcileJob {
	var best *entities.ReconcileJob
	bestScore := -1

	for _, t := range transfers {
		if t.TxHash == nil || !p.matcher.WithinTolerance(deposit.ExpectedAmount, t.Amount) {
			continue
		}

		score := 0
		if deposit.DepositAddress != nil && t.ToAddress != nil && *deposit.DepositAddress == *t.ToAddress {
			score = 1
		}

		switch {
		case best == nil || score > bestScore:
			best, bestScore = t, score
		case score == bestScore:
			bestDiff := best.Amount.Sub(deposit.ExpectedAmount).Abs()
			diff := t.Amount.Sub(deposit.ExpectedAmount).Abs()
			if diff.LessThan(bestDiff) || (diff.Equal(bestDiff) && t.FirstSeenAt.Before(best.FirstSeenAt)) {
				best = t
			}
		}
	}
	return best
}

// categorizeError determines if an error is transient or permanent
func (p *Processor) categorizeError(err error) entities.JobErrorType {
	if err == nil {
		return entities.ErrorTypeUnknown
	}

	if errors.Is(err, errNoSettledTransfer) {
		return entities.ErrorTypeTransient
	}
	if errors.Is(err, domainerrors.ErrDepositNotFound) || errors.Is(err, domainerrors.ErrUserNotFound) {
		return entities.ErrorTypePermanent
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "invalid") ||
		strings.Contains(errMsg, "validation") ||
		strings.Contains(errMsg, "malformed") ||
		strings.Contains(errMsg, "not found") {
		return entities.ErrorTypePermanent
	}

	if strings.Contains(errMsg, "timeout") ||
		strings.Contains(errMsg, "connection") ||
		strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "temporary") ||
		strings.Contains(errMsg, "unavailable") ||
		strings.Contains(errMsg, "too many requests") {
		return entities.ErrorTypeTransient
	}

	// Default to transient, retrying is safer than dropping.
	return entities.ErrorTypeTransient
}

func (p *Processor) metricsReporter(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownCtx.Done():
			return
		case <-ticker.C:
			p.reportMetrics(ctx)
		}
	}
}

func (p *Processor) reportMetrics(ctx context.Context) {
	m, err := p.jobs.GetMetrics(ctx)
	if err != nil {
		p.logger.Error("Failed to get queue metrics", "error", err)
		return
	}

	metrics.DLQDepthGauge.Set(float64(m.TotalDLQ))

	p.logger.Info("Reconcile queue metrics",
		"total_received", m.TotalReceived,
		"total_completed", m.TotalCompleted,
		"total_unmatched", m.TotalUnmatched,
		"total_failed", m.TotalFailed,
		"total_dlq", m.TotalDLQ,
		"pending_count", m.PendingCount,
		"avg_attempts", fmt.Sprintf("%.2f", m.AvgAttempts),
	)

	if !p.circuitBreaker.CanProcess() {
		p.logger.Warn("Circuit breaker is OPEN",
			"failure_count", p.circuitBreaker.failureCount,
			"opened_at", p.circuitBreaker.openedAt,
		)
	}
}

// CircuitBreaker implements a simple circuit breaker pattern
type CircuitBreaker struct {
	threshold    int
	timeout      time.Duration
	failureCount int
	openedAt     *time.Time
	mu           sync.RWMutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(threshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold: threshold,
		timeout:   timeout,
	}
}

// CanProcess checks if processing is allowed
func (cb *CircuitBreaker) CanProcess() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.openedAt == nil {
		return true
	}
	if time.Since(*cb.openedAt) > cb.timeout {
		return true // Try to recover
	}
	return false
}

// RecordFailure records a processing failure
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	if cb.failureCount >= cb.threshold && cb.openedAt == nil {
		now := time.Now()
		cb.openedAt = &now
	}
}

// RecordSuccess records a processing success
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.openedAt != nil && time.Since(*cb.openedAt) > cb.timeout {
		cb.failureCount = 0
		cb.openedAt = nil
	} else if cb.failureCount > 0 {
		cb.failureCount--
	}
}
