package expiry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/vidora/stars-service/internal/domain/entities"
	"github.com/vidora/stars-service/pkg/logger"
)

// DepositStore expires stale pending deposits
type DepositStore interface {
	ExpirePending(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// EventStore appends to the deposit timeline
type EventStore interface {
	Append(ctx context.Context, ev *entities.StarDepositEvent) error
}

// Worker sweeps pending deposits past their deadline to expired on a
// schedule. Expired deposits stop being match candidates, so a late
// transfer for one parks as unmatched instead of crediting.
type Worker struct {
	cron     *cron.Cron
	deposits DepositStore
	events   EventStore
	schedule string
	logger   *logger.Logger
}

// NewWorker creates the expiry sweeper running every 10 minutes
func NewWorker(deposits DepositStore, events EventStore, logger *logger.Logger) *Worker {
	return &Worker{
		cron:     cron.New(),
		deposits: deposits,
		events:   events,
		schedule: "*/10 * * * *",
		logger:   logger,
	}
}

// Start schedules the sweep and runs one immediately
func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, func() {
		w.Sweep(context.Background())
	}); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("Deposit expiry worker started", "schedule", w.schedule)

	go w.Sweep(context.Background())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (w *Worker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("Deposit expiry worker stopped")
}

// Sweep expires stale pending deposits and records the timeline events
func (w *Worker) Sweep(ctx context.Context) {
	ids, err := w.deposits.ExpirePending(ctx, time.Now())
	if err != nil {
		w.logger.Error("Failed to expire pending deposits", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		ev := entities.NewDepositEvent(id, entities.EventExpired, "deposit expired without a matching transfer")
		if err := w.events.Append(ctx, ev); err != nil {
			w.logger.Error("Failed to record expiry event", "deposit_id", id, "error", err)
		}
	}

	w.logger.Info("Expired stale deposits", "count", len(ids))
}
