package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vidora/stars-service/internal/domain/entities"
	domainerrors "github.com/vidora/stars-service/internal/domain/errors"
	"github.com/vidora/stars-service/internal/domain/services/extract"
	"github.com/vidora/stars-service/pkg/logger"
	"github.com/vidora/stars-service/pkg/metrics"
)

// DeliveryStore persists the webhook ingest log
type DeliveryStore interface {
	Insert(ctx context.Context, d *entities.WebhookDelivery) (duplicate bool, err error)
	SetOutcome(ctx context.Context, id uuid.UUID, outcome entities.DeliveryOutcome) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// JobQueue enqueues reconcile work extracted from deliveries
type JobQueue interface {
	Enqueue(ctx context.Context, job *entities.ReconcileJob) error
}

// Result is what the webhook handlers return to the provider
type Result struct {
	DeliveryID uuid.UUID
	Outcome    entities.DeliveryOutcome
	Transfers  int
}

// Service turns authenticated webhook deliveries into queued transfer
// jobs. Authentication happens before this layer; everything here runs
// after the caller has been verified.
type Service struct {
	deliveries DeliveryStore
	queue      JobQueue
	extractor  *extract.Extractor
	logger     *logger.Logger
}

// NewService creates the ingest service
func NewService(deliveries DeliveryStore, queue JobQueue, logger *logger.Logger) *Service {
	return &Service{
		deliveries: deliveries,
		queue:      queue,
		extractor:  extract.NewExtractor(),
		logger:     logger,
	}
}

// Ingest logs the delivery, parses the provider payload into transfers
// and enqueues one transfer job per extracted transfer. A payload already
// seen for this provider short-circuits as a duplicate without enqueueing
// anything.
func (s *Service) Ingest(ctx context.Context, provider entities.Provider, chain entities.Chain, endpoint, sourceIP string, headers map[string]string, payload []byte) (*Result, error) {
	delivery := entities.NewWebhookDelivery(provider, chain, endpoint, sourceIP, headers, payload)

	duplicate, err := s.deliveries.Insert(ctx, delivery)
	if err != nil {
		return nil, fmt.Errorf("failed to log delivery: %w", err)
	}
	if duplicate {
		s.logger.Info("Duplicate webhook delivery",
			"provider", provider,
			"delivery_id", delivery.ID,
			"payload_hash", delivery.PayloadHash)
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(provider), string(entities.OutcomeDuplicate)).Inc()
		return &Result{DeliveryID: delivery.ID, Outcome: entities.OutcomeDuplicate}, nil
	}

	transfers, err := s.parse(provider, chain, payload)
	if err != nil {
		s.logger.Warn("Webhook payload failed to parse",
			"provider", provider,
			"delivery_id", delivery.ID,
			"error", err)
		if outcomeErr := s.deliveries.SetOutcome(ctx, delivery.ID, entities.OutcomeInvalid); outcomeErr != nil {
			s.logger.Error("Failed to mark delivery invalid", "delivery_id", delivery.ID, "error", outcomeErr)
		}
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(provider), string(entities.OutcomeInvalid)).Inc()
		return &Result{DeliveryID: delivery.ID, Outcome: entities.OutcomeInvalid},
			fmt.Errorf("%w: %v", domainerrors.ErrInvalidInput, err)
	}

	if len(transfers) == 0 {
		// The payload parsed but contained nothing we recognize as a
		// transfer. Log the addresses present so operators can see
		// whether a schema change is dropping real deposits.
		if addrs, scanErr := s.extractor.ScanAddresses(payload); scanErr == nil {
			counts := make(map[entities.AddressFamily]int, len(addrs))
			for fam, list := range addrs {
				counts[fam] = len(list)
			}
			s.logger.Info("Webhook delivery carried no transfers",
				"provider", provider,
				"delivery_id", delivery.ID,
				"addresses_by_family", counts)
		}
	}

	enqueued := 0
	for _, t := range transfers {
		job := entities.NewTransferJob(delivery.ID, t.Chain, t.Asset, t.Amount, t.TxHash, t.ToAddress, t.FromAddress)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			// Drop the delivery row so the provider's redelivery is not
			// swallowed by the payload-hash dedupe. Transfer jobs already
			// queued dedupe on (tx_hash, chain) on the retry.
			if delErr := s.deliveries.Delete(ctx, delivery.ID); delErr != nil {
				s.logger.Error("Failed to roll back delivery after enqueue error",
					"delivery_id", delivery.ID, "error", delErr)
			}
			return nil, fmt.Errorf("failed to enqueue transfer %s: %w", t.TxHash, err)
		}
		enqueued++
	}

	s.logger.Info("Webhook delivery accepted",
		"provider", provider,
		"delivery_id", delivery.ID,
		"transfers", enqueued)
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(provider), string(entities.OutcomeAccepted)).Inc()

	return &Result{DeliveryID: delivery.ID, Outcome: entities.OutcomeAccepted, Transfers: enqueued}, nil
}

func (s *Service) parse(provider entities.Provider, chain entities.Chain, payload []byte) ([]entities.ExtractedTransfer, error) {
	switch provider {
	case entities.ProviderHelius:
		return extract.ParseHelius(payload)
	case entities.ProviderTronGrid:
		return extract.ParseTronGrid(payload)
	default:
		return extract.ParseEVM(chain, payload)
	}
}
