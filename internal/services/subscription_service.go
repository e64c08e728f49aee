// Package services orchestrates the write path: ledger transitions first,
// then best-effort event fan-out over AMQP.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/detect"
	"subtrack/internal/email"
	"subtrack/internal/ledger"
	applog "subtrack/internal/log"
)

// SubscriptionService coordinates ingestion and decisions across the ledger
// and AMQP.
type SubscriptionService struct {
	ledger     *ledger.Ledger
	extractor  *email.Extractor
	amqpClient *amqp.Client
}

func NewSubscriptionService(l *ledger.Ledger, extractor *email.Extractor, amqpClient *amqp.Client) *SubscriptionService {
	return &SubscriptionService{
		ledger:     l,
		extractor:  extractor,
		amqpClient: amqpClient,
	}
}

// IngestTransaction applies a bank transaction to the ledger and publishes a
// subscription event when the ledger state changed.
func (s *SubscriptionService) IngestTransaction(ctx context.Context, txn core.Transaction) (ledger.TransactionOutcome, error) {
	// Ledger first (authoritative, local)
	outcome, err := s.ledger.ApplyTransaction(ctx, txn)
	if err != nil {
		return outcome, fmt.Errorf("apply transaction: %w", err)
	}

	if outcome.Duplicate || outcome.Subscription == nil || outcome.Result.Kind == detect.Unrelated {
		return outcome, nil
	}

	// Publish async event (non-blocking for the caller's view)
	s.publishEvent(ctx, outcome.Subscription, string(outcome.Result.Kind))
	return outcome, nil
}

// IngestEmail extracts a signal from a raw email and merges it into the
// ledger. Extraction is total: unrecognizable emails yield an irrelevant
// signal and an unapplied outcome, never an error.
func (s *SubscriptionService) IngestEmail(ctx context.Context, msg email.Email) (ledger.SignalOutcome, error) {
	sig := s.extractor.Extract(msg)
	outcome, err := s.ledger.ApplySignal(ctx, sig)
	if err != nil {
		return outcome, fmt.Errorf("apply signal: %w", err)
	}

	if outcome.Applied {
		s.publishEvent(ctx, outcome.Subscription, "email_"+string(sig.Kind))
	}
	return outcome, nil
}

// Decide applies a user verdict to a subscription.
func (s *SubscriptionService) Decide(ctx context.Context, id string, decision core.Decision) (*core.Subscription, error) {
	sub, err := s.ledger.Decide(ctx, id, decision)
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, sub, "decision_"+string(decision))
	return sub, nil
}

// publishEvent is best-effort: the ledger transition already succeeded, a
// broker outage must not fail the request.
func (s *SubscriptionService) publishEvent(ctx context.Context, sub *core.Subscription, event string) {
	if s.amqpClient == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping event",
			"subscription_id", sub.ID, "event", event)
		return
	}

	msg := amqp.NewSubscriptionEventMessage(sub.ID, string(sub.MerchantKey), event, sub.Version)
	if err := s.amqpClient.PublishSubscriptionEvent(ctx, msg); err != nil {
		fields := applog.NewFields().
			WithComponent(applog.ComponentAMQP).
			WithOperation(applog.OpPublish).
			WithSubscription(sub.ID, string(sub.MerchantKey), sub.Amount.Cents, string(sub.Status)).
			WithError(err)
		slog.ErrorContext(ctx, "Failed to publish subscription event", fields.ToSlice()...)
	}
}

// Close releases the AMQP connection.
func (s *SubscriptionService) Close() error {
	if s.amqpClient != nil {
		if err := s.amqpClient.Close(); err != nil {
			return fmt.Errorf("close amqp: %w", err)
		}
	}
	return nil
}
