// Package worker contains the background processors: mirroring subscription
// events to the export sink and publishing renewal reminders.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/export"
	"subtrack/internal/ledger"
)

// ExportWorker mirrors subscription events into the export sink.
type ExportWorker struct {
	repo   ledger.Repository
	writer export.EventWriter
}

func NewExportWorker(repo ledger.Repository, writer export.EventWriter) *ExportWorker {
	return &ExportWorker{repo: repo, writer: writer}
}

// HandleEventMessage processes one subscription event: fetch the current
// subscription state and append a snapshot row to the sink.
func (w *ExportWorker) HandleEventMessage(ctx context.Context, msg *amqp.SubscriptionEventMessage) error {
	slog.InfoContext(ctx, "Processing subscription event",
		"subscription_id", msg.SubscriptionID,
		"event", msg.Event,
		"version", msg.Version)

	sub, err := w.repo.FindByID(ctx, msg.SubscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil {
		// The subscription vanished between publish and consume; nothing to
		// export and a retry cannot help.
		slog.WarnContext(ctx, "Subscription gone, dropping event",
			"subscription_id", msg.SubscriptionID, "event", msg.Event)
		return nil
	}
	if sub.Version > msg.Version {
		slog.DebugContext(ctx, "Subscription moved on since event, exporting current state",
			"subscription_id", sub.ID,
			"event_version", msg.Version,
			"current_version", sub.Version)
	}

	row := export.EventRow{
		Date:           core.Date{Time: msg.Timestamp},
		Event:          msg.Event,
		SubscriptionID: sub.ID,
		Name:           sub.Name,
		MerchantKey:    sub.MerchantKey,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		Period:         sub.Period,
		Status:         sub.Status,
		Version:        sub.Version,
	}

	ref, err := w.writer.Append(ctx, row)
	if err != nil {
		return fmt.Errorf("append event row: %w", err)
	}

	slog.InfoContext(ctx, "Subscription event exported",
		"subscription_id", sub.ID,
		"event", msg.Event,
		"row_ref", ref)
	return nil
}
