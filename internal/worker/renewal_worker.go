package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/ledger"
)

// ReminderPublisher is the outbound port for renewal reminders.
// Satisfied by the AMQP client.
type ReminderPublisher interface {
	PublishRenewalReminder(ctx context.Context, msg *amqp.RenewalReminderMessage) error
}

// RenewalWorker periodically scans the ledger and publishes a reminder for
// every subscription renewing within the lead window. Each (subscription,
// renewal date) pair is reminded at most once per process lifetime.
type RenewalWorker struct {
	repo      ledger.Repository
	publisher ReminderPublisher
	leadDays  int

	mu       sync.Mutex
	reminded map[string]struct{}
}

func NewRenewalWorker(repo ledger.Repository, publisher ReminderPublisher, leadDays int) *RenewalWorker {
	if leadDays <= 0 {
		leadDays = 3
	}
	return &RenewalWorker{
		repo:      repo,
		publisher: publisher,
		leadDays:  leadDays,
		reminded:  make(map[string]struct{}),
	}
}

// ProcessDueReminders publishes reminders for subscriptions renewing within
// the lead window as of now. Returns how many reminders went out.
func (w *RenewalWorker) ProcessDueReminders(ctx context.Context, now time.Time) (int, error) {
	subs, err := w.repo.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	cutoff := now.AddDate(0, 0, w.leadDays)
	published := 0
	for _, sub := range subs {
		if sub.Status == core.StatusCanceled || sub.NextRenewal.IsZero() {
			continue
		}
		if sub.NextRenewal.Before(now) || sub.NextRenewal.After(cutoff) {
			continue
		}

		key := sub.ID + "@" + sub.NextRenewal.Format("2006-01-02")
		w.mu.Lock()
		_, seen := w.reminded[key]
		if !seen {
			w.reminded[key] = struct{}{}
		}
		w.mu.Unlock()
		if seen {
			continue
		}

		msg := &amqp.RenewalReminderMessage{
			SubscriptionID: sub.ID,
			MerchantKey:    string(sub.MerchantKey),
			Name:           sub.Name,
			AmountCents:    sub.Amount.Cents,
			Currency:       sub.Currency,
			RenewsAt:       sub.NextRenewal.Time,
			Timestamp:      time.Now(),
		}
		if err := w.publisher.PublishRenewalReminder(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to publish renewal reminder",
				"subscription_id", sub.ID, "error", err)
			// Allow a retry on the next scan.
			w.mu.Lock()
			delete(w.reminded, key)
			w.mu.Unlock()
			continue
		}

		published++
		slog.InfoContext(ctx, "Renewal reminder published",
			"subscription_id", sub.ID,
			"merchant_key", string(sub.MerchantKey),
			"renews_at", sub.NextRenewal.Format("2006-01-02"))
	}

	slog.InfoContext(ctx, "Renewal reminder scan complete",
		"checked", len(subs), "published", published)
	return published, nil
}

// Run scans on a fixed interval until ctx is canceled.
func (w *RenewalWorker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessDueReminders(ctx, time.Now()); err != nil {
			slog.ErrorContext(ctx, "Renewal reminder scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
