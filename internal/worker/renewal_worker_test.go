package worker

import (
	"context"
	"testing"
	"time"

	"subtrack/internal/amqp"
	"subtrack/internal/core"
	"subtrack/internal/memory"
)

type capturingPublisher struct {
	msgs []*amqp.RenewalReminderMessage
}

func (p *capturingPublisher) PublishRenewalReminder(_ context.Context, msg *amqp.RenewalReminderMessage) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestProcessDueReminders(t *testing.T) {
	repo := memory.NewRepository()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	subs := []*core.Subscription{
		{
			ID: "due", MerchantKey: "netflix", Name: "Netflix",
			Amount: core.Money{Cents: 1499}, Currency: "EUR",
			Period: core.Monthly, Status: core.StatusActive,
			NextRenewal: core.NewDate(2025, 6, 3),
		},
		{
			ID: "far", MerchantKey: "spotify", Name: "Spotify",
			Amount: core.Money{Cents: 1199}, Currency: "EUR",
			Period: core.Monthly, Status: core.StatusActive,
			NextRenewal: core.NewDate(2025, 6, 20),
		},
		{
			ID: "dead", MerchantKey: "gym", Name: "Gym",
			Amount: core.Money{Cents: 2999}, Currency: "EUR",
			Period: core.Monthly, Status: core.StatusCanceled,
			NextRenewal: core.NewDate(2025, 6, 2),
		},
	}
	for _, sub := range subs {
		if err := repo.SaveSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}

	pub := &capturingPublisher{}
	w := NewRenewalWorker(repo, pub, 3)

	n, err := w.ProcessDueReminders(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("published: got %d, want 1", n)
	}
	if pub.msgs[0].SubscriptionID != "due" {
		t.Errorf("reminder for %s, want due", pub.msgs[0].SubscriptionID)
	}

	// Second scan over the same window stays quiet.
	n, err = w.ProcessDueReminders(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("repeat scan published %d reminders", n)
	}
}

func TestProcessDueRemindersNewDateRemindsAgain(t *testing.T) {
	repo := memory.NewRepository()
	ctx := context.Background()

	sub := &core.Subscription{
		ID: "sub-1", MerchantKey: "netflix", Name: "Netflix",
		Amount: core.Money{Cents: 1499}, Currency: "EUR",
		Period: core.Monthly, Status: core.StatusActive,
		NextRenewal: core.NewDate(2025, 6, 3),
	}
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	pub := &capturingPublisher{}
	w := NewRenewalWorker(repo, pub, 3)

	if _, err := w.ProcessDueReminders(ctx, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}

	// The subscription renews and the projection moves a month forward.
	sub.NextRenewal = core.NewDate(2025, 7, 3)
	if err := repo.SaveSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	n, err := w.ProcessDueReminders(ctx, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("new renewal date must be reminded: got %d", n)
	}
	if len(pub.msgs) != 2 {
		t.Errorf("total reminders: got %d, want 2", len(pub.msgs))
	}
}
