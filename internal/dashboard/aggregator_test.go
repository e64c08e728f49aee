package dashboard

import (
	"context"
	"testing"

	"subtrack/internal/core"
	"subtrack/internal/memory"
)

func seed(t *testing.T, repo *memory.Repository, subs ...*core.Subscription) {
	t.Helper()
	for _, sub := range subs {
		if err := repo.SaveSubscription(context.Background(), sub); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSummarize(t *testing.T) {
	repo := memory.NewRepository()
	ref := core.NewDate(2025, 6, 1)

	seed(t, repo,
		&core.Subscription{
			ID: "s1", MerchantKey: "netflix", Name: "Netflix",
			Amount: core.Money{Cents: 1499}, Currency: "EUR",
			Period: core.Monthly, Status: core.StatusActive,
			NextRenewal: core.NewDate(2025, 6, 6), // within horizon
		},
		&core.Subscription{
			ID: "s2", MerchantKey: "spotify", Name: "Spotify",
			Amount: core.Money{Cents: 1199}, Currency: "EUR",
			Period: core.Monthly, Status: core.StatusPriceChanged,
			NextRenewal: core.NewDate(2025, 6, 21), // beyond horizon
		},
		&core.Subscription{
			ID: "s3", MerchantKey: "backup", Name: "Backup",
			Amount: core.Money{Cents: 12000}, Currency: "EUR",
			Period: core.Yearly, Status: core.StatusActive,
			NextRenewal: core.NewDate(2025, 6, 6), // same day as s1
		},
		&core.Subscription{
			ID: "s4", MerchantKey: "gym", Name: "Gym",
			Amount: core.Money{Cents: 2999}, Currency: "EUR",
			Period: core.Monthly, Status: core.StatusCanceled,
			SavedAmount: core.Money{Cents: 2999 * 7},
			NextRenewal: core.NewDate(2025, 6, 3), // canceled: excluded anyway
		},
	)

	s, err := NewAggregator(repo).Summarize(context.Background(), ref, 14)
	if err != nil {
		t.Fatal(err)
	}

	if s.ActiveCount != 2 || s.PriceChangedCount != 1 || s.CanceledCount != 1 {
		t.Errorf("counts: active=%d price_changed=%d canceled=%d",
			s.ActiveCount, s.PriceChangedCount, s.CanceledCount)
	}
	// 1499 + 1199 + 12000/12; the canceled one contributes nothing.
	if want := int64(1499 + 1199 + 1000); s.MonthlySpend.Cents != want {
		t.Errorf("monthly spend: got %d, want %d", s.MonthlySpend.Cents, want)
	}
	if want := int64(2999 * 7); s.TotalSaved.Cents != want {
		t.Errorf("total saved: got %d, want %d", s.TotalSaved.Cents, want)
	}

	if len(s.Upcoming) != 2 {
		t.Fatalf("upcoming: got %d entries, want 2", len(s.Upcoming))
	}
	// Same renewal date: ordered by ID for stability.
	if s.Upcoming[0].SubscriptionID != "s1" || s.Upcoming[1].SubscriptionID != "s3" {
		t.Errorf("upcoming order: got %s, %s",
			s.Upcoming[0].SubscriptionID, s.Upcoming[1].SubscriptionID)
	}
	for _, r := range s.Upcoming {
		if r.SubscriptionID == "s2" || r.SubscriptionID == "s4" {
			t.Errorf("%s must not appear in upcoming", r.SubscriptionID)
		}
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s, err := NewAggregator(memory.NewRepository()).Summarize(context.Background(), core.NewDate(2025, 6, 1), 14)
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveCount != 0 || s.MonthlySpend.Cents != 0 || len(s.Upcoming) != 0 {
		t.Errorf("empty ledger must yield zero summary: %+v", s)
	}
}

func TestSummarizePastRenewalExcluded(t *testing.T) {
	repo := memory.NewRepository()
	seed(t, repo, &core.Subscription{
		ID: "s1", MerchantKey: "netflix", Name: "Netflix",
		Amount: core.Money{Cents: 1499}, Currency: "EUR",
		Period: core.Monthly, Status: core.StatusActive,
		NextRenewal: core.NewDate(2025, 5, 20),
	})

	s, err := NewAggregator(repo).Summarize(context.Background(), core.NewDate(2025, 6, 1), 14)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Upcoming) != 0 {
		t.Errorf("renewal in the past must not be upcoming")
	}
	if s.MonthlySpend.Cents != 1499 {
		t.Errorf("monthly spend: got %d", s.MonthlySpend.Cents)
	}
}
