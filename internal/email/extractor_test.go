package email

import (
	"testing"

	"subtrack/internal/core"
)

func TestExtractRenewalConfirmation(t *testing.T) {
	e := NewExtractor(nil)
	sig := e.Extract(Email{
		ID:         "e1",
		Subject:    "Your Netflix renewal",
		Body:       "Your membership renews on March 3 for €14.99.",
		ReceivedAt: core.NewDate(2025, 2, 25),
	})
	if sig.Kind != core.SignalRenewalConfirmation {
		t.Fatalf("kind: got %s, want %s", sig.Kind, core.SignalRenewalConfirmation)
	}
	if sig.MerchantKey != "netflix" {
		t.Errorf("merchant: got %q, want %q", sig.MerchantKey, "netflix")
	}
	if !sig.HasAmount || sig.Amount.Cents != 1499 {
		t.Errorf("amount: got %d (has=%v), want 1499", sig.Amount.Cents, sig.HasAmount)
	}
	if sig.EmailID != "e1" {
		t.Errorf("email id: got %q", sig.EmailID)
	}
}

func TestExtractPriceIncrease(t *testing.T) {
	e := NewExtractor(nil)
	sig := e.Extract(Email{
		ID:         "e2",
		Subject:    "Important: Spotify price change",
		Body:       "The new price will be $11.99 per month.",
		ReceivedAt: core.NewDate(2025, 3, 1),
	})
	if sig.Kind != core.SignalPriceIncrease {
		t.Fatalf("kind: got %s, want %s", sig.Kind, core.SignalPriceIncrease)
	}
	if sig.MerchantKey != "spotify" {
		t.Errorf("merchant: got %q, want %q", sig.MerchantKey, "spotify")
	}
	if !sig.HasAmount || sig.Amount.Cents != 1199 {
		t.Errorf("amount: got %d (has=%v), want 1199", sig.Amount.Cents, sig.HasAmount)
	}
}

func TestExtractCancellation(t *testing.T) {
	e := NewExtractor(nil)
	sig := e.Extract(Email{
		ID:         "e3",
		Subject:    "Disney cancellation confirmation",
		Body:       "Your plan has been cancelled. It would have renewed next week.",
		ReceivedAt: core.NewDate(2025, 3, 2),
	})
	// Cancellation wins even though the body mentions renewal.
	if sig.Kind != core.SignalCancellation {
		t.Fatalf("kind: got %s, want %s", sig.Kind, core.SignalCancellation)
	}
	if sig.MerchantKey != "disney" {
		t.Errorf("merchant: got %q, want %q", sig.MerchantKey, "disney")
	}
}

func TestExtractIrrelevantNeverFails(t *testing.T) {
	e := NewExtractor(nil)
	cases := []Email{
		{ID: "e4", Subject: "Lunch on Friday?", Body: "See you at noon."},
		{ID: "e5", Subject: "", Body: ""},
		{ID: "e6", Subject: "renewal", Body: "renewal"}, // no merchant to join on
	}
	for i, em := range cases {
		sig := e.Extract(em)
		if sig.Kind != core.SignalIrrelevant {
			t.Errorf("case %d: got %s, want %s", i, sig.Kind, core.SignalIrrelevant)
		}
		if sig.EmailID != em.ID {
			t.Errorf("case %d: email id not carried", i)
		}
	}
}

func TestKeywordClassifierAmounts(t *testing.T) {
	c := NewKeywordClassifier()
	cases := []struct {
		text  string
		cents int64
		ok    bool
	}{
		{"charged €14.99 today", 1499, true},
		{"charged $9,99 today", 999, true},
		{"EUR 5.00 monthly", 500, true},
		{"no amount here", 0, false},
	}
	for i, tc := range cases {
		got, ok := c.ExtractAmount(tc.text)
		if ok != tc.ok || got.Cents != tc.cents {
			t.Errorf("case %d: got %d/%v, want %d/%v", i, got.Cents, ok, tc.cents, tc.ok)
		}
	}
}
