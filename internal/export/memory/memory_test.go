package memory

import (
	"context"
	"testing"

	"subtrack/internal/core"
	"subtrack/internal/export"
)

func TestAppendReturnsRef(t *testing.T) {
	s := New()

	ref, err := s.Append(context.Background(), export.EventRow{
		Date:           core.NewDate(2025, 3, 3),
		Event:          "new_subscription_detected",
		SubscriptionID: "sub-1",
		Name:           "Netflix",
		MerchantKey:    "netflix",
		Amount:         core.Money{Cents: 1499},
		Currency:       "EUR",
		Period:         core.Monthly,
		Status:         core.StatusActive,
		Version:        1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ref != "mem:1" {
		t.Errorf("ref: got %q, want mem:1", ref)
	}

	rows := s.Rows()
	if len(rows) != 1 || rows[0].SubscriptionID != "sub-1" {
		t.Errorf("rows: %+v", rows)
	}
}
