package ledger

import (
	"context"
	"testing"
	"time"

	"subtrack/internal/core"
	"subtrack/internal/detect"
	"subtrack/internal/memory"
	"subtrack/internal/merchant"
)

func newTestLedger(t *testing.T) (*Ledger, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	l := NewLedger(repo, merchant.NewNormalizer(nil), detect.New(detect.DefaultConfig()))
	l.clock = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return l, repo
}

func netflixTxn(id string, day int, cents int64) core.Transaction {
	base := core.NewDate(2025, 1, 1)
	return core.Transaction{
		ID:          id,
		Description: "NETFLIX.COM 866-579-7172",
		Amount:      core.Money{Cents: cents},
		Currency:    "EUR",
		PostedAt:    core.Date{Time: base.AddDate(0, 0, day)},
	}
}

// seedNetflix ingests three monthly transactions and returns the detected
// subscription.
func seedNetflix(t *testing.T, l *Ledger) *core.Subscription {
	t.Helper()
	ctx := context.Background()
	for i, day := range []int{0, 30, 61} {
		out, err := l.ApplyTransaction(ctx, netflixTxn(tid(i), day, 1499))
		if err != nil {
			t.Fatalf("txn %d: %v", i, err)
		}
		if i == 2 {
			if out.Result.Kind != detect.NewSubscriptionDetected {
				t.Fatalf("txn %d: got %s, want %s", i, out.Result.Kind, detect.NewSubscriptionDetected)
			}
			return out.Subscription
		}
	}
	return nil
}

func tid(i int) string {
	return "txn-" + string(rune('a'+i))
}

func TestLedgerDetectionLifecycle(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	sub := seedNetflix(t, l)
	if sub.Status != core.StatusActive {
		t.Fatalf("status: got %s, want %s", sub.Status, core.StatusActive)
	}
	if sub.Period != core.Monthly {
		t.Fatalf("period: got %s", sub.Period)
	}
	if len(sub.TransactionIDs) != 3 {
		t.Fatalf("linked txns: got %d, want 3", len(sub.TransactionIDs))
	}
	if len(sub.Audit) != 1 {
		t.Fatalf("audit entries: got %d, want 1", len(sub.Audit))
	}

	// Fourth transaction confirms recurrence, not a new detection.
	out, err := l.ApplyTransaction(ctx, netflixTxn("txn-d", 92, 1499))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Kind != detect.RecurrenceConfirmed {
		t.Fatalf("got %s, want %s", out.Result.Kind, detect.RecurrenceConfirmed)
	}
	wantRenewal := netflixTxn("", 92, 0).PostedAt.AddPeriod(core.Monthly)
	if !out.Subscription.NextRenewal.Equal(wantRenewal.Time) {
		t.Errorf("next renewal: got %v, want %v", out.Subscription.NextRenewal, wantRenewal)
	}

	// Fifth at +20% flips to price_changed.
	out, err = l.ApplyTransaction(ctx, netflixTxn("txn-e", 123, 1799))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Kind != detect.PriceChangeDetected {
		t.Fatalf("got %s, want %s", out.Result.Kind, detect.PriceChangeDetected)
	}
	sub = out.Subscription
	if sub.Status != core.StatusPriceChanged {
		t.Errorf("status: got %s, want %s", sub.Status, core.StatusPriceChanged)
	}
	if sub.Amount.Cents != 1799 {
		t.Errorf("amount: got %d, want 1799", sub.Amount.Cents)
	}
	if len(sub.PriceHistory) != 2 {
		t.Fatalf("price history: got %d entries, want 2", len(sub.PriceHistory))
	}

	// Renew acknowledges the new price as baseline.
	sub, err = l.Decide(ctx, sub.ID, core.DecisionRenew)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != core.StatusActive {
		t.Errorf("status after renew: got %s, want %s", sub.Status, core.StatusActive)
	}

	// Next charge at the acknowledged price is plain recurrence.
	out, err = l.ApplyTransaction(ctx, netflixTxn("txn-f", 154, 1799))
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Kind != detect.RecurrenceConfirmed {
		t.Errorf("got %s, want %s", out.Result.Kind, detect.RecurrenceConfirmed)
	}
	if out.Subscription.Status != core.StatusActive {
		t.Errorf("status: got %s", out.Subscription.Status)
	}
}

func TestLedgerIdempotentTransaction(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	sub := seedNetflix(t, l)
	renewalBefore := sub.NextRenewal
	priceEntries := len(sub.PriceHistory)

	// Re-ingesting the identical transaction must change nothing.
	out, err := l.ApplyTransaction(ctx, netflixTxn(tid(2), 61, 1499))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Duplicate {
		t.Fatal("expected duplicate outcome")
	}
	if len(out.Subscription.PriceHistory) != priceEntries {
		t.Errorf("price history grew on duplicate")
	}
	if !out.Subscription.NextRenewal.Equal(renewalBefore.Time) {
		t.Errorf("next renewal moved on duplicate")
	}
	if len(out.Subscription.TransactionIDs) != 3 {
		t.Errorf("linked txns: got %d, want 3", len(out.Subscription.TransactionIDs))
	}
}

func TestLedgerPriceHistoryMonotonic(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	seedNetflix(t, l)
	for i, tc := range []struct {
		id    string
		day   int
		cents int64
	}{
		{"m1", 92, 1799},
		{"m2", 123, 1999},
		{"m3", 154, 1599},
	} {
		if _, err := l.ApplyTransaction(ctx, netflixTxn(tc.id, tc.day, tc.cents)); err != nil {
			t.Fatalf("txn %d: %v", i, err)
		}
	}

	sub, err := l.repo.FindByMerchantKey(ctx, "netflix")
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(sub.PriceHistory); i++ {
		if sub.PriceHistory[i].Date.Before(sub.PriceHistory[i-1].Date.Time) {
			t.Fatalf("price history not monotonic at %d", i)
		}
	}
	if last, _ := sub.LastPrice(); last.Amount.Cents != sub.Amount.Cents {
		t.Errorf("current amount %d != last entry %d", sub.Amount.Cents, last.Amount.Cents)
	}
}

func TestLedgerEmailRenewalPrecedence(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	sub := seedNetflix(t, l)
	projected := sub.NextRenewal

	// An email renewal three days after the projection overwrites it.
	emailDate := core.Date{Time: projected.AddDate(0, -1, 0).AddDate(0, 0, 3)}
	out, err := l.ApplySignal(ctx, core.EmailSignal{
		Kind:        core.SignalRenewalConfirmation,
		MerchantKey: "netflix",
		ObservedAt:  emailDate,
		EmailID:     "e1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied {
		t.Fatalf("signal not applied: %s", out.Note)
	}
	want := emailDate.AddPeriod(core.Monthly)
	if !out.Subscription.NextRenewal.Equal(want.Time) {
		t.Errorf("next renewal: got %v, want %v", out.Subscription.NextRenewal, want)
	}
	if !out.Subscription.LinksEmail("e1") {
		t.Error("email not linked")
	}

	// Same email again is a no-op.
	out, err = l.ApplySignal(ctx, core.EmailSignal{
		Kind:        core.SignalRenewalConfirmation,
		MerchantKey: "netflix",
		ObservedAt:  emailDate,
		EmailID:     "e1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied {
		t.Error("duplicate email should not apply")
	}
}

func TestLedgerEmailProvisionalAmountThenTransaction(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	seedNetflix(t, l)

	// Provider announces a higher price by email.
	out, err := l.ApplySignal(ctx, core.EmailSignal{
		Kind:        core.SignalPriceIncrease,
		MerchantKey: "netflix",
		ObservedAt:  core.NewDate(2025, 3, 10),
		Amount:      core.Money{Cents: 1899},
		HasAmount:   true,
		EmailID:     "e2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied {
		t.Fatalf("signal not applied: %s", out.Note)
	}
	sub := out.Subscription
	if sub.Status != core.StatusPriceChanged {
		t.Fatalf("status: got %s, want %s", sub.Status, core.StatusPriceChanged)
	}
	if last, _ := sub.LastPrice(); !last.Provisional || last.Amount.Cents != 1899 {
		t.Fatalf("expected provisional 1899, got %+v", last)
	}

	// The bank then charges a different figure: the transaction amount is
	// authoritative and replaces the provisional email amount.
	txOut, err := l.ApplyTransaction(ctx, netflixTxn("txn-p", 92, 1699))
	if err != nil {
		t.Fatal(err)
	}
	sub = txOut.Subscription
	if sub.Amount.Cents != 1699 {
		t.Errorf("amount: got %d, want 1699", sub.Amount.Cents)
	}
	for _, pp := range sub.PriceHistory {
		if pp.Provisional {
			t.Error("provisional entry survived a posted transaction")
		}
		if pp.Amount.Cents == 1899 {
			t.Error("email figure survived a posted transaction")
		}
	}
}

func TestLedgerEmailCancellationAndReopen(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	seedNetflix(t, l)

	out, err := l.ApplySignal(ctx, core.EmailSignal{
		Kind:        core.SignalCancellation,
		MerchantKey: "netflix",
		ObservedAt:  core.NewDate(2025, 3, 5),
		EmailID:     "e3",
	})
	if err != nil {
		t.Fatal(err)
	}
	sub := out.Subscription
	if sub.Status != core.StatusCanceled {
		t.Fatalf("status: got %s, want %s", sub.Status, core.StatusCanceled)
	}
	if sub.SavedAmount.Cents != 1499*9 {
		t.Errorf("saved: got %d, want %d", sub.SavedAmount.Cents, 1499*9)
	}

	// A matching transaction after cancellation re-opens without error.
	txOut, err := l.ApplyTransaction(ctx, netflixTxn("txn-r", 92, 1499))
	if err != nil {
		t.Fatal(err)
	}
	sub = txOut.Subscription
	if sub.Status != core.StatusActive {
		t.Fatalf("status: got %s, want %s", sub.Status, core.StatusActive)
	}
	if !sub.Reopened {
		t.Error("reopened flag not set")
	}
	found := false
	for _, entry := range sub.Audit {
		if entry.Trigger == TriggerReopen {
			found = true
			if entry.Note != "unexpected renewal after cancellation" {
				t.Errorf("unexpected note %q", entry.Note)
			}
		}
	}
	if !found {
		t.Error("no reopen audit entry")
	}
}

func TestLedgerDecide(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	sub := seedNetflix(t, l)

	// Renew on an active subscription with no pending change: benign no-op.
	got, err := l.Decide(ctx, sub.ID, core.DecisionRenew)
	if err != nil {
		t.Fatalf("renew no-op: %v", err)
	}
	if got.Status != core.StatusActive {
		t.Errorf("status: got %s", got.Status)
	}
	if got.Version != sub.Version {
		t.Errorf("no-op must not bump version: %d -> %d", sub.Version, got.Version)
	}

	// Cancel captures savings and is itself idempotent.
	got, err = l.Decide(ctx, sub.ID, core.DecisionCancel)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != core.StatusCanceled {
		t.Fatalf("status: got %s", got.Status)
	}
	// Clock is pinned to June 1st: six months remain.
	if got.SavedAmount.Cents != 1499*6 {
		t.Errorf("saved: got %d, want %d", got.SavedAmount.Cents, 1499*6)
	}
	again, err := l.Decide(ctx, sub.ID, core.DecisionCancel)
	if err != nil {
		t.Fatal(err)
	}
	if again.Version != got.Version {
		t.Error("repeated cancel must be a no-op")
	}

	// Unknown identifier fails.
	if _, err := l.Decide(ctx, "nope", core.DecisionCancel); err != core.ErrSubscriptionNotFound {
		t.Errorf("got %v, want ErrSubscriptionNotFound", err)
	}

	// Unknown decision is a validation error.
	if _, err := l.Decide(ctx, sub.ID, core.Decision("pause")); err == nil {
		t.Error("expected validation error")
	}
}

func TestLedgerValidationRejectsBeforePipeline(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()

	bad := netflixTxn("txn-bad", 0, -100)
	if _, err := l.ApplyTransaction(ctx, bad); err == nil {
		t.Fatal("expected validation error")
	}
	history, err := repo.FindHistory(ctx, "netflix")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Error("rejected transaction must not be recorded")
	}
}

func TestLedgerFuzzyEmailMerchantResolution(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// Statement key is two tokens; the email only knows the first.
	base := core.NewDate(2025, 1, 1)
	for i, day := range []int{0, 30, 61} {
		txn := core.Transaction{
			ID:          "ap-" + string(rune('a'+i)),
			Description: "AMAZON PRIME 12345",
			Amount:      core.Money{Cents: 899},
			Currency:    "EUR",
			PostedAt:    core.Date{Time: base.AddDate(0, 0, day)},
		}
		if _, err := l.ApplyTransaction(ctx, txn); err != nil {
			t.Fatal(err)
		}
	}

	out, err := l.ApplySignal(ctx, core.EmailSignal{
		Kind:        core.SignalCancellation,
		MerchantKey: "amazon",
		ObservedAt:  core.NewDate(2025, 3, 10),
		EmailID:     "e9",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Applied {
		t.Fatalf("signal not applied: %s", out.Note)
	}
	if out.Subscription.Status != core.StatusCanceled {
		t.Errorf("status: got %s", out.Subscription.Status)
	}
}

func TestLedgerIrrelevantSignalNoEffect(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	out, err := l.ApplySignal(ctx, core.EmailSignal{Kind: core.SignalIrrelevant, EmailID: "e0"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Applied || out.Subscription != nil {
		t.Error("irrelevant signal must have no effect")
	}
}

func TestLedgerUnmatchedTransactionRetained(t *testing.T) {
	l, repo := newTestLedger(t)
	ctx := context.Background()

	// Reference numbers only: normalizes to an empty merchant key.
	out, err := l.ApplyTransaction(ctx, core.Transaction{
		ID:          "u1",
		Description: "4029357733 0042",
		Amount:      core.Money{Cents: 999},
		Currency:    "EUR",
		PostedAt:    core.NewDate(2025, 2, 1),
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.MerchantKey != "" || out.Subscription != nil {
		t.Errorf("unmatched transaction must not touch subscriptions: %+v", out)
	}
	if out.Result.Kind != detect.Unrelated {
		t.Errorf("detection: got %s", out.Result.Kind)
	}

	history, err := repo.FindHistory(ctx, UnmatchedKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].ID != "u1" {
		t.Fatalf("raw transaction must be retained under the unmatched key, got %d rows", len(history))
	}
}
