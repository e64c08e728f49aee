// Package ledger holds the authoritative subscription state machine. It
// applies detector output and email signals, enforces merge precedence
// (email wins on dates, transactions win on amounts) and maintains the
// derived fields the dashboard reads.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"subtrack/internal/core"
	"subtrack/internal/detect"
	"subtrack/internal/merchant"
)

// Audit trigger names.
const (
	TriggerNewSubscription    = "new_subscription_detected"
	TriggerRecurrence         = "recurrence_confirmed"
	TriggerPriceChange        = "price_change_detected"
	TriggerReopen             = "reopened_after_cancellation"
	TriggerEmailRenewal       = "email_renewal_confirmation"
	TriggerEmailPriceIncrease = "email_price_increase"
	TriggerEmailCancellation  = "email_cancellation"
	TriggerDecisionRenew      = "decision_renew"
	TriggerDecisionCancel     = "decision_cancel"
)

// UnmatchedKey collects transactions whose description yields no merchant
// key. Normalized keys are lowercase alphanumerics and spaces, so the
// parentheses cannot collide with a real merchant. These rows never drive
// detection but stay queryable as raw history.
const UnmatchedKey = core.MerchantKey("(unmatched)")

type (
	// TransactionOutcome reports what applying a transaction did.
	TransactionOutcome struct {
		MerchantKey  core.MerchantKey
		Result       detect.Result
		Subscription *core.Subscription // nil when no subscription involved
		Duplicate    bool               // transaction ID was already applied
	}

	// SignalOutcome reports what applying an email signal did.
	SignalOutcome struct {
		Signal       core.EmailSignal
		Subscription *core.Subscription
		Applied      bool
		Note         string
	}

	// Ledger serializes all mutations per merchant key and owns every
	// status transition. No I/O happens inside a transition; the repository
	// is called before and after.
	Ledger struct {
		repo       Repository
		normalizer *merchant.Normalizer
		detector   *detect.Detector
		locks      keyedMutex
		clock      func() time.Time
	}
)

func NewLedger(repo Repository, normalizer *merchant.Normalizer, detector *detect.Detector) *Ledger {
	return &Ledger{
		repo:       repo,
		normalizer: normalizer,
		detector:   detector,
		clock:      time.Now,
	}
}

// ApplyTransaction runs a bank transaction through the pipeline: normalize,
// detect, transition. Unrelated transactions are retained as raw history for
// future pattern emergence but have no ledger effect.
func (l *Ledger) ApplyTransaction(ctx context.Context, txn core.Transaction) (TransactionOutcome, error) {
	if err := txn.Validate(); err != nil {
		return TransactionOutcome{}, err
	}

	key := l.normalizer.Normalize(txn.Description)
	outcome := TransactionOutcome{MerchantKey: key, Result: detect.Result{Kind: detect.Unrelated}}
	if key == "" {
		// Nothing to join on, but the raw fact is still kept.
		if err := l.repo.AppendTransaction(ctx, UnmatchedKey, txn); err != nil {
			return outcome, fmt.Errorf("append unmatched transaction: %w", err)
		}
		return outcome, nil
	}

	unlock := l.locks.lock(key)
	defer unlock()

	sub, err := l.repo.FindByMerchantKey(ctx, key)
	if err != nil {
		return outcome, fmt.Errorf("find subscription: %w", err)
	}
	if sub != nil && sub.LinksTransaction(txn.ID) {
		outcome.Subscription = sub
		outcome.Duplicate = true
		return outcome, nil
	}

	history, err := l.repo.FindHistory(ctx, key)
	if err != nil {
		return outcome, fmt.Errorf("find history: %w", err)
	}
	for _, prior := range history {
		if prior.ID == txn.ID {
			outcome.Subscription = sub
			outcome.Duplicate = true
			return outcome, nil
		}
	}

	if err := l.repo.AppendTransaction(ctx, key, txn); err != nil {
		return outcome, fmt.Errorf("append transaction: %w", err)
	}

	result := l.detector.Detect(txn, history, sub)
	outcome.Result = result

	switch result.Kind {
	case detect.Unrelated:
		slog.DebugContext(ctx, "Transaction unrelated to any pattern",
			"transaction_id", txn.ID, "merchant_key", string(key))
		return outcome, nil

	case detect.NewSubscriptionDetected:
		sub = l.createSubscription(key, txn, history, result)
		outcome.Subscription = sub

	case detect.RecurrenceConfirmed, detect.PriceChangeDetected:
		// The detector compared against a possibly provisional amount; the
		// ledger re-checks after restoring the bank-confirmed baseline and
		// reports what it actually did.
		outcome.Result.Kind = l.continueSubscription(sub, txn, result)
		outcome.Subscription = sub
	}

	sub.Version++
	if err := l.repo.SaveSubscription(ctx, sub); err != nil {
		return outcome, fmt.Errorf("save subscription: %w", err)
	}

	slog.InfoContext(ctx, "Transaction applied",
		"transaction_id", txn.ID,
		"merchant_key", string(key),
		"detection", string(result.Kind),
		"subscription_id", sub.ID,
		"status", string(sub.Status))
	return outcome, nil
}

// createSubscription builds the subscription on the third confirming
// transaction, linking the full raw history for the key.
func (l *Ledger) createSubscription(key core.MerchantKey, txn core.Transaction, history []core.Transaction, result detect.Result) *core.Subscription {
	firstSeen := txn.PostedAt
	if len(history) > 0 {
		firstSeen = history[0].PostedAt
	}

	sub := &core.Subscription{
		ID:          uuid.NewString(),
		MerchantKey: key,
		Name:        l.normalizer.DisplayName(txn.Description),
		Amount:      result.Amount,
		Currency:    txn.Currency,
		Period:      result.Period,
		Status:      core.StatusActive,
		FirstSeen:   firstSeen,
		NextRenewal: result.NextRenewal,
		PriceHistory: []core.PricePoint{
			{Date: txn.PostedAt, Amount: result.Amount},
		},
		ReinferPeriod: result.Reinfer,
	}
	for _, prior := range history {
		sub.TransactionIDs = append(sub.TransactionIDs, prior.ID)
	}
	sub.TransactionIDs = append(sub.TransactionIDs, txn.ID)

	l.audit(sub, TriggerNewSubscription, "", core.StatusActive,
		fmt.Sprintf("detected %s pattern", result.Period))
	return sub
}

// continueSubscription applies a recurrence or price change to an existing
// subscription, reopening canceled ones first. Returns the effective kind.
func (l *Ledger) continueSubscription(sub *core.Subscription, txn core.Transaction, result detect.Result) detect.Kind {
	if sub.Status == core.StatusCanceled {
		from := sub.Status
		sub.Status = core.StatusActive
		sub.Reopened = true
		l.audit(sub, TriggerReopen, from, sub.Status, "unexpected renewal after cancellation")
	}

	// A provisional email price is replaced by whatever the bank actually
	// charged: transactions win on amounts.
	discardedProvisional := false
	if lp, ok := sub.LastPrice(); ok && lp.Provisional {
		sub.PriceHistory = sub.PriceHistory[:len(sub.PriceHistory)-1]
		if prev, ok := sub.LastPrice(); ok {
			sub.Amount = prev.Amount
		}
		discardedProvisional = true
	}

	sub.Period = result.Period
	sub.ReinferPeriod = result.Reinfer
	if sub.NextRenewal.IsZero() || result.NextRenewal.After(sub.NextRenewal.Time) {
		// Projections only move forward; backward moves need an email.
		sub.NextRenewal = result.NextRenewal
	}
	sub.TransactionIDs = append(sub.TransactionIDs, txn.ID)

	if sub.Amount.WithinTolerance(txn.Amount, l.detector.AmountTolerance()) {
		note := ""
		if discardedProvisional {
			// The email's figure never materialized on the statement.
			note = "provisional email amount discarded, bank amount confirmed"
			if sub.Status == core.StatusPriceChanged {
				from := sub.Status
				sub.Status = core.StatusActive
				l.audit(sub, TriggerRecurrence, from, sub.Status, note)
				return detect.RecurrenceConfirmed
			}
		}
		l.audit(sub, TriggerRecurrence, sub.Status, sub.Status, note)
		return detect.RecurrenceConfirmed
	}

	from := sub.Status
	l.appendPrice(sub, core.PricePoint{Date: txn.PostedAt, Amount: txn.Amount})
	sub.Amount = txn.Amount
	sub.Status = core.StatusPriceChanged
	l.audit(sub, TriggerPriceChange, from, sub.Status,
		fmt.Sprintf("amount changed to %d", txn.Amount.Cents))
	return detect.PriceChangeDetected
}

// ApplySignal merges an email-derived fact into the ledger. Total: signals
// that cannot be applied are reported, never errored.
func (l *Ledger) ApplySignal(ctx context.Context, sig core.EmailSignal) (SignalOutcome, error) {
	outcome := SignalOutcome{Signal: sig}
	if sig.Kind == core.SignalIrrelevant {
		outcome.Note = "irrelevant signal"
		return outcome, nil
	}

	key, err := l.resolveMerchant(ctx, sig.MerchantKey)
	if err != nil {
		return outcome, err
	}
	if key == "" {
		outcome.Note = "no subscription for merchant"
		return outcome, nil
	}

	unlock := l.locks.lock(key)
	defer unlock()

	sub, err := l.repo.FindByMerchantKey(ctx, key)
	if err != nil {
		return outcome, fmt.Errorf("find subscription: %w", err)
	}
	if sub == nil {
		outcome.Note = "no subscription for merchant"
		return outcome, nil
	}
	outcome.Subscription = sub
	if sub.LinksEmail(sig.EmailID) {
		outcome.Note = "email already applied"
		return outcome, nil
	}

	switch sig.Kind {
	case core.SignalRenewalConfirmation:
		// Email dates are ground truth and may move the projection backward.
		sub.NextRenewal = sig.ObservedAt.AddPeriod(sub.Period)
		l.audit(sub, TriggerEmailRenewal, sub.Status, sub.Status, "renewal date set from email")
		outcome.Applied = true

	case core.SignalPriceIncrease:
		outcome.Applied, outcome.Note = l.applyPriceIncrease(sub, sig)

	case core.SignalCancellation:
		if sub.Status == core.StatusCanceled {
			outcome.Note = "already canceled"
		} else {
			l.cancel(sub, sig.ObservedAt, TriggerEmailCancellation, "canceled per provider email")
			outcome.Applied = true
		}
	}

	sub.EmailIDs = append(sub.EmailIDs, sig.EmailID)
	sub.Version++
	if err := l.repo.SaveSubscription(ctx, sub); err != nil {
		return outcome, fmt.Errorf("save subscription: %w", err)
	}

	slog.InfoContext(ctx, "Email signal applied",
		"email_id", sig.EmailID,
		"signal_kind", string(sig.Kind),
		"merchant_key", string(key),
		"subscription_id", sub.ID,
		"applied", outcome.Applied)
	return outcome, nil
}

// applyPriceIncrease records an email-announced price. The amount is
// provisional until a transaction posts for the period; amounts already
// recorded are not duplicated.
func (l *Ledger) applyPriceIncrease(sub *core.Subscription, sig core.EmailSignal) (bool, string) {
	if !sig.HasAmount {
		return false, "price increase without amount"
	}
	for _, pp := range sub.PriceHistory {
		if pp.Amount.Cents == sig.Amount.Cents && pp.Date.Equal(sig.ObservedAt.Time) {
			return false, "price point already recorded"
		}
	}
	if sub.Amount.Cents == sig.Amount.Cents {
		return false, "amount already current"
	}

	from := sub.Status
	l.appendPrice(sub, core.PricePoint{Date: sig.ObservedAt, Amount: sig.Amount, Provisional: true})
	sub.Amount = sig.Amount
	if sub.Status == core.StatusActive {
		sub.Status = core.StatusPriceChanged
	}
	l.audit(sub, TriggerEmailPriceIncrease, from, sub.Status,
		fmt.Sprintf("provider announced %d", sig.Amount.Cents))
	return true, ""
}

// Decide applies a user verdict. Inapplicable decisions are benign no-ops so
// the API stays idempotent; only unknown identifiers fail.
func (l *Ledger) Decide(ctx context.Context, id string, decision core.Decision) (*core.Subscription, error) {
	if decision != core.DecisionRenew && decision != core.DecisionCancel {
		return nil, core.ValidationError{Field: "decision", Reason: "must be renew or cancel"}
	}

	found, err := l.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if found == nil {
		return nil, core.ErrSubscriptionNotFound
	}

	unlock := l.locks.lock(found.MerchantKey)
	defer unlock()

	// Re-read under the lock; the first read raced other writers.
	sub, err := l.repo.FindByMerchantKey(ctx, found.MerchantKey)
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if sub == nil {
		return nil, core.ErrSubscriptionNotFound
	}

	changed := false
	switch decision {
	case core.DecisionRenew:
		if sub.Status == core.StatusPriceChanged {
			from := sub.Status
			sub.Status = core.StatusActive
			// Acknowledging makes the announced price the new baseline.
			if n := len(sub.PriceHistory); n > 0 {
				sub.PriceHistory[n-1].Provisional = false
			}
			l.audit(sub, TriggerDecisionRenew, from, sub.Status, "new price acknowledged")
			changed = true
		}
	case core.DecisionCancel:
		if sub.Status != core.StatusCanceled {
			l.cancel(sub, core.Date{Time: l.clock()}, TriggerDecisionCancel, "canceled by user decision")
			changed = true
		}
	}

	if !changed {
		return sub, nil
	}

	sub.Version++
	if err := l.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}
	slog.InfoContext(ctx, "Decision applied",
		"subscription_id", sub.ID,
		"decision", string(decision),
		"status", string(sub.Status))
	return sub, nil
}

// cancel moves a subscription to the terminal state and captures the
// projected savings for the dashboard.
func (l *Ledger) cancel(sub *core.Subscription, at core.Date, trigger, note string) {
	from := sub.Status
	sub.Status = core.StatusCanceled
	sub.CanceledAt = at
	sub.SavedAmount = sub.SavingsIfCanceled(at)
	l.audit(sub, trigger, from, sub.Status, note)
}

// appendPrice keeps the price history monotonic in date.
func (l *Ledger) appendPrice(sub *core.Subscription, pp core.PricePoint) {
	if last, ok := sub.LastPrice(); ok && pp.Date.Before(last.Date.Time) {
		pp.Date = last.Date
	}
	sub.PriceHistory = append(sub.PriceHistory, pp)
}

func (l *Ledger) audit(sub *core.Subscription, trigger string, from, to core.Status, note string) {
	sub.Audit = append(sub.Audit, core.AuditEntry{
		At:      l.clock(),
		Trigger: trigger,
		From:    from,
		To:      to,
		Note:    note,
	})
}

// resolveMerchant maps an email-derived merchant key to the key of a known
// subscription. Email keys are often shorter than statement-derived ones
// ("netflix" vs "netflix international"), so an exact miss falls back to a
// leading-token match.
func (l *Ledger) resolveMerchant(ctx context.Context, key core.MerchantKey) (core.MerchantKey, error) {
	if key == "" {
		return "", nil
	}
	sub, err := l.repo.FindByMerchantKey(ctx, key)
	if err != nil {
		return "", fmt.Errorf("find subscription: %w", err)
	}
	if sub != nil {
		return key, nil
	}

	all, err := l.repo.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("list subscriptions: %w", err)
	}
	var match core.MerchantKey
	for _, s := range all {
		first, _, _ := strings.Cut(string(s.MerchantKey), " ")
		if first != string(key) {
			continue
		}
		if match != "" {
			// Ambiguous: two subscriptions share the leading token.
			return "", nil
		}
		match = s.MerchantKey
	}
	return match, nil
}
