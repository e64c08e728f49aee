// Package detect implements the recurring-pattern detection engine: it decides
// whether a new transaction continues an existing subscription, starts a new
// one, or is unrelated noise, and infers the billing period.
package detect

import (
	"subtrack/internal/core"
)

const (
	NewSubscriptionDetected Kind = "new_subscription_detected"
	RecurrenceConfirmed     Kind = "recurrence_confirmed"
	PriceChangeDetected     Kind = "price_change_detected"
	Unrelated               Kind = "unrelated"
)

type (
	// Kind is the closed set of detector outcomes. Consumers switch
	// exhaustively over it.
	Kind string

	// Window is the tolerance window, in days, around a candidate period.
	Window struct {
		MinDays int
		MaxDays int
	}

	// Config holds the detection policy. Tolerances are configuration, not
	// hard-coded constants.
	Config struct {
		// AmountTolerance is the relative amount tolerance for two charges
		// to count as the same price (0.05 = 5%).
		AmountTolerance float64
		// Windows maps each billing period to its date-delta window.
		Windows map[core.Period]Window
		// MinPriorMatches is how many prior matching transactions are needed
		// before a pattern is declared recurring.
		MinPriorMatches int
	}

	// Result is the detector verdict for a single transaction.
	Result struct {
		Kind        Kind
		Period      core.Period
		Amount      core.Money
		NextRenewal core.Date
		// Reinfer is set when the period was ambiguous and should be
		// re-evaluated on the next occurrence.
		Reinfer bool
	}

	Detector struct {
		cfg Config
	}
)

// DefaultConfig returns the standard detection policy: weekly 6-8 days,
// monthly 27-34 days, yearly 350-380 days, 5% amount tolerance, two prior
// occurrences before confirmation.
func DefaultConfig() Config {
	return Config{
		AmountTolerance: 0.05,
		Windows: map[core.Period]Window{
			core.Weekly:  {MinDays: 6, MaxDays: 8},
			core.Monthly: {MinDays: 27, MaxDays: 34},
			core.Yearly:  {MinDays: 350, MaxDays: 380},
		},
		MinPriorMatches: 2,
	}
}

func New(cfg Config) *Detector {
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = DefaultConfig().AmountTolerance
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultConfig().Windows
	}
	if cfg.MinPriorMatches <= 0 {
		cfg.MinPriorMatches = DefaultConfig().MinPriorMatches
	}
	return &Detector{cfg: cfg}
}

// AmountTolerance exposes the configured relative amount tolerance so the
// ledger applies the same policy when re-checking amounts.
func (d *Detector) AmountTolerance() float64 {
	return d.cfg.AmountTolerance
}

// Detect classifies txn against the prior transaction history for the same
// merchant key (ordered by posted date) and the subscription for that key,
// if one exists. Pure: no I/O, no mutation of inputs.
func (d *Detector) Detect(txn core.Transaction, history []core.Transaction, sub *core.Subscription) Result {
	if sub != nil {
		return d.continueSubscription(txn, history, sub)
	}
	return d.emergePattern(txn, history)
}

// continueSubscription handles keys that already have a subscription: the
// interval decides whether txn belongs to the series, the amount decides
// between recurrence and price change.
func (d *Detector) continueSubscription(txn core.Transaction, history []core.Transaction, sub *core.Subscription) Result {
	if len(history) == 0 {
		return Result{Kind: Unrelated}
	}
	last := history[len(history)-1]
	delta := last.PostedAt.DaysUntil(txn.PostedAt)
	candidates := d.periodsFor(delta)
	if len(candidates) == 0 {
		return Result{Kind: Unrelated}
	}

	period := sub.Period
	reinfer := false
	if sub.ReinferPeriod {
		// The period was flagged ambiguous; the fresh interval settles it.
		period, reinfer = resolvePeriod(candidates)
	} else if !containsPeriod(candidates, sub.Period) {
		return Result{Kind: Unrelated}
	}

	res := Result{
		Period:      period,
		Amount:      txn.Amount,
		NextRenewal: txn.PostedAt.AddPeriod(period),
		Reinfer:     reinfer,
	}
	if sub.Amount.WithinTolerance(txn.Amount, d.cfg.AmountTolerance) {
		res.Kind = RecurrenceConfirmed
	} else {
		res.Kind = PriceChangeDetected
	}
	return res
}

// emergePattern handles keys with no subscription yet: txn confirms a pattern
// only when enough prior transactions chain up with matching intervals and
// stable amounts. A key with a single transaction stays pending.
func (d *Detector) emergePattern(txn core.Transaction, history []core.Transaction) Result {
	if len(history) < d.cfg.MinPriorMatches {
		return Result{Kind: Unrelated}
	}

	// Walk the series backwards, newest pair first, intersecting the
	// candidate period sets and requiring stable amounts pair by pair.
	running := d.periodsFor(history[len(history)-1].PostedAt.DaysUntil(txn.PostedAt))
	if len(running) == 0 || !history[len(history)-1].Amount.WithinTolerance(txn.Amount, d.cfg.AmountTolerance) {
		return Result{Kind: Unrelated}
	}
	matched := 1
	for i := len(history) - 1; i > 0; i-- {
		earlier, later := history[i-1], history[i]
		pair := d.periodsFor(earlier.PostedAt.DaysUntil(later.PostedAt))
		next := intersectPeriods(running, pair)
		if len(next) == 0 || !earlier.Amount.WithinTolerance(later.Amount, d.cfg.AmountTolerance) {
			break
		}
		running = next
		matched++
	}

	if matched < d.cfg.MinPriorMatches {
		return Result{Kind: Unrelated}
	}

	period, reinfer := resolvePeriod(running)
	return Result{
		Kind:        NewSubscriptionDetected,
		Period:      period,
		Amount:      txn.Amount,
		NextRenewal: txn.PostedAt.AddPeriod(period),
		Reinfer:     reinfer,
	}
}

// periodsFor returns every period whose window contains the day delta.
func (d *Detector) periodsFor(deltaDays int) []core.Period {
	var out []core.Period
	for _, p := range []core.Period{core.Weekly, core.Monthly, core.Yearly} {
		w, ok := d.cfg.Windows[p]
		if !ok {
			continue
		}
		if deltaDays >= w.MinDays && deltaDays <= w.MaxDays {
			out = append(out, p)
		}
	}
	return out
}

// resolvePeriod picks the inferred period from the surviving candidates.
// Ambiguity resolves to the larger period by convention, flagged for
// re-evaluation on the next occurrence.
func resolvePeriod(candidates []core.Period) (core.Period, bool) {
	best := candidates[0]
	for _, p := range candidates[1:] {
		if p.Larger(best) {
			best = p
		}
	}
	return best, len(candidates) > 1
}

func containsPeriod(candidates []core.Period, p core.Period) bool {
	for _, c := range candidates {
		if c == p {
			return true
		}
	}
	return false
}

func intersectPeriods(a, b []core.Period) []core.Period {
	var out []core.Period
	for _, p := range a {
		if containsPeriod(b, p) {
			out = append(out, p)
		}
	}
	return out
}
