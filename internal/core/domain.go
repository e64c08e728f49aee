package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
	Yearly  Period = "yearly"
)

const (
	StatusActive       Status = "active"
	StatusPriceChanged Status = "price_changed"
	StatusCanceled     Status = "canceled"
)

const (
	DecisionRenew  Decision = "renew"
	DecisionCancel Decision = "cancel"
)

type (
	// Period is the inferred billing cadence of a subscription.
	Period string

	// Status is the lifecycle state of a subscription.
	Status string

	// Decision is a user verdict on a subscription.
	Decision string

	// MerchantKey is the normalized join key between transactions, emails
	// and subscriptions. Derived, never stored independently.
	MerchantKey string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Transaction is an immutable bank fact. Append-only, never mutated.
	Transaction struct {
		ID          string
		Description string // raw text as it appears on the statement
		Amount      Money
		Currency    string
		PostedAt    Date
		AccountRef  string
	}

	// PricePoint is one entry of a subscription's price history.
	// Provisional marks an email-sourced amount that no bank transaction
	// has confirmed yet.
	PricePoint struct {
		Date        Date
		Amount      Money
		Provisional bool
	}

	// AuditEntry records one ledger transition. Append-only.
	AuditEntry struct {
		At      time.Time
		Trigger string
		From    Status
		To      Status
		Note    string
	}

	// Subscription is the stateful entity derived from recurring transactions.
	// All mutation goes through the ledger; the merchant key is immutable
	// after creation.
	Subscription struct {
		ID             string
		MerchantKey    MerchantKey
		Name           string
		Amount         Money // current amount, always the last price history entry
		Currency       string
		Period         Period
		Status         Status
		FirstSeen      Date
		NextRenewal    Date // zero until two occurrences or an email supplies it
		PriceHistory   []PricePoint
		TransactionIDs []string
		EmailIDs       []string
		SavedAmount    Money // captured at cancellation
		CanceledAt     Date
		Reopened       bool // transaction observed after cancellation
		ReinferPeriod  bool // period was ambiguous, re-check on next occurrence
		Audit          []AuditEntry
		Version        int64
	}
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// ValidationError reports a malformed input field. Inputs failing validation
// are rejected before entering the pipeline and never partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Valid reports whether p is a known billing cadence.
func (p Period) Valid() bool {
	switch p {
	case Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// Larger reports whether p is a longer cadence than other. Ambiguous period
// inference resolves toward the larger period.
func (p Period) Larger(other Period) bool {
	return p.rank() > other.rank()
}

func (p Period) rank() int {
	switch p {
	case Weekly:
		return 1
	case Monthly:
		return 2
	case Yearly:
		return 3
	}
	return 0
}

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ValidationError{Field: "date", Reason: "must not be zero"}
	}
	return nil
}

// AddPeriod returns the date advanced by one billing period.
func (d Date) AddPeriod(p Period) Date {
	switch p {
	case Weekly:
		return Date{Time: d.AddDate(0, 0, 7)}
	case Yearly:
		return Date{Time: d.AddDate(1, 0, 0)}
	default:
		return Date{Time: d.AddDate(0, 1, 0)}
	}
}

// DaysUntil returns the whole days from d to other.
func (d Date) DaysUntil(other Date) int {
	return int(other.Sub(d.Time).Hours() / 24)
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ValidationError{Field: "amount", Reason: "must be positive minor units"}
	}
	return nil
}

// WithinTolerance reports whether other differs from m by no more than the
// given relative tolerance (e.g. 0.05 for 5%).
func (m Money) WithinTolerance(other Money, tolerance float64) bool {
	if m.Cents == 0 {
		return other.Cents == 0
	}
	diff := m.Cents - other.Cents
	if diff < 0 {
		diff = -diff
	}
	return float64(diff) <= tolerance*float64(m.Cents)
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(t.Description) == "" {
		return ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.Currency == "" {
		return ValidationError{Field: "currency", Reason: "must not be empty"}
	}
	if t.PostedAt.IsZero() {
		return ValidationError{Field: "posted_at", Reason: "must not be zero"}
	}
	return nil
}

// LinksTransaction reports whether the transaction ID is already applied.
func (s *Subscription) LinksTransaction(id string) bool {
	for _, t := range s.TransactionIDs {
		if t == id {
			return true
		}
	}
	return false
}

// LinksEmail reports whether the email ID is already applied.
func (s *Subscription) LinksEmail(id string) bool {
	for _, e := range s.EmailIDs {
		if e == id {
			return true
		}
	}
	return false
}

// LastPrice returns the most recent price history entry, if any.
func (s *Subscription) LastPrice() (PricePoint, bool) {
	if len(s.PriceHistory) == 0 {
		return PricePoint{}, false
	}
	return s.PriceHistory[len(s.PriceHistory)-1], true
}

// MonthlyCents normalizes the current amount to a monthly basis:
// yearly amounts divided by 12, weekly multiplied by 52/12.
func (s *Subscription) MonthlyCents() int64 {
	switch s.Period {
	case Yearly:
		return (s.Amount.Cents + 6) / 12
	case Weekly:
		return (s.Amount.Cents*52 + 6) / 12
	default:
		return s.Amount.Cents
	}
}

// SavingsIfCanceled projects the avoided spend for the rest of the calendar
// year as of ref, on a monthly-normalized basis.
func (s *Subscription) SavingsIfCanceled(ref Date) Money {
	monthsLeft := 12 - int(ref.Month())
	if monthsLeft < 0 {
		monthsLeft = 0
	}
	return Money{Cents: s.MonthlyCents() * int64(monthsLeft)}
}
