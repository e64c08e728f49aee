// Package dashboard derives the read-side views: subscription listings,
// spend summary and upcoming renewals. Pure aggregation over ledger state,
// no mutation.
package dashboard

import (
	"context"
	"fmt"
	"sort"

	"subtrack/internal/core"
	"subtrack/internal/ledger"
)

type (
	// Summary is the headline view of recurring spend.
	Summary struct {
		ActiveCount       int        `json:"active_count"`
		PriceChangedCount int        `json:"price_changed_count"`
		CanceledCount     int        `json:"canceled_count"`
		MonthlySpend      core.Money `json:"monthly_spend"`
		TotalSaved        core.Money `json:"total_saved"`
		Upcoming          []Renewal  `json:"upcoming"`
	}

	// Renewal is one entry of the upcoming-renewals list.
	Renewal struct {
		SubscriptionID string      `json:"subscription_id"`
		Name           string      `json:"name"`
		MerchantKey    string      `json:"merchant_key"`
		Amount         core.Money  `json:"amount"`
		Currency       string      `json:"currency"`
		Period         core.Period `json:"period"`
		RenewsAt       core.Date   `json:"renews_at"`
	}

	Aggregator struct {
		repo ledger.Repository
	}
)

func NewAggregator(repo ledger.Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// List returns every subscription, ordered by ID.
func (a *Aggregator) List(ctx context.Context) ([]*core.Subscription, error) {
	subs, err := a.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Summarize builds the dashboard summary as of ref. Monthly spend covers
// active and price_changed subscriptions on a monthly-normalized basis;
// total saved sums the amounts captured at cancellation. Upcoming lists
// non-canceled renewals falling within horizonDays of ref, soonest first.
func (a *Aggregator) Summarize(ctx context.Context, ref core.Date, horizonDays int) (Summary, error) {
	subs, err := a.repo.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list subscriptions: %w", err)
	}

	var s Summary
	cutoff := core.Date{Time: ref.AddDate(0, 0, horizonDays)}
	for _, sub := range subs {
		switch sub.Status {
		case core.StatusActive:
			s.ActiveCount++
		case core.StatusPriceChanged:
			s.PriceChangedCount++
		case core.StatusCanceled:
			s.CanceledCount++
			s.TotalSaved.Cents += sub.SavedAmount.Cents
			continue
		}

		s.MonthlySpend.Cents += sub.MonthlyCents()

		if sub.NextRenewal.IsZero() {
			continue
		}
		if sub.NextRenewal.Before(ref.Time) || sub.NextRenewal.After(cutoff.Time) {
			continue
		}
		s.Upcoming = append(s.Upcoming, Renewal{
			SubscriptionID: sub.ID,
			Name:           sub.Name,
			MerchantKey:    string(sub.MerchantKey),
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			Period:         sub.Period,
			RenewsAt:       sub.NextRenewal,
		})
	}

	sort.Slice(s.Upcoming, func(i, j int) bool {
		if !s.Upcoming[i].RenewsAt.Equal(s.Upcoming[j].RenewsAt.Time) {
			return s.Upcoming[i].RenewsAt.Before(s.Upcoming[j].RenewsAt.Time)
		}
		return s.Upcoming[i].SubscriptionID < s.Upcoming[j].SubscriptionID
	})
	return s, nil
}
