// Package export defines the outbound ports for mirroring subscription
// events to an external sink.
package export

import (
	"context"

	"subtrack/internal/core"
)

// EventRow is one exported line: a snapshot of the subscription at the time
// of an event.
type EventRow struct {
	Date           core.Date
	Event          string
	SubscriptionID string
	Name           string
	MerchantKey    core.MerchantKey
	Amount         core.Money
	Currency       string
	Period         core.Period
	Status         core.Status
	Version        int64
}

// EventWriter appends an exported row to the sink and returns a sink-specific
// row reference.
type EventWriter interface {
	Append(ctx context.Context, row EventRow) (rowRef string, err error)
}
