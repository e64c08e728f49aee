package ledger

import (
	"context"

	"subtrack/internal/core"
)

// Repository is the persistence port for the ledger. Implementations must
// return (nil, nil) from the find methods when nothing matches; the
// persistence technology behind it is opaque to the core.
type Repository interface {
	// SaveSubscription persists the full subscription state, including price
	// history, linked IDs and the audit trail.
	SaveSubscription(ctx context.Context, sub *core.Subscription) error

	// FindByMerchantKey returns the subscription for an exact merchant key.
	FindByMerchantKey(ctx context.Context, key core.MerchantKey) (*core.Subscription, error)

	// FindByID returns the subscription with the given identifier.
	FindByID(ctx context.Context, id string) (*core.Subscription, error)

	// ListAll returns every subscription, canceled ones included.
	ListAll(ctx context.Context) ([]*core.Subscription, error)

	// FindHistory returns all transactions recorded for a merchant key,
	// ordered by posted date ascending.
	FindHistory(ctx context.Context, key core.MerchantKey) ([]core.Transaction, error)

	// AppendTransaction records a raw transaction under a merchant key.
	// Idempotent on transaction ID: re-appending the same ID is a no-op.
	AppendTransaction(ctx context.Context, key core.MerchantKey, txn core.Transaction) error
}
