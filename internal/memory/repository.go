// Package memory provides an in-memory ledger repository, used as the
// default data backend and by tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"subtrack/internal/core"
)

// Repository keeps all state in process memory. Safe for concurrent use.
// Satisfies the ledger Repository port.
type Repository struct {
	mu            sync.RWMutex
	subscriptions map[core.MerchantKey]*core.Subscription
	history       map[core.MerchantKey][]core.Transaction
	seen          map[string]struct{} // transaction IDs, for idempotent appends
}

func NewRepository() *Repository {
	return &Repository{
		subscriptions: make(map[core.MerchantKey]*core.Subscription),
		history:       make(map[core.MerchantKey][]core.Transaction),
		seen:          make(map[string]struct{}),
	}
}

func (r *Repository) SaveSubscription(_ context.Context, sub *core.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions[sub.MerchantKey] = cloneSubscription(sub)
	return nil
}

func (r *Repository) FindByMerchantKey(_ context.Context, key core.MerchantKey) (*core.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[key]
	if !ok {
		return nil, nil
	}
	return cloneSubscription(sub), nil
}

func (r *Repository) FindByID(_ context.Context, id string) (*core.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscriptions {
		if sub.ID == id {
			return cloneSubscription(sub), nil
		}
	}
	return nil, nil
}

func (r *Repository) ListAll(_ context.Context) ([]*core.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*core.Subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		out = append(out, cloneSubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repository) FindHistory(_ context.Context, key core.MerchantKey) ([]core.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	txns := r.history[key]
	out := make([]core.Transaction, len(txns))
	copy(out, txns)
	return out, nil
}

func (r *Repository) AppendTransaction(_ context.Context, key core.MerchantKey, txn core.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[txn.ID]; dup {
		return nil
	}
	r.seen[txn.ID] = struct{}{}
	txns := append(r.history[key], txn)
	sort.SliceStable(txns, func(i, j int) bool { return txns[i].PostedAt.Before(txns[j].PostedAt.Time) })
	r.history[key] = txns
	return nil
}

// cloneSubscription deep-copies so callers never share slices with the store.
func cloneSubscription(sub *core.Subscription) *core.Subscription {
	out := *sub
	out.PriceHistory = append([]core.PricePoint(nil), sub.PriceHistory...)
	out.TransactionIDs = append([]string(nil), sub.TransactionIDs...)
	out.EmailIDs = append([]string(nil), sub.EmailIDs...)
	out.Audit = append([]core.AuditEntry(nil), sub.Audit...)
	return &out
}
