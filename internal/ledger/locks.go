package ledger

import (
	"sync"

	"subtrack/internal/core"
)

// keyedMutex serializes work per merchant key. Apply reads current state,
// derives the next state and writes it back; unguarded interleaving of two
// events for the same key can corrupt price history ordering. Different keys
// proceed fully in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[core.MerchantKey]*sync.Mutex
}

// lock acquires the mutex for key and returns its unlock function.
func (k *keyedMutex) lock(key core.MerchantKey) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[core.MerchantKey]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
