package bank

import (
	"sort"
	"sync"

	"github.com/rawblock/persona-engine/pkg/models"
)

// Registry holds the loaded banks of a process, keyed by bank hash.
// Registration swaps entries under the write lock; the *models.Bank values
// themselves are never mutated, so readers only need the read lock for the
// map probe.
type Registry struct {
	mu        sync.RWMutex
	banks     map[string]*models.Bank
	whitelist map[string]bool // nil means every registered hash is usable
}

// NewRegistry creates a registry. A non-empty whitelist restricts which
// bank hashes sessions may bind to; registration itself is unrestricted so
// banks can be staged before being whitelisted.
func NewRegistry(whitelist []string) *Registry {
	r := &Registry{banks: make(map[string]*models.Bank)}
	if len(whitelist) > 0 {
		r.whitelist = make(map[string]bool, len(whitelist))
		for _, h := range whitelist {
			r.whitelist[h] = true
		}
	}
	return r
}

// Register adds a loaded bank. Registering the same hash twice is a no-op:
// banks are content-addressed, so an equal hash is an equal bank.
func (r *Registry) Register(b *models.Bank) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banks[b.Meta.BankHash] = b
}

// Get returns the bank for a hash usable by sessions.
func (r *Registry) Get(hash string) (*models.Bank, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.whitelist != nil && !r.whitelist[hash] {
		return nil, models.Errf(models.ErrBankNotFound, "bank %s is not whitelisted", hash)
	}
	b, ok := r.banks[hash]
	if !ok {
		return nil, models.Errf(models.ErrBankNotFound, "no bank registered for hash %s", hash)
	}
	return b, nil
}

// Hashes lists the registered bank hashes in sorted order.
func (r *Registry) Hashes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.banks))
	for h := range r.banks {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
