package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

// MemoryRepository keeps accounts in process memory. It is used by tests and
// for local runs without a database.
type MemoryRepository struct {
	mu       sync.Mutex
	accounts map[int64]*ledger.Account
}

// NewMemory returns an empty in-memory store.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[int64]*ledger.Account)}
}

func (r *MemoryRepository) Close() {}
func (r *MemoryRepository) Ping(context.Context) error { return nil }
func (r *MemoryRepository) Migrate(context.Context) error { return nil }

func (r *MemoryRepository) InsertAccountIfAbsent(_ context.Context, acc ledger.Account) (*ledger.Account, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.accounts[acc.ID]; ok {
		return clone(existing), false, nil
	}
	stored := acc
	r.accounts[acc.ID] = &stored
	return clone(&stored), true, nil
}

func (r *MemoryRepository) GetAccount(_ context.Context, id int64) (*ledger.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return clone(acc), nil
}

func (r *MemoryRepository) ApplyReferral(_ context.Context, id, amount int64) (*ledger.Account, error) {
	return r.mutate(id, func(acc *ledger.Account) error {
		acc.Credits += amount
		acc.ReferralCount++
		acc.ReferralCredits += amount
		return nil
	})
}

func (r *MemoryRepository) AddCredits(_ context.Context, id, amount int64) (*ledger.Account, error) {
	return r.mutate(id, func(acc *ledger.Account) error {
		acc.Credits += amount
		return nil
	})
}

func (r *MemoryRepository) DebitLookup(_ context.Context, id int64) (*ledger.Account, error) {
	return r.mutate(id, func(acc *ledger.Account) error {
		if acc.Credits < 1 {
			return ledger.ErrInsufficientCredits
		}
		acc.Credits--
		acc.SearchCount++
		return nil
	})
}

func (r *MemoryRepository) RefundLookup(_ context.Context, id int64) (*ledger.Account, error) {
	return r.mutate(id, func(acc *ledger.Account) error {
		acc.Credits++
		if acc.SearchCount > 0 {
			acc.SearchCount--
		}
		return nil
	})
}

func (r *MemoryRepository) ListAccountIDs(context.Context) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accs := make([]*ledger.Account, 0, len(r.accounts))
	for _, acc := range r.accounts {
		accs = append(accs, acc)
	}
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].JoinedAt.Equal(accs[j].JoinedAt) {
			return accs[i].ID < accs[j].ID
		}
		return accs[i].JoinedAt.Before(accs[j].JoinedAt)
	})
	ids := make([]int64, len(accs))
	for i, acc := range accs {
		ids[i] = acc.ID
	}
	return ids, nil
}

func (r *MemoryRepository) CountAccounts(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.accounts)), nil
}

func (r *MemoryRepository) mutate(id int64, fn func(*ledger.Account) error) (*ledger.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	next := *acc
	if err := fn(&next); err != nil {
		return nil, err
	}
	*acc = next
	return clone(acc), nil
}

func clone(acc *ledger.Account) *ledger.Account {
	c := *acc
	return &c
}
