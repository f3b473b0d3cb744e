package ledger

import (
	"context"
	"sync"

	"github.com/glowcast/giftgate/internal/syncutil"
)

// MemoryBalanceStore is an in-memory BalanceStore for single-node
// deployments and tests. Exclusivity comes from a per-payer sharded mutex.
type MemoryBalanceStore struct {
	mu       sync.RWMutex
	balances map[string]int64
	locks    syncutil.ShardedMutex
}

// NewMemoryBalanceStore creates an in-memory balance store.
func NewMemoryBalanceStore() *MemoryBalanceStore {
	return &MemoryBalanceStore{balances: make(map[string]int64)}
}

// SetBalance seeds a user's balance. Test and bootstrap helper.
func (s *MemoryBalanceStore) SetBalance(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] = balance
}

// Balance returns the current balance without locking.
func (s *MemoryBalanceStore) Balance(userID string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.balances[userID]
	return b, ok
}

func (s *MemoryBalanceStore) LockAndRead(ctx context.Context, userID string) (int64, BalanceTx, error) {
	unlock := s.locks.Lock(userID)

	s.mu.RLock()
	balance, ok := s.balances[userID]
	s.mu.RUnlock()
	if !ok {
		unlock()
		return 0, nil, ErrAccountNotFound
	}

	return balance, &memoryTx{store: s, userID: userID, unlock: unlock}, nil
}

type memoryTx struct {
	store  *MemoryBalanceStore
	userID string
	unlock func()
	done   bool
}

func (t *memoryTx) Write(ctx context.Context, newBalance int64) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.balances[t.userID] = newBalance
	t.store.mu.Unlock()
	t.unlock()
	return nil
}

func (t *memoryTx) Release() {
	if t.done {
		return
	}
	t.done = true
	t.unlock()
}
