// Package ledger performs the check-and-lock-and-debit sequence that
// prevents double-spend on gift accepts.
//
// Sequence per accept: refuse if a balance lock already exists for the
// (payer, request) pair; take an exclusive lock on the payer's balance;
// check funds; write the balance lock recording the pre-debit balance;
// debit. The lock and the debit form one unit; if the process dies
// between them, the lock's 5-minute TTL bounds the inconsistency window
// and the request expires on its own.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/glowcast/giftgate/internal/kvstore"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateProcessing = errors.New("request already being processed")
	ErrAccountNotFound     = errors.New("balance account not found")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// LockTTL bounds how long a balance lock can outlive a crashed accept.
const LockTTL = 5 * time.Minute

// BalanceStore provides exclusive read-modify-write access to balances.
type BalanceStore interface {
	// LockAndRead acquires an exclusive lock on the payer's balance and
	// returns the current balance with a handle for the write. The handle
	// must be finished with exactly one Write or Release call.
	LockAndRead(ctx context.Context, userID string) (int64, BalanceTx, error)
}

// BalanceTx is one exclusive balance mutation in flight.
type BalanceTx interface {
	// Write persists the new balance and releases the lock.
	Write(ctx context.Context, newBalance int64) error
	// Release abandons the mutation and releases the lock.
	Release()
}

// Lock is the persisted record of one debit in flight.
type Lock struct {
	Amount        int64     `json:"amount"`
	BalanceBefore int64     `json:"balanceBefore"`
	Timestamp     time.Time `json:"timestamp"`
}

// Guard serializes and deduplicates balance debits.
type Guard struct {
	kv       kvstore.Store
	balances BalanceStore
	now      func() time.Time
}

// NewGuard creates a guard over the balance store and lock backend.
func NewGuard(kv kvstore.Store, balances BalanceStore) *Guard {
	return &Guard{kv: kv, balances: balances, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Locked reports whether a balance lock already exists for the
// (payer, request) pair. Used by the gate to flag duplicate submissions
// before any other accept work happens.
func (g *Guard) Locked(ctx context.Context, payerID, requestID string) (bool, error) {
	return g.kv.Exists(ctx, kvstore.LockKey(payerID, requestID))
}

// LockAndDebit atomically debits amount from the payer for the given
// request. Returns the new balance, or ErrDuplicateProcessing /
// ErrInsufficientBalance / ErrAccountNotFound.
func (g *Guard) LockAndDebit(ctx context.Context, payerID string, amount int64, requestID string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	lockKey := kvstore.LockKey(payerID, requestID)
	exists, err := g.kv.Exists(ctx, lockKey)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrDuplicateProcessing
	}

	balance, tx, err := g.balances.LockAndRead(ctx, payerID)
	if err != nil {
		return 0, err
	}

	// Re-check under the exclusive lock: a concurrent accept of the same
	// request may have written the lock after our first look.
	exists, err = g.kv.Exists(ctx, lockKey)
	if err != nil {
		tx.Release()
		return 0, err
	}
	if exists {
		tx.Release()
		return 0, ErrDuplicateProcessing
	}

	if balance < amount {
		tx.Release()
		return 0, ErrInsufficientBalance
	}

	raw, err := json.Marshal(Lock{
		Amount:        amount,
		BalanceBefore: balance,
		Timestamp:     g.now(),
	})
	if err != nil {
		tx.Release()
		return 0, err
	}
	inserted, err := g.kv.PutIfAbsent(ctx, lockKey, string(raw), LockTTL)
	if err != nil {
		tx.Release()
		return 0, err
	}
	if !inserted {
		// Lost the race to a concurrent accept of the same request.
		tx.Release()
		return 0, ErrDuplicateProcessing
	}

	newBalance := balance - amount
	if err := tx.Write(ctx, newBalance); err != nil {
		// The debit never happened; drop the lock so a retry can succeed.
		_ = g.kv.Delete(ctx, lockKey)
		return 0, err
	}
	return newBalance, nil
}
