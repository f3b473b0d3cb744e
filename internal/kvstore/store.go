// Package kvstore defines the atomic counter/cache primitive shared by the
// rate limiter, bot detector, nonce registry, ban store, and balance locks.
//
// All gate bookkeeping goes through this interface so a shared backend
// (Redis, etc.) can be injected when the gate runs on more than one host.
// Mutations are atomic primitives (increment-with-TTL, insert-if-absent),
// never read-then-write.
package kvstore

import (
	"context"
	"time"
)

// Store is the injected key-value backend.
type Store interface {
	// Increment atomically increments the counter at key and returns the
	// new count. A fresh counter starts its fixed window: the TTL is set
	// on first increment and not extended by later ones.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrementBy is Increment with an arbitrary positive delta.
	IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// Get returns the value at key and whether it exists (and is unexpired).
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value at key with the given TTL, overwriting any prior value.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// PutIfAbsent stores value at key only if no live value exists.
	// Returns true if the value was stored.
	PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Exists reports whether a live value exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the value at key, if any.
	Delete(ctx context.Context, key string) error
}
