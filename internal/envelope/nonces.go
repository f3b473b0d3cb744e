package envelope

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/glowcast/giftgate/internal/kvstore"
)

// NonceRegistry tracks consumed envelope nonces. Nonces are stored hashed;
// the raw value never touches the backend.
type NonceRegistry struct {
	kv kvstore.Store
}

// NewNonceRegistry creates a registry over the injected store.
func NewNonceRegistry(kv kvstore.Store) *NonceRegistry {
	return &NonceRegistry{kv: kv}
}

// Used reports whether the nonce has been consumed within its retention
// window.
func (r *NonceRegistry) Used(ctx context.Context, nonce string) (bool, error) {
	return r.kv.Exists(ctx, kvstore.NonceKey(hashNonce(nonce)))
}

// Consume marks the nonce as used. Insert-if-absent keeps two concurrent
// verifications of the same envelope from both succeeding; the loser gets
// ErrNonceContended, not a replay verdict, because it passed the replay
// check before the winner committed.
func (r *NonceRegistry) Consume(ctx context.Context, nonce string) error {
	inserted, err := r.kv.PutIfAbsent(ctx, kvstore.NonceKey(hashNonce(nonce)), "1", NonceTTL)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrNonceContended
	}
	return nil
}

func hashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
