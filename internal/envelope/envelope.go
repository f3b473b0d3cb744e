// Package envelope generates and verifies the signed payload binding a
// gift transaction to a session, caller address, and single-use nonce.
//
// The signature is three hash rounds: SHA-256 over the transaction fields,
// nonce, timestamp, session, address, and shared secret; SHA-512 over the
// first round plus the secret; SHA-256 over the second round plus the
// nonce. Verification regenerates the signature from the persisted request
// fields, never from caller input.
package envelope

import (
	"errors"
	"time"
)

// TTL is the envelope's absolute lifetime from issuance. There is no
// grace period.
const TTL = 5 * time.Minute

// NonceTTL is how long a consumed nonce is remembered.
const NonceTTL = time.Hour

var (
	// ErrIncomplete means required envelope fields are missing.
	ErrIncomplete = errors.New("security envelope incomplete")
	// ErrExpired means the envelope is past its expiry.
	ErrExpired = errors.New("security envelope expired")
	// ErrNonceReplayed means the nonce was already consumed. The caller
	// is replaying a captured envelope; the gate bans for this.
	ErrNonceReplayed = errors.New("envelope nonce already used")
	// ErrNonceContended means a concurrent verification of the same
	// envelope consumed the nonce first. A race between duplicate
	// submissions, not a replay; no ban.
	ErrNonceContended = errors.New("envelope nonce consumed concurrently")
	// ErrSessionMismatch means the envelope was issued for a different
	// session or address: a hijack signal.
	ErrSessionMismatch = errors.New("envelope session binding mismatch")
	// ErrHashMismatch means the regenerated signature differs from the
	// stored one: the transaction was tampered with. Longest ban.
	ErrHashMismatch = errors.New("envelope signature mismatch")
)

// Envelope is the signed, time-boxed payload carried by a gift request.
type Envelope struct {
	Hash      string    `json:"hash"`
	Nonce     string    `json:"nonce"`
	Timestamp int64     `json:"timestamp"` // issuance instant, unix nanos
	ExpiresAt time.Time `json:"expiresAt"`
	SessionID string    `json:"sessionId"`
	IP        string    `json:"ip"`
}

// complete reports whether every field the verifier needs is present.
func (e *Envelope) complete() bool {
	return e != nil && e.Hash != "" && e.Nonce != "" && e.Timestamp != 0 &&
		!e.ExpiresAt.IsZero() && e.SessionID != ""
}

// Transaction carries the persisted gift request fields covered by the
// signature.
type Transaction struct {
	RequestID   string
	RequesterID string
	PayerID     string
	GiftID      string
	Amount      int64
}
