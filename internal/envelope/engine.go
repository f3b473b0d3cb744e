package envelope

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/glowcast/giftgate/internal/idgen"
)

// Engine issues envelopes at request time and verifies them at accept time.
type Engine struct {
	secret []byte
	nonces *NonceRegistry
	now    func() time.Time
}

// NewEngine creates an engine with the shared signing secret.
func NewEngine(secret string, nonces *NonceRegistry) *Engine {
	return &Engine{
		secret: []byte(secret),
		nonces: nonces,
		now:    time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Issue produces a fresh envelope for the transaction, bound to the
// caller's session and address.
func (e *Engine) Issue(tx *Transaction, sessionID, ip string) *Envelope {
	now := e.now()
	env := &Envelope{
		Nonce:     idgen.Nonce(),
		Timestamp: now.UnixNano(),
		ExpiresAt: now.Add(TTL),
		SessionID: sessionID,
		IP:        ip,
	}
	env.Hash = e.Signature(tx, env)
	return env
}

// Verify runs the five ordered checks against the envelope. The order is
// contractual: completeness, expiry, nonce replay, session binding,
// signature. Verify never burns the nonce; the caller calls Consume once
// the transaction has settled, so a verified accept that fails downstream
// leaves the envelope usable for an honest retry.
func (e *Engine) Verify(ctx context.Context, tx *Transaction, env *Envelope, sessionID, ip string) error {
	if !env.complete() {
		return ErrIncomplete
	}
	if e.now().After(env.ExpiresAt) {
		return ErrExpired
	}

	used, err := e.nonces.Used(ctx, env.Nonce)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceReplayed
	}

	if env.SessionID != sessionID || env.IP != ip {
		return ErrSessionMismatch
	}

	expected := e.Signature(tx, env)
	if !hmac.Equal([]byte(expected), []byte(env.Hash)) {
		return ErrHashMismatch
	}
	return nil
}

// Consume burns the envelope's nonce. Exactly-once settlement of one
// request is the balance lock's job; the signature binds the nonce to the
// request id, so a nonce can never settle two different requests.
func (e *Engine) Consume(ctx context.Context, env *Envelope) error {
	return e.nonces.Consume(ctx, env.Nonce)
}

// Signature regenerates the triple-round hash for the transaction and the
// envelope's nonce, timestamp, and bindings.
func (e *Engine) Signature(tx *Transaction, env *Envelope) string {
	base := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%d|%s|%s|%s",
		tx.RequestID, tx.RequesterID, tx.PayerID, tx.GiftID, tx.Amount,
		env.Nonce, env.Timestamp, env.SessionID, env.IP, e.secret,
	)

	round1 := sha256.Sum256([]byte(base))
	round1Hex := hex.EncodeToString(round1[:])

	round2 := sha512.Sum512(append([]byte(round1Hex), e.secret...))
	round2Hex := hex.EncodeToString(round2[:])

	round3 := sha256.Sum256([]byte(round2Hex + env.Nonce))
	return hex.EncodeToString(round3[:])
}
