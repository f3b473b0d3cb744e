// Package sessiontoken verifies the deterministic token binding a request
// to a session, caller address, and actor.
//
// The token is an HMAC-SHA256 over the actor ID, session identifier, UTC
// hour bucket, and an origin identifier. Native callers bind to their
// server-side session and real client IP; web callers cannot observe their
// own public IP, so they bind through a client-held session identifier, a
// fixed application key, and a fixed origin marker instead. Tokens rotate
// every hour and expire naturally, so a mismatch denies without banning.
//
// The hour bucket is always computed in UTC, for every platform.
package sessiontoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/glowcast/giftgate/internal/actor"
)

const webOrigin = "web"

var (
	ErrTokenMismatch  = errors.New("session token mismatch")
	ErrMissingSession = errors.New("session identifier missing")
)

// Validator computes and checks session-binding tokens.
type Validator struct {
	secret    []byte
	webAppKey []byte
	now       func() time.Time
}

// New creates a validator. webAppKey is the fixed key handed to browser
// builds; it signs web tokens in place of the server secret.
func New(secret, webAppKey string) *Validator {
	return &Validator{
		secret:    []byte(secret),
		webAppKey: []byte(webAppKey),
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Verify checks the claimed token against the expected one for the current
// hour bucket. Comparison is constant-time; any mismatch is a hard deny.
func (v *Validator) Verify(claimed string, a *actor.Actor) error {
	expected, err := v.Expected(a, v.now())
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(claimed), []byte(expected)) {
		return ErrTokenMismatch
	}
	return nil
}

// Expected returns the token an honest caller would present at the given time.
func (v *Validator) Expected(a *actor.Actor, at time.Time) (string, error) {
	if a.SessionID == "" {
		return "", ErrMissingSession
	}

	bucket := at.UTC().Format("2006010215")

	var key []byte
	var origin string
	switch a.Platform {
	case actor.PlatformWeb:
		key = v.webAppKey
		origin = webOrigin
	default:
		key = v.secret
		origin = a.IP
	}

	msg := fmt.Sprintf("GiftGate|%s|%s|%s|%s", a.ID, a.SessionID, bucket, origin)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
