// Package ratelimit combines windowed request counters with inter-arrival
// timing analysis to gate gift requests.
//
// Ceilings are intentionally generous and the memory short (fixed hourly
// windows, a 60-second burst window, the last 20 timestamps) so legitimate
// bursts of human activity do not trip the gate.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/glowcast/giftgate/internal/kvstore"
)

var (
	// ErrRateLimited means an hourly ceiling was hit. Deny, no ban.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrBurstSpam means the short burst window overflowed. Deny and ban.
	ErrBurstSpam = errors.New("burst spam detected")
)

// Config holds the limiter's ceilings.
type Config struct {
	RequesterPerHour int           // per requester
	PairPerHour      int           // per (requester, payer) pair
	BurstWindow      time.Duration // short spam-catching window
	BurstMax         int           // requests inside BurstWindow before a ban
}

// DefaultConfig returns the production ceilings.
func DefaultConfig() Config {
	return Config{
		RequesterPerHour: 200,
		PairPerHour:      30,
		BurstWindow:      time.Minute,
		BurstMax:         10,
	}
}

// Limiter enforces the windowed counters over the injected counter store.
type Limiter struct {
	cfg Config
	kv  kvstore.Store
}

// NewLimiter creates a limiter backed by the given store.
func NewLimiter(kv kvstore.Store, cfg Config) *Limiter {
	return &Limiter{cfg: cfg, kv: kv}
}

// Allow counts this request against all three windows and returns
// ErrRateLimited, ErrBurstSpam, or nil. Counters increment even on deny:
// hammering a closed gate keeps it closed.
func (l *Limiter) Allow(ctx context.Context, requesterID, payerID string) error {
	burst, err := l.kv.Increment(ctx, kvstore.BurstKey(requesterID), l.cfg.BurstWindow)
	if err != nil {
		return err
	}
	if burst >= int64(l.cfg.BurstMax) {
		return ErrBurstSpam
	}

	hourly, err := l.kv.Increment(ctx, kvstore.RateKey(requesterID), time.Hour)
	if err != nil {
		return err
	}
	if hourly > int64(l.cfg.RequesterPerHour) {
		return ErrRateLimited
	}

	pair, err := l.kv.Increment(ctx, kvstore.PairKey(requesterID, payerID), time.Hour)
	if err != nil {
		return err
	}
	if pair > int64(l.cfg.PairPerHour) {
		return ErrRateLimited
	}

	return nil
}
