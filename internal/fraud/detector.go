// Package fraud detects request-shape abuse patterns over recent gift
// request history.
//
// Both checks are stateless queries against the request store and both are
// advisory denies: they can be tripped by UI retry bugs as easily as by
// malice, so the gate logs them CRITICAL but never bans for them.
package fraud

import (
	"context"
	"errors"
	"time"

	"github.com/glowcast/giftgate/internal/gift"
)

var (
	// ErrRepeatPattern means the same (requester, payer, gift) triple
	// is looping.
	ErrRepeatPattern = errors.New("identical gift request loop")
	// ErrRotationPattern means the requester is cycling through gifts
	// at one payer.
	ErrRotationPattern = errors.New("rapid gift rotation")
)

const (
	repeatWindow    = 5 * time.Minute
	repeatThreshold = 3 // identical requests within repeatWindow, incoming included

	rotationWindow    = 2 * time.Minute
	rotationThreshold = 5 // distinct gifts to one payer, incoming included
)

// Detector scans recent history for abuse shapes.
type Detector struct {
	store gift.Store
	now   func() time.Time
}

// NewDetector creates a detector over the gift request store.
func NewDetector(store gift.Store) *Detector {
	return &Detector{store: store, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Scan evaluates the incoming request against both patterns. The incoming
// request counts toward each threshold: the attempt that would be the
// third identical request, or the fifth distinct gift, is the one denied.
func (d *Detector) Scan(ctx context.Context, requesterID, payerID, giftID string) error {
	now := d.now()

	repeats, err := d.store.CountByTriple(ctx, requesterID, payerID, giftID, now.Add(-repeatWindow))
	if err != nil {
		return err
	}
	if repeats+1 >= repeatThreshold {
		return ErrRepeatPattern
	}

	distinct, err := d.store.CountDistinctGifts(ctx, requesterID, payerID, now.Add(-rotationWindow))
	if err != nil {
		return err
	}
	// The incoming gift may or may not already be in the window; counting
	// it via the triple query keeps the check exact.
	seen, err := d.store.CountByTriple(ctx, requesterID, payerID, giftID, now.Add(-rotationWindow))
	if err != nil {
		return err
	}
	if seen == 0 {
		distinct++
	}
	if distinct >= rotationThreshold {
		return ErrRotationPattern
	}

	return nil
}
