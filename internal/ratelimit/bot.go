package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/glowcast/giftgate/internal/kvstore"
)

var (
	// ErrBotVelocity means two requests arrived under the minimum
	// human inter-arrival time. Deny and ban.
	ErrBotVelocity = errors.New("inter-arrival time below human threshold")
	// ErrBotPattern means the recent request cadence has near-zero
	// jitter, the signature of a script. Deny and ban.
	ErrBotPattern = errors.New("robotic request cadence detected")
)

const (
	minInterArrival = 2 * time.Second
	sampleCap       = 20
	minSamples      = 10
	sampleTTL       = time.Hour

	// varianceEpsilon is the cutoff (in seconds squared) below which the
	// inter-arrival jitter is considered machine-generated. Human traffic
	// at any pace shows far more spread than this.
	varianceEpsilon = 0.05
)

// BotDetector classifies actors from their request timing.
type BotDetector struct {
	kv  kvstore.Store
	now func() time.Time
}

// NewBotDetector creates a detector backed by the given store.
func NewBotDetector(kv kvstore.Store) *BotDetector {
	return &BotDetector{kv: kv, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (d *BotDetector) WithClock(now func() time.Time) *BotDetector {
	d.now = now
	return d
}

// Observe records the current request instant for the actor and returns
// ErrBotVelocity or ErrBotPattern when the timing gives the script away.
// The sample list is advisory bookkeeping; the hard counters live in
// Limiter.
func (d *BotDetector) Observe(ctx context.Context, actorID string) error {
	now := d.now()

	lastRaw, hadLast, err := d.kv.Get(ctx, kvstore.LastSeenKey(actorID))
	if err != nil {
		return err
	}
	if err := d.kv.Put(ctx, kvstore.LastSeenKey(actorID), formatNano(now), sampleTTL); err != nil {
		return err
	}

	samples, err := d.appendSample(ctx, actorID, now)
	if err != nil {
		return err
	}

	if hadLast {
		last, perr := parseNano(lastRaw)
		if perr == nil && now.Sub(last) < minInterArrival {
			return ErrBotVelocity
		}
	}

	if len(samples) >= minSamples {
		if v, ok := intervalVariance(samples); ok && v < varianceEpsilon {
			return ErrBotPattern
		}
	}
	return nil
}

// appendSample pushes now onto the actor's sample list, keeping the
// newest sampleCap entries, and returns the updated list.
func (d *BotDetector) appendSample(ctx context.Context, actorID string, now time.Time) ([]time.Time, error) {
	raw, _, err := d.kv.Get(ctx, kvstore.SamplesKey(actorID))
	if err != nil {
		return nil, err
	}

	samples := parseSamples(raw)
	samples = append(samples, now)
	if len(samples) > sampleCap {
		samples = samples[len(samples)-sampleCap:]
	}

	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = formatNano(s)
	}
	if err := d.kv.Put(ctx, kvstore.SamplesKey(actorID), strings.Join(parts, ","), sampleTTL); err != nil {
		return nil, err
	}
	return samples, nil
}

// intervalVariance computes the variance of the inter-arrival intervals,
// in seconds squared. ok is false when there are fewer than two intervals.
func intervalVariance(samples []time.Time) (float64, bool) {
	if len(samples) < 3 {
		return 0, false
	}

	intervals := make([]float64, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		intervals = append(intervals, samples[i].Sub(samples[i-1]).Seconds())
	}

	var mean float64
	for _, iv := range intervals {
		mean += iv
	}
	mean /= float64(len(intervals))

	var variance float64
	for _, iv := range intervals {
		diff := iv - mean
		variance += diff * diff
	}
	variance /= float64(len(intervals))

	return variance, true
}

func parseSamples(raw string) []time.Time {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	samples := make([]time.Time, 0, len(parts))
	for _, p := range parts {
		if t, err := parseNano(p); err == nil {
			samples = append(samples, t)
		}
	}
	return samples
}

func formatNano(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseNano(s string) (time.Time, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}
