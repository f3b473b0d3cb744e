package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glowcast/giftgate/internal/kvstore"
)

func testClock() (*time.Time, func() time.Time) {
	now := time.Now()
	return &now, func() time.Time { return now }
}

func TestAllowUnderCeilings(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	l := NewLimiter(kv, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*now = now.Add(10 * time.Second)
		if err := l.Allow(ctx, "r1", "p1"); err != nil {
			t.Fatalf("request %d denied: %v", i, err)
		}
	}
}

func TestBurstCeiling(t *testing.T) {
	_, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	l := NewLimiter(kv, DefaultConfig())
	ctx := context.Background()

	var err error
	for i := 0; i < 10; i++ {
		err = l.Allow(ctx, "r1", fmt.Sprintf("p%d", i))
	}
	if err != ErrBurstSpam {
		t.Errorf("10th request in the burst window: err = %v, want ErrBurstSpam", err)
	}
}

func TestBurstWindowResets(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	l := NewLimiter(kv, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if err := l.Allow(ctx, "r1", "p1"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	*now = now.Add(61 * time.Second)
	if err := l.Allow(ctx, "r1", "p1"); err != nil {
		t.Errorf("request after burst window reset denied: %v", err)
	}
}

func TestPairCeiling(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	l := NewLimiter(kv, DefaultConfig())
	ctx := context.Background()

	var err error
	for i := 0; i < 31; i++ {
		// Spread out to stay under the burst window.
		*now = now.Add(10 * time.Second)
		err = l.Allow(ctx, "r1", "p1")
	}
	if err != ErrRateLimited {
		t.Errorf("31st pair request: err = %v, want ErrRateLimited", err)
	}

	// A different payer is unaffected by the pair ceiling.
	*now = now.Add(10 * time.Second)
	if err := l.Allow(ctx, "r1", "p2"); err != nil {
		t.Errorf("fresh pair denied: %v", err)
	}
}

func TestRequesterCeiling(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	cfg := DefaultConfig()
	cfg.RequesterPerHour = 15
	cfg.PairPerHour = 100
	l := NewLimiter(kv, cfg)
	ctx := context.Background()

	var err error
	for i := 0; i < 16; i++ {
		*now = now.Add(10 * time.Second)
		err = l.Allow(ctx, "r1", fmt.Sprintf("p%d", i))
	}
	if err != ErrRateLimited {
		t.Errorf("16th request: err = %v, want ErrRateLimited", err)
	}
}

func TestBotVelocityInstantVerdict(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	d := NewBotDetector(kv).WithClock(clock)
	ctx := context.Background()

	if err := d.Observe(ctx, "r1"); err != nil {
		t.Fatalf("first observation: %v", err)
	}
	*now = now.Add(500 * time.Millisecond)
	if err := d.Observe(ctx, "r1"); err != ErrBotVelocity {
		t.Errorf("sub-2s inter-arrival: err = %v, want ErrBotVelocity", err)
	}
}

func TestBotPatternZeroJitter(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	d := NewBotDetector(kv).WithClock(clock)
	ctx := context.Background()

	// Metronomic 5s cadence. Variance is exactly zero once enough
	// samples accumulate.
	var err error
	for i := 0; i < 12; i++ {
		*now = now.Add(5 * time.Second)
		err = d.Observe(ctx, "r1")
	}
	if err != ErrBotPattern {
		t.Errorf("scripted cadence: err = %v, want ErrBotPattern", err)
	}
}

func TestHumanJitterAllowed(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	d := NewBotDetector(kv).WithClock(clock)
	ctx := context.Background()

	// Irregular human-looking gaps, all above the velocity floor.
	gaps := []time.Duration{
		3 * time.Second, 9 * time.Second, 4 * time.Second, 15 * time.Second,
		6 * time.Second, 21 * time.Second, 3 * time.Second, 11 * time.Second,
		7 * time.Second, 30 * time.Second, 5 * time.Second, 13 * time.Second,
	}
	for i, g := range gaps {
		*now = now.Add(g)
		if err := d.Observe(ctx, "r1"); err != nil {
			t.Fatalf("human observation %d denied: %v", i, err)
		}
	}
}

func TestBotPatternNeedsEnoughSamples(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	d := NewBotDetector(kv).WithClock(clock)
	ctx := context.Background()

	// Perfectly regular but only 8 samples: below the minimum, allowed.
	for i := 0; i < 8; i++ {
		*now = now.Add(5 * time.Second)
		if err := d.Observe(ctx, "r1"); err != nil {
			t.Fatalf("observation %d with few samples denied: %v", i, err)
		}
	}
}

func TestSampleListCapped(t *testing.T) {
	now, clock := testClock()
	kv := kvstore.NewMemoryStoreAt(clock)
	d := NewBotDetector(kv).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		*now = now.Add(time.Duration(3+i%7) * time.Second)
		_ = d.Observe(ctx, "r1")
	}

	raw, ok, err := kv.Get(ctx, kvstore.SamplesKey("r1"))
	if err != nil || !ok {
		t.Fatalf("samples missing: ok=%v err=%v", ok, err)
	}
	if got := len(parseSamples(raw)); got > sampleCap {
		t.Errorf("sample list length = %d, want <= %d", got, sampleCap)
	}
}

func TestIntervalVariance(t *testing.T) {
	base := time.Now()
	regular := []time.Time{base, base.Add(5 * time.Second), base.Add(10 * time.Second), base.Add(15 * time.Second)}
	v, ok := intervalVariance(regular)
	if !ok || v != 0 {
		t.Errorf("regular cadence variance = %f ok=%v, want 0", v, ok)
	}

	irregular := []time.Time{base, base.Add(2 * time.Second), base.Add(12 * time.Second), base.Add(13 * time.Second)}
	v, ok = intervalVariance(irregular)
	if !ok || v <= varianceEpsilon {
		t.Errorf("irregular cadence variance = %f ok=%v, want > epsilon", v, ok)
	}

	if _, ok := intervalVariance(regular[:2]); ok {
		t.Error("two samples should not produce a variance verdict")
	}
}
