package fraud

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glowcast/giftgate/internal/gift"
)

func seed(t *testing.T, store *gift.MemoryStore, requester, payer, giftID string, at time.Time) {
	t.Helper()
	err := store.Create(context.Background(), &gift.Request{
		ID:          fmt.Sprintf("req-%s-%s-%d", giftID, payer, at.UnixNano()),
		RequesterID: requester,
		PayerID:     payer,
		GiftID:      giftID,
		Amount:      10,
		Status:      gift.StatusPending,
		CreatedAt:   at,
		ExpiresAt:   at.Add(gift.RequestTTL),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRepeatLoopDenied(t *testing.T) {
	store := gift.NewMemoryStore()
	now := time.Now()
	d := NewDetector(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	seed(t, store, "r1", "p1", "rose", now.Add(-time.Minute))
	if err := d.Scan(ctx, "r1", "p1", "rose"); err != nil {
		t.Fatalf("second identical request should pass: %v", err)
	}

	seed(t, store, "r1", "p1", "rose", now.Add(-30*time.Second))
	if err := d.Scan(ctx, "r1", "p1", "rose"); err != ErrRepeatPattern {
		t.Errorf("third identical request: err = %v, want ErrRepeatPattern", err)
	}
}

func TestRepeatLoopWindowExpires(t *testing.T) {
	store := gift.NewMemoryStore()
	now := time.Now()
	d := NewDetector(store).WithClock(func() time.Time { return now })

	seed(t, store, "r1", "p1", "rose", now.Add(-6*time.Minute))
	seed(t, store, "r1", "p1", "rose", now.Add(-7*time.Minute))
	if err := d.Scan(context.Background(), "r1", "p1", "rose"); err != nil {
		t.Errorf("repeats outside the window should not count: %v", err)
	}
}

func TestRotationDenied(t *testing.T) {
	store := gift.NewMemoryStore()
	now := time.Now()
	d := NewDetector(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i, g := range []string{"rose", "car", "crown", "ring"} {
		seed(t, store, "r1", "p1", g, now.Add(-time.Duration(i+1)*10*time.Second))
	}

	// Fifth distinct gift to the same payer inside 2 minutes.
	if err := d.Scan(ctx, "r1", "p1", "yacht"); err != ErrRotationPattern {
		t.Errorf("err = %v, want ErrRotationPattern", err)
	}

	// Same gift again is still only 4 distinct: allowed, and not a repeat yet.
	if err := d.Scan(ctx, "r1", "p1", "rose"); err != nil {
		t.Errorf("re-requesting a seen gift with 4 distinct: %v", err)
	}
}

func TestRotationScopedToPayer(t *testing.T) {
	store := gift.NewMemoryStore()
	now := time.Now()
	d := NewDetector(store).WithClock(func() time.Time { return now })

	for i, g := range []string{"rose", "car", "crown", "ring"} {
		seed(t, store, "r1", "p1", g, now.Add(-time.Duration(i+1)*10*time.Second))
	}

	// A different payer starts a fresh rotation count.
	if err := d.Scan(context.Background(), "r1", "p2", "yacht"); err != nil {
		t.Errorf("rotation must be per payer: %v", err)
	}
}

func TestCleanHistoryAllowed(t *testing.T) {
	store := gift.NewMemoryStore()
	d := NewDetector(store)
	if err := d.Scan(context.Background(), "r1", "p1", "rose"); err != nil {
		t.Errorf("empty history should pass: %v", err)
	}
}
