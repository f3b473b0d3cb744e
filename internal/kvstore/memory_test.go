package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestIncrementFixedWindow(t *testing.T) {
	now := time.Now()
	store := NewMemoryStoreAt(func() time.Time { return now })
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, RateKey("r1"), time.Hour)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// Advance past the window: the counter resets.
	now = now.Add(61 * time.Minute)
	got, err := store.Increment(ctx, RateKey("r1"), time.Hour)
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if got != 1 {
		t.Errorf("count after window = %d, want 1", got)
	}
}

func TestIncrementDoesNotExtendWindow(t *testing.T) {
	now := time.Now()
	store := NewMemoryStoreAt(func() time.Time { return now })
	ctx := context.Background()

	if _, err := store.Increment(ctx, BurstKey("r1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	now = now.Add(50 * time.Second)
	if _, err := store.Increment(ctx, BurstKey("r1"), time.Minute); err != nil {
		t.Fatal(err)
	}
	// 61s after the first increment the window is gone, even though the
	// second increment happened 11s ago.
	now = now.Add(11 * time.Second)
	got, err := store.Increment(ctx, BurstKey("r1"), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("count = %d, want 1 (window must not slide)", got)
	}
}

func TestPutIfAbsent(t *testing.T) {
	now := time.Now()
	store := NewMemoryStoreAt(func() time.Time { return now })
	ctx := context.Background()

	ok, err := store.PutIfAbsent(ctx, LockKey("p1", "req1"), "x", 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("first insert: ok=%v err=%v", ok, err)
	}
	ok, err = store.PutIfAbsent(ctx, LockKey("p1", "req1"), "y", 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second insert should fail while the first is live")
	}

	v, found, _ := store.Get(ctx, LockKey("p1", "req1"))
	if !found || v != "x" {
		t.Errorf("value = %q found=%v, want original value retained", v, found)
	}

	now = now.Add(6 * time.Minute)
	ok, _ = store.PutIfAbsent(ctx, LockKey("p1", "req1"), "z", 5*time.Minute)
	if !ok {
		t.Error("insert after TTL expiry should succeed")
	}
}

func TestExpiryInvisibleToReads(t *testing.T) {
	now := time.Now()
	store := NewMemoryStoreAt(func() time.Time { return now })
	ctx := context.Background()

	_ = store.Put(ctx, BanKey("u1"), "banned", time.Hour)
	if ok, _ := store.Exists(ctx, BanKey("u1")); !ok {
		t.Fatal("ban should exist before expiry")
	}

	now = now.Add(2 * time.Hour)
	if ok, _ := store.Exists(ctx, BanKey("u1")); ok {
		t.Error("ban should be gone after TTL")
	}
	if _, found, _ := store.Get(ctx, BanKey("u1")); found {
		t.Error("expired value should not be readable")
	}
}

func TestConcurrentIncrement(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, _ = store.Increment(ctx, RateKey("hot"), time.Hour)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Increment(ctx, RateKey("hot"), time.Hour)
	if got != 1001 {
		t.Errorf("count = %d, want 1001", got)
	}
}

func TestKeyDimensionsDoNotCollide(t *testing.T) {
	keys := []string{
		RateKey("a"), PairKey("a", "b"), BurstKey("a"), LastSeenKey("a"),
		SamplesKey("a"), NonceKey("a"), BanKey("a"), LockKey("a", "b"),
		VelocityKey("a"), SpendKey("a"),
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q across dimensions", k)
		}
		seen[k] = true
	}
}
