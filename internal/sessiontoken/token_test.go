package sessiontoken

import (
	"testing"
	"time"

	"github.com/glowcast/giftgate/internal/actor"
)

func nativeActor() *actor.Actor {
	return &actor.Actor{
		ID:        "user1",
		Role:      actor.RoleRequester,
		Platform:  actor.PlatformNative,
		SessionID: "sess-abc",
		IP:        "203.0.113.7",
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := New("secret", "webkey")
	a := nativeActor()

	token, err := v.Expected(a, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Verify(token, a); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
}

func TestVerifyRejectsWrongToken(t *testing.T) {
	v := New("secret", "webkey")
	if err := v.Verify("bogus", nativeActor()); err != ErrTokenMismatch {
		t.Errorf("err = %v, want ErrTokenMismatch", err)
	}
}

func TestVerifyRejectsMissingSession(t *testing.T) {
	v := New("secret", "webkey")
	a := nativeActor()
	a.SessionID = ""
	if err := v.Verify("anything", a); err != ErrMissingSession {
		t.Errorf("err = %v, want ErrMissingSession", err)
	}
}

func TestTokenBoundToIPForNative(t *testing.T) {
	v := New("secret", "webkey")
	a := nativeActor()

	token, _ := v.Expected(a, time.Now())

	hijacked := *a
	hijacked.IP = "198.51.100.9"
	if err := v.Verify(token, &hijacked); err != ErrTokenMismatch {
		t.Errorf("token from a different IP should mismatch, got %v", err)
	}
}

func TestWebTokenIgnoresIP(t *testing.T) {
	v := New("secret", "webkey")
	a := nativeActor()
	a.Platform = actor.PlatformWeb

	token, _ := v.Expected(a, time.Now())

	moved := *a
	moved.IP = "198.51.100.9"
	if err := v.Verify(token, &moved); err != nil {
		t.Errorf("web token should not bind to IP: %v", err)
	}
}

func TestWebAndNativeTokensDiffer(t *testing.T) {
	v := New("secret", "webkey")
	at := time.Now()

	native := nativeActor()
	web := nativeActor()
	web.Platform = actor.PlatformWeb

	nt, _ := v.Expected(native, at)
	wt, _ := v.Expected(web, at)
	if nt == wt {
		t.Error("native and web tokens must not be interchangeable")
	}
}

func TestTokenRotatesHourly(t *testing.T) {
	base := time.Date(2025, 3, 10, 14, 59, 0, 0, time.UTC)
	clock := base
	v := New("secret", "webkey").WithClock(func() time.Time { return clock })
	a := nativeActor()

	token, _ := v.Expected(a, base)
	if err := v.Verify(token, a); err != nil {
		t.Fatalf("token invalid within its hour: %v", err)
	}

	clock = base.Add(2 * time.Minute) // crosses 14:00 → 15:00 UTC
	if err := v.Verify(token, a); err != ErrTokenMismatch {
		t.Errorf("token should expire at the hour boundary, got %v", err)
	}
}

func TestBucketIsUTCRegardlessOfZone(t *testing.T) {
	v := New("secret", "webkey")
	a := nativeActor()

	utc := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	local := utc.In(time.FixedZone("UTC+9", 9*3600))

	t1, _ := v.Expected(a, utc)
	t2, _ := v.Expected(a, local)
	if t1 != t2 {
		t.Error("same instant must yield the same token in any zone")
	}
}
