package envelope

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glowcast/giftgate/internal/kvstore"
)

func testEngine() (*Engine, *time.Time) {
	now := time.Now()
	clock := func() time.Time { return now }
	kv := kvstore.NewMemoryStoreAt(clock)
	eng := NewEngine("topsecret", NewNonceRegistry(kv)).WithClock(func() time.Time { return now })
	return eng, &now
}

func testTx() *Transaction {
	return &Transaction{
		RequestID:   "req1",
		RequesterID: "alice",
		PayerID:     "bob",
		GiftID:      "rose",
		Amount:      100,
	}
}

func TestIssueAndVerify(t *testing.T) {
	eng, _ := testEngine()
	tx := testTx()

	env := eng.Issue(tx, "sess1", "203.0.113.7")
	if env.Hash == "" || env.Nonce == "" {
		t.Fatal("issued envelope missing hash or nonce")
	}
	if err := eng.Verify(context.Background(), tx, env, "sess1", "203.0.113.7"); err != nil {
		t.Errorf("valid envelope rejected: %v", err)
	}
}

func TestVerifyIncomplete(t *testing.T) {
	eng, _ := testEngine()
	tx := testTx()
	ctx := context.Background()

	if err := eng.Verify(ctx, tx, nil, "sess1", "ip"); err != ErrIncomplete {
		t.Errorf("nil envelope: err = %v, want ErrIncomplete", err)
	}

	env := eng.Issue(tx, "sess1", "ip")
	env.Nonce = ""
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != ErrIncomplete {
		t.Errorf("missing nonce: err = %v, want ErrIncomplete", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	eng, now := testEngine()
	tx := testTx()

	env := eng.Issue(tx, "sess1", "ip")
	*now = now.Add(TTL + time.Second)
	if err := eng.Verify(context.Background(), tx, env, "sess1", "ip"); err != ErrExpired {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestVerifyAtExpiryBoundary(t *testing.T) {
	eng, now := testEngine()
	tx := testTx()

	env := eng.Issue(tx, "sess1", "ip")
	*now = now.Add(TTL - time.Second)
	if err := eng.Verify(context.Background(), tx, env, "sess1", "ip"); err != nil {
		t.Errorf("envelope one second before expiry rejected: %v", err)
	}
}

func TestNonceReplayDenied(t *testing.T) {
	eng, _ := testEngine()
	tx := testTx()
	ctx := context.Background()

	env := eng.Issue(tx, "sess1", "ip")
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	// Verification alone leaves the nonce intact; a retry is legitimate.
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != nil {
		t.Fatalf("verify before consume: %v", err)
	}

	if err := eng.Consume(ctx, env); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != ErrNonceReplayed {
		t.Errorf("replay: err = %v, want ErrNonceReplayed", err)
	}
}

func TestExpiryCheckedBeforeNonce(t *testing.T) {
	eng, now := testEngine()
	tx := testTx()
	ctx := context.Background()

	env := eng.Issue(tx, "sess1", "ip")
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if err := eng.Consume(ctx, env); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// A replay after expiry must read as expired, not as a replay.
	*now = now.Add(TTL + time.Minute)
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != ErrExpired {
		t.Errorf("late replay: err = %v, want ErrExpired", err)
	}
}

func TestSessionMismatch(t *testing.T) {
	eng, _ := testEngine()
	tx := testTx()
	ctx := context.Background()

	env := eng.Issue(tx, "sess1", "203.0.113.7")
	if err := eng.Verify(ctx, tx, env, "other-session", "203.0.113.7"); err != ErrSessionMismatch {
		t.Errorf("wrong session: err = %v, want ErrSessionMismatch", err)
	}
	if err := eng.Verify(ctx, tx, env, "sess1", "198.51.100.9"); err != ErrSessionMismatch {
		t.Errorf("wrong ip: err = %v, want ErrSessionMismatch", err)
	}

	// Neither failed attempt may burn the nonce.
	if err := eng.Verify(ctx, tx, env, "sess1", "203.0.113.7"); err != nil {
		t.Errorf("correct binding after failed attempts: %v", err)
	}
}

func TestTamperedFieldsInvalidateHash(t *testing.T) {
	eng, _ := testEngine()
	ctx := context.Background()

	tampered := []struct {
		name   string
		mutate func(*Transaction)
	}{
		{"amount", func(tx *Transaction) { tx.Amount = 1 }},
		{"requester", func(tx *Transaction) { tx.RequesterID = "mallory" }},
		{"payer", func(tx *Transaction) { tx.PayerID = "mallory" }},
		{"gift", func(tx *Transaction) { tx.GiftID = "diamond" }},
	}
	for _, tc := range tampered {
		t.Run(tc.name, func(t *testing.T) {
			tx := testTx()
			env := eng.Issue(tx, "sess1", "ip")
			tc.mutate(tx)
			if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != ErrHashMismatch {
				t.Errorf("err = %v, want ErrHashMismatch", err)
			}
		})
	}
}

func TestSignatureDeterministic(t *testing.T) {
	eng, _ := testEngine()
	tx := testTx()

	env := eng.Issue(tx, "sess1", "ip")
	if got := eng.Signature(tx, env); got != env.Hash {
		t.Error("regenerated signature differs from issued hash")
	}
}

func TestSignatureDependsOnSecret(t *testing.T) {
	now := time.Now()
	kv := kvstore.NewMemoryStoreAt(func() time.Time { return now })
	eng1 := NewEngine("secret-a", NewNonceRegistry(kv))
	eng2 := NewEngine("secret-b", NewNonceRegistry(kv))
	tx := testTx()

	env := eng1.Issue(tx, "sess1", "ip")
	if eng2.Signature(tx, env) == env.Hash {
		t.Error("different secrets must produce different signatures")
	}
}

func TestConcurrentConsumeOnlyOneWins(t *testing.T) {
	eng, _ := testEngine()
	tx := testTx()
	ctx := context.Background()

	env := eng.Issue(tx, "sess1", "ip")
	if err := eng.Verify(ctx, tx, env, "sess1", "ip"); err != nil {
		t.Fatalf("verify: %v", err)
	}

	const n = 16
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- eng.Consume(ctx, env)
		}()
	}

	var succeeded int
	for i := 0; i < n; i++ {
		if err := <-results; err == nil {
			succeeded++
		} else if !errors.Is(err, ErrNonceContended) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d callers consumed the nonce, want exactly 1", succeeded)
	}
}
