// Package ban holds time-boxed bans with reason codes.
//
// Bans are the gate's only escalation mechanism. A ban overwrites any prior
// ban for the user and expires solely via TTL; there is no unban operation.
// Permanent bans are an administrative concern outside this subsystem.
package ban

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/glowcast/giftgate/internal/idgen"
	"github.com/glowcast/giftgate/internal/kvstore"
)

// Reason identifies why a ban was issued.
type Reason string

const (
	ReasonBurstSpam     Reason = "burst_spam"
	ReasonBotVelocity   Reason = "bot_velocity"
	ReasonBotPattern    Reason = "bot_pattern"
	ReasonNonceReplayed Reason = "nonce_replayed"
	ReasonHashMismatch  Reason = "hash_mismatch"
)

// Record is one active ban.
type Record struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Reason        Reason    `json:"reason"`
	BannedAt      time.Time `json:"bannedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DurationHours int       `json:"durationHours"`
}

// Store persists bans in the injected key-value backend.
type Store struct {
	kv  kvstore.Store
	now func() time.Time
}

// New creates a ban store.
func New(kv kvstore.Store) *Store {
	return &Store{kv: kv, now: time.Now}
}

// WithClock overrides the clock, for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ban issues (or overwrites) a ban for the user.
func (s *Store) Ban(ctx context.Context, userID string, reason Reason, hours int) (*Record, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("ban duration must be positive, got %d", hours)
	}
	now := s.now()
	rec := &Record{
		ID:            idgen.WithPrefix("ban_"),
		UserID:        userID,
		Reason:        reason,
		BannedAt:      now,
		ExpiresAt:     now.Add(time.Duration(hours) * time.Hour),
		DurationHours: hours,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Put(ctx, kvstore.BanKey(userID), string(raw), time.Duration(hours)*time.Hour); err != nil {
		return nil, err
	}
	return rec, nil
}

// IsBanned reports whether the user has an active ban.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, error) {
	return s.kv.Exists(ctx, kvstore.BanKey(userID))
}

// Get returns the active ban record for the user, or nil.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	raw, ok, err := s.kv.Get(ctx, kvstore.BanKey(userID))
	if err != nil || !ok {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("malformed ban record for %s: %w", userID, err)
	}
	return &rec, nil
}
