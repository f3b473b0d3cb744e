package gift

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for single-node deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewMemoryStore creates an in-memory gift request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	if r.Envelope != nil {
		env := *r.Envelope
		cp.Envelope = &env
	}
	s.requests[r.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	if r.Envelope != nil {
		env := *r.Envelope
		cp.Envelope = &env
	}
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if r.Status != from {
		return ErrStatusConflict
	}
	r.Status = to
	return nil
}

func (s *MemoryStore) CountByTriple(ctx context.Context, requesterID, payerID, giftID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, r := range s.requests {
		if r.RequesterID == requesterID && r.PayerID == payerID && r.GiftID == giftID &&
			!r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountDistinctGifts(ctx context.Context, requesterID, payerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gifts := make(map[string]bool)
	for _, r := range s.requests {
		if r.RequesterID == requesterID && r.PayerID == payerID && !r.CreatedAt.Before(since) {
			gifts[r.GiftID] = true
		}
	}
	return len(gifts), nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, payerID string, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Request, 0, limit)
	for _, r := range s.requests {
		if r.PayerID != payerID || r.Status != StatusPending {
			continue
		}
		cp := *r
		if r.Envelope != nil {
			env := *r.Envelope
			cp.Envelope = &env
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for _, r := range s.requests {
		if r.Status == StatusPending && now.After(r.ExpiresAt) {
			r.Status = StatusExpired
			purged++
		}
	}
	return purged, nil
}
