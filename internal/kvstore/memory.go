package kvstore

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	stop    chan struct{}
	now     func() time.Time
}

type memoryEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory store with a background sweep.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go s.sweep(time.Minute)
	return s
}

// NewMemoryStoreAt creates a store with an injected clock and no sweep
// goroutine. Expired entries are still invisible to reads.
func NewMemoryStoreAt(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		stop:    make(chan struct{}),
		now:     now,
	}
}

// Stop stops the sweep goroutine.
func (s *MemoryStore) Stop() {
	close(s.stop)
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// live returns the entry at key if it exists and is unexpired.
// Caller holds s.mu.
func (s *MemoryStore) live(key string) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.IncrementBy(ctx, key, 1, ttl)
}

func (s *MemoryStore) IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &memoryEntry{expiresAt: s.now().Add(ttl)}
		s.entries[key] = e
	}
	e.count += delta
	e.value = strconv.FormatInt(e.count, 10)
	return e.count, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) PutIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false, nil
	}
	s.entries[key] = &memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(key) != nil, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}
