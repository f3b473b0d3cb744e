package server

import (
	"context"
	"sync"

	"github.com/glowcast/giftgate/internal/gift"
)

// The gift catalog, user directory, and block graph are owned by other
// platform services. The static implementations below stand in when the
// server is not wired to them, mainly for development and tests.

// StaticCatalog is a fixed in-memory gift catalog.
type StaticCatalog struct {
	mu    sync.RWMutex
	gifts map[string]gift.Gift
}

// NewStaticCatalog creates a catalog holding the given gifts.
func NewStaticCatalog(gifts ...gift.Gift) *StaticCatalog {
	c := &StaticCatalog{gifts: make(map[string]gift.Gift, len(gifts))}
	for _, g := range gifts {
		c.gifts[g.ID] = g
	}
	return c
}

// DefaultCatalog returns the development seed catalog.
func DefaultCatalog() *StaticCatalog {
	return NewStaticCatalog(
		gift.Gift{ID: "rose", Price: 100, Active: true},
		gift.Gift{ID: "teddy", Price: 250, Active: true},
		gift.Gift{ID: "crown", Price: 500, Active: true},
		gift.Gift{ID: "yacht", Price: 5000, Active: true},
	)
}

func (c *StaticCatalog) Lookup(ctx context.Context, giftID string) (*gift.Gift, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.gifts[giftID]
	if !ok {
		return nil, gift.ErrGiftNotFound
	}
	return &g, nil
}

// Put adds or replaces a catalog entry.
func (c *StaticCatalog) Put(g gift.Gift) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gifts[g.ID] = g
}

// StaticDirectory is an in-memory user directory.
type StaticDirectory struct {
	mu    sync.RWMutex
	users map[string]gift.User
}

// NewStaticDirectory creates a directory holding the given users.
func NewStaticDirectory(users ...gift.User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]gift.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

func (d *StaticDirectory) Lookup(ctx context.Context, userID string) (*gift.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, gift.ErrUserNotFound
	}
	return &u, nil
}

// Add registers a user.
func (d *StaticDirectory) Add(u gift.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// NoBlocks is a block source that never blocks anyone.
type NoBlocks struct{}

func (NoBlocks) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	return false, nil
}
