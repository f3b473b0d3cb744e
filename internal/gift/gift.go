// Package gift holds the gift-request transaction model and its stores.
//
// A request is priced at creation time from the catalog and the amount is
// immutable afterwards. Status moves pending → accepted/rejected/expired
// exactly once; every transition is a compare-and-set.
package gift

import (
	"context"
	"errors"
	"time"

	"github.com/glowcast/giftgate/internal/actor"
	"github.com/glowcast/giftgate/internal/envelope"
)

var (
	ErrNotFound       = errors.New("gift request not found")
	ErrStatusConflict = errors.New("gift request status already settled")
	ErrGiftNotFound   = errors.New("gift not found in catalog")
	ErrUserNotFound   = errors.New("user not found")
)

// Status is the lifecycle state of a gift request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// RequestTTL is how long a pending request stays acceptable.
const RequestTTL = 5 * time.Minute

// Request is one gift transaction between a requester and a payer.
type Request struct {
	ID          string             `json:"id"`
	RequesterID string             `json:"requesterId"`
	PayerID     string             `json:"payerId"`
	GiftID      string             `json:"giftId"`
	Amount      int64              `json:"amount"` // coins, catalog price at creation
	Status      Status             `json:"status"`
	CreatedAt   time.Time          `json:"createdAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	Envelope    *envelope.Envelope `json:"envelope,omitempty"`
}

// ExpiredAt reports whether the request is past its expiry at the instant.
func (r *Request) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Transaction returns the signed fields of the request.
func (r *Request) Transaction() *envelope.Transaction {
	return &envelope.Transaction{
		RequestID:   r.ID,
		RequesterID: r.RequesterID,
		PayerID:     r.PayerID,
		GiftID:      r.GiftID,
		Amount:      r.Amount,
	}
}

// Store persists gift requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)

	// UpdateStatus transitions id from one status to another as a single
	// compare-and-set. Returns ErrStatusConflict if the request is no
	// longer in the from status.
	UpdateStatus(ctx context.Context, id string, from, to Status) error

	// CountByTriple counts requests with the exact (requester, payer,
	// gift) triple created at or after since.
	CountByTriple(ctx context.Context, requesterID, payerID, giftID string, since time.Time) (int, error)

	// CountDistinctGifts counts distinct gift IDs requested by requester
	// to payer at or after since.
	CountDistinctGifts(ctx context.Context, requesterID, payerID string, since time.Time) (int, error)

	// ListRecent returns the payer's pending requests, newest first,
	// capped at limit.
	ListRecent(ctx context.Context, payerID string, limit int) ([]*Request, error)

	// PurgeExpired marks pending requests past their expiry as expired
	// and returns how many were purged.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Gift is a catalog item.
type Gift struct {
	ID     string `json:"id"`
	Price  int64  `json:"price"` // coins
	Active bool   `json:"active"`
}

// Catalog looks up priced gifts. External collaborator.
type Catalog interface {
	Lookup(ctx context.Context, giftID string) (*Gift, error)
}

// User is a directory entry. External collaborator data.
type User struct {
	ID   string     `json:"id"`
	Role actor.Role `json:"role"`
}

// UserDirectory resolves users and their roles. External collaborator.
type UserDirectory interface {
	Lookup(ctx context.Context, userID string) (*User, error)
}

// BlockRelationship answers whether either user has blocked the other.
// External collaborator.
type BlockRelationship interface {
	IsBlocked(ctx context.Context, userA, userB string) (bool, error)
}
