// Package actor resolves the calling identity and role for gated actions.
//
// The gate never authenticates anyone itself; primary authentication is an
// external collaborator. It only consumes the resolved actor.
package actor

import "context"

// Role is the closed set of roles known to the gate.
type Role string

const (
	RoleRequester Role = "requester"
	RolePayer     Role = "payer"
	RoleAdmin     Role = "admin"
	RoleGuest     Role = "guest"
)

// ParseRole maps a raw role string onto the closed enum.
// Anything unrecognized degrades to guest.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleRequester, RolePayer, RoleAdmin:
		return Role(s)
	default:
		return RoleGuest
	}
}

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleRequester, RolePayer, RoleAdmin, RoleGuest:
		return true
	}
	return false
}

// Platform identifies the caller's client class. Native callers are bound
// to a server-side session and their real IP; web callers cannot observe
// their own public IP and bind through an application key instead.
type Platform string

const (
	PlatformNative Platform = "native"
	PlatformWeb    Platform = "web"
)

// Actor is the resolved calling identity for one request.
type Actor struct {
	ID        string
	Role      Role
	Platform  Platform
	SessionID string
	IP        string
}

// AuthContext supplies the current actor, provided by session auth.
type AuthContext interface {
	CurrentActor(ctx context.Context) (*Actor, error)
}
