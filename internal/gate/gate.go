// Package gate authorizes every state-changing gift action.
//
// One Gate method call is one decision: the caller either passes through
// to the underlying operation or receives a structured deny with a reason
// code. The gate never mutates domain data beyond ban, log, nonce, and
// balance-lock bookkeeping. On internal failure it fails closed.
package gate

import (
	"context"
	"errors"
	"time"

	"github.com/glowcast/giftgate/internal/actor"
	"github.com/glowcast/giftgate/internal/ban"
	"github.com/glowcast/giftgate/internal/envelope"
	"github.com/glowcast/giftgate/internal/fraud"
	"github.com/glowcast/giftgate/internal/gift"
	"github.com/glowcast/giftgate/internal/kvstore"
	"github.com/glowcast/giftgate/internal/ledger"
	"github.com/glowcast/giftgate/internal/logging"
	"github.com/glowcast/giftgate/internal/metrics"
	"github.com/glowcast/giftgate/internal/ratelimit"
	"github.com/glowcast/giftgate/internal/sessiontoken"
)

// BanDurations configures how long each escalation lasts, in hours.
// Tamper is the longest ban in the system, replay the second longest.
type BanDurations struct {
	Burst  int
	Bot    int
	Replay int
	Tamper int
}

// DefaultBanDurations returns the production escalation ladder.
func DefaultBanDurations() BanDurations {
	return BanDurations{Burst: 1, Bot: 6, Replay: 48, Tamper: 72}
}

// Spending-velocity advisory thresholds. Log-only, never blocks.
const (
	velocityWindow     = 10 * time.Minute
	velocityMaxAccepts = 5
	velocityMaxCoins   = 1000
)

// Gate is the security gate. One instance serves all requests; every
// method is one decision.
type Gate struct {
	tokens    *sessiontoken.Validator
	limiter   *ratelimit.Limiter
	bots      *ratelimit.BotDetector
	fraud     *fraud.Detector
	envelopes *envelope.Engine
	guard     *ledger.Guard
	bans      *ban.Store
	requests  gift.Store
	catalog   gift.Catalog
	directory gift.UserDirectory
	blocks    gift.BlockRelationship
	kv        kvstore.Store
	durations BanDurations
	now       func() time.Time
}

// Deps carries the gate's collaborators.
type Deps struct {
	Tokens    *sessiontoken.Validator
	Limiter   *ratelimit.Limiter
	Bots      *ratelimit.BotDetector
	Fraud     *fraud.Detector
	Envelopes *envelope.Engine
	Guard     *ledger.Guard
	Bans      *ban.Store
	Requests  gift.Store
	Catalog   gift.Catalog
	Directory gift.UserDirectory
	Blocks    gift.BlockRelationship
	KV        kvstore.Store
}

// New creates a gate.
func New(deps Deps, durations BanDurations) *Gate {
	return &Gate{
		tokens:    deps.Tokens,
		limiter:   deps.Limiter,
		bots:      deps.Bots,
		fraud:     deps.Fraud,
		envelopes: deps.Envelopes,
		guard:     deps.Guard,
		bans:      deps.Bans,
		requests:  deps.Requests,
		catalog:   deps.Catalog,
		directory: deps.Directory,
		blocks:    deps.Blocks,
		kv:        deps.KV,
		durations: durations,
		now:       time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Available gates the read-only gift listing: role and ban check only.
func (g *Gate) Available(ctx context.Context, a *actor.Actor) Decision {
	if a.Role != actor.RoleRequester && a.Role != actor.RolePayer && a.Role != actor.RoleAdmin {
		return g.record(ctx, ActionAvailable, denied(ReasonUnauthorizedRole))
	}
	if d, ok := g.checkBanned(ctx, ActionAvailable, a.ID); !ok {
		return d
	}
	return g.record(ctx, ActionAvailable, allowed())
}

// Reject gates the payer declining a pending request and performs the
// transition. Only the owning payer may reject, and only while pending.
func (g *Gate) Reject(ctx context.Context, a *actor.Actor, requestID string) Decision {
	if a.Role != actor.RolePayer {
		return g.record(ctx, ActionReject, denied(ReasonUnauthorizedRole))
	}

	req, err := g.requests.Get(ctx, requestID)
	if errors.Is(err, gift.ErrNotFound) {
		return g.record(ctx, ActionReject, denied(ReasonInvalidTarget))
	}
	if err != nil {
		return g.failClosed(ctx, ActionReject, err)
	}
	if req.PayerID != a.ID || req.Status != gift.StatusPending {
		return g.record(ctx, ActionReject, denied(ReasonInvalidTarget))
	}

	if err := g.requests.UpdateStatus(ctx, requestID, gift.StatusPending, gift.StatusRejected); err != nil {
		if errors.Is(err, gift.ErrStatusConflict) {
			return g.record(ctx, ActionReject, denied(ReasonInvalidTarget))
		}
		return g.failClosed(ctx, ActionReject, err)
	}
	return g.record(ctx, ActionReject, allowed())
}

// Purge gates the administrative sweep of expired pending requests and
// returns how many were expired.
func (g *Gate) Purge(ctx context.Context, a *actor.Actor) (int, Decision) {
	if a.Role != actor.RoleAdmin {
		return 0, g.record(ctx, ActionPurge, denied(ReasonUnauthorizedRole))
	}
	purged, err := g.requests.PurgeExpired(ctx, g.now())
	if err != nil {
		return 0, g.failClosed(ctx, ActionPurge, err)
	}
	logging.Event(ctx, logging.SeverityInfo, "purged expired gift requests", "count", purged, "admin", a.ID)
	return purged, g.record(ctx, ActionPurge, allowed())
}

// checkBanned denies when the actor carries an active ban. Fails closed
// on store errors.
func (g *Gate) checkBanned(ctx context.Context, action Action, userID string) (Decision, bool) {
	banned, err := g.bans.IsBanned(ctx, userID)
	if err != nil {
		return g.failClosed(ctx, action, err), false
	}
	if banned {
		return g.record(ctx, action, denied(ReasonAlreadyBanned)), false
	}
	return Decision{}, true
}

// issueBan bans the user and returns the deny carrying the ban record.
// A failure to write the ban still denies.
func (g *Gate) issueBan(ctx context.Context, action Action, userID string, reason ban.Reason, hours int, deny DenyReason) Decision {
	rec, err := g.bans.Ban(ctx, userID, reason, hours)
	if err != nil {
		logging.Event(ctx, logging.SeverityCritical, "failed to persist ban",
			"user_id", userID, "reason", string(reason), "error", err)
		return g.record(ctx, action, denied(deny))
	}
	metrics.BansTotal.WithLabelValues(string(reason)).Inc()
	return g.record(ctx, action, deniedWithBan(deny, rec))
}

// record emits metrics for a decision and passes it through.
func (g *Gate) record(ctx context.Context, action Action, d Decision) Decision {
	outcome := "allow"
	reason := ""
	if !d.Allow {
		outcome = "deny"
		reason = string(d.Reason)
	}
	metrics.DecisionsTotal.WithLabelValues(string(action), outcome, reason).Inc()
	return d
}

// failClosed logs an internal failure and denies.
func (g *Gate) failClosed(ctx context.Context, action Action, err error) Decision {
	logging.Event(ctx, logging.SeverityCritical, "gate internal failure, denying",
		"action", string(action), "error", err)
	return g.record(ctx, action, denied(ReasonInternalError))
}
