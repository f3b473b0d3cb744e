package gate

import (
	"context"
	"errors"

	"github.com/glowcast/giftgate/internal/actor"
	"github.com/glowcast/giftgate/internal/ban"
	"github.com/glowcast/giftgate/internal/fraud"
	"github.com/glowcast/giftgate/internal/gift"
	"github.com/glowcast/giftgate/internal/idgen"
	"github.com/glowcast/giftgate/internal/logging"
	"github.com/glowcast/giftgate/internal/ratelimit"
)

// RequestInput carries the caller's request-time parameters.
type RequestInput struct {
	SessionToken string
	PayerID      string
	GiftID       string
	// Amount is the client-submitted price, if any. Zero means the
	// client did not submit one; a non-zero value must match the
	// catalog price exactly.
	Amount int64
}

// Request gates a requester asking a payer for a gift. On allow, the
// created request (with its issued security envelope) is returned.
func (g *Gate) Request(ctx context.Context, a *actor.Actor, in RequestInput) (*gift.Request, Decision) {
	if a.Role != actor.RoleRequester {
		return nil, g.record(ctx, ActionRequest, denied(ReasonUnauthorizedRole))
	}
	if d, ok := g.checkBanned(ctx, ActionRequest, a.ID); !ok {
		return nil, d
	}
	if in.PayerID == a.ID {
		return nil, g.record(ctx, ActionRequest, denied(ReasonSelfTarget))
	}

	payer, err := g.directory.Lookup(ctx, in.PayerID)
	if errors.Is(err, gift.ErrUserNotFound) {
		return nil, g.record(ctx, ActionRequest, denied(ReasonInvalidTarget))
	}
	if err != nil {
		return nil, g.failClosed(ctx, ActionRequest, err)
	}
	if payer.Role != actor.RolePayer {
		return nil, g.record(ctx, ActionRequest, denied(ReasonInvalidTarget))
	}

	if d, ok := g.checkBotAndRate(ctx, a, in.PayerID); !ok {
		return nil, d
	}

	if err := g.tokens.Verify(in.SessionToken, a); err != nil {
		logging.Event(ctx, logging.SeverityCritical, "session token rejected",
			"actor_id", a.ID, "platform", string(a.Platform), "error", err)
		return nil, g.record(ctx, ActionRequest, denied(ReasonSessionTokenInvalid))
	}

	item, err := g.catalog.Lookup(ctx, in.GiftID)
	if errors.Is(err, gift.ErrGiftNotFound) {
		return nil, g.record(ctx, ActionRequest, denied(ReasonInvalidTarget))
	}
	if err != nil {
		return nil, g.failClosed(ctx, ActionRequest, err)
	}
	if !item.Active {
		return nil, g.record(ctx, ActionRequest, denied(ReasonInvalidTarget))
	}
	// A submitted price that disagrees with the catalog is a tamper
	// signal: deny and log CRITICAL, but no ban, since the catalog may
	// simply have repriced under the client.
	if in.Amount != 0 && in.Amount != item.Price {
		logging.Event(ctx, logging.SeverityCritical, "submitted price disagrees with catalog",
			"actor_id", a.ID, "gift_id", in.GiftID, "submitted", in.Amount, "price", item.Price)
		return nil, g.record(ctx, ActionRequest, denied(ReasonPriceTampered))
	}

	blocked, err := g.blocks.IsBlocked(ctx, a.ID, in.PayerID)
	if err != nil {
		return nil, g.failClosed(ctx, ActionRequest, err)
	}
	if blocked {
		return nil, g.record(ctx, ActionRequest, denied(ReasonBlockedRelationship))
	}

	if err := g.fraud.Scan(ctx, a.ID, in.PayerID, in.GiftID); err != nil {
		switch {
		case errors.Is(err, fraud.ErrRepeatPattern):
			logging.Event(ctx, logging.SeverityCritical, "identical gift request loop",
				"requester_id", a.ID, "payer_id", in.PayerID, "gift_id", in.GiftID)
			return nil, g.record(ctx, ActionRequest, denied(ReasonFraudPatternRepeat))
		case errors.Is(err, fraud.ErrRotationPattern):
			logging.Event(ctx, logging.SeverityCritical, "rapid gift rotation",
				"requester_id", a.ID, "payer_id", in.PayerID)
			return nil, g.record(ctx, ActionRequest, denied(ReasonFraudPatternRotation))
		default:
			return nil, g.failClosed(ctx, ActionRequest, err)
		}
	}

	now := g.now()
	req := &gift.Request{
		ID:          idgen.WithPrefix("gift_"),
		RequesterID: a.ID,
		PayerID:     in.PayerID,
		GiftID:      in.GiftID,
		Amount:      item.Price, // catalog price, immutable from here on
		Status:      gift.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(gift.RequestTTL),
	}
	req.Envelope = g.envelopes.Issue(req.Transaction(), a.SessionID, a.IP)

	if err := g.requests.Create(ctx, req); err != nil {
		return nil, g.failClosed(ctx, ActionRequest, err)
	}

	logging.Event(ctx, logging.SeverityInfo, "gift request issued",
		"request_id", req.ID, "requester_id", a.ID, "payer_id", in.PayerID,
		"gift_id", in.GiftID, "amount", req.Amount)
	return req, g.record(ctx, ActionRequest, allowed())
}

// checkBotAndRate runs the timing classifier and the windowed counters.
// Bot verdicts and burst overflow ban; plain ceiling hits only deny.
func (g *Gate) checkBotAndRate(ctx context.Context, a *actor.Actor, payerID string) (Decision, bool) {
	if err := g.bots.Observe(ctx, a.ID); err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrBotVelocity):
			logging.Event(ctx, logging.SeverityWarning, "bot velocity verdict", "actor_id", a.ID)
			return g.issueBan(ctx, ActionRequest, a.ID, ban.ReasonBotVelocity, g.durations.Bot, ReasonBotVelocity), false
		case errors.Is(err, ratelimit.ErrBotPattern):
			logging.Event(ctx, logging.SeverityWarning, "bot cadence verdict", "actor_id", a.ID)
			return g.issueBan(ctx, ActionRequest, a.ID, ban.ReasonBotPattern, g.durations.Bot, ReasonBotPattern), false
		default:
			return g.failClosed(ctx, ActionRequest, err), false
		}
	}

	if err := g.limiter.Allow(ctx, a.ID, payerID); err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrBurstSpam):
			logging.Event(ctx, logging.SeverityWarning, "burst window overflow", "actor_id", a.ID)
			return g.issueBan(ctx, ActionRequest, a.ID, ban.ReasonBurstSpam, g.durations.Burst, ReasonBurstSpam), false
		case errors.Is(err, ratelimit.ErrRateLimited):
			logging.Event(ctx, logging.SeverityWarning, "rate ceiling hit", "actor_id", a.ID)
			return g.record(ctx, ActionRequest, denied(ReasonRateLimited)), false
		default:
			return g.failClosed(ctx, ActionRequest, err), false
		}
	}
	return Decision{}, true
}
