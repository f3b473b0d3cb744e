package gate

import (
	"context"
	"crypto/hmac"
	"errors"
	"strconv"

	"github.com/glowcast/giftgate/internal/actor"
	"github.com/glowcast/giftgate/internal/ban"
	"github.com/glowcast/giftgate/internal/envelope"
	"github.com/glowcast/giftgate/internal/gift"
	"github.com/glowcast/giftgate/internal/kvstore"
	"github.com/glowcast/giftgate/internal/ledger"
	"github.com/glowcast/giftgate/internal/logging"
	"github.com/glowcast/giftgate/internal/metrics"
)

// AcceptInput carries the payer's accept-time parameters.
type AcceptInput struct {
	SessionToken string
	RequestID    string
}

// AcceptResult is returned on an allowed accept.
type AcceptResult struct {
	Request    *gift.Request
	NewBalance int64
}

// Accept gates a payer accepting a pending gift request and performs the
// debit and status transition.
func (g *Gate) Accept(ctx context.Context, a *actor.Actor, in AcceptInput) (*AcceptResult, Decision) {
	if a.Role != actor.RolePayer {
		return nil, g.record(ctx, ActionAccept, denied(ReasonUnauthorizedRole))
	}
	if d, ok := g.checkBanned(ctx, ActionAccept, a.ID); !ok {
		return nil, d
	}

	if err := g.tokens.Verify(in.SessionToken, a); err != nil {
		logging.Event(ctx, logging.SeverityCritical, "session token rejected",
			"actor_id", a.ID, "platform", string(a.Platform), "error", err)
		return nil, g.record(ctx, ActionAccept, denied(ReasonSessionTokenInvalid))
	}

	req, err := g.requests.Get(ctx, in.RequestID)
	if errors.Is(err, gift.ErrNotFound) {
		return nil, g.record(ctx, ActionAccept, denied(ReasonInvalidTarget))
	}
	if err != nil {
		return nil, g.failClosed(ctx, ActionAccept, err)
	}
	if req.PayerID != a.ID {
		return nil, g.record(ctx, ActionAccept, denied(ReasonInvalidTarget))
	}
	if req.ExpiredAt(g.now()) {
		// Settle the record while we're here; losing the race is fine.
		_ = g.requests.UpdateStatus(ctx, req.ID, gift.StatusPending, gift.StatusExpired)
		return nil, g.record(ctx, ActionAccept, denied(ReasonEnvelopeExpired))
	}

	// Resubmissions of a live request surface as duplicates even after
	// the first one settled, so the balance-lock check runs before the
	// status check and before the nonce is touched.
	locked, err := g.guard.Locked(ctx, a.ID, req.ID)
	if err != nil {
		return nil, g.failClosed(ctx, ActionAccept, err)
	}
	if locked {
		logging.Event(ctx, logging.SeverityWarning, "duplicate accept submission",
			"request_id", req.ID, "payer_id", a.ID)
		return nil, g.record(ctx, ActionAccept, denied(ReasonDuplicateProcessing))
	}

	if req.Status != gift.StatusPending {
		return nil, g.record(ctx, ActionAccept, denied(ReasonInvalidTarget))
	}

	// The original requester must still validly hold its role.
	requester, err := g.directory.Lookup(ctx, req.RequesterID)
	if errors.Is(err, gift.ErrUserNotFound) {
		return nil, g.record(ctx, ActionAccept, denied(ReasonInvalidTarget))
	}
	if err != nil {
		return nil, g.failClosed(ctx, ActionAccept, err)
	}
	if requester.Role != actor.RoleRequester {
		return nil, g.record(ctx, ActionAccept, denied(ReasonInvalidTarget))
	}

	if d, ok := g.verifyEnvelope(ctx, a, req); !ok {
		return nil, d
	}

	newBalance, err := g.guard.LockAndDebit(ctx, a.ID, req.Amount, req.ID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDuplicateProcessing):
			logging.Event(ctx, logging.SeverityWarning, "duplicate accept submission",
				"request_id", req.ID, "payer_id", a.ID)
			return nil, g.record(ctx, ActionAccept, denied(ReasonDuplicateProcessing))
		case errors.Is(err, ledger.ErrInsufficientBalance):
			logging.Event(ctx, logging.SeverityInfo, "insufficient balance",
				"request_id", req.ID, "payer_id", a.ID, "amount", req.Amount)
			return nil, g.record(ctx, ActionAccept, denied(ReasonInsufficientBalance))
		case errors.Is(err, ledger.ErrAccountNotFound):
			return nil, g.record(ctx, ActionAccept, denied(ReasonInvalidTarget))
		default:
			return nil, g.failClosed(ctx, ActionAccept, err)
		}
	}

	// The debit settled, so the nonce is spent for good. The balance lock
	// already excludes a concurrent settle of this request; a contended
	// consume here means the backend misbehaved.
	if err := g.envelopes.Consume(ctx, req.Envelope); err != nil {
		return nil, g.failClosed(ctx, ActionAccept, err)
	}

	g.spendingAdvisory(ctx, a.ID, req.Amount)

	// Final integrity re-hash over the persisted fields. A mismatch here
	// means the stored request mutated mid-flight; fail closed and leave
	// the lock to the reconciliation sweep.
	expected := g.envelopes.Signature(req.Transaction(), req.Envelope)
	if !hmac.Equal([]byte(expected), []byte(req.Envelope.Hash)) {
		return nil, g.failClosed(ctx, ActionAccept, errors.New("stored request failed integrity re-hash after debit"))
	}

	if err := g.requests.UpdateStatus(ctx, req.ID, gift.StatusPending, gift.StatusAccepted); err != nil {
		return nil, g.failClosed(ctx, ActionAccept, err)
	}
	req.Status = gift.StatusAccepted

	metrics.DebitsTotal.Inc()
	metrics.DebitedCoins.Add(float64(req.Amount))
	logging.Event(ctx, logging.SeverityInfo, "gift accepted",
		"request_id", req.ID, "payer_id", a.ID, "amount", req.Amount, "new_balance", newBalance)

	return &AcceptResult{Request: req, NewBalance: newBalance}, g.record(ctx, ActionAccept, allowed())
}

// verifyEnvelope maps the engine's ordered checks onto deny reasons.
// Replay and tamper ban the payer; replay is the second-longest ban and
// tamper the longest in the system.
func (g *Gate) verifyEnvelope(ctx context.Context, a *actor.Actor, req *gift.Request) (Decision, bool) {
	err := g.envelopes.Verify(ctx, req.Transaction(), req.Envelope, a.SessionID, a.IP)
	if err == nil {
		return Decision{}, true
	}

	switch {
	case errors.Is(err, envelope.ErrIncomplete):
		logging.Event(ctx, logging.SeverityCritical, "security envelope incomplete",
			"request_id", req.ID, "payer_id", a.ID)
		return g.record(ctx, ActionAccept, denied(ReasonEnvelopeMissing)), false
	case errors.Is(err, envelope.ErrExpired):
		return g.record(ctx, ActionAccept, denied(ReasonEnvelopeExpired)), false
	case errors.Is(err, envelope.ErrNonceReplayed):
		// The winner of a duplicate race writes the balance lock before
		// burning the nonce, so a used nonce plus a live lock on this
		// request is a duplicate submission, not a replay.
		if locked, lerr := g.guard.Locked(ctx, a.ID, req.ID); lerr == nil && locked {
			logging.Event(ctx, logging.SeverityWarning, "duplicate accept submission",
				"request_id", req.ID, "payer_id", a.ID)
			return g.record(ctx, ActionAccept, denied(ReasonDuplicateProcessing)), false
		}
		metrics.NonceReplaysTotal.Inc()
		logging.Event(ctx, logging.SeverityCritical, "envelope nonce replayed",
			"request_id", req.ID, "payer_id", a.ID)
		return g.issueBan(ctx, ActionAccept, a.ID, ban.ReasonNonceReplayed, g.durations.Replay, ReasonNonceReplayed), false
	case errors.Is(err, envelope.ErrSessionMismatch):
		logging.Event(ctx, logging.SeverityCritical, "envelope session binding mismatch",
			"request_id", req.ID, "payer_id", a.ID)
		return g.record(ctx, ActionAccept, denied(ReasonSessionMismatch)), false
	case errors.Is(err, envelope.ErrHashMismatch):
		logging.Event(ctx, logging.SeverityCritical, "envelope signature mismatch",
			"request_id", req.ID, "payer_id", a.ID)
		return g.issueBan(ctx, ActionAccept, a.ID, ban.ReasonHashMismatch, g.durations.Tamper, ReasonHashMismatch), false
	default:
		return g.failClosed(ctx, ActionAccept, err), false
	}
}

// spendingAdvisory tracks accept velocity per payer inside a short window
// and logs when it looks hot. Advisory only: it never blocks.
func (g *Gate) spendingAdvisory(ctx context.Context, payerID string, amount int64) {
	accepts, err := g.kv.Increment(ctx, kvstore.VelocityKey(payerID), velocityWindow)
	if err != nil {
		return
	}
	coins, err := g.kv.IncrementBy(ctx, kvstore.SpendKey(payerID), amount, velocityWindow)
	if err != nil {
		return
	}
	if accepts > velocityMaxAccepts || coins > velocityMaxCoins {
		logging.Event(ctx, logging.SeverityWarning, "spending velocity advisory",
			"payer_id", payerID,
			"accepts_10m", strconv.FormatInt(accepts, 10),
			"coins_10m", strconv.FormatInt(coins, 10))
	}
}
