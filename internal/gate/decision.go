package gate

import "github.com/glowcast/giftgate/internal/ban"

// Action is the gated operation being decided.
type Action string

const (
	ActionAvailable Action = "available"
	ActionRequest   Action = "request"
	ActionAccept    Action = "accept"
	ActionReject    Action = "reject"
	ActionPurge     Action = "purge"
)

// DenyReason is the structured reason attached to a denied decision.
type DenyReason string

const (
	ReasonUnauthorizedRole     DenyReason = "unauthorized_role"
	ReasonSelfTarget           DenyReason = "self_target"
	ReasonInvalidTarget        DenyReason = "invalid_target"
	ReasonRateLimited          DenyReason = "rate_limited"
	ReasonBurstSpam            DenyReason = "burst_spam"
	ReasonBotVelocity          DenyReason = "bot_velocity"
	ReasonBotPattern           DenyReason = "bot_pattern"
	ReasonSessionTokenInvalid  DenyReason = "session_token_invalid"
	ReasonEnvelopeMissing      DenyReason = "envelope_missing"
	ReasonEnvelopeExpired      DenyReason = "envelope_expired"
	ReasonNonceReplayed        DenyReason = "nonce_replayed"
	ReasonSessionMismatch      DenyReason = "session_mismatch"
	ReasonHashMismatch         DenyReason = "hash_mismatch"
	ReasonPriceTampered        DenyReason = "price_tampered"
	ReasonDuplicateProcessing  DenyReason = "duplicate_processing"
	ReasonInsufficientBalance  DenyReason = "insufficient_balance"
	ReasonBlockedRelationship  DenyReason = "blocked_relationship"
	ReasonFraudPatternRepeat   DenyReason = "fraud_pattern_repeat"
	ReasonFraudPatternRotation DenyReason = "fraud_pattern_rotation"
	ReasonAlreadyBanned        DenyReason = "already_banned"
	ReasonInternalError        DenyReason = "internal_error"
)

// Decision is the gate's verdict for one action. Side effects (a ban
// issued while deciding) travel on the decision, not as thrown errors.
type Decision struct {
	Allow     bool        `json:"allow"`
	Reason    DenyReason  `json:"denyReason,omitempty"`
	BanIssued *ban.Record `json:"banIssued,omitempty"`
}

func allowed() Decision {
	return Decision{Allow: true}
}

func denied(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

func deniedWithBan(reason DenyReason, rec *ban.Record) Decision {
	return Decision{Reason: reason, BanIssued: rec}
}
