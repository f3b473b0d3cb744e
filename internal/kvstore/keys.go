package kvstore

import "strings"

// Typed key builders, one per counter dimension. Every key the gate writes
// is built here so the rate, burst, pattern, nonce, ban, and lock spaces
// can never collide through ad hoc concatenation.

const keyPrefix = "gg"

func build(dimension string, parts ...string) string {
	return keyPrefix + ":" + dimension + ":" + strings.Join(parts, ":")
}

// RateKey counts hourly gift requests per requester.
func RateKey(requesterID string) string {
	return build("rate", requesterID)
}

// PairKey counts hourly gift requests per (requester, payer) pair.
func PairKey(requesterID, payerID string) string {
	return build("pair", requesterID, payerID)
}

// BurstKey counts requests in the short burst window per requester.
func BurstKey(requesterID string) string {
	return build("burst", requesterID)
}

// LastSeenKey holds the requester's previous request timestamp.
func LastSeenKey(actorID string) string {
	return build("seen", actorID)
}

// SamplesKey holds the requester's recent request timestamps.
func SamplesKey(actorID string) string {
	return build("samples", actorID)
}

// NonceKey marks a hashed envelope nonce as used.
func NonceKey(nonceHash string) string {
	return build("nonce", nonceHash)
}

// BanKey holds an active ban record for a user.
func BanKey(userID string) string {
	return build("ban", userID)
}

// LockKey holds the balance lock for one (payer, request) debit.
func LockKey(payerID, requestID string) string {
	return build("lock", payerID, requestID)
}

// VelocityKey counts a payer's accepts inside the advisory window.
func VelocityKey(payerID string) string {
	return build("velocity", payerID)
}

// SpendKey accumulates a payer's debited coins inside the advisory window.
func SpendKey(payerID string) string {
	return build("spend", payerID)
}
