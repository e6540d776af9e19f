package jwtx

import "errors"

// Each ID token check fails with its own error so the caller can log which
// step rejected a token. None of them may reach an unauthenticated user.
var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrMissingClaim = errors.New("jwtx: required claim missing")
	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")

	// ErrKeySetUnavailable means the provider's signing keys could not be
	// fetched. It is an upstream problem, not a forged token.
	ErrKeySetUnavailable = errors.New("jwtx: signing keys unavailable")
)
