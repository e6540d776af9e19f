package service

import (
	"errors"
	"fmt"
)

// Error kinds. Every specific error below wraps exactly one of them so the
// HTTP layer can map outcomes with errors.Is without knowing the details.
var (
	ErrValidation     = errors.New("validation failed")
	ErrAuthentication = errors.New("authentication failed")
	ErrUpstream       = errors.New("upstream failure")
	ErrIntegrity      = errors.New("integrity failure")
	ErrForbidden      = errors.New("forbidden")
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthentication)

	ErrSessionNotFound = fmt.Errorf("%w: session not found", ErrAuthentication)
	ErrSessionExpired  = fmt.Errorf("%w: session expired", ErrAuthentication)
	ErrNotLoggedIn     = fmt.Errorf("%w: not logged in", ErrAuthentication)

	ErrSSODisabled    = fmt.Errorf("%w: microsoft sign-in is not configured", ErrUpstream)
	ErrSSODenied      = fmt.Errorf("%w: provider denied sign-in", ErrAuthentication)
	ErrSSOFailed      = fmt.Errorf("%w: microsoft sign-in failed", ErrAuthentication)
	ErrSSOUnavailable = fmt.Errorf("%w: microsoft sign-in unavailable", ErrUpstream)

	ErrInvitationNotFound = fmt.Errorf("%w: invitation not found", ErrAuthentication)
	ErrInvitationExpired  = fmt.Errorf("%w: invitation expired", ErrAuthentication)
	ErrInvitationConsumed = fmt.Errorf("%w: invitation already used", ErrAuthentication)
	ErrInvitationConflict = fmt.Errorf("%w: invitation consumed but account could not be created", ErrIntegrity)

	ErrAccountExists   = fmt.Errorf("%w: an account with this email already exists", ErrValidation)
	ErrAccountNotFound = fmt.Errorf("%w: account not found", ErrValidation)
	ErrInvalidRole     = fmt.Errorf("%w: invalid role", ErrValidation)
	ErrInvalidTTL      = fmt.Errorf("%w: invitation lifetime must be between 0 and 90 days", ErrValidation)

	// ErrInvitationNotPending is returned when revoking an invitation that
	// was already consumed or has expired.
	ErrInvitationNotPending = fmt.Errorf("%w: invitation is no longer pending", ErrValidation)

	ErrNotPermitted = fmt.Errorf("%w: missing permission", ErrForbidden)
)

// invalid wraps a field validation error as ErrValidation.
func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
