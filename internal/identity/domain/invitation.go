package domain

import (
	"time"

	"github.com/vereinsportal/identity/internal/identity/rbac"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationConsumed InvitationStatus = "consumed"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a single use registration token bound to an email and role.
// Only the token fingerprint is stored. Revoked invitations are deleted.
type Invitation struct {
	ID         string
	Email      string
	Role       rbac.Role
	TokenHash  string
	CreatedBy  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	AccountID  string
}

// Status derives the lifecycle state at now. Consumed wins over expired.
func (i Invitation) Status(now time.Time) InvitationStatus {
	switch {
	case i.ConsumedAt != nil:
		return InvitationConsumed
	case !now.Before(i.ExpiresAt):
		return InvitationExpired
	default:
		return InvitationPending
	}
}
