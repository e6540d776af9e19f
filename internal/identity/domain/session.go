package domain

import (
	"time"

	"github.com/vereinsportal/identity/internal/identity/rbac"
)

type AuthMethod string

const (
	AuthMethodLocal     AuthMethod = "local"
	AuthMethodFederated AuthMethod = "federated"
)

// Session is the server side record behind the session cookie.
//
// A session without AccountID is anonymous; it still carries a CSRF token
// and, during Microsoft sign in, the pending OAuth state.
type Session struct {
	ID             string
	AccountID      string
	Role           rbac.Role
	DisplayName    string
	Email          string
	AuthMethod     AuthMethod
	CSRFToken      string
	OAuthState     string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func (s Session) IsLoggedIn() bool { return s.AccountID != "" }

func (s Session) CurrentUserID() string { return s.AccountID }

// CurrentRole is RoleNone for anonymous sessions whatever the record says.
func (s Session) CurrentRole() rbac.Role {
	if !s.IsLoggedIn() {
		return rbac.RoleNone
	}
	return s.Role
}

func (s Session) Can(c rbac.Capability) bool {
	return s.IsLoggedIn() && rbac.Can(s.Role, c)
}

func (s Session) HasFullAccess() bool {
	return s.IsLoggedIn() && rbac.HasFullAccess(s.Role)
}

// Expired applies the idle timeout and the absolute lifetime.
func (s Session) Expired(now time.Time, idle, maxLifetime time.Duration) bool {
	if idle > 0 && now.Sub(s.LastActivityAt) >= idle {
		return true
	}
	if maxLifetime > 0 && now.Sub(s.CreatedAt) >= maxLifetime {
		return true
	}
	return false
}
