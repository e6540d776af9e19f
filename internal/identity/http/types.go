package http

import (
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
)

// ErrorResponse is the JSON error body. Error is one of a small set of
// opaque reason codes; details only ever go to the log.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Reason codes shared by JSON errors and the ?error= query of redirects.
const (
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonInvalidInvitation  = "invalid_invitation"
	ReasonSSODenied          = "sso_denied"
	ReasonSSOFailed          = "sso_failed"
	ReasonSSOUnavailable     = "sso_unavailable"
	ReasonCSRFFailed         = "csrf_failed"
	ReasonForbidden          = "forbidden"
	ReasonUnauthorized       = "unauthorized"
	ReasonInvalidRequest     = "invalid_request"
	ReasonServerError        = "server_error"
)

type HealthChecks struct {
	Database string `json:"database,omitempty"`
	Sessions string `json:"sessions,omitempty"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// SessionResponse is the request scoped identity as seen by page templates.
type SessionResponse struct {
	LoggedIn     bool     `json:"logged_in"`
	AccountID    string   `json:"account_id,omitempty"`
	Email        string   `json:"email,omitempty"`
	DisplayName  string   `json:"display_name,omitempty"`
	Role         string   `json:"role"`
	AuthMethod   string   `json:"auth_method,omitempty"`
	FullAccess   bool     `json:"full_access"`
	Capabilities []string `json:"capabilities"`
	CSRFToken    string   `json:"csrf_token"`
}

func newSessionResponse(s domain.Session) SessionResponse {
	role := s.CurrentRole()
	caps := []string{}
	if s.IsLoggedIn() {
		for _, c := range rbac.Capabilities(role) {
			caps = append(caps, string(c))
		}
	}
	return SessionResponse{
		LoggedIn:     s.IsLoggedIn(),
		AccountID:    s.CurrentUserID(),
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		Role:         string(role),
		AuthMethod:   string(s.AuthMethod),
		FullAccess:   s.HasFullAccess(),
		Capabilities: caps,
		CSRFToken:    s.CSRFToken,
	}
}

// RegistrationResponse describes a pending invitation to the registration page.
type RegistrationResponse struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	CSRFToken string    `json:"csrf_token"`
}

type CreateInvitationRequest struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	TTLHours *int   `json:"ttl_hours,omitempty"`
}

type InvitationResponse struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	Status     string     `json:"status"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	AccountID  string     `json:"account_id,omitempty"`
}

func newInvitationResponse(inv domain.Invitation, now time.Time) InvitationResponse {
	return InvitationResponse{
		ID:         inv.ID,
		Email:      inv.Email,
		Role:       string(inv.Role),
		Status:     string(inv.Status(now)),
		CreatedBy:  inv.CreatedBy,
		CreatedAt:  inv.CreatedAt,
		ExpiresAt:  inv.ExpiresAt,
		ConsumedAt: inv.ConsumedAt,
		AccountID:  inv.AccountID,
	}
}

// CreateInvitationResponse carries the raw token. It is shown exactly once.
type CreateInvitationResponse struct {
	InvitationResponse
	Token string `json:"token"`
}

type ListInvitationsResponse struct {
	Invitations []InvitationResponse `json:"invitations"`
}

type UpdateRoleRequest struct {
	Role string `json:"role"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}
