package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
)

// SessionHandler exposes the request scoped identity.
type SessionHandler struct{}

// ServeHTTP godoc
//
//	@Summary		Current Session
//	@Description	Identity, role, capabilities and CSRF token of the calling browser. Anonymous sessions are reported too.
//	@Tags			Session
//	@Produce		json
//	@Success		200	{object}	SessionResponse
//	@Router			/v1/session [get].
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, newSessionResponse(currentSession(r)))
}

// PasswordHandler changes the signed in account's password. The account is
// signed out everywhere and this browser continues in a new session.
type PasswordHandler struct {
	Credentials *service.CredentialService
	Cookie      CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Change Password
//	@Description	Replace the local password after checking the current one. Other sessions of the account are signed out.
//	@Tags			Session
//	@Accept			json
//	@Produce		json
//	@Param			request	body		ChangePasswordRequest	true	"Current and new password"
//	@Success		200		{object}	SessionResponse			"The new session"
//	@Failure		400		{object}	ErrorResponse			"invalid_request"
//	@Failure		401		{object}	ErrorResponse			"Not signed in or wrong current password"
//	@Failure		403		{object}	ErrorResponse			"csrf_failed"
//	@Security		SessionCookie
//	@Router			/v1/password [post].
func (h *PasswordHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ReasonInvalidRequest, ErrorDescription: "Invalid JSON body"})
		return
	}

	next, err := h.Credentials.ChangePassword(r.Context(), currentSession(r), req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ReasonInvalidCredentials})
			return
		}
		writeServiceError(w, r, err)
		return
	}

	h.Cookie.Set(w, next)
	httpx.WriteJSON(w, http.StatusOK, newSessionResponse(next))
}
