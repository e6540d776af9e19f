package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

// LoginHandler handles the email and password form.
type LoginHandler struct {
	Credentials *service.CredentialService
	Cookie      CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Credential Login
//	@Description	Verify email and password. The session is rotated on success; failures redirect to /login with a reason code.
//	@Tags			Session
//	@Accept			x-www-form-urlencoded
//	@Param			email		formData	string	true	"Account email"
//	@Param			password	formData	string	true	"Account password"
//	@Param			_csrf		formData	string	true	"CSRF token of the current session"
//	@Success		303			"Redirect to / or /login?error=<reason>"
//	@Failure		403			{object}	ErrorResponse	"csrf_failed"
//	@Router			/login [post].
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := currentSession(r)

	next, err := h.Credentials.Login(ctx, sess.ID, r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		reason := ReasonInvalidCredentials
		if !errors.Is(err, service.ErrInvalidCredentials) {
			slogx.FromContext(ctx).Error("login error", slog.Any("error", err))
			reason = ReasonServerError
		}
		httpx.RedirectWithQuery(w, r, "/login", http.StatusSeeOther, url.Values{"error": {reason}})
		return
	}

	h.Cookie.Set(w, next)
	httpx.RedirectWithQuery(w, r, "/", http.StatusSeeOther, nil)
}

// LogoutHandler ends the session and hands out a fresh anonymous one.
type LogoutHandler struct {
	Credentials *service.CredentialService
	Cookie      CookieConfig
}

// ServeHTTP godoc
//
//	@Summary		Logout
//	@Description	Delete the current session and continue in a new anonymous one.
//	@Tags			Session
//	@Param			_csrf	formData	string	true	"CSRF token of the current session"
//	@Success		303		"Redirect to /"
//	@Failure		403		{object}	ErrorResponse	"csrf_failed"
//	@Router			/logout [post].
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	next, err := h.Credentials.Logout(ctx, currentSession(r).ID)
	if err != nil {
		slogx.FromContext(ctx).Error("logout error", slog.Any("error", err))
		httpx.RedirectWithQuery(w, r, "/login", http.StatusSeeOther, url.Values{"error": {ReasonServerError}})
		return
	}

	h.Cookie.Set(w, next)
	httpx.RedirectWithQuery(w, r, "/login", http.StatusSeeOther, nil)
}
