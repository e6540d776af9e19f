package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
)

// SSOHandler drives the Microsoft sign in redirects. Every outcome is a
// redirect; failures land on /login with a reason code.
type SSOHandler struct {
	SSO    *service.SSOService
	Cookie CookieConfig
}

// HandleBegin godoc
//
//	@Summary		Microsoft Sign In
//	@Description	Store a fresh state on the session and redirect to the Microsoft authorize endpoint.
//	@Tags			SSO
//	@Success		302	"Redirect to the authorize endpoint"
//	@Router			/auth/microsoft [get].
func (h *SSOHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	target, err := h.SSO.Begin(r.Context(), currentSession(r).ID)
	if err != nil {
		httpx.RedirectWithQuery(w, r, "/login", http.StatusSeeOther, url.Values{"error": {ssoReason(err)}})
		return
	}
	httpx.NoCache(w)
	http.Redirect(w, r, target, http.StatusFound)
}

// HandleCallback godoc
//
//	@Summary		Microsoft Callback
//	@Description	Complete the flow started by HandleBegin. Failures redirect to /login?error=<reason>.
//	@Tags			SSO
//	@Param			code	query	string	false	"Authorization code"
//	@Param			state	query	string	true	"State issued by HandleBegin"
//	@Param			error	query	string	false	"Error reported by the provider"
//	@Success		302		"Redirect to / or /login?error=<reason>"
//	@Router			/auth/microsoft/callback [get].
func (h *SSOHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	next, err := h.SSO.Complete(r.Context(), currentSession(r).ID, params)
	if err != nil {
		httpx.RedirectWithQuery(w, r, "/login", http.StatusSeeOther, url.Values{"error": {ssoReason(err)}})
		return
	}

	h.Cookie.Set(w, next)
	httpx.RedirectWithQuery(w, r, "/", http.StatusSeeOther, nil)
}

func ssoReason(err error) string {
	switch {
	case errors.Is(err, service.ErrSSODenied):
		return ReasonSSODenied
	case errors.Is(err, service.ErrUpstream):
		return ReasonSSOUnavailable
	default:
		return ReasonSSOFailed
	}
}
