package http

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
)

// RegisterHandler redeems invitations. Every invitation problem is reported
// as the same invalid_invitation code.
type RegisterHandler struct {
	Invites *service.InviteService
}

// HandleGet godoc
//
//	@Summary		Registration Details
//	@Description	Describe the invitation behind ?token= to the registration page.
//	@Tags			Registration
//	@Produce		json
//	@Param			token	query		string					true	"Invitation token"
//	@Success		200		{object}	RegistrationResponse
//	@Failure		400		{object}	ErrorResponse			"invalid_invitation"
//	@Router			/register [get].
func (h *RegisterHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invites.Validate(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, RegistrationResponse{
		Email:     inv.Email,
		Role:      string(inv.Role),
		ExpiresAt: inv.ExpiresAt,
		CSRFToken: currentSession(r).CSRFToken,
	})
}

// HandlePost godoc
//
//	@Summary		Register
//	@Description	Redeem an invitation, create the account and send the browser to the login page.
//	@Tags			Registration
//	@Accept			x-www-form-urlencoded
//	@Param			token		formData	string	true	"Invitation token"
//	@Param			first_name	formData	string	true	"First name"
//	@Param			last_name	formData	string	true	"Last name"
//	@Param			password	formData	string	true	"Password"
//	@Param			_csrf		formData	string	true	"CSRF token of the current session"
//	@Success		303			"Redirect to /login?registered=1"
//	@Failure		400			{object}	ErrorResponse	"invalid_invitation or invalid_request"
//	@Failure		403			{object}	ErrorResponse	"csrf_failed"
//	@Router			/register [post].
func (h *RegisterHandler) HandlePost(w http.ResponseWriter, r *http.Request) {
	_, err := h.Invites.Consume(r.Context(), r.PostFormValue("token"), service.Registration{
		FirstName: r.PostFormValue("first_name"),
		LastName:  r.PostFormValue("last_name"),
		Password:  r.PostFormValue("password"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpx.RedirectWithQuery(w, r, "/login", http.StatusSeeOther, url.Values{"registered": {"1"}})
}

func (h *RegisterHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrAuthentication), errors.Is(err, service.ErrIntegrity):
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            ReasonInvalidInvitation,
			ErrorDescription: "Invalid or expired invitation",
		})
	default:
		writeServiceError(w, r, err)
	}
}
