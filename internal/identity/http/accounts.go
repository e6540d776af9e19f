package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
	"github.com/vereinsportal/identity/pkg/idx"
)

// AccountRoleHandler changes an account's role. Live sessions of the account
// pick up the new role on their next request.
type AccountRoleHandler struct {
	Accounts *service.AccountService
}

// ServeHTTP godoc
//
//	@Summary		Change Account Role
//	@Tags			Accounts
//	@Accept			json
//	@Param			id		path	string				true	"Account ID"
//	@Param			request	body	UpdateRoleRequest	true	"New role"
//	@Success		204
//	@Failure		400	{object}	ErrorResponse	"Malformed id or unknown role"
//	@Failure		403	{object}	ErrorResponse	"forbidden"
//	@Failure		404	{object}	ErrorResponse	"Unknown account"
//	@Security		SessionCookie
//	@Router			/v1/accounts/{id}/role [put].
func (h *AccountRoleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ReasonInvalidRequest, ErrorDescription: "Invalid JSON body"})
		return
	}

	role, _ := rbac.ParseRole(req.Role)
	if err := h.Accounts.UpdateRole(r.Context(), currentSession(r), id.String(), role); err != nil {
		if isNotFound(err) {
			httpx.WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: ReasonInvalidRequest, ErrorDescription: "Account not found"})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pathID reads the {id} path value. Malformed ids are answered with 400
// before any store lookup.
func pathID(w http.ResponseWriter, r *http.Request) (idx.ID, bool) {
	id, err := idx.Parse(r.PathValue("id"))
	if err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ReasonInvalidRequest, ErrorDescription: "Malformed id"})
		return idx.Zero, false
	}
	return id, true
}

func isNotFound(err error) bool {
	return errors.Is(err, service.ErrAccountNotFound) || errors.Is(err, service.ErrInvitationNotFound)
}
