package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
)

// InvitationsHandler is the administrative invitation API. Every route needs
// a full access session.
type InvitationsHandler struct {
	Invites    *service.InviteService
	DefaultTTL time.Duration
}

// HandleCreate godoc
//
//	@Summary		Create Invitation
//	@Description	Issue an invitation. The token is only ever in this response. ttl_hours defaults to 48 and may not exceed 2160.
//	@Tags			Invitations
//	@Accept			json
//	@Produce		json
//	@Param			request	body		CreateInvitationRequest		true	"Invitation"
//	@Success		201		{object}	CreateInvitationResponse
//	@Failure		400		{object}	ErrorResponse				"invalid_request"
//	@Failure		401		{object}	ErrorResponse				"unauthorized"
//	@Failure		403		{object}	ErrorResponse				"forbidden or csrf_failed"
//	@Security		SessionCookie
//	@Router			/v1/invitations [post].
func (h *InvitationsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateInvitationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ReasonInvalidRequest, ErrorDescription: "Invalid JSON body"})
		return
	}

	ttl := h.DefaultTTL
	if ttl <= 0 {
		ttl = service.DefaultInvitationTTL
	}
	if req.TTLHours != nil {
		// Bound before multiplying so a huge value cannot wrap around
		hours := *req.TTLHours
		if hours < 0 || hours > int(service.MaxInvitationTTL/time.Hour) {
			writeServiceError(w, r, service.ErrInvalidTTL)
			return
		}
		ttl = time.Duration(hours) * time.Hour
	}

	token, inv, err := h.Invites.Create(r.Context(), currentSession(r), service.CreateInvitation{
		Email: req.Email,
		Role:  rbac.Role(req.Role),
		TTL:   ttl,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, CreateInvitationResponse{
		InvitationResponse: newInvitationResponse(inv, time.Now()),
		Token:              token,
	})
}

// HandleList godoc
//
//	@Summary		List Invitations
//	@Description	Page through invitations, newest first.
//	@Tags			Invitations
//	@Produce		json
//	@Param			limit	query		int						false	"Page size"
//	@Param			offset	query		int						false	"Offset"
//	@Success		200		{object}	ListInvitationsResponse
//	@Failure		401		{object}	ErrorResponse			"unauthorized"
//	@Failure		403		{object}	ErrorResponse			"forbidden"
//	@Security		SessionCookie
//	@Router			/v1/invitations [get].
func (h *InvitationsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	invs, err := h.Invites.List(r.Context(), currentSession(r), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	now := time.Now()
	resp := ListInvitationsResponse{Invitations: make([]InvitationResponse, 0, len(invs))}
	for _, inv := range invs {
		resp.Invitations = append(resp.Invitations, newInvitationResponse(inv, now))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleRevoke godoc
//
//	@Summary		Revoke Invitation
//	@Description	Delete a pending invitation. Consumed and expired invitations are kept.
//	@Tags			Invitations
//	@Param			id	path	string	true	"Invitation ID"
//	@Success		204
//	@Failure		400	{object}	ErrorResponse	"Malformed id"
//	@Failure		404	{object}	ErrorResponse	"Unknown invitation"
//	@Failure		409	{object}	ErrorResponse	"Invitation already consumed or expired"
//	@Security		SessionCookie
//	@Router			/v1/invitations/{id} [delete].
func (h *InvitationsHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Invites.Revoke(r.Context(), currentSession(r), id.String()); err != nil {
		switch {
		case isNotFound(err):
			httpx.WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: ReasonInvalidInvitation})
		case errors.Is(err, service.ErrInvitationNotPending):
			httpx.WriteJSON(w, http.StatusConflict, ErrorResponse{
				Error:            ReasonInvalidInvitation,
				ErrorDescription: "Invitation is no longer pending",
			})
		default:
			writeServiceError(w, r, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
