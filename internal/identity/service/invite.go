package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/store"
	"github.com/vereinsportal/identity/pkg/cryptox"
	"github.com/vereinsportal/identity/pkg/idx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

const (
	DefaultInvitationTTL = 48 * time.Hour
	MaxInvitationTTL     = 90 * 24 * time.Hour
)

// CreateInvitation is the input of InviteService.Create. A zero TTL yields an
// invitation that is already expired.
type CreateInvitation struct {
	Email string
	Role  rbac.Role
	TTL   time.Duration
}

func (c CreateInvitation) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&c.Role, validation.Required, validation.By(invitableRole)),
	)
}

func invitableRole(v any) error {
	r, _ := v.(rbac.Role)
	if !r.IsValid() || r == rbac.RoleNone {
		return errors.New("must be an assignable role")
	}
	return nil
}

// Registration is what the invitee submits to redeem an invitation.
type Registration struct {
	FirstName string
	LastName  string
	Password  string
}

func (r Registration) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Password, passwordRules...),
	)
}

// InviteService issues and redeems single use registration invitations.
type InviteService struct {
	Store    store.Store
	Accounts *AccountService
	Now      func() time.Time
}

func (s *InviteService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create issues an invitation and returns the raw token. Only its fingerprint
// is stored, so the token cannot be shown again.
func (s *InviteService) Create(ctx context.Context, actor domain.Session, in CreateInvitation) (string, domain.Invitation, error) {
	log := slogx.FromContext(ctx)

	if !actor.HasFullAccess() {
		log.Warn("invitation create denied", slog.String("actor_id", actor.CurrentUserID()))
		return "", domain.Invitation{}, ErrNotPermitted
	}

	in.Email = domain.NormalizeEmail(in.Email)
	in.Role = rbac.Role(strings.ToLower(strings.TrimSpace(string(in.Role))))
	if err := in.Validate(); err != nil {
		return "", domain.Invitation{}, invalid(err)
	}
	if in.TTL < 0 || in.TTL > MaxInvitationTTL {
		return "", domain.Invitation{}, ErrInvalidTTL
	}

	if _, err := s.Accounts.FindByEmail(ctx, in.Email); err == nil {
		return "", domain.Invitation{}, ErrAccountExists
	} else if !errors.Is(err, ErrAccountNotFound) {
		return "", domain.Invitation{}, err
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", domain.Invitation{}, err
	}

	now := s.now()
	inv := domain.Invitation{
		ID:        idx.New().String(),
		Email:     in.Email,
		Role:      in.Role,
		TokenHash: cryptox.FingerprintToken(token),
		CreatedBy: actor.CurrentUserID(),
		CreatedAt: now,
		ExpiresAt: now.Add(in.TTL),
	}
	if err := s.Store.Invitations().CreateInvitation(ctx, inv); err != nil {
		return "", domain.Invitation{}, err
	}

	log.Info("invitation created",
		slog.String("invitation_id", inv.ID),
		slog.String("actor_id", inv.CreatedBy),
		slog.String("role", string(inv.Role)),
		slog.Time("expires_at", inv.ExpiresAt),
	)
	return token, inv, nil
}

// Validate returns the pending invitation for token without consuming it.
func (s *InviteService) Validate(ctx context.Context, token string) (domain.Invitation, error) {
	if token == "" {
		return domain.Invitation{}, ErrInvitationNotFound
	}

	inv, err := s.Store.Invitations().GetInvitationByTokenHash(ctx, cryptox.FingerprintToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Invitation{}, ErrInvitationNotFound
	}
	if err != nil {
		return domain.Invitation{}, err
	}

	switch inv.Status(s.now()) {
	case domain.InvitationConsumed:
		return domain.Invitation{}, ErrInvitationConsumed
	case domain.InvitationExpired:
		return domain.Invitation{}, ErrInvitationExpired
	}
	return inv, nil
}

// Consume redeems token and creates the account in one transaction. Of any
// number of concurrent calls with the same token at most one succeeds.
func (s *InviteService) Consume(ctx context.Context, token string, reg Registration) (domain.Account, error) {
	log := slogx.FromContext(ctx)

	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)
	if err := reg.Validate(); err != nil {
		return domain.Account{}, invalid(err)
	}
	if token == "" {
		return domain.Account{}, ErrInvitationNotFound
	}

	// Hash outside the transaction; argon2 is slow and sqlite has one writer.
	hash, err := cryptox.HashPassword(reg.Password)
	if err != nil {
		return domain.Account{}, err
	}

	fingerprint := cryptox.FingerprintToken(token)
	now := s.now()

	var acct domain.Account
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		ok, err := tx.Invitations().ConsumeInvitation(ctx, fingerprint, now)
		if err != nil {
			return err
		}

		inv, err := tx.Invitations().GetInvitationByTokenHash(ctx, fingerprint)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvitationNotFound
		}
		if err != nil {
			return err
		}
		if !ok {
			if inv.ConsumedAt != nil {
				return ErrInvitationConsumed
			}
			return ErrInvitationExpired
		}

		acct, err = createAccount(ctx, tx.Accounts(), NewAccount{
			Email:        inv.Email,
			FirstName:    reg.FirstName,
			LastName:     reg.LastName,
			PasswordHash: hash,
			Role:         inv.Role,
		})
		if errors.Is(err, ErrAccountExists) {
			return fmt.Errorf("%w: %s", ErrInvitationConflict, inv.ID)
		}
		if err != nil {
			return err
		}

		return tx.Invitations().LinkInvitationAccount(ctx, inv.ID, acct.ID)
	})
	if err != nil {
		log.Info("invitation not redeemed", slog.Any("error", err))
		return domain.Account{}, err
	}

	log.Info("invitation redeemed", slog.String("account_id", acct.ID), slog.String("role", string(acct.Role)))
	return acct, nil
}

// List returns invitations newest first.
func (s *InviteService) List(ctx context.Context, actor domain.Session, limit, offset int) ([]domain.Invitation, error) {
	if !actor.HasFullAccess() {
		return nil, ErrNotPermitted
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.Store.Invitations().ListInvitations(ctx, limit, offset)
}

// Revoke deletes a pending invitation. Consumed and expired invitations are
// terminal and stay for audit.
func (s *InviteService) Revoke(ctx context.Context, actor domain.Session, id string) error {
	log := slogx.FromContext(ctx)

	if !actor.HasFullAccess() {
		return ErrNotPermitted
	}
	err := s.Store.Invitations().DeleteUnconsumedInvitation(ctx, id, s.now())
	if errors.Is(err, store.ErrNotFound) {
		if _, err := s.Store.Invitations().GetInvitationByID(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvitationNotFound
			}
			return err
		}
		return ErrInvitationNotPending
	}
	if err != nil {
		return err
	}

	log.Info("invitation revoked", slog.String("invitation_id", id), slog.String("actor_id", actor.CurrentUserID()))
	return nil
}
