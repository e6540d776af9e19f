package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/store"
	"github.com/vereinsportal/identity/pkg/idx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

// AccountService is the account directory.
type AccountService struct {
	Store    store.Store
	Sessions *SessionService
}

// NewAccount describes an account to create. PasswordHash may be empty for
// accounts that only use Microsoft sign in.
type NewAccount struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         rbac.Role
}

func (a NewAccount) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&a.FirstName, validation.Length(0, 200)),
		validation.Field(&a.LastName, validation.Length(0, 200)),
		validation.Field(&a.Role, validation.Required, validation.By(validRole)),
	)
}

func validRole(v any) error {
	r, _ := v.(rbac.Role)
	if !r.IsValid() {
		return errors.New("unknown role")
	}
	return nil
}

func (s *AccountService) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetAccountByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrAccountNotFound
	}
	return acct, err
}

func (s *AccountService) FindByID(ctx context.Context, id string) (domain.Account, error) {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Account{}, ErrAccountNotFound
	}
	return acct, err
}

// Create inserts a new account with a lowercased email.
func (s *AccountService) Create(ctx context.Context, in NewAccount) (domain.Account, error) {
	return createAccount(ctx, s.Store.Accounts(), in)
}

func createAccount(ctx context.Context, accounts store.Accounts, in NewAccount) (domain.Account, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return domain.Account{}, invalid(err)
	}

	now := time.Now()
	acct := domain.Account{
		ID:           idx.New().String(),
		Email:        in.Email,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := accounts.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Account{}, ErrAccountExists
		}
		return domain.Account{}, err
	}

	slogx.FromContext(ctx).Info("account created",
		slog.String("account_id", acct.ID),
		slog.String("role", string(acct.Role)),
	)
	return acct, nil
}

// UpdateRole changes an account's role. The actor needs accounts.manage, and
// the change reaches the account's live sessions immediately.
func (s *AccountService) UpdateRole(ctx context.Context, actor domain.Session, accountID string, role rbac.Role) error {
	log := slogx.FromContext(ctx)

	if !actor.Can(rbac.AccountsManage) {
		log.Warn("role change denied", slog.String("actor_id", actor.CurrentUserID()))
		return ErrNotPermitted
	}
	if !role.IsValid() {
		return ErrInvalidRole
	}

	if err := s.Store.Accounts().UpdateRole(ctx, accountID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountNotFound
		}
		return err
	}
	if s.Sessions != nil {
		if err := s.Sessions.UpdateAccountRole(ctx, accountID, role); err != nil {
			return err
		}
	}

	log.Info("account role changed",
		slog.String("actor_id", actor.CurrentUserID()),
		slog.String("account_id", accountID),
		slog.String("role", string(role)),
	)
	return nil
}

// UpdatePassword stores a new password hash.
func (s *AccountService) UpdatePassword(ctx context.Context, accountID, hash string) error {
	err := s.Store.Accounts().UpdatePasswordHash(ctx, accountID, hash)
	if errors.Is(err, store.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}
