package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/pkg/cryptox"
	"github.com/vereinsportal/identity/pkg/slogx"
)

const (
	MinPasswordLength = 10
	MaxPasswordLength = 128
)

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(MinPasswordLength, MaxPasswordLength),
}

// dummyHash is verified against when the account does not exist so that a
// miss costs the same as a wrong password.
var dummyHash = sync.OnceValues(func() (string, error) {
	return cryptox.HashPassword("not-a-real-password-0000")
})

// CredentialService authenticates email and password against local accounts.
type CredentialService struct {
	Accounts *AccountService
	Sessions *SessionService
}

// Login checks the credentials and, on success, moves the browser from
// sessionID to a new authenticated session. Every failure is
// ErrInvalidCredentials; the cause only goes to the log.
func (s *CredentialService) Login(ctx context.Context, sessionID, email, password string) (domain.Session, error) {
	log := slogx.FromContext(ctx)

	acct, err := s.Accounts.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return domain.Session{}, err
		}
		if h, herr := dummyHash(); herr == nil {
			_ = cryptox.VerifyPassword(password, h)
		}
		log.Info("login failed", slog.String("reason", "unknown_account"))
		return domain.Session{}, ErrInvalidCredentials
	}

	if acct.PasswordHash == "" {
		// Federated only accounts have no password to match.
		if h, herr := dummyHash(); herr == nil {
			_ = cryptox.VerifyPassword(password, h)
		}
		log.Info("login failed", slog.String("reason", "no_password"), slog.String("account_id", acct.ID))
		return domain.Session{}, ErrInvalidCredentials
	}

	if err := cryptox.VerifyPassword(password, acct.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			log.Error("password verification error", slog.String("account_id", acct.ID), slog.Any("error", err))
		}
		log.Info("login failed", slog.String("reason", "password_mismatch"), slog.String("account_id", acct.ID))
		return domain.Session{}, ErrInvalidCredentials
	}

	if cryptox.NeedsRehash(acct.PasswordHash) {
		s.rehash(ctx, acct.ID, password)
	}

	sess, err := s.Sessions.Establish(ctx, sessionID, acct, domain.AuthMethodLocal)
	if err != nil {
		return domain.Session{}, err
	}
	log.Info("login succeeded", slog.String("account_id", acct.ID))
	return sess, nil
}

// rehash upgrades a legacy hash. Failure is logged and the login proceeds.
func (s *CredentialService) rehash(ctx context.Context, accountID, password string) {
	log := slogx.FromContext(ctx)

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		log.Warn("failed to rehash legacy password", slog.Any("error", err))
		return
	}
	if err := s.Accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		log.Warn("failed to store rehashed password", slog.Any("error", err))
		return
	}
	log.Info("legacy password hash upgraded", slog.String("account_id", accountID))
}

// Logout ends sessionID and returns a fresh anonymous session.
func (s *CredentialService) Logout(ctx context.Context, sessionID string) (domain.Session, error) {
	if err := s.Sessions.Invalidate(ctx, sessionID); err != nil {
		return domain.Session{}, err
	}
	slogx.FromContext(ctx).Info("logged out")
	return s.Sessions.Start(ctx)
}

// ChangePassword verifies current, stores next and signs the account out
// everywhere. The caller continues in the returned session.
func (s *CredentialService) ChangePassword(ctx context.Context, sess domain.Session, current, next string) (domain.Session, error) {
	log := slogx.FromContext(ctx)

	if !sess.IsLoggedIn() {
		return domain.Session{}, ErrNotLoggedIn
	}
	if err := validation.Validate(next, passwordRules...); err != nil {
		return domain.Session{}, invalid(validation.Errors{"password": err})
	}

	acct, err := s.Accounts.FindByID(ctx, sess.AccountID)
	if err != nil {
		return domain.Session{}, err
	}
	if acct.PasswordHash == "" || cryptox.VerifyPassword(current, acct.PasswordHash) != nil {
		log.Info("password change rejected", slog.String("account_id", acct.ID))
		return domain.Session{}, ErrInvalidCredentials
	}

	hash, err := cryptox.HashPassword(next)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.Accounts.UpdatePassword(ctx, acct.ID, hash); err != nil {
		return domain.Session{}, err
	}
	if err := s.Sessions.InvalidateAccount(ctx, acct.ID); err != nil {
		return domain.Session{}, err
	}

	log.Info("password changed", slog.String("account_id", acct.ID))
	return s.Sessions.Establish(ctx, "", acct, domain.AuthMethodLocal)
}
