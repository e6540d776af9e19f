package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/store"
	"github.com/vereinsportal/identity/pkg/cryptox"
	"github.com/vereinsportal/identity/pkg/slogx"
)

const (
	DefaultIdleTimeout = time.Hour
	DefaultMaxLifetime = 12 * time.Hour
)

// SessionService owns the server side session records. Every session is
// created with a CSRF token, and authentication always moves the browser to
// a new session id.
type SessionService struct {
	Sessions    store.Sessions
	IdleTimeout time.Duration
	MaxLifetime time.Duration
	Now         func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SessionService) idleTimeout() time.Duration {
	if s.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return s.IdleTimeout
}

func (s *SessionService) maxLifetime() time.Duration {
	if s.MaxLifetime <= 0 {
		return DefaultMaxLifetime
	}
	return s.MaxLifetime
}

func (s *SessionService) create(ctx context.Context, sess domain.Session) (domain.Session, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, err
	}
	csrf, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.now()
	sess.ID = id
	sess.CSRFToken = csrf
	sess.CreatedAt = now
	sess.LastActivityAt = now
	if sess.Role == "" {
		sess.Role = rbac.RoleNone
	}

	if err := s.Sessions.CreateSession(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Start creates an anonymous session.
func (s *SessionService) Start(ctx context.Context) (domain.Session, error) {
	return s.create(ctx, domain.Session{})
}

// Resume loads a session, enforces idle timeout and absolute lifetime and
// records the activity. Expired sessions are deleted.
func (s *SessionService) Resume(ctx context.Context, id string) (domain.Session, error) {
	if id == "" {
		return domain.Session{}, ErrSessionNotFound
	}

	sess, err := s.Sessions.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}

	now := s.now()
	if sess.Expired(now, s.idleTimeout(), s.maxLifetime()) {
		if err := s.Sessions.DeleteSession(ctx, id); err != nil {
			slogx.FromContext(ctx).Warn("failed to delete expired session", slog.Any("error", err))
		}
		return domain.Session{}, ErrSessionExpired
	}

	if err := s.Sessions.TouchSession(ctx, id, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Session{}, ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	sess.LastActivityAt = now
	return sess, nil
}

// Establish binds acct to a brand new session and drops previousID, so an
// identifier planted before sign in is never authenticated.
func (s *SessionService) Establish(ctx context.Context, previousID string, acct domain.Account, method domain.AuthMethod) (domain.Session, error) {
	if previousID != "" {
		if err := s.Sessions.DeleteSession(ctx, previousID); err != nil {
			return domain.Session{}, err
		}
	}

	sess, err := s.create(ctx, domain.Session{
		AccountID:   acct.ID,
		Role:        acct.Role,
		DisplayName: acct.DisplayName(),
		Email:       acct.Email,
		AuthMethod:  method,
	})
	if err != nil {
		return domain.Session{}, err
	}

	slogx.FromContext(ctx).Info("session established",
		slog.String("account_id", acct.ID),
		slog.String("method", string(method)),
	)
	return sess, nil
}

// Invalidate deletes a session. Missing sessions are not an error.
func (s *SessionService) Invalidate(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.Sessions.DeleteSession(ctx, id)
}

// InvalidateAccount signs an account out of every session.
func (s *SessionService) InvalidateAccount(ctx context.Context, accountID string) error {
	return s.Sessions.DeleteAccountSessions(ctx, accountID)
}

// UpdateAccountRole makes a role change visible to live sessions.
func (s *SessionService) UpdateAccountRole(ctx context.Context, accountID string, role rbac.Role) error {
	return s.Sessions.UpdateAccountRole(ctx, accountID, role)
}

// PurgeExpired deletes sessions past their lifetime or idle timeout.
func (s *SessionService) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now()
	return s.Sessions.DeleteExpiredSessions(ctx, now.Add(-s.maxLifetime()), now.Add(-s.idleTimeout()))
}

// Ping checks the session backend.
func (s *SessionService) Ping(ctx context.Context) error {
	return s.Sessions.Ping(ctx)
}
