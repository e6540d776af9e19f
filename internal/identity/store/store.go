package store

import (
	"context"
	"errors"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface implemented by the sqlite driver.
// Repositories are reached through methods so that a Tx hands out repositories
// bound to the transaction and nothing can open a second one from inside it.
type Store interface {
	Accounts() Accounts
	Invitations() Invitations
	Sessions() Sessions

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn inside a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByEmail expects an already normalised email.
	GetAccountByEmail(ctx context.Context, email string) (domain.Account, error)

	// CreateAccount returns ErrAlreadyExists when the email is taken.
	CreateAccount(ctx context.Context, a domain.Account) error

	UpdatePasswordHash(ctx context.Context, accountID, hash string) error
	UpdateRole(ctx context.Context, accountID string, role rbac.Role) error
}

type Invitations interface {
	// CreateInvitation returns ErrAlreadyExists on a token hash collision.
	CreateInvitation(ctx context.Context, inv domain.Invitation) error

	GetInvitationByTokenHash(ctx context.Context, hash string) (domain.Invitation, error)
	GetInvitationByID(ctx context.Context, id string) (domain.Invitation, error)

	// ListInvitations returns invitations newest first.
	ListInvitations(ctx context.Context, limit, offset int) ([]domain.Invitation, error)

	// ConsumeInvitation marks a pending, unexpired invitation consumed at now.
	// It reports false when no such invitation exists, which is also the
	// outcome for every caller but one when several race for the same token.
	ConsumeInvitation(ctx context.Context, hash string, now time.Time) (bool, error)

	// LinkInvitationAccount records the account created from a consumed invitation.
	LinkInvitationAccount(ctx context.Context, invitationID, accountID string) error

	// DeleteUnconsumedInvitation revokes an invitation that is still pending
	// at now. Consumed and expired ones are terminal, stay for audit and
	// yield ErrNotFound.
	DeleteUnconsumedInvitation(ctx context.Context, id string, now time.Time) error
}

// Sessions is implemented by the sqlite driver and by the redis driver.
type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	DeleteSession(ctx context.Context, id string) error

	// DeleteAccountSessions signs an account out everywhere.
	DeleteAccountSessions(ctx context.Context, accountID string) error

	TouchSession(ctx context.Context, id string, at time.Time) error

	// SetCSRFTokenIfEmpty stores token only when the session has none yet.
	// It reports whether this call stored it.
	SetCSRFTokenIfEmpty(ctx context.Context, id, token string) (bool, error)
	SetCSRFToken(ctx context.Context, id, token string) error

	SetOAuthState(ctx context.Context, id, state string) error

	// TakeOAuthState returns the pending OAuth state and clears it in one
	// step, so a state can be matched at most once.
	TakeOAuthState(ctx context.Context, id string) (string, error)

	// UpdateAccountRole rewrites the cached role on every session of the account.
	UpdateAccountRole(ctx context.Context, accountID string, role rbac.Role) error

	// DeleteExpiredSessions removes sessions created before createdBefore or
	// idle since before activeBefore, returning how many were removed.
	DeleteExpiredSessions(ctx context.Context, createdBefore, activeBefore time.Time) (int64, error)

	Ping(ctx context.Context) error
}
