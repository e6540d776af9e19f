// Package storetest holds behaviour tests shared by every store driver.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/store"
	"github.com/vereinsportal/identity/pkg/idx"
)

// Now is the current time at the millisecond precision drivers persist.
func Now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli()).UTC()
}

// RunSessions exercises a Sessions implementation. newSessions must return an
// empty backend.
func RunSessions(t *testing.T, newSessions func(t *testing.T) store.Sessions) {
	t.Run("CreateGetDelete", func(t *testing.T) {
		ctx := context.Background()
		sessions := newSessions(t)
		now := Now()

		s := domain.Session{
			ID:             idx.New().String(),
			AccountID:      "acct-1",
			Role:           rbac.RoleMitglied,
			DisplayName:    "Anna Schmidt",
			Email:          "anna@example.org",
			AuthMethod:     domain.AuthMethodLocal,
			CSRFToken:      "csrf",
			CreatedAt:      now,
			LastActivityAt: now,
		}
		require.NoError(t, sessions.CreateSession(ctx, s))

		got, err := sessions.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, s.AccountID, got.AccountID)
		require.Equal(t, s.Role, got.Role)
		require.Equal(t, s.DisplayName, got.DisplayName)
		require.Equal(t, s.Email, got.Email)
		require.Equal(t, s.AuthMethod, got.AuthMethod)
		require.Equal(t, s.CSRFToken, got.CSRFToken)
		require.True(t, s.CreatedAt.Equal(got.CreatedAt))
		require.True(t, s.LastActivityAt.Equal(got.LastActivityAt))

		require.NoError(t, sessions.DeleteSession(ctx, s.ID))
		_, err = sessions.GetSession(ctx, s.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		// Deleting twice is fine.
		require.NoError(t, sessions.DeleteSession(ctx, s.ID))
	})

	t.Run("AnonymousSession", func(t *testing.T) {
		ctx := context.Background()
		sessions := newSessions(t)
		now := Now()

		s := domain.Session{ID: idx.New().String(), CreatedAt: now, LastActivityAt: now}
		require.NoError(t, sessions.CreateSession(ctx, s))

		got, err := sessions.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.False(t, got.IsLoggedIn())
		require.Equal(t, rbac.RoleNone, got.CurrentRole())
	})

	t.Run("Touch", func(t *testing.T) {
		ctx := context.Background()
		sessions := newSessions(t)
		now := Now()

		s := domain.Session{ID: idx.New().String(), CreatedAt: now, LastActivityAt: now}
		require.NoError(t, sessions.CreateSession(ctx, s))

		later := now.Add(5 * time.Minute)
		require.NoError(t, sessions.TouchSession(ctx, s.ID, later))

		got, err := sessions.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.True(t, later.Equal(got.LastActivityAt))

		require.ErrorIs(t, sessions.TouchSession(ctx, "missing", later), store.ErrNotFound)
	})

	t.Run("CSRFTokenIfEmpty", func(t *testing.T) {
		ctx := context.Background()
		sessions := newSessions(t)
		now := Now()

		s := domain.Session{ID: idx.New().String(), CreatedAt: now, LastActivityAt: now}
		require.NoError(t, sessions.CreateSession(ctx, s))

		stored, err := sessions.SetCSRFTokenIfEmpty(ctx, s.ID, "first")
		require.NoError(t, err)
		require.True(t, stored)

		stored, err = sessions.SetCSRFTokenIfEmpty(ctx, s.ID, "second")
		require.NoError(t, err)
		require.False(t, stored)

		got, err := sessions.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, "first", got.CSRFToken)

		require.NoError(t, sessions.SetCSRFToken(ctx, s.ID, "rotated"))
		got, err = sessions.GetSession(ctx, s.ID)
		require.NoError(t, err)
		require.Equal(t, "rotated", got.CSRFToken)
	})

	t.Run("TakeOAuthStateOnce", func(t *testing.T) {
		ctx := context.Background()
		sessions := newSessions(t)
		now := Now()

		s := domain.Session{ID: idx.New().String(), CreatedAt: now, LastActivityAt: now}
		require.NoError(t, sessions.CreateSession(ctx, s))
		require.NoError(t, sessions.SetOAuthState(ctx, s.ID, "state-1"))

		const callers = 8
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			taken []string
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				state, err := sessions.TakeOAuthState(ctx, s.ID)
				if err != nil || state == "" {
					return
				}
				mu.Lock()
				taken = append(taken, state)
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Equal(t, []string{"state-1"}, taken)

		state, err := sessions.TakeOAuthState(ctx, s.ID)
		require.NoError(t, err)
		require.Empty(t, state)
	})

	t.Run("AccountWideOperations", func(t *testing.T) {
		ctx := context.Background()
		sessions := newSessions(t)
		now := Now()

		accountID := idx.New().String()
		var ids []string
		for range 3 {
			s := domain.Session{
				ID:             idx.New().String(),
				AccountID:      accountID,
				Role:           rbac.RoleAlumni,
				CreatedAt:      now,
				LastActivityAt: now,
			}
			require.NoError(t, sessions.CreateSession(ctx, s))
			ids = append(ids, s.ID)
		}
		other := domain.Session{ID: idx.New().String(), AccountID: idx.New().String(), Role: rbac.RoleAlumni, CreatedAt: now, LastActivityAt: now}
		require.NoError(t, sessions.CreateSession(ctx, other))

		require.NoError(t, sessions.UpdateAccountRole(ctx, accountID, rbac.RoleVorstand))
		for _, id := range ids {
			got, err := sessions.GetSession(ctx, id)
			require.NoError(t, err)
			require.Equal(t, rbac.RoleVorstand, got.Role)
		}
		got, err := sessions.GetSession(ctx, other.ID)
		require.NoError(t, err)
		require.Equal(t, rbac.RoleAlumni, got.Role)

		require.NoError(t, sessions.DeleteAccountSessions(ctx, accountID))
		for _, id := range ids {
			_, err := sessions.GetSession(ctx, id)
			require.ErrorIs(t, err, store.ErrNotFound)
		}
		_, err = sessions.GetSession(ctx, other.ID)
		require.NoError(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, newSessions(t).Ping(context.Background()))
	})
}

// RunStore exercises accounts and invitations. newStore must return a
// migrated, empty store.
func RunStore(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("Accounts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := Now()

		acct := domain.Account{
			ID:           idx.New().String(),
			Email:        "anna@example.org",
			FirstName:    "Anna",
			LastName:     "Schmidt",
			PasswordHash: "hash",
			Role:         rbac.RoleMitglied,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		require.NoError(t, s.Accounts().CreateAccount(ctx, acct))

		byID, err := s.Accounts().GetAccountByID(ctx, acct.ID)
		require.NoError(t, err)
		require.Equal(t, acct.Email, byID.Email)
		require.Equal(t, acct.Role, byID.Role)
		require.True(t, acct.CreatedAt.Equal(byID.CreatedAt))

		byEmail, err := s.Accounts().GetAccountByEmail(ctx, acct.Email)
		require.NoError(t, err)
		require.Equal(t, acct.ID, byEmail.ID)

		dup := acct
		dup.ID = idx.New().String()
		require.ErrorIs(t, s.Accounts().CreateAccount(ctx, dup), store.ErrAlreadyExists)

		require.NoError(t, s.Accounts().UpdateRole(ctx, acct.ID, rbac.RoleVorstand))
		require.NoError(t, s.Accounts().UpdatePasswordHash(ctx, acct.ID, "new-hash"))
		got, err := s.Accounts().GetAccountByID(ctx, acct.ID)
		require.NoError(t, err)
		require.Equal(t, rbac.RoleVorstand, got.Role)
		require.Equal(t, "new-hash", got.PasswordHash)

		_, err = s.Accounts().GetAccountByEmail(ctx, "nobody@example.org")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.Accounts().UpdateRole(ctx, "missing", rbac.RoleAdmin), store.ErrNotFound)
	})

	t.Run("InvitationLifecycle", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := Now()

		inv := domain.Invitation{
			ID:        idx.New().String(),
			Email:     "new@example.org",
			Role:      rbac.RoleAlumni,
			TokenHash: "hash-1",
			CreatedBy: "admin",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}
		require.NoError(t, s.Invitations().CreateInvitation(ctx, inv))
		require.ErrorIs(t, s.Invitations().CreateInvitation(ctx, inv), store.ErrAlreadyExists)

		got, err := s.Invitations().GetInvitationByTokenHash(ctx, "hash-1")
		require.NoError(t, err)
		require.Equal(t, domain.InvitationPending, got.Status(now))
		require.Nil(t, got.ConsumedAt)

		ok, err := s.Invitations().ConsumeInvitation(ctx, "hash-1", now)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.Invitations().ConsumeInvitation(ctx, "hash-1", now)
		require.NoError(t, err)
		require.False(t, ok, "second consume must fail")

		got, err = s.Invitations().GetInvitationByTokenHash(ctx, "hash-1")
		require.NoError(t, err)
		require.Equal(t, domain.InvitationConsumed, got.Status(now))

		// Consumed invitations are kept for audit.
		require.ErrorIs(t, s.Invitations().DeleteUnconsumedInvitation(ctx, inv.ID, now), store.ErrNotFound)

		byID, err := s.Invitations().GetInvitationByID(ctx, inv.ID)
		require.NoError(t, err)
		require.Equal(t, "hash-1", byID.TokenHash)

		_, err = s.Invitations().GetInvitationByID(ctx, "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ExpiredInvitationCannotBeConsumed", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := Now()

		inv := domain.Invitation{
			ID:        idx.New().String(),
			Email:     "late@example.org",
			Role:      rbac.RoleMitglied,
			TokenHash: "hash-expired",
			CreatedBy: "admin",
			CreatedAt: now.Add(-2 * time.Hour),
			ExpiresAt: now.Add(-time.Hour),
		}
		require.NoError(t, s.Invitations().CreateInvitation(ctx, inv))

		ok, err := s.Invitations().ConsumeInvitation(ctx, inv.TokenHash, now)
		require.NoError(t, err)
		require.False(t, ok)

		// Expired is terminal, so it cannot be revoked either
		require.ErrorIs(t, s.Invitations().DeleteUnconsumedInvitation(ctx, inv.ID, now), store.ErrNotFound)
		got, err := s.Invitations().GetInvitationByTokenHash(ctx, inv.TokenHash)
		require.NoError(t, err)
		require.Equal(t, domain.InvitationExpired, got.Status(now))
	})

	t.Run("ListInvitationsNewestFirst", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := Now()

		for i := range 3 {
			require.NoError(t, s.Invitations().CreateInvitation(ctx, domain.Invitation{
				ID:        idx.New().String(),
				Email:     "list@example.org",
				Role:      rbac.RoleMitglied,
				TokenHash: idx.New().String(),
				CreatedBy: "admin",
				CreatedAt: now.Add(time.Duration(i) * time.Minute),
				ExpiresAt: now.Add(time.Hour),
			}))
		}

		list, err := s.Invitations().ListInvitations(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.True(t, list[0].CreatedAt.After(list[1].CreatedAt))

		rest, err := s.Invitations().ListInvitations(ctx, 10, 2)
		require.NoError(t, err)
		require.Len(t, rest, 1)
	})

	t.Run("ConcurrentConsumeHasOneWinner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := Now()

		require.NoError(t, s.Invitations().CreateInvitation(ctx, domain.Invitation{
			ID:        idx.New().String(),
			Email:     "race@example.org",
			Role:      rbac.RoleMitglied,
			TokenHash: "hash-race",
			CreatedBy: "admin",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Hour),
		}))

		const callers = 10
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.Invitations().ConsumeInvitation(ctx, "hash-race", now)
				if err == nil && ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, wins)
	})

	t.Run("TxRollback", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := Now()

		acct := domain.Account{ID: idx.New().String(), Email: "tx@example.org", Role: rbac.RoleMitglied, CreatedAt: now, UpdatedAt: now}
		err := s.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Accounts().CreateAccount(ctx, acct); err != nil {
				return err
			}
			return store.ErrAlreadyExists
		})
		require.ErrorIs(t, err, store.ErrAlreadyExists)

		_, err = s.Accounts().GetAccountByID(ctx, acct.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}
