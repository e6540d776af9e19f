package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, first, last string
	}{
		{"Anna Schmidt", "Anna", "Schmidt"},
		{"Anna Maria  Schmidt", "Anna", "Maria Schmidt"},
		{"  Cher ", "Cher", ""},
		{"", "", ""},
		{"Jean-Luc\tPicard", "Jean-Luc", "Picard"},
	}
	for _, tt := range tests {
		first, last := domain.SplitName(tt.in)
		require.Equal(t, tt.first, first, "input %q", tt.in)
		require.Equal(t, tt.last, last, "input %q", tt.in)
	}
}

func TestAnonymousSessionHasNoRole(t *testing.T) {
	s := domain.Session{Role: rbac.RoleAdmin}
	require.False(t, s.IsLoggedIn())
	require.Equal(t, rbac.RoleNone, s.CurrentRole())
	require.False(t, s.HasFullAccess())
	require.False(t, s.Can(rbac.NewsRead))

	s.AccountID = "acct"
	require.Equal(t, rbac.RoleAdmin, s.CurrentRole())
	require.True(t, s.HasFullAccess())
}

func TestSessionExpiry(t *testing.T) {
	now := time.Now()
	s := domain.Session{CreatedAt: now.Add(-2 * time.Hour), LastActivityAt: now.Add(-10 * time.Minute)}

	require.False(t, s.Expired(now, time.Hour, 12*time.Hour))
	require.True(t, s.Expired(now, 10*time.Minute, 12*time.Hour), "idle timeout")
	require.True(t, s.Expired(now, time.Hour, 2*time.Hour), "absolute lifetime")
}

func TestInvitationStatus(t *testing.T) {
	now := time.Now()
	inv := domain.Invitation{ExpiresAt: now.Add(time.Hour)}
	require.Equal(t, domain.InvitationPending, inv.Status(now))
	require.Equal(t, domain.InvitationExpired, inv.Status(now.Add(time.Hour)))

	consumed := now
	inv.ConsumedAt = &consumed
	require.Equal(t, domain.InvitationConsumed, inv.Status(now.Add(2*time.Hour)))
}

func TestSessionContext(t *testing.T) {
	require.Nil(t, domain.SessionFromContext(context.Background()))

	s := &domain.Session{ID: "sid"}
	ctx := domain.WithSession(context.Background(), s)
	require.Same(t, s, domain.SessionFromContext(ctx))
}
