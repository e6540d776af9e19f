package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_FILE", "SESSION_BACKEND", "COOKIE_SECURE", "INVITE_TTL",
		"MS_CLIENT_ID", "MS_EXTRA_SCOPES", "HOUSEKEEPING_INTERVAL", "PORT",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	require.Equal(t, "identity.db", cfg.DatabaseFile)
	require.Equal(t, "sqlite", cfg.SessionBackend)
	require.Equal(t, time.Hour, cfg.SessionIdleTimeout)
	require.Equal(t, 12*time.Hour, cfg.SessionMaxLifetime)
	require.True(t, cfg.CookieSecure)
	require.Equal(t, 48*time.Hour, cfg.InviteTTL)
	require.Empty(t, cfg.MSClientID)
	require.Nil(t, cfg.MSExtraScopes)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, 15*time.Minute, cfg.HousekeepingInterval)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SESSION_BACKEND", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("SESSION_IDLE_TIMEOUT", "30m")
	t.Setenv("SESSION_MAX_LIFETIME", "480")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("MS_CLIENT_ID", "client")
	t.Setenv("MS_EXTRA_SCOPES", "User.Read, offline_access")
	t.Setenv("PORT", "not-a-number")

	cfg := LoadConfig()
	require.Equal(t, "redis", cfg.SessionBackend)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 2, cfg.RedisDB)
	require.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	require.Equal(t, 8*time.Hour, cfg.SessionMaxLifetime)
	require.False(t, cfg.CookieSecure)
	require.Equal(t, "client", cfg.MSClientID)
	require.Equal(t, []string{"User.Read", "offline_access"}, cfg.MSExtraScopes)
	require.Equal(t, 8080, cfg.Port)
}
