package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		DatabaseFile:        filepath.Join(dir, "identity.db"),
		PepperFile:          filepath.Join(dir, "pepper"),
		SessionBackend:      "sqlite",
		SessionIdleTimeout:  time.Hour,
		SessionMaxLifetime:  12 * time.Hour,
		CookieName:          "portal_session",
		InviteTTL:           48 * time.Hour,
		Env:                 "test",
		LogLevel:            "error",
		LogFormat:           "text",
		ShutdownGracePeriod: time.Second,
	}
}

func TestNewServesHealth(t *testing.T) {
	application, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })

	require.Nil(t, application.ssoService)
	require.Nil(t, application.housekeepingService)

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Microsoft routes are absent without a client id
	rec = httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/microsoft", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewWithSSO(t *testing.T) {
	cfg := testConfig(t)
	cfg.MSClientID = "client"
	cfg.MSClientSecret = "secret"
	cfg.MSTenantID = "contoso"
	cfg.MSRedirectURI = "https://portal.example.org/auth/microsoft/callback"
	cfg.SSOHTTPTimeout = time.Second

	application, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Shutdown() })

	require.NotNil(t, application.ssoService)
	require.Equal(t, "https://login.microsoftonline.com/contoso/v2.0", application.ssoService.Config.Issuer)

	rec := httptest.NewRecorder()
	application.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/microsoft", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Contains(t, rec.Header().Get("Location"), "https://login.microsoftonline.com/contoso/oauth2/v2.0/authorize?")
}

func TestNewRejectsIncompleteSSO(t *testing.T) {
	cfg := testConfig(t)
	cfg.MSClientID = "client"

	_, err := New(cfg)
	require.ErrorContains(t, err, "MS_CLIENT_SECRET")
	require.ErrorContains(t, err, "MS_REDIRECT_URI")
}

func TestNewRejectsUnknownSessionBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionBackend = "memcached"

	_, err := New(cfg)
	require.ErrorContains(t, err, "unknown session backend")
}
