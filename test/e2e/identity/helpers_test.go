package identity_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vereinsportal/identity/internal/identity/app"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/internal/identity/store/drivers/sqlite"
	"github.com/vereinsportal/identity/pkg/cryptox"
)

/*
 * Two application instances share one database and one Redis session store,
 * the way the portal runs behind a load balancer. A browser may hit either.
 */

const (
	adminEmail    = "vorstand@example.org"
	adminPassword = "Vorstand-Passwort-1"
)

// startRedis runs a throwaway Redis container and returns its address.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping end-to-end test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, port.Port())
}

type cluster struct {
	a, b *httptest.Server
}

// setupCluster starts two instances and seeds the administrator account.
func setupCluster(t *testing.T) *cluster {
	t.Helper()

	redisAddr := startRedis(t)
	dir := t.TempDir()

	cfg := app.Config{
		DatabaseFile:        filepath.Join(dir, "identity.db"),
		PepperFile:          filepath.Join(dir, "pepper"),
		SessionBackend:      "redis",
		RedisAddr:           redisAddr,
		RedisPrefix:         "e2e",
		SessionIdleTimeout:  time.Hour,
		SessionMaxLifetime:  12 * time.Hour,
		CookieName:          "portal_session",
		CookieSecure:        false,
		InviteTTL:           48 * time.Hour,
		Env:                 "test",
		LogLevel:            "error",
		LogFormat:           "json",
		ShutdownGracePeriod: time.Second,
	}

	start := func() *httptest.Server {
		application, err := app.New(cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = application.Shutdown() })

		srv := httptest.NewServer(application.Handler())
		t.Cleanup(srv.Close)
		return srv
	}

	c := &cluster{a: start(), b: start()}
	seedAdmin(t, cfg.DatabaseFile)
	return c
}

func seedAdmin(t *testing.T, dbFile string) {
	t.Helper()

	st, err := sqlite.NewStore("file:" + dbFile + "?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	defer st.Close()

	hash, err := cryptox.HashPassword(adminPassword)
	require.NoError(t, err)

	accounts := &service.AccountService{Store: st}
	_, err = accounts.Create(context.Background(), service.NewAccount{
		Email:        adminEmail,
		FirstName:    "Vera",
		LastName:     "Vorstand",
		PasswordHash: hash,
		Role:         rbac.RoleVorstand,
	})
	require.NoError(t, err)
}

// browser keeps cookies across both instances. Cookies are scoped by host,
// not port, so the jar sends the session cookie to either server.
type browser struct {
	t      *testing.T
	client *http.Client
}

func newBrowser(t *testing.T) *browser {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &browser{t: t, client: &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}}
}

func (b *browser) do(method, target string, body string, header http.Header) *http.Response {
	b.t.Helper()

	req, err := http.NewRequestWithContext(b.t.Context(), method, target, strings.NewReader(body))
	require.NoError(b.t, err)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type sessionInfo struct {
	LoggedIn  bool   `json:"logged_in"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CSRFToken string `json:"csrf_token"`
}

func (b *browser) session(srv *httptest.Server) sessionInfo {
	b.t.Helper()

	resp := b.do(http.MethodGet, srv.URL+"/v1/session", "", nil)
	require.Equal(b.t, http.StatusOK, resp.StatusCode)

	var out sessionInfo
	require.NoError(b.t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (b *browser) postForm(srv *httptest.Server, path string, form url.Values) *http.Response {
	b.t.Helper()
	return b.do(http.MethodPost, srv.URL+path, form.Encode(), http.Header{
		"Content-Type": {"application/x-www-form-urlencoded"},
	})
}

func (b *browser) login(srv *httptest.Server, email, password string) *http.Response {
	b.t.Helper()

	csrf := b.session(srv).CSRFToken
	return b.postForm(srv, "/login", url.Values{"email": {email}, "password": {password}, "_csrf": {csrf}})
}

func (b *browser) postJSON(srv *httptest.Server, path, csrf string, v any) *http.Response {
	b.t.Helper()

	raw, err := json.Marshal(v)
	require.NoError(b.t, err)
	return b.do(http.MethodPost, srv.URL+path, string(raw), http.Header{
		"Content-Type": {"application/json"},
		"X-Csrf-Token": {csrf},
	})
}
