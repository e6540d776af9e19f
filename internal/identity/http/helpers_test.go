package http_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	identityhttp "github.com/vereinsportal/identity/internal/identity/http"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/internal/identity/store/drivers/sqlite"
	"github.com/vereinsportal/identity/pkg/cryptox"
	"github.com/vereinsportal/identity/pkg/jwtx"
	"github.com/vereinsportal/identity/pkg/jwtx/jwtxtest"
)

const (
	testClientID  = "portal-client-id"
	adminEmail    = "vorstand@example.org"
	adminPassword = "correct-horse-battery"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "identity-http")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type harness struct {
	server   *httptest.Server
	store    *sqlite.Store
	accounts *service.AccountService
	provider *jwtxtest.Provider
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "identity.db") + "?_pragma=busy_timeout(5000)"
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	sessions := &service.SessionService{Sessions: st.Sessions(), IdleTimeout: time.Hour, MaxLifetime: 12 * time.Hour}
	accounts := &service.AccountService{Store: st, Sessions: sessions}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := identityhttp.NewRouter("test", st, logger)
	router.Cookie = identityhttp.CookieConfig{Name: "portal_session", MaxAge: 12 * time.Hour}
	router.SessionService = sessions
	router.CSRFService = &service.CSRFService{Sessions: st.Sessions()}
	router.AccountService = accounts
	router.CredentialService = &service.CredentialService{Accounts: accounts, Sessions: sessions}
	router.InviteService = &service.InviteService{Store: st, Accounts: accounts}

	// The redirect URI has to name the test server, so the server is started
	// before the routes are applied.
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	provider := jwtxtest.NewProvider(t, testClientID)
	keys := jwtx.NewRemoteKeySet(provider.JWKSURL(), provider.Server.Client(), logger)
	t.Cleanup(keys.Close)

	cfg := service.SSOConfig{
		ClientID:     testClientID,
		ClientSecret: jwtxtest.ClientSecret,
		TenantID:     jwtxtest.Tenant,
		RedirectURI:  server.URL + "/auth/microsoft/callback",
		AuthorizeURL: provider.AuthorizeURL(),
		TokenURL:     provider.TokenURL(),
		Issuer:       provider.Issuer(),
		JWKSURL:      provider.JWKSURL(),
	}
	router.SSOService = &service.SSOService{
		Config:   cfg,
		Accounts: accounts,
		Sessions: sessions,
		Verifier: &jwtx.IDTokenVerifier{Issuer: cfg.Issuer, ClientID: cfg.ClientID, Keyfunc: keys.Keyfunc},
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
	router.ApplyRoutes()

	h := &harness{server: server, store: st, accounts: accounts, provider: provider}
	h.seed(t, adminEmail, adminPassword, rbac.RoleVorstand)
	return h
}

func (h *harness) seed(t *testing.T, email, password string, role rbac.Role) string {
	t.Helper()

	hash, err := cryptox.HashPassword(password)
	require.NoError(t, err)

	acct, err := h.accounts.Create(context.Background(), service.NewAccount{
		Email:        email,
		FirstName:    "Test",
		LastName:     "User",
		PasswordHash: hash,
		Role:         role,
	})
	require.NoError(t, err)
	return acct.ID
}

// browser is a cookie keeping client that does not follow redirects.
type browser struct {
	t      *testing.T
	base   string
	client *http.Client
}

func (h *harness) browser(t *testing.T) *browser {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &browser{
		t:    t,
		base: h.server.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(req *http.Request) *http.Response {
	b.t.Helper()

	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (b *browser) get(path string) *http.Response {
	b.t.Helper()

	req, err := http.NewRequestWithContext(b.t.Context(), http.MethodGet, b.base+path, nil)
	require.NoError(b.t, err)
	return b.do(req)
}

func (b *browser) postForm(path string, form url.Values) *http.Response {
	b.t.Helper()

	req, err := http.NewRequestWithContext(b.t.Context(), http.MethodPost, b.base+path, strings.NewReader(form.Encode()))
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

// sendJSON sends body as JSON, with csrf in X-CSRF-Token when non-empty.
func (b *browser) sendJSON(method, path, csrf string, body any) *http.Response {
	b.t.Helper()

	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		r = strings.NewReader(string(raw))
	}

	req, err := http.NewRequestWithContext(b.t.Context(), method, b.base+path, r)
	require.NoError(b.t, err)
	req.Header.Set("Content-Type", "application/json")
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	return b.do(req)
}

func (b *browser) session() identityhttp.SessionResponse {
	b.t.Helper()

	resp := b.get("/v1/session")
	require.Equal(b.t, http.StatusOK, resp.StatusCode)

	var out identityhttp.SessionResponse
	decode(b.t, resp, &out)
	return out
}

func (b *browser) login(email, password string) *http.Response {
	b.t.Helper()

	csrf := b.session().CSRFToken
	return b.postForm("/login", url.Values{
		"email":    {email},
		"password": {password},
		"_csrf":    {csrf},
	})
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func requireRedirect(t *testing.T, resp *http.Response, code int, location string) {
	t.Helper()
	require.Equal(t, code, resp.StatusCode)
	require.Equal(t, location, resp.Header.Get("Location"))
}
