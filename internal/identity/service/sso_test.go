package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/pkg/jwtx"
	"github.com/vereinsportal/identity/pkg/jwtx/jwtxtest"
)

const testClientID = "portal-client-id"

type ssoEnv struct {
	*testEnv
	provider *jwtxtest.Provider
	sso      *SSOService
}

func newSSOEnv(t *testing.T) *ssoEnv {
	t.Helper()

	env := newTestEnv(t)
	provider := jwtxtest.NewProvider(t, testClientID)

	keys := jwtx.NewRemoteKeySet(provider.JWKSURL(), provider.Server.Client(), nil)
	t.Cleanup(keys.Close)

	cfg := SSOConfig{
		ClientID:     testClientID,
		ClientSecret: jwtxtest.ClientSecret,
		TenantID:     jwtxtest.Tenant,
		RedirectURI:  "https://portal.example.org/auth/microsoft/callback",
		AuthorizeURL: provider.AuthorizeURL(),
		TokenURL:     provider.TokenURL(),
		Issuer:       provider.Issuer(),
		JWKSURL:      provider.JWKSURL(),
	}

	return &ssoEnv{
		testEnv:  env,
		provider: provider,
		sso: &SSOService{
			Config:   cfg,
			Accounts: env.accounts,
			Sessions: env.sessions,
			Verifier: &jwtx.IDTokenVerifier{Issuer: cfg.Issuer, ClientID: cfg.ClientID, Keyfunc: keys.Keyfunc},
			Client:   &http.Client{Timeout: 5 * time.Second},
		},
	}
}

// begin starts a flow on a new anonymous session and returns its id and state.
func (e *ssoEnv) begin(t *testing.T) (string, string) {
	t.Helper()

	anon, err := e.sessions.Start(context.Background())
	require.NoError(t, err)

	redirect, err := e.sso.Begin(context.Background(), anon.ID)
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	return anon.ID, u.Query().Get("state")
}

func TestSSOBeginBuildsAuthorizeURL(t *testing.T) {
	env := newSSOEnv(t)
	env.sso.Config.ExtraScopes = []string{"User.Read", "email"}

	_, state := env.begin(t)
	require.NotEmpty(t, state)

	anon, err := env.sessions.Start(context.Background())
	require.NoError(t, err)
	redirect, err := env.sso.Begin(context.Background(), anon.ID)
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, "code", q.Get("response_type"))
	require.Equal(t, "query", q.Get("response_mode"))
	require.Equal(t, env.sso.Config.RedirectURI, q.Get("redirect_uri"))
	require.Equal(t, "openid profile email User.Read", q.Get("scope"))
	require.NotEqual(t, state, q.Get("state"), "every flow gets its own state")

	stored, err := env.store.Sessions().GetSession(context.Background(), anon.ID)
	require.NoError(t, err)
	require.Equal(t, q.Get("state"), stored.OAuthState)
}

func TestSSOProvisionsNewMember(t *testing.T) {
	ctx := context.Background()
	env := newSSOEnv(t)

	sessionID, state := env.begin(t)
	env.provider.IssueCode("code-1", env.provider.Sign(t, env.provider.Claims("Erika.Muster@Example.org", "Erika Anna Muster")))

	sess, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
	require.NoError(t, err)
	require.NotEqual(t, sessionID, sess.ID)
	require.Equal(t, rbac.RoleMitglied, sess.CurrentRole())
	require.Equal(t, domain.AuthMethodFederated, sess.AuthMethod)

	acct, err := env.accounts.FindByEmail(ctx, "erika.muster@example.org")
	require.NoError(t, err)
	require.Equal(t, "Erika", acct.FirstName)
	require.Equal(t, "Anna Muster", acct.LastName)
	require.Empty(t, acct.PasswordHash)

	_, err = env.sessions.Resume(ctx, sessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSSOExistingAccountKeepsRole(t *testing.T) {
	ctx := context.Background()
	env := newSSOEnv(t)
	existing := env.seedAccount(t, "kassenwart@example.org", "a local password", rbac.RoleVorstandFinanzen)

	sessionID, state := env.begin(t)
	env.provider.IssueCode("code-1", env.provider.Sign(t, env.provider.Claims("kassenwart@example.org", "Someone Else")))

	sess, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
	require.NoError(t, err)
	require.Equal(t, existing.ID, sess.AccountID)
	require.Equal(t, rbac.RoleVorstandFinanzen, sess.CurrentRole())

	acct, err := env.accounts.FindByID(ctx, existing.ID)
	require.NoError(t, err)
	require.Equal(t, "Test", acct.FirstName)
}

func TestSSORejectsBeforeContactingProvider(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		params func(state string) CallbackParams
		want   error
	}{
		{"provider error", func(s string) CallbackParams {
			return CallbackParams{Error: "access_denied", ErrorDescription: "user cancelled", State: s}
		}, ErrSSODenied},
		{"missing code", func(s string) CallbackParams { return CallbackParams{State: s} }, ErrSSOFailed},
		{"missing state", func(string) CallbackParams { return CallbackParams{Code: "code-1"} }, ErrSSOFailed},
		{"wrong state", func(string) CallbackParams { return CallbackParams{Code: "code-1", State: "forged"} }, ErrSSOFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newSSOEnv(t)
			sessionID, state := env.begin(t)
			env.provider.IssueCode("code-1", env.provider.Sign(t, env.provider.Claims("a@example.org", "A B")))

			_, err := env.sso.Complete(ctx, sessionID, tt.params(state))
			require.ErrorIs(t, err, tt.want)
			require.Zero(t, env.provider.TokenCalls())

			// The state was cleared; a correct retry fails too.
			_, err = env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
			require.ErrorIs(t, err, ErrSSOFailed)
			require.Zero(t, env.provider.TokenCalls())
		})
	}
}

func TestSSOCallbackReplay(t *testing.T) {
	ctx := context.Background()
	env := newSSOEnv(t)

	sessionID, state := env.begin(t)
	env.provider.IssueCode("code-1", env.provider.Sign(t, env.provider.Claims("a@example.org", "A B")))

	sess, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
	require.NoError(t, err)

	_, err = env.sso.Complete(ctx, sess.ID, CallbackParams{Code: "code-1", State: state})
	require.ErrorIs(t, err, ErrSSOFailed)
	require.Equal(t, 1, env.provider.TokenCalls())
}

func TestSSOTokenEndpointFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("non-2xx is upstream failure", func(t *testing.T) {
		env := newSSOEnv(t)
		sessionID, state := env.begin(t)
		env.provider.FailTokenEndpoint(http.StatusServiceUnavailable)

		_, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
		require.ErrorIs(t, err, ErrSSOUnavailable)
		require.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("unknown code", func(t *testing.T) {
		env := newSSOEnv(t)
		sessionID, state := env.begin(t)

		_, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "never-issued", State: state})
		require.ErrorIs(t, err, ErrSSOUnavailable)
	})

	t.Run("missing id_token", func(t *testing.T) {
		env := newSSOEnv(t)
		sessionID, state := env.begin(t)
		env.provider.IssueCode("code-1", "ignored")
		env.provider.OmitIDToken()

		_, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
		require.ErrorIs(t, err, ErrSSOFailed)
	})

	t.Run("unreachable provider", func(t *testing.T) {
		env := newSSOEnv(t)
		sessionID, state := env.begin(t)
		env.sso.Config.TokenURL = "http://127.0.0.1:1/token"

		_, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
		require.ErrorIs(t, err, ErrSSOUnavailable)
	})
}

func TestSSORejectsBadIDTokens(t *testing.T) {
	ctx := context.Background()

	forged, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token func(p *jwtxtest.Provider) string
	}{
		{"malformed", func(*jwtxtest.Provider) string { return "not-a-jwt" }},
		{"missing email", func(p *jwtxtest.Provider) string {
			c := p.Claims("a@example.org", "A B")
			delete(c, "email")
			return p.Sign(t, c)
		}},
		{"foreign issuer", func(p *jwtxtest.Provider) string {
			c := p.Claims("a@example.org", "A B")
			c["iss"] = "https://login.microsoftonline.com/other-tenant/v2.0"
			return p.Sign(t, c)
		}},
		{"expired", func(p *jwtxtest.Provider) string {
			c := p.Claims("a@example.org", "A B")
			c["exp"] = time.Now().Add(-time.Minute).Unix()
			return p.Sign(t, c)
		}},
		{"other audience", func(p *jwtxtest.Provider) string {
			c := p.Claims("a@example.org", "A B")
			c["aud"] = "someone-elses-app"
			return p.Sign(t, c)
		}},
		{"forged signature", func(p *jwtxtest.Provider) string {
			return jwtxtest.SignWith(t, forged, jwtxtest.KeyID, p.Claims("a@example.org", "A B"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newSSOEnv(t)
			sessionID, state := env.begin(t)
			env.provider.IssueCode("code-1", tt.token(env.provider))

			_, err := env.sso.Complete(ctx, sessionID, CallbackParams{Code: "code-1", State: state})
			require.ErrorIs(t, err, ErrSSOFailed)

			_, err = env.accounts.FindByEmail(ctx, "a@example.org")
			require.ErrorIs(t, err, ErrAccountNotFound)
		})
	}
}

func TestSSODisabled(t *testing.T) {
	env := newSSOEnv(t)
	env.sso.Config.ClientID = ""

	_, err := env.sso.Begin(context.Background(), "sid")
	require.ErrorIs(t, err, ErrSSODisabled)
}

func TestMicrosoftEndpoints(t *testing.T) {
	cfg := SSOConfig{}.MicrosoftEndpoints("contoso")
	require.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/authorize", cfg.AuthorizeURL)
	require.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", cfg.TokenURL)
	require.Equal(t, "https://login.microsoftonline.com/contoso/v2.0", cfg.Issuer)
	require.Equal(t, "https://login.microsoftonline.com/contoso/discovery/v2.0/keys", cfg.JWKSURL)

	kept := SSOConfig{Issuer: "https://issuer.example"}.MicrosoftEndpoints("contoso")
	require.Equal(t, "https://issuer.example", kept.Issuer)
}
