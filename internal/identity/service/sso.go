package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/pkg/cryptox"
	"github.com/vereinsportal/identity/pkg/jwtx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

const microsoftLoginBase = "https://login.microsoftonline.com"

// SSOConfig describes the Microsoft Entra ID application.
type SSOConfig struct {
	ClientID     string
	ClientSecret string
	TenantID     string
	RedirectURI  string
	ExtraScopes  []string
	HTTPTimeout  time.Duration

	// Endpoints; MicrosoftEndpoints fills them for a tenant.
	AuthorizeURL string
	TokenURL     string
	Issuer       string
	JWKSURL      string
}

// Enabled reports whether Microsoft sign in is configured.
func (c SSOConfig) Enabled() bool { return c.ClientID != "" }

// MicrosoftEndpoints sets the v2.0 endpoints of tenant on c, keeping any
// endpoint that is already set.
func (c SSOConfig) MicrosoftEndpoints(tenant string) SSOConfig {
	base := microsoftLoginBase + "/" + url.PathEscape(tenant)
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = base + "/oauth2/v2.0/authorize"
	}
	if c.TokenURL == "" {
		c.TokenURL = base + "/oauth2/v2.0/token"
	}
	if c.Issuer == "" {
		c.Issuer = base + "/v2.0"
	}
	if c.JWKSURL == "" {
		c.JWKSURL = base + "/discovery/v2.0/keys"
	}
	return c
}

// Scope is the space separated scope sent to the authorize endpoint.
func (c SSOConfig) Scope() string {
	scopes := []string{"openid", "profile", "email"}
	for _, s := range c.ExtraScopes {
		if s != "openid" && s != "profile" && s != "email" {
			scopes = append(scopes, s)
		}
	}
	return strings.Join(scopes, " ")
}

// CallbackParams are the query parameters of the redirect back from Microsoft.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// SSOService runs the OpenID Connect authorization code flow against
// Microsoft and maps the verified identity onto a local account.
type SSOService struct {
	Config   SSOConfig
	Accounts *AccountService
	Sessions *SessionService
	Verifier *jwtx.IDTokenVerifier
	Client   *http.Client
}

func (s *SSOService) httpClient() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	timeout := s.Config.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Begin stores a fresh state on the session and returns the provider's
// authorize URL to redirect to.
func (s *SSOService) Begin(ctx context.Context, sessionID string) (string, error) {
	if !s.Config.Enabled() {
		return "", ErrSSODisabled
	}

	state, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", err
	}
	if err := s.Sessions.Sessions.SetOAuthState(ctx, sessionID, state); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", s.Config.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", s.Config.RedirectURI)
	q.Set("response_mode", "query")
	q.Set("scope", s.Config.Scope())
	q.Set("state", state)

	slogx.FromContext(ctx).Info("sso started")
	return s.Config.AuthorizeURL + "?" + q.Encode(), nil
}

// Complete handles the callback. The stored state is cleared before any
// check so a callback can be attempted at most once per Begin. The checks
// run in a fixed order and the first failure ends the flow.
func (s *SSOService) Complete(ctx context.Context, sessionID string, p CallbackParams) (domain.Session, error) {
	log := slogx.FromContext(ctx)

	if !s.Config.Enabled() {
		return domain.Session{}, ErrSSODisabled
	}

	stored, err := s.Sessions.Sessions.TakeOAuthState(ctx, sessionID)
	if err != nil {
		log.Warn("sso callback without session", slog.Any("error", err))
		return domain.Session{}, ErrSSOFailed
	}

	if p.Error != "" {
		log.Info("sso denied by provider",
			slog.String("error", p.Error),
			slog.String("error_description", p.ErrorDescription),
		)
		return domain.Session{}, ErrSSODenied
	}
	if p.Code == "" {
		log.Warn("sso callback without code")
		return domain.Session{}, ErrSSOFailed
	}
	if p.State == "" || !cryptox.TokensEqual(stored, p.State) {
		log.Warn("sso state mismatch", slog.Bool("stored", stored != ""))
		return domain.Session{}, ErrSSOFailed
	}

	idToken, err := s.exchange(ctx, p.Code)
	if err != nil {
		log.Warn("sso token exchange failed", slog.Any("error", err))
		return domain.Session{}, err
	}

	claims, err := s.Verifier.Verify(idToken)
	if err != nil {
		log.Warn("sso id token rejected", slog.Any("error", err))
		if errors.Is(err, jwtx.ErrKeySetUnavailable) {
			return domain.Session{}, fmt.Errorf("%w: %w", ErrSSOUnavailable, err)
		}
		return domain.Session{}, fmt.Errorf("%w: %w", ErrSSOFailed, err)
	}

	acct, err := s.reconcile(ctx, claims)
	if err != nil {
		return domain.Session{}, err
	}

	sess, err := s.Sessions.Establish(ctx, sessionID, acct, domain.AuthMethodFederated)
	if err != nil {
		return domain.Session{}, err
	}
	log.Info("sso succeeded", slog.String("account_id", acct.ID))
	return sess, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// exchange redeems the authorization code and returns the raw ID token.
func (s *SSOService) exchange(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", s.Config.ClientID)
	form.Set("client_secret", s.Config.ClientSecret)
	form.Set("code", code)
	form.Set("redirect_uri", s.Config.RedirectURI)
	form.Set("scope", s.Config.Scope())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSSOFailed, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSSOUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read token response: %w", ErrSSOUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var tr tokenResponse
		_ = json.Unmarshal(body, &tr)
		return "", fmt.Errorf("%w: token endpoint returned %d %s", ErrSSOUnavailable, resp.StatusCode, tr.Error)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode token response: %w", ErrSSOFailed, err)
	}
	if tr.AccessToken == "" || tr.IDToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token or id_token", ErrSSOFailed)
	}
	return tr.IDToken, nil
}

// reconcile finds the local account for the verified email or creates a
// member account. Existing accounts keep their role.
func (s *SSOService) reconcile(ctx context.Context, claims jwtx.IDTokenClaims) (domain.Account, error) {
	log := slogx.FromContext(ctx)

	acct, err := s.Accounts.FindByEmail(ctx, claims.Email)
	if err == nil {
		log.Info("sso matched existing account", slog.String("account_id", acct.ID))
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return domain.Account{}, err
	}

	first, last := domain.SplitName(claims.Name)
	acct, err = s.Accounts.Create(ctx, NewAccount{
		Email:     claims.Email,
		FirstName: first,
		LastName:  last,
		Role:      rbac.RoleMitglied,
	})
	switch {
	case err == nil:
		log.Info("sso provisioned account", slog.String("account_id", acct.ID))
		return acct, nil
	case errors.Is(err, ErrAccountExists):
		// Lost a race with a concurrent first sign in.
		return s.Accounts.FindByEmail(ctx, claims.Email)
	case errors.Is(err, ErrValidation):
		return domain.Account{}, fmt.Errorf("%w: %v", ErrSSOFailed, err)
	default:
		return domain.Account{}, err
	}
}
