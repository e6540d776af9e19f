// Package jwtxtest runs an in-process OpenID Connect provider for tests. It
// mimics the Microsoft identity platform v2 endpoints closely enough for the
// authorization code flow: an authorize URL, a token endpoint and a JWKS.
package jwtxtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vereinsportal/identity/pkg/jwtx"
)

const (
	Tenant       = "contoso-tenant"
	ClientSecret = "test-client-secret"
	KeyID        = "test-key-1"
)

type Provider struct {
	Server   *httptest.Server
	Key      *rsa.PrivateKey
	ClientID string

	mu         sync.Mutex
	codes      map[string]string
	tokenCalls int
	failStatus int
	omitIDTok  bool
}

// NewProvider starts a provider that accepts clientID and ClientSecret.
func NewProvider(tb testing.TB, clientID string) *Provider {
	tb.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		tb.Fatalf("generate rsa key: %v", err)
	}

	p := &Provider{
		Key:      key,
		ClientID: clientID,
		codes:    make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /"+Tenant+"/oauth2/v2.0/token", p.handleToken)
	mux.HandleFunc("GET /"+Tenant+"/discovery/v2.0/keys", p.handleKeys)

	p.Server = httptest.NewServer(mux)
	tb.Cleanup(p.Server.Close)
	return p
}

func (p *Provider) base() string { return p.Server.URL + "/" + Tenant }

func (p *Provider) Issuer() string       { return p.base() + "/v2.0" }
func (p *Provider) AuthorizeURL() string { return p.base() + "/oauth2/v2.0/authorize" }
func (p *Provider) TokenURL() string     { return p.base() + "/oauth2/v2.0/token" }
func (p *Provider) JWKSURL() string      { return p.base() + "/discovery/v2.0/keys" }

// Claims returns a valid claim set for the given user.
func (p *Provider) Claims(email, name string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   p.Issuer(),
		"aud":   p.ClientID,
		"sub":   "sub-" + email,
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"email": email,
		"name":  name,
		"tid":   Tenant,
	}
}

// Sign returns claims signed with the provider key.
func (p *Provider) Sign(tb testing.TB, claims jwt.MapClaims) string {
	tb.Helper()
	return SignWith(tb, p.Key, KeyID, claims)
}

// SignWith signs claims with an arbitrary key, e.g. to forge a token.
func SignWith(tb testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	tb.Helper()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(key)
	if err != nil {
		tb.Fatalf("sign id token: %v", err)
	}
	return raw
}

// IssueCode registers an authorization code that the token endpoint will
// exchange for idToken.
func (p *Provider) IssueCode(code, idToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = idToken
}

// FailTokenEndpoint makes every later token request answer with status.
func (p *Provider) FailTokenEndpoint(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failStatus = status
}

// OmitIDToken makes the token endpoint answer 200 without an id_token.
func (p *Provider) OmitIDToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDTok = true
}

// TokenCalls reports how many requests reached the token endpoint.
func (p *Provider) TokenCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.tokenCalls++

	if p.failStatus != 0 {
		writeJSON(w, p.failStatus, map[string]string{"error": "temporarily_unavailable"})
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" ||
		r.PostForm.Get("client_id") != p.ClientID ||
		r.PostForm.Get("client_secret") != ClientSecret ||
		r.PostForm.Get("redirect_uri") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	code := r.PostForm.Get("code")
	idToken, ok := p.codes[code]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	delete(p.codes, code)

	resp := map[string]any{
		"token_type":   "Bearer",
		"expires_in":   3600,
		"access_token": "access-" + code,
	}
	if !p.omitIDTok {
		resp["id_token"] = idToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) handleKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jwtx.JWKS{
		Keys: []jwtx.JWK{jwtx.NewRSAJWK(KeyID, &p.Key.PublicKey)},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
