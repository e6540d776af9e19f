package jwtx_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vereinsportal/identity/pkg/jwtx"
	"github.com/vereinsportal/identity/pkg/jwtx/jwtxtest"
)

const clientID = "portal-client-id"

func newVerifier(t *testing.T, p *jwtxtest.Provider) (*jwtx.IDTokenVerifier, *jwtx.RemoteKeySet) {
	t.Helper()
	keys := jwtx.NewRemoteKeySet(p.JWKSURL(), http.DefaultClient, nil)
	t.Cleanup(keys.Close)
	return &jwtx.IDTokenVerifier{
		Issuer:   p.Issuer(),
		ClientID: clientID,
		Keyfunc:  keys.Keyfunc,
	}, keys
}

func TestVerify_ValidToken(t *testing.T) {
	p := jwtxtest.NewProvider(t, clientID)
	v, _ := newVerifier(t, p)

	claims, err := v.Verify(p.Sign(t, p.Claims("anna@example.org", "Anna Maria Schmidt")))
	require.NoError(t, err)
	require.Equal(t, "anna@example.org", claims.Email)
	require.Equal(t, "Anna Maria Schmidt", claims.Name)
	require.Equal(t, p.Issuer(), claims.Issuer)
	require.Equal(t, []string{clientID}, claims.Audience)
	require.Equal(t, jwtxtest.Tenant, claims.TenantID)
}

func TestSplitToken(t *testing.T) {
	for _, raw := range []string{"", "a.b", "a.b.c.d", "a..c", ".b.c"} {
		_, err := jwtx.SplitToken(raw)
		require.ErrorIs(t, err, jwtx.ErrMalformed, "token %q", raw)
	}

	parts, err := jwtx.SplitToken("h.p.s")
	require.NoError(t, err)
	require.Equal(t, [3]string{"h", "p", "s"}, parts)
}

func encodePayload(json string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(json))
}

func TestDecodeClaims(t *testing.T) {
	t.Run("rejects non base64 payload", func(t *testing.T) {
		_, err := jwtx.DecodeClaims("!!!")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("rejects non json payload", func(t *testing.T) {
		_, err := jwtx.DecodeClaims(encodePayload("not json"))
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	full := map[string]string{
		"email": `"email":"a@b.com"`,
		"name":  `"name":"A B"`,
		"iss":   `"iss":"https://issuer"`,
		"aud":   `"aud":"client"`,
		"exp":   `"exp":4102444800`,
		"sub":   `"sub":"subject"`,
	}

	for missing := range full {
		t.Run("requires "+missing, func(t *testing.T) {
			fields := make([]string, 0, len(full))
			for name, field := range full {
				if name != missing {
					fields = append(fields, field)
				}
			}
			_, err := jwtx.DecodeClaims(encodePayload("{" + strings.Join(fields, ",") + "}"))
			require.ErrorIs(t, err, jwtx.ErrMissingClaim)
			require.Contains(t, err.Error(), missing)
		})
	}

	t.Run("accepts padded payload and array audience", func(t *testing.T) {
		payload := base64.URLEncoding.EncodeToString([]byte(
			`{"email":"a@b.com","name":"A B","iss":"https://issuer","aud":["client"],"exp":4102444800,"sub":"s"}`,
		))
		claims, err := jwtx.DecodeClaims(payload)
		require.NoError(t, err)
		require.Equal(t, []string{"client"}, claims.Audience)
		require.Equal(t, int64(4102444800), claims.ExpiresAt.Unix())
	})
}

func TestClaimChecks(t *testing.T) {
	now := time.Now()
	c := jwtx.IDTokenClaims{
		Issuer:    "https://login.microsoftonline.com/t/v2.0",
		Audience:  []string{"client"},
		ExpiresAt: now.Add(time.Minute),
	}

	require.NoError(t, c.ValidateIssuer("https://login.microsoftonline.com/t/v2.0"))
	require.ErrorIs(t, c.ValidateIssuer("https://login.microsoftonline.com/other/v2.0"), jwtx.ErrIssuer)
	require.ErrorIs(t, c.ValidateIssuer(""), jwtx.ErrIssuer)

	require.NoError(t, c.ValidateExpiry(now))
	require.ErrorIs(t, c.ValidateExpiry(now.Add(time.Minute)), jwtx.ErrExpired)
	require.ErrorIs(t, c.ValidateExpiry(now.Add(time.Hour)), jwtx.ErrExpired)

	require.NoError(t, c.ValidateAudience("client"))
	require.ErrorIs(t, c.ValidateAudience("other-client"), jwtx.ErrAudience)
	require.ErrorIs(t, c.ValidateAudience(""), jwtx.ErrAudience)

	c.Audience = []string{"client", "other-client"}
	require.ErrorIs(t, c.ValidateAudience("client"), jwtx.ErrAudience)
}

func TestVerify_RejectsEachFailure(t *testing.T) {
	p := jwtxtest.NewProvider(t, clientID)
	v, _ := newVerifier(t, p)

	forger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  func() string
		target error
	}{
		{
			name:   "two parts",
			token:  func() string { return "header.payload" },
			target: jwtx.ErrMalformed,
		},
		{
			name: "missing email",
			token: func() string {
				c := p.Claims("x@y.com", "X Y")
				delete(c, "email")
				return p.Sign(t, c)
			},
			target: jwtx.ErrMissingClaim,
		},
		{
			name: "foreign tenant",
			token: func() string {
				c := p.Claims("x@y.com", "X Y")
				c["iss"] = "https://login.microsoftonline.com/other-tenant/v2.0"
				return p.Sign(t, c)
			},
			target: jwtx.ErrIssuer,
		},
		{
			name: "expired",
			token: func() string {
				c := p.Claims("x@y.com", "X Y")
				c["exp"] = time.Now().Add(-time.Minute).Unix()
				return p.Sign(t, c)
			},
			target: jwtx.ErrExpired,
		},
		{
			name: "audience of another application",
			token: func() string {
				c := p.Claims("x@y.com", "X Y")
				c["aud"] = "some-other-app"
				return p.Sign(t, c)
			},
			target: jwtx.ErrAudience,
		},
		{
			name: "signed by someone else",
			token: func() string {
				return jwtxtest.SignWith(t, forger, jwtxtest.KeyID, p.Claims("x@y.com", "X Y"))
			},
			target: jwtx.ErrInvalidSig,
		},
		{
			name: "symmetric algorithm",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, p.Claims("x@y.com", "X Y"))
				tok.Header["kid"] = jwtxtest.KeyID
				raw, err := tok.SignedString([]byte("guessable"))
				require.NoError(t, err)
				return raw
			},
			target: jwtx.ErrInvalidSig,
		},
		{
			name: "alg none leaves an empty signature segment",
			token: func() string {
				tok := jwt.NewWithClaims(jwt.SigningMethodNone, p.Claims("x@y.com", "X Y"))
				raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
				require.NoError(t, err)
				return raw
			},
			target: jwtx.ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token())
			require.ErrorIs(t, err, tt.target)
		})
	}
}

func TestVerify_NoKeyfuncFailsClosed(t *testing.T) {
	p := jwtxtest.NewProvider(t, clientID)
	v := &jwtx.IDTokenVerifier{Issuer: p.Issuer(), ClientID: clientID}

	_, err := v.Verify(p.Sign(t, p.Claims("x@y.com", "X Y")))
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
}

func TestRemoteKeySet_Unreachable(t *testing.T) {
	p := jwtxtest.NewProvider(t, clientID)
	token := p.Sign(t, p.Claims("x@y.com", "X Y"))

	keys := jwtx.NewRemoteKeySet("http://127.0.0.1:1/keys", &http.Client{Timeout: time.Second}, nil)
	t.Cleanup(keys.Close)

	v := &jwtx.IDTokenVerifier{Issuer: p.Issuer(), ClientID: clientID, Keyfunc: keys.Keyfunc}
	_, err := v.Verify(token)
	require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	require.ErrorIs(t, err, jwtx.ErrKeySetUnavailable)
}
