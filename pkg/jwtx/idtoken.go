package jwtx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims is the subset of an OpenID Connect ID token the portal
// relies on.
type IDTokenClaims struct {
	Issuer    string
	Subject   string
	Audience  []string
	ExpiresAt time.Time
	Email     string
	Name      string

	// Microsoft specific, informational only.
	TenantID string
	ObjectID string
}

type idTokenPayload struct {
	Iss   string           `json:"iss"`
	Sub   string           `json:"sub"`
	Aud   jwt.ClaimStrings `json:"aud"`
	Exp   *jwt.NumericDate `json:"exp"`
	Email string           `json:"email"`
	Name  string           `json:"name"`
	Tid   string           `json:"tid"`
	Oid   string           `json:"oid"`
}

// IDTokenVerifier validates ID tokens returned from the token endpoint.
//
// The claim checks run on the decoded payload in a fixed order before the
// signature is checked against the provider's published keys. Every step is
// exported so it can be tested on its own.
type IDTokenVerifier struct {
	// Issuer is the exact expected iss, e.g.
	// https://login.microsoftonline.com/{tenant}/v2.0.
	Issuer string
	// ClientID is the only accepted audience.
	ClientID string
	// Keyfunc resolves the signing key by kid. Nil rejects every token.
	Keyfunc jwt.Keyfunc
	// Now defaults to time.Now.
	Now func() time.Time
}

func (v *IDTokenVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify runs every check and returns the claims only if all pass.
func (v *IDTokenVerifier) Verify(raw string) (IDTokenClaims, error) {
	parts, err := SplitToken(raw)
	if err != nil {
		return IDTokenClaims{}, err
	}

	claims, err := DecodeClaims(parts[1])
	if err != nil {
		return IDTokenClaims{}, err
	}

	if err := claims.ValidateIssuer(v.Issuer); err != nil {
		return IDTokenClaims{}, err
	}
	if err := claims.ValidateExpiry(v.now()); err != nil {
		return IDTokenClaims{}, err
	}
	if err := claims.ValidateAudience(v.ClientID); err != nil {
		return IDTokenClaims{}, err
	}
	if err := v.VerifySignature(raw); err != nil {
		return IDTokenClaims{}, err
	}

	return claims, nil
}

// SplitToken splits a compact JWS into header, payload and signature.
func SplitToken(raw string) ([3]string, error) {
	var out [3]string

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformed, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return out, fmt.Errorf("%w: empty segment %d", ErrMalformed, i)
		}
		out[i] = p
	}
	return out, nil
}

// DecodeClaims base64url decodes the payload segment, parses it as JSON and
// requires email, name, iss, aud, exp and sub.
func DecodeClaims(segment string) (IDTokenClaims, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segment, "="))
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("%w: payload encoding: %v", ErrMalformed, err)
	}

	var p idTokenPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return IDTokenClaims{}, fmt.Errorf("%w: payload json: %v", ErrMalformed, err)
	}

	switch {
	case p.Email == "":
		return IDTokenClaims{}, fmt.Errorf("%w: email", ErrMissingClaim)
	case p.Name == "":
		return IDTokenClaims{}, fmt.Errorf("%w: name", ErrMissingClaim)
	case p.Iss == "":
		return IDTokenClaims{}, fmt.Errorf("%w: iss", ErrMissingClaim)
	case len(p.Aud) == 0:
		return IDTokenClaims{}, fmt.Errorf("%w: aud", ErrMissingClaim)
	case p.Exp == nil:
		return IDTokenClaims{}, fmt.Errorf("%w: exp", ErrMissingClaim)
	case p.Sub == "":
		return IDTokenClaims{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return IDTokenClaims{
		Issuer:    p.Iss,
		Subject:   p.Sub,
		Audience:  []string(p.Aud),
		ExpiresAt: p.Exp.Time,
		Email:     p.Email,
		Name:      p.Name,
		TenantID:  p.Tid,
		ObjectID:  p.Oid,
	}, nil
}

// ValidateIssuer requires an exact match. An empty expectation fails.
func (c IDTokenClaims) ValidateIssuer(expected string) error {
	if expected == "" || c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry requires exp to be strictly after now.
func (c IDTokenClaims) ValidateExpiry(now time.Time) error {
	if !c.ExpiresAt.After(now) {
		return ErrExpired
	}
	return nil
}

// ValidateAudience requires aud to be exactly the client id. Tokens minted
// for several audiences are rejected.
func (c IDTokenClaims) ValidateAudience(clientID string) error {
	if clientID == "" || len(c.Audience) != 1 || c.Audience[0] != clientID {
		return ErrAudience
	}
	return nil
}

// VerifySignature checks the RS256 signature against the key named by the
// token's kid. Claims are not re-validated here.
func (v *IDTokenVerifier) VerifySignature(raw string) error {
	if v.Keyfunc == nil {
		return fmt.Errorf("%w: no key source configured", ErrInvalidSig)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.Parse(raw, v.Keyfunc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSig, err)
	}
	return nil
}
