package http

import (
	"net/http"
	"time"

	"github.com/vereinsportal/identity/internal/identity/domain"
)

const DefaultCookieName = "portal_session"

// CookieConfig controls the session cookie. Secure should only be off for
// local development over plain HTTP.
type CookieConfig struct {
	Name   string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return DefaultCookieName
	}
	return c.Name
}

// Read returns the session id from the request cookie, or "".
func (c CookieConfig) Read(r *http.Request) string {
	cookie, err := r.Cookie(c.name())
	if err != nil {
		return ""
	}
	return cookie.Value
}

// Set points the browser at sess.
func (c CookieConfig) Set(w http.ResponseWriter, sess domain.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(c.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}
