package httpx

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// WriteJSON writes v as JSON with the given status. Identity responses carry
// tokens, so caching is always disabled.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// RedirectWithQuery redirects to path with the given query parameters appended.
func RedirectWithQuery(w http.ResponseWriter, r *http.Request, path string, code int, query url.Values) {
	NoCache(w)
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	http.Redirect(w, r, target, code)
}

// ParseSpaceDelimitedFields splits a space or comma separated list, such as
// extra OAuth scopes from configuration. Returns nil for blank input.
func ParseSpaceDelimitedFields(s string) []string {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", " "))
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
