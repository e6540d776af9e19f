package slogx_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vereinsportal/identity/pkg/slogx"
)

func TestHTTPMiddlewareLogsWithoutQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "identity", Env: "test", Level: "debug", Output: &buf})

	h := slogx.HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := slogx.With(r.Context(), "account_id", "acct-1")
		slogx.FromContext(ctx).Info("inner")
		w.WriteHeader(http.StatusFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/microsoft/callback?code=secret-code&state=secret-state", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	require.NotContains(t, buf.String(), "secret-code")
	require.NotContains(t, buf.String(), "secret-state")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var inner, access map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &inner))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &access))

	require.Equal(t, "inner", inner["msg"])
	require.Equal(t, "acct-1", inner["account_id"])
	require.Equal(t, "req-123", inner["req_id"])

	require.Equal(t, "http_request", access["msg"])
	require.Equal(t, float64(http.StatusFound), access["status"])
	require.Equal(t, "/auth/microsoft/callback", access["path"])
}
