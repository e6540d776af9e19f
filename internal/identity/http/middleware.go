package http

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vereinsportal/identity/internal/identity/domain"
	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/httpx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

// SessionMiddleware resumes the session named by the cookie or starts a new
// anonymous one, and places it on the request context.
func SessionMiddleware(sessions *service.SessionService, cookie CookieConfig) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			sess, err := sessions.Resume(ctx, cookie.Read(r))
			if err != nil {
				if !errors.Is(err, service.ErrAuthentication) {
					log.Error("failed to load session", slog.Any("error", err))
					httpx.WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ReasonServerError})
					return
				}
				if errors.Is(err, service.ErrSessionExpired) {
					log.Info("session expired")
				}

				sess, err = sessions.Start(ctx)
				if err != nil {
					log.Error("failed to start session", slog.Any("error", err))
					httpx.WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ReasonServerError})
					return
				}
				cookie.Set(w, sess)
			}

			ctx = domain.WithSession(ctx, &sess)
			if sess.IsLoggedIn() {
				ctx = httpx.WithUserID(ctx, sess.AccountID)
				ctx = slogx.With(ctx, "account_id", sess.AccountID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isUnsafe reports methods that change state and therefore need a CSRF token.
func isUnsafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// RequireCSRF checks the synchroniser token on unsafe methods, taken from the
// X-CSRF-Token header or the _csrf form field. Form endpoints pass the page
// to send the browser back to; JSON endpoints pass "".
func RequireCSRF(csrf *service.CSRFService, redirectTo string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isUnsafe(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			sess := domain.SessionFromContext(r.Context())
			candidate := r.Header.Get("X-CSRF-Token")
			if candidate == "" {
				candidate = r.PostFormValue("_csrf")
			}

			if sess == nil || !csrf.Verify(*sess, candidate) {
				slogx.FromContext(r.Context()).Warn("csrf check failed", slog.Bool("token_present", candidate != ""))
				if redirectTo != "" {
					httpx.RedirectWithQuery(w, r, redirectTo, http.StatusSeeOther, url.Values{"error": {ReasonCSRFFailed}})
					return
				}
				httpx.WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: ReasonCSRFFailed})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLogin rejects anonymous sessions with 401.
func RequireLogin() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := domain.SessionFromContext(r.Context())
			if sess == nil || !sess.IsLoggedIn() {
				httpx.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ReasonUnauthorized})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCapability lets the request through only if the session's role
// grants c.
func RequireCapability(c rbac.Capability) httpx.Middleware {
	return requireSession(func(s *domain.Session) bool { return s.Can(c) })
}

// RequireFullAccess is for the administrative tier.
func RequireFullAccess() httpx.Middleware {
	return requireSession(func(s *domain.Session) bool { return s.HasFullAccess() })
}

func requireSession(allowed func(*domain.Session) bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := domain.SessionFromContext(r.Context())
			if sess == nil || !sess.IsLoggedIn() {
				httpx.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ReasonUnauthorized})
				return
			}
			if !allowed(sess) {
				slogx.FromContext(r.Context()).Warn("access denied",
					slog.String("role", string(sess.CurrentRole())),
					slog.String("path", r.URL.Path),
				)
				httpx.WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: ReasonForbidden})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// currentSession returns the session placed by SessionMiddleware.
func currentSession(r *http.Request) domain.Session {
	if s := domain.SessionFromContext(r.Context()); s != nil {
		return *s
	}
	return domain.Session{}
}

// writeServiceError maps a service error kind onto a JSON response.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	switch {
	case errors.Is(err, service.ErrForbidden):
		httpx.WriteJSON(w, http.StatusForbidden, ErrorResponse{Error: ReasonForbidden})
	case errors.Is(err, service.ErrAuthentication):
		httpx.WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ReasonUnauthorized})
	case errors.Is(err, service.ErrValidation):
		httpx.WriteJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:            ReasonInvalidRequest,
			ErrorDescription: err.Error(),
		})
	case errors.Is(err, service.ErrUpstream):
		log.Warn("upstream failure", slog.Any("error", err))
		httpx.WriteJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ReasonServerError})
	default:
		log.Error("request failed", slog.Any("error", err))
		httpx.WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ReasonServerError})
	}
}
