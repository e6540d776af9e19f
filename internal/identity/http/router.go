package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vereinsportal/identity/internal/identity/rbac"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/internal/identity/store"
	"github.com/vereinsportal/identity/pkg/httpx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	Cookie    CookieConfig
	InviteTTL time.Duration

	SessionService    *service.SessionService
	CSRFService       *service.CSRFService
	AccountService    *service.AccountService
	CredentialService *service.CredentialService
	InviteService     *service.InviteService
	SSOService        *service.SSOService // Optional: only when Microsoft sign in is configured
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerSSO()
	r.registerRegistration()
	r.registerSession()
	r.registerInvitations()
	r.registerAccounts()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) sessions() httpx.Middleware {
	return SessionMiddleware(r.SessionService, r.Cookie)
}

func (r *Router) registerLogin() {
	loginHandler := &LoginHandler{Credentials: r.CredentialService, Cookie: r.Cookie}

	// Limited by IP + email so one address cannot be brute forced from a host
	r.Mux.Handle("POST /login",
		httpx.Chain(loginHandler,
			httpx.RateLimitByIPAndFormField(httpx.StrictLimit, "email"),
			r.sessions(),
			RequireCSRF(r.CSRFService, "/login"),
		),
	)

	logoutHandler := &LogoutHandler{Credentials: r.CredentialService, Cookie: r.Cookie}
	r.Mux.Handle("POST /logout",
		httpx.Chain(logoutHandler,
			httpx.RateLimitByIP(httpx.ModerateLimit),
			r.sessions(),
			RequireCSRF(r.CSRFService, "/login"),
		),
	)
}

func (r *Router) registerSSO() {
	if r.SSOService == nil {
		return
	}

	ssoHandler := &SSOHandler{SSO: r.SSOService, Cookie: r.Cookie}

	r.Mux.Handle("GET /auth/microsoft",
		httpx.Chain(http.HandlerFunc(ssoHandler.HandleBegin),
			httpx.RateLimitByIP(httpx.LenientLimit),
			r.sessions(),
		),
	)

	// The state parameter stands in for the CSRF token here
	r.Mux.Handle("GET /auth/microsoft/callback",
		httpx.Chain(http.HandlerFunc(ssoHandler.HandleCallback),
			httpx.RateLimitByIP(httpx.LenientLimit),
			r.sessions(),
		),
	)
}

func (r *Router) registerRegistration() {
	registerHandler := &RegisterHandler{Invites: r.InviteService}

	r.Mux.Handle("GET /register",
		httpx.Chain(http.HandlerFunc(registerHandler.HandleGet),
			httpx.RateLimitByIP(httpx.ModerateLimit),
			r.sessions(),
		),
	)

	r.Mux.Handle("POST /register",
		httpx.Chain(http.HandlerFunc(registerHandler.HandlePost),
			httpx.RateLimitByIP(httpx.StrictLimit),
			r.sessions(),
			RequireCSRF(r.CSRFService, ""),
		),
	)
}

func (r *Router) registerSession() {
	r.Mux.Handle("GET /v1/session",
		httpx.Chain(&SessionHandler{},
			httpx.RateLimitByIP(httpx.LenientLimit),
			r.sessions(),
		),
	)

	passwordHandler := &PasswordHandler{Credentials: r.CredentialService, Cookie: r.Cookie}
	r.Mux.Handle("POST /v1/password",
		httpx.Chain(passwordHandler,
			r.sessions(),
			httpx.RateLimitByUser(httpx.StrictLimit),
			RequireLogin(),
			RequireCSRF(r.CSRFService, ""),
		),
	)
}

func (r *Router) registerInvitations() {
	invitationsHandler := &InvitationsHandler{Invites: r.InviteService, DefaultTTL: r.InviteTTL}

	r.Mux.Handle("POST /v1/invitations",
		httpx.Chain(http.HandlerFunc(invitationsHandler.HandleCreate),
			r.sessions(),
			httpx.RateLimitByUser(httpx.ModerateLimit),
			RequireFullAccess(),
			RequireCSRF(r.CSRFService, ""),
		),
	)

	r.Mux.Handle("GET /v1/invitations",
		httpx.Chain(http.HandlerFunc(invitationsHandler.HandleList),
			r.sessions(),
			httpx.RateLimitByUser(httpx.LenientLimit),
			RequireFullAccess(),
		),
	)

	r.Mux.Handle("DELETE /v1/invitations/{id}",
		httpx.Chain(http.HandlerFunc(invitationsHandler.HandleRevoke),
			r.sessions(),
			httpx.RateLimitByUser(httpx.ModerateLimit),
			RequireFullAccess(),
			RequireCSRF(r.CSRFService, ""),
		),
	)
}

func (r *Router) registerAccounts() {
	r.Mux.Handle("PUT /v1/accounts/{id}/role",
		httpx.Chain(&AccountRoleHandler{Accounts: r.AccountService},
			r.sessions(),
			httpx.RateLimitByUser(httpx.ModerateLimit),
			RequireCapability(rbac.AccountsManage),
			RequireCSRF(r.CSRFService, ""),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.SessionService),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
