package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/vereinsportal/identity/internal/identity/http"
	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/internal/identity/store"
	redisstore "github.com/vereinsportal/identity/internal/identity/store/drivers/redis"
	"github.com/vereinsportal/identity/internal/identity/store/drivers/sqlite"
	"github.com/vereinsportal/identity/pkg/cryptox"
	"github.com/vereinsportal/identity/pkg/jwtx"
	"github.com/vereinsportal/identity/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the identity core: stores, services and the HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db          store.Store
	sessionsDB  store.Sessions
	redisClient io.Closer // nil unless sessions live in redis
	ssoKeys     *jwtx.RemoteKeySet

	// Services
	sessionService      *service.SessionService
	csrfService         *service.CSRFService
	accountService      *service.AccountService
	credentialService   *service.CredentialService
	inviteService       *service.InviteService
	ssoService          *service.SSOService // Optional: only when Microsoft sign in is configured
	housekeepingService *service.HousekeepingService

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "identity",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(app.cfg.PepperFile)

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	if err := app.initSessions(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Handler exposes the routed handler, e.g. for httptest.
func (app *Application) Handler() http.Handler {
	return app.router
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	if app.housekeepingService != nil {
		app.housekeepingService.Start()
	}

	app.logger.Info("identity service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"session_backend", app.cfg.SessionBackend,
		"sso_enabled", app.ssoService != nil,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down identity service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	if app.housekeepingService != nil {
		app.housekeepingService.Stop()
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("identity service stopped")
	return nil
}

func (app *Application) closeStores() error {
	if app.ssoKeys != nil {
		app.ssoKeys.Close()
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initSessions picks the session backend. Redis lets several instances share
// sessions; sqlite keeps a single instance self-contained.
func (app *Application) initSessions() error {
	switch app.cfg.SessionBackend {
	case "", "sqlite":
		app.sessionsDB = app.db.Sessions()
	case "redis":
		client, err := redisstore.NewClient(redisstore.Config{
			Addr:     app.cfg.RedisAddr,
			Password: app.cfg.RedisPassword,
			DB:       app.cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize session store: %w", err)
		}
		app.redisClient = client
		app.sessionsDB = redisstore.NewSessions(client, app.cfg.RedisPrefix, app.cfg.SessionMaxLifetime)
	default:
		return fmt.Errorf("unknown session backend %q", app.cfg.SessionBackend)
	}

	app.logger.Info("session store ready", "backend", app.cfg.SessionBackend)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() error {
	app.sessionService = &service.SessionService{
		Sessions:    app.sessionsDB,
		IdleTimeout: app.cfg.SessionIdleTimeout,
		MaxLifetime: app.cfg.SessionMaxLifetime,
	}
	app.csrfService = &service.CSRFService{Sessions: app.sessionsDB}
	app.accountService = &service.AccountService{Store: app.db, Sessions: app.sessionService}
	app.credentialService = &service.CredentialService{Accounts: app.accountService, Sessions: app.sessionService}
	app.inviteService = &service.InviteService{Store: app.db, Accounts: app.accountService}

	sso, keys, err := InitSSO(app.cfg, app.accountService, app.sessionService, app.logger)
	if err != nil {
		return err
	}
	app.ssoService = sso
	app.ssoKeys = keys

	// Redis expires sessions on its own; the sweep still runs so idle
	// sessions in sqlite are reclaimed.
	if app.cfg.HousekeepingInterval > 0 {
		app.housekeepingService = service.NewHousekeepingService(
			app.sessionService,
			app.logger,
			app.cfg.HousekeepingInterval,
		)
	}
	return nil
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.logger)

	router.Cookie = httpapi.CookieConfig{
		Name:   app.cfg.CookieName,
		Secure: app.cfg.CookieSecure,
		MaxAge: app.cfg.SessionMaxLifetime,
	}
	router.InviteTTL = app.cfg.InviteTTL

	router.SessionService = app.sessionService
	router.CSRFService = app.csrfService
	router.AccountService = app.accountService
	router.CredentialService = app.credentialService
	router.InviteService = app.inviteService
	router.SSOService = app.ssoService // nil when Microsoft sign in is disabled
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
