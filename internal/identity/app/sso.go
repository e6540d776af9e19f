package app

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vereinsportal/identity/internal/identity/service"
	"github.com/vereinsportal/identity/pkg/jwtx"
)

// InitSSO builds the Microsoft sign in service, or returns nil when no client
// id is configured. The provider's JWKS is fetched lazily on the first
// callback, so startup does not depend on the provider being reachable.
func InitSSO(cfg Config, accounts *service.AccountService, sessions *service.SessionService, logger *slog.Logger) (*service.SSOService, *jwtx.RemoteKeySet, error) {
	if cfg.MSClientID == "" {
		logger.Info("microsoft sign in disabled")
		return nil, nil, nil
	}

	var missing []error
	if cfg.MSClientSecret == "" {
		missing = append(missing, errors.New("MS_CLIENT_SECRET is required"))
	}
	if cfg.MSTenantID == "" {
		missing = append(missing, errors.New("MS_TENANT_ID is required"))
	}
	if cfg.MSRedirectURI == "" {
		missing = append(missing, errors.New("MS_REDIRECT_URI is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, nil, fmt.Errorf("invalid microsoft sign in configuration: %w", err)
	}

	ssoCfg := service.SSOConfig{
		ClientID:     cfg.MSClientID,
		ClientSecret: cfg.MSClientSecret,
		TenantID:     cfg.MSTenantID,
		RedirectURI:  cfg.MSRedirectURI,
		ExtraScopes:  cfg.MSExtraScopes,
		HTTPTimeout:  cfg.SSOHTTPTimeout,
	}.MicrosoftEndpoints(cfg.MSTenantID)

	client := &http.Client{Timeout: cfg.SSOHTTPTimeout}
	keys := jwtx.NewRemoteKeySet(ssoCfg.JWKSURL, client, logger)

	logger.Info("microsoft sign in enabled",
		"tenant_id", ssoCfg.TenantID,
		"redirect_uri", ssoCfg.RedirectURI,
	)

	return &service.SSOService{
		Config:   ssoCfg,
		Accounts: accounts,
		Sessions: sessions,
		Verifier: &jwtx.IDTokenVerifier{
			Issuer:   ssoCfg.Issuer,
			ClientID: ssoCfg.ClientID,
			Keyfunc:  keys.Keyfunc,
		},
		Client: client,
	}, keys, nil
}
