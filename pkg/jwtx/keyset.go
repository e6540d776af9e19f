package jwtx

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// RemoteKeySet serves signing keys from a provider's JWKS endpoint. The first
// fetch happens on first use so the service can start while the provider is
// unreachable; afterwards keyfunc refreshes in the background and on unknown
// kids. A failed first fetch is remembered for FailureBackoff so a provider
// outage does not turn every callback into a blocking fetch.
type RemoteKeySet struct {
	URL             string
	Client          *http.Client
	RefreshInterval time.Duration
	FailureBackoff  time.Duration
	Logger          *slog.Logger

	mu       sync.Mutex
	jwks     *keyfunc.JWKS
	lastErr  error
	failedAt time.Time
	now      func() time.Time
}

func NewRemoteKeySet(url string, client *http.Client, logger *slog.Logger) *RemoteKeySet {
	return &RemoteKeySet{
		URL:             url,
		Client:          client,
		RefreshInterval: time.Hour,
		FailureBackoff:  30 * time.Second,
		Logger:          logger,
	}
}

// Keyfunc implements jwt.Keyfunc.
func (k *RemoteKeySet) Keyfunc(token *jwt.Token) (any, error) {
	jwks, err := k.load()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	return jwks.Keyfunc(token)
}

func (k *RemoteKeySet) load() (*keyfunc.JWKS, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.jwks != nil {
		return k.jwks, nil
	}

	now := time.Now
	if k.now != nil {
		now = k.now
	}
	if k.lastErr != nil && now().Sub(k.failedAt) < k.FailureBackoff {
		return nil, k.lastErr
	}

	logger := k.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jwks, err := keyfunc.Get(k.URL, keyfunc.Options{
		Client:            k.Client,
		RefreshInterval:   k.RefreshInterval,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("jwks background refresh failed", "url", k.URL, "error", err)
		},
	})
	if err != nil {
		k.lastErr, k.failedAt = err, now()
		logger.Warn("jwks fetch failed", "url", k.URL, "retry_after", k.FailureBackoff, "error", err)
		return nil, err
	}

	k.jwks, k.lastErr = jwks, nil
	logger.Info("jwks loaded", "url", k.URL, "keys", len(jwks.KIDs()))
	return jwks, nil
}

// Close stops the background refresh goroutine.
func (k *RemoteKeySet) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.jwks != nil {
		k.jwks.EndBackground()
		k.jwks = nil
	}
}
