package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vereinsportal/identity/pkg/httpx"
)

type Config struct {
	DatabaseFile string // Optional: path to SQLite database file (default: ./identity.db)
	PepperFile   string // Optional: path to file containing pepper for password hashing (default: ./pepper)

	SessionBackend     string        // Optional: session storage (sqlite, redis) (default: sqlite)
	RedisAddr          string        // Required when SessionBackend is redis
	RedisPassword      string        // Optional
	RedisDB            int           // Optional (default: 0)
	RedisPrefix        string        // Optional: key prefix (default: portal)
	SessionIdleTimeout time.Duration // Optional: inactivity limit (default: 1h)
	SessionMaxLifetime time.Duration // Optional: absolute limit (default: 12h)

	CookieName   string        // Optional (default: portal_session)
	CookieSecure bool          // Optional: only disable for local HTTP development (default: true)
	InviteTTL    time.Duration // Optional: default invitation lifetime (default: 48h)

	MSClientID     string        // Optional: enables Microsoft sign in when set
	MSClientSecret string        // Required with MSClientID
	MSTenantID     string        // Required with MSClientID
	MSRedirectURI  string        // Required with MSClientID
	MSExtraScopes  []string      // Optional: appended to "openid profile email"
	SSOHTTPTimeout time.Duration // Optional: token exchange and JWKS timeout (default: 10s)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Session purge interval, 0 disables (default: 15m)
}

func LoadConfig() Config {
	return Config{
		DatabaseFile: getEnvOrDefault("DATABASE_FILE", "identity.db"),
		PepperFile:   getEnvOrDefault("PEPPER_FILE", "pepper"),

		SessionBackend:     strings.ToLower(getEnvOrDefault("SESSION_BACKEND", "sqlite")),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getEnvIntOrDefault("REDIS_DB", 0),
		RedisPrefix:        getEnvOrDefault("REDIS_PREFIX", "portal"),
		SessionIdleTimeout: getEnvDurationOrDefault("SESSION_IDLE_TIMEOUT", time.Hour),
		SessionMaxLifetime: getEnvDurationOrDefault("SESSION_MAX_LIFETIME", 12*time.Hour),

		CookieName:   getEnvOrDefault("COOKIE_NAME", "portal_session"),
		CookieSecure: getEnvBoolOrDefault("COOKIE_SECURE", true),
		InviteTTL:    getEnvDurationOrDefault("INVITE_TTL", 48*time.Hour),

		MSClientID:     os.Getenv("MS_CLIENT_ID"),
		MSClientSecret: os.Getenv("MS_CLIENT_SECRET"),
		MSTenantID:     os.Getenv("MS_TENANT_ID"),
		MSRedirectURI:  os.Getenv("MS_REDIRECT_URI"),
		MSExtraScopes:  httpx.ParseSpaceDelimitedFields(os.Getenv("MS_EXTRA_SCOPES")),
		SSOHTTPTimeout: getEnvDurationOrDefault("SSO_HTTP_TIMEOUT", 10*time.Second),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 15*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
