package observer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	EnvAddr                 = "ORCHESTRA_DAEMON_ADDR"
	EnvJWTSecret            = "ORCHESTRA_DAEMON_JWT_SECRET"
	EnvJWTAudience          = "ORCHESTRA_DAEMON_JWT_AUDIENCE"
	EnvJWTIssuer            = "ORCHESTRA_DAEMON_JWT_ISSUER"
	EnvJWKSURL              = "ORCHESTRA_DAEMON_JWKS_URL"
	EnvAuth0Domain          = "AUTH0_DOMAIN"
	EnvAuth0Audience        = "AUTH0_AUDIENCE"
	EnvAuth0Issuer          = "AUTH0_ISSUER"
	EnvAllowInsecureWS      = "ORCHESTRA_DAEMON_ALLOW_INSECURE_WS"
	EnvReadTimeout          = "DAEMON_READ_TIMEOUT_SECONDS"
	EnvMaxMessagesPerSecond = "ORCHESTRA_DAEMON_MAX_MESSAGES_PER_SECOND"

	DefaultAddr                 = "127.0.0.1:8000"
	DefaultReadTimeout          = 30 * time.Second
	DefaultMaxMessagesPerSecond = 10
)

var ErrAuthNotConfigured = errors.New("an audience plus ORCHESTRA_DAEMON_JWT_SECRET, ORCHESTRA_DAEMON_JWKS_URL or AUTH0_DOMAIN must be set")

type Settings struct {
	Addr                 string
	JWTSecret            string
	JWTAudience          string
	JWTIssuer            string
	// JWKSURL enables RS256 tokens signed by an identity provider.
	JWKSURL              string
	AllowInsecureWS      bool
	ReadTimeout          time.Duration
	MaxMessagesPerSecond int
	// LedgerPath is the run ledger served and watched by the daemon.
	LedgerPath string
}

// SettingsFromEnv reads daemon settings. AUTH0_DOMAIN fills the JWKS URL and
// issuer when they are unset. Without an audience and a signing key source the
// daemon only starts in insecure mode.
func SettingsFromEnv(getenv func(string) string) (Settings, error) {
	settings := Settings{
		Addr:                 strings.TrimSpace(getenv(EnvAddr)),
		JWTSecret:            getenv(EnvJWTSecret),
		JWTAudience:          firstNonEmpty(getenv(EnvJWTAudience), getenv(EnvAuth0Audience)),
		JWTIssuer:            firstNonEmpty(getenv(EnvJWTIssuer), getenv(EnvAuth0Issuer)),
		JWKSURL:              strings.TrimSpace(getenv(EnvJWKSURL)),
		AllowInsecureWS:      parseFlag(getenv(EnvAllowInsecureWS)),
		ReadTimeout:          DefaultReadTimeout,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
	}
	if domain := strings.Trim(strings.TrimSpace(getenv(EnvAuth0Domain)), "/"); domain != "" {
		if settings.JWKSURL == "" {
			settings.JWKSURL = "https://" + domain + "/.well-known/jwks.json"
		}
		if settings.JWTIssuer == "" {
			settings.JWTIssuer = "https://" + domain + "/"
		}
	}
	if settings.Addr == "" {
		settings.Addr = DefaultAddr
	}
	if raw := strings.TrimSpace(getenv(EnvReadTimeout)); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Settings{}, fmt.Errorf("invalid %s: %q", EnvReadTimeout, raw)
		}
		settings.ReadTimeout = time.Duration(seconds) * time.Second
	}
	if raw := strings.TrimSpace(getenv(EnvMaxMessagesPerSecond)); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return Settings{}, fmt.Errorf("invalid %s: %q", EnvMaxMessagesPerSecond, raw)
		}
		settings.MaxMessagesPerSecond = value
	}
	if !settings.AllowInsecureWS && !settings.authConfigured() {
		return Settings{}, ErrAuthNotConfigured
	}
	return settings, nil
}

func (s Settings) authConfigured() bool {
	return s.JWTAudience != "" && (s.JWTSecret != "" || s.JWKSURL != "")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
