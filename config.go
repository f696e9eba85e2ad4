package oauth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/giantswarm/oauth-authz/grant"
	"github.com/giantswarm/oauth-authz/internal/util"
	"github.com/giantswarm/oauth-authz/security"
	"github.com/giantswarm/oauth-authz/server"
)

// Default values applied by applySecureDefaults.
const (
	DefaultTokenRequestsPerSecond       = 10
	DefaultTokenBurst                   = 20
	DefaultOneTimeTokenRequestsPerHour  = 5
	DefaultRevocationAttempts           = 3
	DefaultOneTimeTokenLoginPath        = "/login/ott"
	DefaultTrustedProxyCount            = 1
	defaultOneTimeTokenRequestsPerBurst = 3
)

// Config holds the authorization server configuration.
// Zero values are replaced with secure defaults by NewServer.
type Config struct {
	// Issuer is the server's issuer identifier (base URL). It is reported in
	// introspection responses and is the expected audience of JWT assertions.
	Issuer string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// WARNING: Only enable if behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server.
	// Default: 1
	TrustedProxyCount int

	// ClockSkewGracePeriod is added to token expiry during introspection.
	// Default: 5 seconds
	ClockSkewGracePeriod time.Duration

	// PasswordGrantAliases are grant_type values accepted in addition to
	// "password". Default: grant.PasswordGrantAlias
	PasswordGrantAliases []string

	// RevocationAttempts bounds how often a revocation is retried after a
	// concurrent modification. Default: 3
	RevocationAttempts int

	// EnableAuditLogging enables security audit logging.
	EnableAuditLogging bool

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// One-time token login configuration
	OneTimeToken OneTimeTokenConfig
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// TokenRequestsPerSecond is the per-IP rate at the token, introspection
	// and revocation endpoints. Negative disables limiting. Default: 10
	TokenRequestsPerSecond float64

	// TokenBurst is the per-IP burst size. Default: 20
	TokenBurst int

	// MaxEntries bounds the number of tracked IPs and usernames.
	// Default: security.DefaultMaxLimiterEntries
	MaxEntries int
}

// OneTimeTokenConfig configures one-time token login.
type OneTimeTokenConfig struct {
	// LinkBaseURL is the login URL sent to users; the token is appended as
	// the "token" query parameter. Default: Issuer + "/login/ott"
	LinkBaseURL string

	// RequestsPerHour limits token requests per username. Negative disables
	// limiting. Default: 5
	RequestsPerHour int

	// LoginAttemptsPerWindow limits redemption attempts per IP.
	// Default: security.DefaultMaxAttemptsPerWindow
	LoginAttemptsPerWindow int

	// LoginWindow is the sliding window for LoginAttemptsPerWindow.
	// Default: security.DefaultAttemptWindow
	LoginWindow time.Duration

	// Notifier delivers login links. Default: links are logged.
	Notifier server.Notifier

	// SuccessHandler is called after a token was redeemed. Without it the
	// login endpoint answers with the username as JSON.
	SuccessHandler func(w http.ResponseWriter, r *http.Request, username string)
}

// applySecureDefaults fills unset fields. The input is not modified.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	c := *config

	if c.TrustedProxyCount == 0 {
		c.TrustedProxyCount = DefaultTrustedProxyCount
	}
	if c.ClockSkewGracePeriod == 0 {
		c.ClockSkewGracePeriod = security.DefaultClockSkewGracePeriod
	}
	if len(c.PasswordGrantAliases) == 0 {
		c.PasswordGrantAliases = []string{grant.PasswordGrantAlias}
	}
	if c.RevocationAttempts <= 0 {
		c.RevocationAttempts = DefaultRevocationAttempts
	}

	if c.RateLimit.TokenRequestsPerSecond == 0 {
		c.RateLimit.TokenRequestsPerSecond = DefaultTokenRequestsPerSecond
	}
	if c.RateLimit.TokenBurst == 0 {
		c.RateLimit.TokenBurst = DefaultTokenBurst
	}
	if c.RateLimit.MaxEntries == 0 {
		c.RateLimit.MaxEntries = security.DefaultMaxLimiterEntries
	}

	if c.OneTimeToken.LinkBaseURL == "" {
		c.OneTimeToken.LinkBaseURL = util.NormalizeURL(c.Issuer) + DefaultOneTimeTokenLoginPath
	}
	if c.OneTimeToken.RequestsPerHour == 0 {
		c.OneTimeToken.RequestsPerHour = DefaultOneTimeTokenRequestsPerHour
	}
	if c.OneTimeToken.LoginAttemptsPerWindow == 0 {
		c.OneTimeToken.LoginAttemptsPerWindow = security.DefaultMaxAttemptsPerWindow
	}
	if c.OneTimeToken.LoginWindow == 0 {
		c.OneTimeToken.LoginWindow = security.DefaultAttemptWindow
	}

	if c.TrustProxy {
		logger.Warn("Trusting proxy headers for client IP resolution",
			"trusted_proxy_count", c.TrustedProxyCount,
			"recommendation", "Only enable behind trusted reverse proxies")
	}
	if c.RateLimit.TokenRequestsPerSecond < 0 {
		logger.Warn("Token endpoint rate limiting is DISABLED")
	}

	return &c
}
