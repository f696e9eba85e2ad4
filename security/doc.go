// Package security provides the security features of the authorization
// server: encryption at rest, audit logging, rate limiting, response headers,
// client IP extraction and request ids.
//
// # Encryption
//
// Encryptor seals claims and metadata with AES-256-GCM before they are
// persisted. An Encryptor built from an empty key passes values through.
//
// # Rate Limiting
//
// RateLimiter is a per-key token bucket (golang.org/x/time/rate), used for
// the token endpoint and one-time token issuance. WindowLimiter counts
// attempts per key within a sliding window and is used where a caller may
// be guessing secrets. Both bound memory with LRU eviction:
//
//	limiter := security.NewRateLimiter(security.PerMinute(3), 3, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(username) {
//	    return http.StatusTooManyRequests
//	}
//
// # Audit Logging
//
// Auditor writes security_audit records through log/slog. Principal names
// are hashed; client ids and IP addresses are logged as is.
package security
