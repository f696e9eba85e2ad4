package security

import "time"

// DefaultClockSkewGracePeriod is how long past its expiry a token is still
// treated as live, absorbing clock drift between issuer and resource servers.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether expiresAt lies more than grace before now.
// A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time, grace time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.After(expiresAt.Add(grace))
}
