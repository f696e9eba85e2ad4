package security

// Event type constants for security audit logging.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when the token endpoint issues an access token
	EventTokenIssued = "token_issued"

	// EventTokenRevoked is logged when a token is invalidated through the revocation endpoint
	EventTokenRevoked = "token_revoked" //nolint:gosec // G101: event type name, not a credential

	// EventTokenIntrospected is logged when a protected resource introspects a token
	EventTokenIntrospected = "token_introspected"

	// Grant events

	// EventGrantRejected is logged when an extension grant request is malformed
	EventGrantRejected = "grant_rejected"

	// EventUnsupportedGrantType is logged when no converter accepts the request
	EventUnsupportedGrantType = "unsupported_grant_type"

	// Client events

	// EventClientRegistered is logged when a client is registered or updated
	EventClientRegistered = "client_registered"

	// EventClientAuthenticationFailed is logged when client credentials do not verify
	EventClientAuthenticationFailed = "client_authentication_failed"

	// One-time token events

	// EventOneTimeTokenIssued is logged when a one-time login token is generated
	EventOneTimeTokenIssued = "one_time_token_issued"

	// EventOneTimeTokenConsumed is logged when a one-time login token is redeemed
	EventOneTimeTokenConsumed = "one_time_token_consumed"

	// EventOneTimeTokenRejected is logged when an unknown, expired or spent token is presented
	EventOneTimeTokenRejected = "one_time_token_rejected"

	// Security violation events

	// EventAuthFailure is logged when resource owner authentication fails
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventConcurrentModification is logged when an authorization save loses an optimistic-lock race
	EventConcurrentModification = "concurrent_modification"
)
