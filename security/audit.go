package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oauth-authz/instrumentation"
)

// Auditor handles security event logging with PII protection.
// Principal names are hashed before they reach the log.
type Auditor struct {
	logger          *slog.Logger
	enabled         bool
	instrumentation *instrumentation.Instrumentation
	now             func() time.Time
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
		now:     time.Now,
	}
}

// SetInstrumentation makes the auditor count events in the
// oauth.audit.events.total metric.
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	a.instrumentation = inst
}

// Event represents a security audit event
type Event struct {
	Type      string
	Principal string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the principal hashed. The request id
// carried by ctx, if any, is attached.
func (a *Auditor) LogEvent(ctx context.Context, event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = a.now()

	attrs := []any{
		"event_type", event.Type,
		"principal_hash", hashForLogging(event.Principal),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"timestamp", event.Timestamp,
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, "details", event.Details)
	}
	if id := GetRequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	a.logger.InfoContext(ctx, "security_audit", attrs...)

	if a.instrumentation != nil {
		a.instrumentation.Metrics().RecordAuditEvent(ctx, event.Type)
	}
}

// LogTokenIssued logs when the token endpoint issues a token
func (a *Auditor) LogTokenIssued(ctx context.Context, principal, clientID, ipAddress, grantType, scope string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenIssued,
		Principal: principal,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(ctx context.Context, principal, clientID, ipAddress, tokenType string) {
	a.LogEvent(ctx, Event{
		Type:      EventTokenRevoked,
		Principal: principal,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAuthFailure logs a failed authentication of a client or resource owner
func (a *Auditor) LogAuthFailure(ctx context.Context, principal, clientID, ipAddress, reason string) {
	a.LogEvent(ctx, Event{
		Type:      EventAuthFailure,
		Principal: principal,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ctx context.Context, ipAddress, principal, limiter string) {
	a.LogEvent(ctx, Event{
		Type:      EventRateLimitExceeded,
		Principal: principal,
		IPAddress: ipAddress,
		Details: map[string]any{
			"limiter": limiter,
		},
	})
}

// LogClientRegistered logs when a client is registered
func (a *Auditor) LogClientRegistered(ctx context.Context, clientID string, authMethods []string) {
	a.LogEvent(ctx, Event{
		Type:     EventClientRegistered,
		ClientID: clientID,
		Details: map[string]any{
			"authentication_methods": authMethods,
		},
	})
}

// LogOneTimeTokenIssued logs when a one-time login token is generated
func (a *Auditor) LogOneTimeTokenIssued(ctx context.Context, username, ipAddress string) {
	a.LogEvent(ctx, Event{
		Type:      EventOneTimeTokenIssued,
		Principal: username,
		IPAddress: ipAddress,
	})
}

// LogOneTimeTokenConsumed logs a one-time token redemption attempt
func (a *Auditor) LogOneTimeTokenConsumed(ctx context.Context, username, ipAddress string, success bool) {
	eventType := EventOneTimeTokenConsumed
	if !success {
		eventType = EventOneTimeTokenRejected
	}
	a.LogEvent(ctx, Event{
		Type:      eventType,
		Principal: username,
		IPAddress: ipAddress,
	})
}

// LogConcurrentModification logs an authorization save that lost an optimistic-lock race
func (a *Auditor) LogConcurrentModification(ctx context.Context, authorizationID, clientID string) {
	a.LogEvent(ctx, Event{
		Type:     EventConcurrentModification,
		ClientID: clientID,
		Details: map[string]any{
			"authorization_id": authorizationID,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
