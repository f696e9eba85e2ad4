package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Token Endpoint Metrics
	TokenIssued       metric.Int64Counter
	TokenIntrospected metric.Int64Counter
	TokenRevoked      metric.Int64Counter
	GrantConverted    metric.Int64Counter
	ClientRegistered  metric.Int64Counter

	// Authorization Service Metrics
	AuthorizationOperationTotal    metric.Int64Counter
	AuthorizationOperationDuration metric.Float64Histogram
	ConcurrentModifications        metric.Int64Counter

	// One-Time Token Metrics
	OneTimeTokenIssued   metric.Int64Counter
	OneTimeTokenConsumed metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter
	AuditEventsTotal  metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal     metric.Int64Counter
	StorageOperationDuration  metric.Float64Histogram
	StorageSizeAuthorizations metric.Int64ObservableGauge
	StorageSizeClients        metric.Int64ObservableGauge
	StorageSizeOneTimeTokens  metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	grantMeter := inst.Meter("grant")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error

	// HTTP Layer Metrics
	if m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	if m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	// Token Endpoint Metrics
	if m.TokenIssued, err = serverMeter.Int64Counter(
		"oauth.token.issued",
		metric.WithDescription("Number of token responses issued"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token.issued counter: %w", err)
	}

	if m.TokenIntrospected, err = serverMeter.Int64Counter(
		"oauth.token.introspected",
		metric.WithDescription("Number of token introspection requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token.introspected counter: %w", err)
	}

	if m.TokenRevoked, err = serverMeter.Int64Counter(
		"oauth.token.revoked",
		metric.WithDescription("Number of tokens revoked"),
		metric.WithUnit("{revocation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create token.revoked counter: %w", err)
	}

	if m.GrantConverted, err = grantMeter.Int64Counter(
		"oauth.grant.converted",
		metric.WithDescription("Number of token requests run through an extension grant converter"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create grant.converted counter: %w", err)
	}

	if m.ClientRegistered, err = serverMeter.Int64Counter(
		"oauth.client.registered",
		metric.WithDescription("Number of clients registered"),
		metric.WithUnit("{client}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	// Authorization Service Metrics
	if m.AuthorizationOperationTotal, err = serverMeter.Int64Counter(
		"oauth.authorization.operation.total",
		metric.WithDescription("Authorization service operations by outcome"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create authorization.operation.total counter: %w", err)
	}

	if m.AuthorizationOperationDuration, err = serverMeter.Float64Histogram(
		"oauth.authorization.operation.duration",
		metric.WithDescription("Authorization service operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create authorization.operation.duration histogram: %w", err)
	}

	if m.ConcurrentModifications, err = serverMeter.Int64Counter(
		"oauth.authorization.concurrent_modifications",
		metric.WithDescription("Number of authorization saves rejected because of a stale version"),
		metric.WithUnit("{conflict}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create authorization.concurrent_modifications counter: %w", err)
	}

	// One-Time Token Metrics
	if m.OneTimeTokenIssued, err = serverMeter.Int64Counter(
		"oauth.one_time_token.issued",
		metric.WithDescription("Number of one-time tokens issued"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create one_time_token.issued counter: %w", err)
	}

	if m.OneTimeTokenConsumed, err = serverMeter.Int64Counter(
		"oauth.one_time_token.consumed",
		metric.WithDescription("Number of one-time token consumption attempts"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create one_time_token.consumed counter: %w", err)
	}

	// Security Metrics
	if m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	if m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"oauth.audit.events.total",
		metric.WithDescription("Total number of audit events"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	// Storage Metrics
	if m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	if m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	if m.StorageSizeAuthorizations, err = storageMeter.Int64ObservableGauge(
		"storage.size.authorizations",
		metric.WithDescription("Number of stored authorizations"),
		metric.WithUnit("{authorization}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.size.authorizations gauge: %w", err)
	}

	if m.StorageSizeClients, err = storageMeter.Int64ObservableGauge(
		"storage.size.clients",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.size.clients gauge: %w", err)
	}

	if m.StorageSizeOneTimeTokens, err = storageMeter.Int64ObservableGauge(
		"storage.size.one_time_tokens",
		metric.WithDescription("Number of outstanding one-time tokens"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create storage.size.one_time_tokens gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordTokenIssued records a successful token response
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, grantType string) {
	m.TokenIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("grant_type", grantType),
	))
}

// RecordTokenIntrospection records an introspection request and whether the token was active
func (m *Metrics) RecordTokenIntrospection(ctx context.Context, active bool) {
	m.TokenIntrospected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("active", active)))
}

// RecordTokenRevocation records a token revocation
func (m *Metrics) RecordTokenRevocation(ctx context.Context, clientID, tokenType string) {
	m.TokenRevoked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("token_type", tokenType),
	))
}

// RecordGrantConversion records the outcome of an extension grant converter.
// result is one of "converted", "not_applicable" or "invalid_request".
func (m *Metrics) RecordGrantConversion(ctx context.Context, grantType, result string) {
	m.GrantConverted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
}

// RecordClientRegistration records a client registration
func (m *Metrics) RecordClientRegistration(ctx context.Context, authMethod string) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("auth_method", authMethod),
	))
}

// RecordAuthorizationOperation records an authorization service call.
// result is one of "success", "not_found" or "error".
func (m *Metrics) RecordAuthorizationOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.AuthorizationOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.AuthorizationOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordConcurrentModification records a save rejected for a stale version
func (m *Metrics) RecordConcurrentModification(ctx context.Context) {
	m.ConcurrentModifications.Add(ctx, 1)
}

// RecordOneTimeTokenIssued records a one-time token issuance
func (m *Metrics) RecordOneTimeTokenIssued(ctx context.Context) {
	m.OneTimeTokenIssued.Add(ctx, 1)
}

// RecordOneTimeTokenConsumed records a consumption attempt and whether it succeeded
func (m *Metrics) RecordOneTimeTokenConsumed(ctx context.Context, success bool) {
	m.OneTimeTokenConsumed.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordAuditEvent records an audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, storageType, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("storage_type", storageType),
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("storage_type", storageType),
		attribute.String("operation", operation),
	))
}
