// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:     "oauth-authz",
//		ServiceVersion:  "1.0.0",
//		Enabled:         true,
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	http.Handle("/metrics", promhttp.Handler())
//
// When Enabled is false no-op providers are used and every Record* helper is
// free.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Token endpoint:
//   - oauth.token.issued{client_id, grant_type}
//   - oauth.token.introspected{active}
//   - oauth.token.revoked{client_id, token_type}
//   - oauth.grant.converted{grant_type, result}
//   - oauth.client.registered{auth_method}
//
// Authorization service:
//   - oauth.authorization.operation.total{operation, result}
//   - oauth.authorization.operation.duration{operation}
//   - oauth.authorization.concurrent_modifications
//
// One-time tokens:
//   - oauth.one_time_token.issued
//   - oauth.one_time_token.consumed{success}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{storage_type, operation, result}
//   - storage.operation.duration{storage_type, operation}
//   - storage.size.authorizations, storage.size.clients, storage.size.one_time_tokens
//
// # Security
//
// Token values, authorization codes and secrets never appear in span
// attributes or metric labels.
package instrumentation
