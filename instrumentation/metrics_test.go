package instrumentation

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newCollectingInstrumentation(t *testing.T) (*Instrumentation, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, reader
}

// counterTotals sums int64 counter data points by metric name.
func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_Counters(t *testing.T) {
	inst, reader := newCollectingInstrumentation(t)
	ctx := context.Background()
	m := inst.Metrics()

	m.RecordHTTPRequest(ctx, "POST", "/oauth2/token", 200, 12.5)
	m.RecordTokenIssued(ctx, "client-a", "password")
	m.RecordTokenIssued(ctx, "client-b", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	m.RecordTokenIntrospection(ctx, true)
	m.RecordTokenIntrospection(ctx, false)
	m.RecordTokenRevocation(ctx, "client-a", "refresh_token")
	m.RecordGrantConversion(ctx, "password", "converted")
	m.RecordGrantConversion(ctx, "password", "invalid_request")
	m.RecordClientRegistration(ctx, "client_secret_basic")
	m.RecordAuthorizationOperation(ctx, "save", "success", 1.2)
	m.RecordConcurrentModification(ctx)
	m.RecordOneTimeTokenIssued(ctx)
	m.RecordOneTimeTokenConsumed(ctx, true)
	m.RecordOneTimeTokenConsumed(ctx, false)
	m.RecordRateLimitExceeded(ctx, "one_time_token")
	m.RecordAuditEvent(ctx, "one_time_token_issued")
	m.RecordStorageOperation(ctx, "sql", "save_authorization", "success", 3.4)

	want := map[string]int64{
		"oauth.http.requests.total":                    1,
		"oauth.token.issued":                           2,
		"oauth.token.introspected":                     2,
		"oauth.token.revoked":                          1,
		"oauth.grant.converted":                        2,
		"oauth.client.registered":                      1,
		"oauth.authorization.operation.total":          1,
		"oauth.authorization.concurrent_modifications": 1,
		"oauth.one_time_token.issued":                  1,
		"oauth.one_time_token.consumed":                2,
		"oauth.rate_limit.exceeded":                    1,
		"oauth.audit.events.total":                     1,
		"storage.operation.total":                      1,
	}

	got := counterTotals(t, reader)
	for name, n := range want {
		if got[name] != n {
			t.Errorf("%s = %d, want %d", name, got[name], n)
		}
	}
}

func TestMetrics_StorageOperationAttributes(t *testing.T) {
	inst, reader := newCollectingInstrumentation(t)
	inst.Metrics().RecordStorageOperation(context.Background(), "memory", "consume_one_time_token", "not_found", 0.1)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "storage.operation.total" {
				continue
			}
			sum := m.Data.(metricdata.Sum[int64])
			if len(sum.DataPoints) != 1 {
				t.Fatalf("data points = %d, want 1", len(sum.DataPoints))
			}
			attrs := sum.DataPoints[0].Attributes
			for key, want := range map[string]string{
				"storage_type": "memory",
				"operation":    "consume_one_time_token",
				"result":       "not_found",
			} {
				v, ok := attrs.Value(attribute.Key(key))
				if !ok || v.AsString() != want {
					t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
				}
			}
			return
		}
	}
	t.Fatal("storage.operation.total not collected")
}
