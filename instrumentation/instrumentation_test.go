package instrumentation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "default config",
			config: Config{Enabled: false},
		},
		{
			name: "with service name and version",
			config: Config{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
			},
		},
		{
			name: "prometheus exporter on private registry",
			config: Config{
				Enabled:              true,
				MetricsExporter:      MetricsExporterPrometheus,
				PrometheusRegisterer: prometheus.NewRegistry(),
			},
		},
		{
			name: "unsupported exporter",
			config: Config{
				Enabled:         true,
				MetricsExporter: "carrier-pigeon",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}

			if inst.Meter("storage") == nil {
				t.Error("Meter('storage') returned nil")
			}
			if inst.Tracer("server") == nil {
				t.Error("Tracer('server') returned nil")
			}
			if inst.Metrics() == nil {
				t.Error("Metrics() returned nil")
			}
			if inst.TracerProvider() == nil || inst.MeterProvider() == nil {
				t.Error("providers must not be nil")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := inst.Shutdown(ctx); err != nil {
				t.Errorf("Shutdown() error = %v", err)
			}
			if err := inst.Shutdown(ctx); err != nil {
				t.Errorf("second Shutdown() error = %v", err)
			}
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
	if inst.config.MetricsExporter != MetricsExporterNone {
		t.Errorf("MetricsExporter = %q, want %q", inst.config.MetricsExporter, MetricsExporterNone)
	}
	if inst.ShouldLogClientIPs() {
		t.Error("client IP logging must be off by default")
	}
}

func TestInstrumentation_NoOpProviders(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	inst.Metrics().RecordTokenIssued(ctx, "client", "password")
	inst.Metrics().RecordStorageOperation(ctx, "memory", "save_authorization", "success", 1.5)

	_, span := inst.Tracer("server").Start(ctx, "noop-span")
	span.End()

	if err := inst.ForceFlush(ctx); err != nil {
		t.Errorf("ForceFlush() on disabled instrumentation error = %v", err)
	}
}

func TestInstrumentation_PrometheusExport(t *testing.T) {
	registry := prometheus.NewRegistry()
	inst, err := New(Config{
		Enabled:              true,
		MetricsExporter:      MetricsExporterPrometheus,
		PrometheusRegisterer: registry,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	inst.Metrics().RecordTokenIssued(context.Background(), "client", "password")

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, mf := range families {
		if strings.Contains(strings.ReplaceAll(mf.GetName(), ".", "_"), "oauth_token_issued") {
			found = true
		}
	}
	if !found {
		t.Error("oauth.token.issued not exported to the prometheus registry")
	}
}

func TestRegisterStorageSizeCallbacks(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	err = inst.RegisterStorageSizeCallbacks(
		func() int64 { return 3 },
		func() int64 { return 2 },
		nil,
	)
	if err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	got := gaugeValues(rm)
	if got["storage.size.authorizations"] != 3 {
		t.Errorf("authorizations gauge = %d, want 3", got["storage.size.authorizations"])
	}
	if got["storage.size.clients"] != 2 {
		t.Errorf("clients gauge = %d, want 2", got["storage.size.clients"])
	}
	if _, ok := got["storage.size.one_time_tokens"]; ok {
		t.Error("nil callback must not produce an observation")
	}
}

func TestInstrumentation_ConcurrentAccess(t *testing.T) {
	inst, err := New(Config{Enabled: true, ServiceName: "concurrent-test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			clientID := fmt.Sprintf("client-%d", id)
			for j := 0; j < 100; j++ {
				inst.Metrics().RecordTokenIssued(ctx, clientID, "refresh_token")
				inst.Metrics().RecordAuthorizationOperation(ctx, "save", "success", 0.2)
				_, span := inst.Tracer("server").Start(ctx, "concurrent-span")
				span.End()
			}
		}(i)
	}
	wg.Wait()
}

// gaugeValues flattens the single-point int64 gauges of a collection by name.
func gaugeValues(rm metricdata.ResourceMetrics) map[string]int64 {
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			g, ok := m.Data.(metricdata.Gauge[int64])
			if !ok || len(g.DataPoints) == 0 {
				continue
			}
			out[m.Name] = g.DataPoints[0].Value
		}
	}
	return out
}

func BenchmarkMetrics_RecordStorageOperation(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	metrics := inst.Metrics()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.RecordStorageOperation(ctx, "memory", "find_by_token", "success", 0.05)
	}
}

func BenchmarkMetrics_RecordStorageOperation_NoOp(b *testing.B) {
	inst, _ := New(Config{Enabled: false})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	metrics := inst.Metrics()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.RecordStorageOperation(ctx, "memory", "find_by_token", "success", 0.05)
	}
}

func BenchmarkTracing_SpanWithAttributes(b *testing.B) {
	inst, _ := New(Config{Enabled: true})
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	tracer := inst.Tracer("server")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tracer.Start(ctx, "test-operation")
		AddAuthorizationAttributes(span, "auth-1", "client-123", "alice", "password")
		SetSpanSuccess(span)
		span.End()
	}
}
