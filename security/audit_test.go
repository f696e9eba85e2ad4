package security

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/giantswarm/oauth-authz/instrumentation"
)

func TestNewAuditor(t *testing.T) {
	tests := []struct {
		name    string
		logger  *slog.Logger
		enabled bool
	}{
		{name: "enabled with logger", logger: slog.Default(), enabled: true},
		{name: "disabled with logger", logger: slog.Default(), enabled: false},
		{name: "enabled with nil logger", logger: nil, enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor := NewAuditor(tt.logger, tt.enabled)
			if auditor.enabled != tt.enabled {
				t.Errorf("enabled = %v, want %v", auditor.enabled, tt.enabled)
			}
			if auditor.logger == nil {
				t.Error("logger should not be nil")
			}
		})
	}
}

// auditRecords decodes the JSON log lines written to buf.
func auditRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestAuditor_LogEvent(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true)

	ctx := WithRequestID(context.Background(), "req-1")
	auditor.LogTokenIssued(ctx, "alice", "client-1", "10.0.0.1", "password", "read write")

	records := auditRecords(t, &buf)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]

	if rec["msg"] != "security_audit" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["event_type"] != EventTokenIssued {
		t.Errorf("event_type = %v, want %s", rec["event_type"], EventTokenIssued)
	}
	if rec["principal_hash"] != hashForLogging("alice") {
		t.Errorf("principal_hash = %v", rec["principal_hash"])
	}
	if rec["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", rec["request_id"])
	}
	if strings.Contains(buf.String(), "alice") {
		t.Error("principal name leaked into the audit log")
	}
}

func TestAuditor_Disabled(t *testing.T) {
	var buf bytes.Buffer
	auditor := NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), false)

	auditor.LogAuthFailure(context.Background(), "alice", "client-1", "10.0.0.1", "bad password")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote %q", buf.String())
	}

	var nilAuditor *Auditor
	nilAuditor.LogAuthFailure(context.Background(), "alice", "", "", "")
}

func TestAuditor_EventTypes(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{"token revoked", func(a *Auditor) { a.LogTokenRevoked(ctx, "alice", "c", "ip", "access_token") }, EventTokenRevoked},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure(ctx, "alice", "c", "ip", "reason") }, EventAuthFailure},
		{"rate limit", func(a *Auditor) { a.LogRateLimitExceeded(ctx, "ip", "alice", "one_time_token") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered(ctx, "c", []string{"client_secret_basic"}) }, EventClientRegistered},
		{"one-time token issued", func(a *Auditor) { a.LogOneTimeTokenIssued(ctx, "alice", "ip") }, EventOneTimeTokenIssued},
		{"one-time token consumed", func(a *Auditor) { a.LogOneTimeTokenConsumed(ctx, "alice", "ip", true) }, EventOneTimeTokenConsumed},
		{"one-time token rejected", func(a *Auditor) { a.LogOneTimeTokenConsumed(ctx, "", "ip", false) }, EventOneTimeTokenRejected},
		{"concurrent modification", func(a *Auditor) { a.LogConcurrentModification(ctx, "auth-1", "c") }, EventConcurrentModification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(NewAuditor(slog.New(slog.NewJSONHandler(&buf, nil)), true))

			records := auditRecords(t, &buf)
			if len(records) != 1 {
				t.Fatalf("got %d records, want 1", len(records))
			}
			if records[0]["event_type"] != tt.want {
				t.Errorf("event_type = %v, want %s", records[0]["event_type"], tt.want)
			}
		})
	}
}

func TestAuditor_CountsEvents(t *testing.T) {
	reader := metric.NewManualReader()
	inst, err := instrumentation.New(instrumentation.Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	auditor := NewAuditor(slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), true)
	auditor.SetInstrumentation(inst)

	ctx := context.Background()
	auditor.LogOneTimeTokenIssued(ctx, "alice", "ip")
	auditor.LogOneTimeTokenIssued(ctx, "bob", "ip")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "oauth.audit.events.total" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 2 {
		t.Errorf("audit events counted = %d, want 2", total)
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q", got)
	}
	h := hashForLogging("alice")
	if len(h) != 16 {
		t.Errorf("hash length = %d, want 16", len(h))
	}
	if h != hashForLogging("alice") {
		t.Error("hash is not deterministic")
	}
	if h == hashForLogging("bob") {
		t.Error("different inputs hash equally")
	}
}
