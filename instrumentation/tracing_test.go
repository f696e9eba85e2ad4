package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTracingInstrumentation(t *testing.T) (*Instrumentation, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	inst, err := New(Config{Enabled: true, SpanExporter: exporter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })
	return inst, exporter
}

func finishedSpan(t *testing.T, inst *Instrumentation, exporter *tracetest.InMemoryExporter) tracetest.SpanStub {
	t.Helper()
	if err := inst.ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush() error = %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported spans = %d, want 1", len(spans))
	}
	return spans[0]
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestRecordError(t *testing.T) {
	inst, exporter := newTracingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "failing")
	RecordError(span, errors.New("boom"))
	span.End()

	got := finishedSpan(t, inst, exporter)
	if got.Status.Code != codes.Error || got.Status.Description != "boom" {
		t.Errorf("status = %+v, want error \"boom\"", got.Status)
	}
	if len(got.Events) != 1 {
		t.Errorf("events = %d, want 1 exception event", len(got.Events))
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, exporter := newTracingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "ok")
	SetSpanSuccess(span)
	span.End()

	if got := finishedSpan(t, inst, exporter); got.Status.Code != codes.Ok {
		t.Errorf("status = %v, want Ok", got.Status.Code)
	}
}

func TestSetSpanError(t *testing.T) {
	inst, exporter := newTracingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "conflict")
	SetSpanError(span, "version conflict")
	span.End()

	got := finishedSpan(t, inst, exporter)
	if got.Status.Code != codes.Error || got.Status.Description != "version conflict" {
		t.Errorf("status = %+v", got.Status)
	}
}

func TestAddAuthorizationAttributes(t *testing.T) {
	inst, exporter := newTracingInstrumentation(t)

	_, span := inst.Tracer("server").Start(context.Background(), "save")
	AddAuthorizationAttributes(span, "auth-1", "client-1", "", "password")
	span.End()

	attrs := attrMap(finishedSpan(t, inst, exporter).Attributes)
	if attrs[AttrAuthorizationID].AsString() != "auth-1" {
		t.Errorf("%s = %q", AttrAuthorizationID, attrs[AttrAuthorizationID].AsString())
	}
	if attrs[AttrClientID].AsString() != "client-1" {
		t.Errorf("%s = %q", AttrClientID, attrs[AttrClientID].AsString())
	}
	if attrs[AttrGrantType].AsString() != "password" {
		t.Errorf("%s = %q", AttrGrantType, attrs[AttrGrantType].AsString())
	}
	if _, ok := attrs[AttrPrincipalName]; ok {
		t.Error("empty principal must not be recorded")
	}
}

func TestAddStorageAndHTTPAttributes(t *testing.T) {
	inst, exporter := newTracingInstrumentation(t)

	_, span := inst.Tracer("storage").Start(context.Background(), "find")
	AddStorageAttributes(span, "find_by_token", "sql")
	AddHTTPAttributes(span, "POST", "/oauth2/introspect", 200)
	AddSecurityAttributes(span, "")
	span.End()

	attrs := attrMap(finishedSpan(t, inst, exporter).Attributes)
	if attrs[AttrStorageOperation].AsString() != "find_by_token" || attrs[AttrStorageType].AsString() != "sql" {
		t.Errorf("storage attributes = %v", attrs)
	}
	if attrs[AttrHTTPStatusCode].AsInt64() != 200 {
		t.Errorf("%s = %d", AttrHTTPStatusCode, attrs[AttrHTTPStatusCode].AsInt64())
	}
	if _, ok := attrs[AttrClientIP]; ok {
		t.Error("empty client IP must not be recorded")
	}
}

func TestHelpers_NilSpan(t *testing.T) {
	RecordError(nil, errors.New("ignored"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "ignored")
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddAuthorizationAttributes(nil, "a", "b", "c", "d")
	AddStorageAttributes(nil, "op", "memory")
	AddHTTPAttributes(nil, "GET", "/", 200)
	AddSecurityAttributes(nil, "10.0.0.1")
}
