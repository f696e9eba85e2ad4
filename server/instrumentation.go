package server

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth-authz/instrumentation"
)

// serviceTelemetry is embedded by every service to share span and metric helpers.
type serviceTelemetry struct {
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
}

func (t *serviceTelemetry) setInstrumentation(inst *instrumentation.Instrumentation) {
	t.instrumentation = inst
	if inst != nil {
		t.tracer = inst.Tracer("server")
	}
}

func (t *serviceTelemetry) metrics() *instrumentation.Metrics {
	if t.instrumentation == nil {
		return nil
	}
	return t.instrumentation.Metrics()
}

// startSpan starts a span named after the service operation.
func (t *serviceTelemetry) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("server.%s", name), trace.WithAttributes(attrs...))
}

// finishAuthorizationOperation records the outcome of an AuthorizationService
// call. A nil error with found=false counts as not_found.
func (t *serviceTelemetry) finishAuthorizationOperation(ctx context.Context, span trace.Span, operation string, found bool, err error, startTime time.Time) {
	result := "success"
	switch {
	case err != nil:
		result = "error"
		instrumentation.RecordError(span, err)
	case !found:
		result = "not_found"
		span.SetAttributes(attribute.Bool(instrumentation.AttrTokenFound, false))
		instrumentation.SetSpanSuccess(span)
	default:
		instrumentation.SetSpanSuccess(span)
	}

	if m := t.metrics(); m != nil {
		m.RecordAuthorizationOperation(ctx, operation, result, float64(time.Since(startTime).Milliseconds()))
	}
}
