package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	keyTraceparent = "traceparent"
	keyTracestate  = "tracestate"
)

// TraceContext is the W3C trace context as stored next to outbox and
// scheduled rows, so a span can be resumed after the row is picked up by
// another process.
type TraceContext struct {
	Parent string
	State  string
}

// Capture serializes the span context carried by ctx, if any.
func Capture(ctx context.Context) TraceContext {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return TraceContext{Parent: carrier[keyTraceparent], State: carrier[keyTracestate]}
}

func (tc TraceContext) IsZero() bool {
	return tc.Parent == "" && tc.State == ""
}

// Resume returns ctx carrying the stored span context as remote parent.
func (tc TraceContext) Resume(ctx context.Context) context.Context {
	if tc.IsZero() {
		return ctx
	}
	carrier := propagation.MapCarrier{keyTraceparent: tc.Parent, keyTracestate: tc.State}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
