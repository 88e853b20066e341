package envelope

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// W3C tracecontext propagation over Envelope.TraceContext. The carrier is the
// envelope's traceContext map itself, so traceparent/tracestate ride the wire
// alongside the payload.

var propagator = propagation.TraceContext{}

// InjectTrace writes the current span context from ctx into the envelope.
// It also mirrors the trace id into TraceID for log correlation.
func InjectTrace(ctx context.Context, env *Envelope) {
	if env.TraceContext == nil {
		env.TraceContext = make(map[string]string, 2)
	}
	propagator.Inject(ctx, propagation.MapCarrier(env.TraceContext))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	if len(env.TraceContext) == 0 {
		env.TraceContext = nil
	}
}

// ExtractTrace returns a context carrying the remote span context found in
// the envelope, or ctx unchanged when the envelope carries none.
func ExtractTrace(ctx context.Context, env *Envelope) context.Context {
	if len(env.TraceContext) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(env.TraceContext))
}

// Tracer returns the module tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/c360studio/cellmesh")
}
