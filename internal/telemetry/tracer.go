package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerWrapper starts spans without callers checking whether tracing is on.
// A nil provider yields noop spans, so span.End and SetAttributes are always
// safe to call.
type TracerWrapper struct {
	tracer trace.Tracer
}

// NewTracerWrapper returns a wrapper around tp, or around a noop provider when tp is nil.
func NewTracerWrapper(tp trace.TracerProvider, name string) *TracerWrapper {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &TracerWrapper{tracer: tp.Tracer(name)}
}

// StartSpan starts a span of the given kind as a child of ctx.
func (w *TracerWrapper) StartSpan(ctx context.Context, name string, kind trace.SpanKind) (context.Context, trace.Span) {
	if w == nil || w.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return w.tracer.Start(ctx, name, trace.WithSpanKind(kind))
}

// RecordError marks span as failed with err. Nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
