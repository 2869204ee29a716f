package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestTracerWrapperNilProvider(t *testing.T) {
	w := NewTracerWrapper(nil, "test")
	ctx, span := w.StartSpan(context.Background(), "op", trace.SpanKindClient)
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	var nilWrapper *TracerWrapper
	_, span = nilWrapper.StartSpan(context.Background(), "op", trace.SpanKindInternal)
	assert.NotNil(t, span)
}

func TestTracerWrapperRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	w := NewTracerWrapper(tp, "test")

	_, span := w.StartSpan(context.Background(), "archer.login", trace.SpanKindClient)
	RecordError(span, errors.New("denied"))
	RecordError(span, nil)
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "archer.login", ended[0].Name())
	assert.Equal(t, trace.SpanKindClient, ended[0].SpanKind())
	assert.Equal(t, "denied", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
}
