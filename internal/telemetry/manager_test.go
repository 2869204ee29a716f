package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// withMemoryExporter makes m export into an in-memory exporter.
func withMemoryExporter(m *Manager) *tracetest.InMemoryExporter {
	exp := tracetest.NewInMemoryExporter()
	m.newExporter = func(context.Context, Config) (sdktrace.SpanExporter, error) { return exp, nil }
	return exp
}

func TestConfigFrom(t *testing.T) {
	cfg := &models.Config{}
	cfg.OpenTelemetry.Enabled = true
	cfg.OpenTelemetry.Endpoint = "otel:4317"
	cfg.OpenTelemetry.Insecure = true
	cfg.OpenTelemetry.SamplingRate = 0.5

	got := ConfigFrom(cfg, "2.0.0", models.Environment{ID: "production", URL: "https://10.0.0.1"})
	assert.Equal(t, Config{
		Enabled:        true,
		Endpoint:       "otel:4317",
		Insecure:       true,
		SamplingRate:   0.5,
		ServiceVersion: "2.0.0",
		PlatformURL:    "https://10.0.0.1",
		Environment:    "production",
	}, got)
}

func TestManagerDisabled(t *testing.T) {
	m := NewManager(Config{Enabled: false, Endpoint: "otel:4317"})
	called := false
	m.newExporter = func(context.Context, Config) (sdktrace.SpanExporter, error) {
		called = true
		return nil, nil
	}

	require.NoError(t, m.Initialize(context.Background()))
	assert.False(t, called, "no exporter when disabled")
	assert.False(t, m.IsEnabled())
	assert.Nil(t, m.TracerProvider())
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestManagerExporterFailureKeepsRunning(t *testing.T) {
	m := NewManager(Config{Enabled: true, Endpoint: "otel:4317", SamplingRate: 1})
	m.newExporter = func(context.Context, Config) (sdktrace.SpanExporter, error) {
		return nil, errors.New("connection refused")
	}

	require.NoError(t, m.Initialize(context.Background()))
	assert.False(t, m.IsEnabled())
	assert.Nil(t, m.TracerProvider())
}

func TestManagerExportsSpansWithResource(t *testing.T) {
	m := NewManager(Config{
		Enabled:        true,
		Endpoint:       "otel:4317",
		SamplingRate:   1,
		ServiceVersion: "1.2.3",
		PlatformURL:    "https://172.118.57.100",
		Environment:    "production",
	})
	exp := withMemoryExporter(m)

	require.NoError(t, m.Initialize(context.Background()))
	require.True(t, m.IsEnabled())
	tp := m.TracerProvider()
	require.NotNil(t, tp)

	_, span := NewTracerWrapper(tp, "test").StartSpan(context.Background(), "archer.zone", trace.SpanKindClient)
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.provider.ForceFlush(ctx))
	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	attrs := map[attribute.Key]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, ServiceName, attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, "https://172.118.57.100", attrs["peer.service"])
	assert.Equal(t, "production", attrs["deployment.environment"])
	assert.NotEmpty(t, attrs["host.name"])

	require.NoError(t, m.Shutdown(ctx))
	assert.False(t, m.IsEnabled())
}

func TestSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{rate: 1, want: "AlwaysOnSampler"},
		{rate: 1.5, want: "AlwaysOnSampler"},
		{rate: 0.25, want: "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			desc := sampler(tt.rate).Description()
			assert.Contains(t, desc, "ParentBased")
			assert.Contains(t, desc, tt.want)
		})
	}
}
