package telemetry

import (
	"context"
	"fmt"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// ServiceName is the service.name resource attribute of every exported span.
const ServiceName = "archer-ops"

// Config selects the collector and names the process in exported spans.
type Config struct {
	Enabled      bool
	Endpoint     string // OTLP gRPC collector, e.g. "otel:4317"
	Insecure     bool
	SamplingRate float64 // 0 < rate <= 1

	ServiceVersion string
	PlatformURL    string // recorded as peer.service
	Environment    string // recorded as deployment.environment
}

// ConfigFrom reads the opentelemetry section of cfg for the process
// working against env.
func ConfigFrom(cfg *models.Config, version string, env models.Environment) Config {
	return Config{
		Enabled:        cfg.OpenTelemetry.Enabled,
		Endpoint:       cfg.OpenTelemetry.Endpoint,
		Insecure:       cfg.OpenTelemetry.Insecure,
		SamplingRate:   cfg.OpenTelemetry.SamplingRate,
		ServiceVersion: version,
		PlatformURL:    env.URL,
		Environment:    env.ID,
	}
}

type exporterFunc func(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error)

// Manager owns the tracer provider of the process. A manager whose
// collector cannot be set up stays disabled and hands out no provider.
type Manager struct {
	cfg         Config
	enabled     bool
	provider    *sdktrace.TracerProvider
	newExporter exporterFunc
}

// NewManager returns a manager for cfg. Nothing is exported before
// Initialize.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, newExporter: otlpExporter}
}

func otlpExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.Endpoint, err)
	}
	return exp, nil
}

// Initialize connects the exporter and installs the provider globally. A
// failure leaves tracing off and is only logged, so the caller keeps
// running without spans.
func (m *Manager) Initialize(ctx context.Context) error {
	logger := logging.Component("telemetry")
	if !m.cfg.Enabled {
		logger.Debug("Tracing disabled")
		return nil
	}

	exp, err := m.newExporter(ctx, m.cfg)
	if err != nil {
		logger.Warnf("Tracing disabled: %v", err)
		return nil
	}
	res, err := m.resource(ctx)
	if err != nil {
		_ = exp.Shutdown(ctx)
		logger.Warnf("Tracing disabled: %v", err)
		return nil
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(m.cfg.SamplingRate)),
	)
	m.enabled = true
	otel.SetTracerProvider(m.provider)

	logger.WithField("endpoint", m.cfg.Endpoint).
		WithField("sampling", m.cfg.SamplingRate).
		Info("Tracing enabled")
	return nil
}

func (m *Manager) resource(ctx context.Context) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(m.cfg.ServiceVersion),
	}
	if m.cfg.PlatformURL != "" {
		attrs = append(attrs, semconv.PeerService(m.cfg.PlatformURL))
	}
	if m.cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(m.cfg.Environment))
	}
	res, err := resource.New(ctx, resource.WithHost(), resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}
	return res, nil
}

// sampler follows the caller's decision when a scrape carries a trace
// context and samples root spans at rate.
func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown flushes the pending spans. It is a no-op when tracing is off.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.enabled {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to flush spans: %w", err)
	}
	m.enabled = false
	logging.Component("telemetry").Info("Tracing stopped")
	return nil
}

// IsEnabled reports whether spans are being exported.
func (m *Manager) IsEnabled() bool {
	return m.enabled
}

// TracerProvider returns the provider to inject into clients, or nil when
// tracing is off.
func (m *Manager) TracerProvider() trace.TracerProvider {
	if !m.enabled {
		return nil
	}
	return m.provider
}
