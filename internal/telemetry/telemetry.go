// Package telemetry carries the tracing of archer_ops.
//
// Manager installs an OTLP gRPC tracer provider built from the
// opentelemetry section of the configuration. A collector that cannot be
// reached leaves tracing off; the process keeps running.
//
// Components never read the global provider. They receive one through a
// WithTracerProvider option and start spans with a TracerWrapper, which
// falls back to a noop tracer:
//
//	mgr := telemetry.NewManager(telemetry.ConfigFrom(cfg, version, env))
//	_ = mgr.Initialize(ctx)
//	defer mgr.Shutdown(ctx)
//
//	client := archer.NewClient(settings, archer.WithTracerProvider(mgr.TracerProvider()))
//
// The Attr* constants name the span attributes shared by the platform
// client, the SSH executor, the metadata database and the collector.
package telemetry
