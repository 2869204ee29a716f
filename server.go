package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/config"
	"github.com/fjacquet/archer_ops/internal/exporter"
	"github.com/fjacquet/archer_ops/internal/mcpserver"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/telemetry"
	"github.com/fjacquet/archer_ops/internal/utils"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	shutdownTimeout   = 10 * time.Second // Maximum time to wait for graceful shutdown
	readHeaderTimeout = 5 * time.Second  // HTTP server read header timeout
	mcpPath           = "/mcp"
)

// Server serves the inventory metrics, the health check and the MCP
// server on one listener, and reloads its configuration while running.
//
// Server errors (such as port binding failures) are sent on ErrorChan()
// instead of ending the process, so the caller can still shut down
// gracefully.
//
// Usage:
//
//	server := NewServer(a)
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	err := waitForShutdown(ctx, server.ErrorChan())
//	server.Shutdown()
type Server struct {
	app              *app
	httpSrv          *http.Server
	registry         *prometheus.Registry
	telemetryManager *telemetry.Manager // nil if disabled
	tracerProvider   trace.TracerProvider
	mcp              *mcpserver.Server
	watcher          *config.Watcher
	accessLog        io.WriteCloser

	mu        sync.RWMutex
	collector *exporter.InventoryCollector
	client    *archer.Client

	// serverErrChan is buffered so the listener goroutine can report an
	// error before the caller starts selecting on it.
	serverErrChan chan error
}

// NewServer creates a server for the loaded application. A telemetry
// manager is created when OpenTelemetry is enabled.
func NewServer(a *app) *Server {
	cfg := a.config()
	var telemetryMgr *telemetry.Manager
	if cfg.IsOTelEnabled() {
		telemetryMgr = telemetry.NewManager(telemetry.ConfigFrom(cfg, version, a.environment()))
	}
	return &Server{
		app:              a,
		registry:         prometheus.NewRegistry(),
		telemetryManager: telemetryMgr,
		serverErrChan:    make(chan error, 1),
	}
}

// Start initializes tracing, registers the collector, mounts the MCP
// server, arms the reload triggers and starts listening in a goroutine.
func (s *Server) Start(ctx context.Context) error {
	if s.telemetryManager != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.telemetryManager.Initialize(initCtx); err != nil {
			log.Warnf("Failed to initialize OpenTelemetry: %v. Continuing without tracing.", err)
		}
		if s.telemetryManager.IsEnabled() {
			s.tracerProvider = s.telemetryManager.TracerProvider()
			s.app.enableTracing(s.tracerProvider)
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			log.Info("OpenTelemetry trace context propagation configured")
		}
	}

	if err := s.swapCollector(); err != nil {
		return err
	}

	mcpSrv, err := s.app.mcpServer()
	if err != nil {
		return err
	}
	s.mcp = mcpSrv

	cfg := s.app.config()
	s.accessLog = accessLog()
	s.httpSrv = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           s.routes(cfg),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.setupReload(ctx)

	go func() {
		log.Infof("Starting %s on %s (metrics %s, mcp %s)", programName, cfg.GetServerAddress(), cfg.Server.URI, mcpPath)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	return nil
}

func (s *Server) routes(cfg *models.Config) http.Handler {
	chain := baseChain(s.accessLog)
	scrape := chain
	if s.tracerProvider != nil {
		scrape = chain.Append(s.extractTraceContextMiddleware)
	}

	r := mux.NewRouter()
	r.Handle(cfg.Server.URI, scrape.Then(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))).
		Methods(http.MethodGet)
	r.Handle("/health", chain.ThenFunc(s.healthHandler)).
		Methods(http.MethodGet, http.MethodHead)
	mountMCP(r, chain, s.mcp.Handler())
	return r
}

// swapCollector builds a platform client and collector for the selected
// environment and replaces the registered ones.
func (s *Server) swapCollector() error {
	a := s.app
	cfg := a.config()
	env := a.environment()
	url, err := archer.NormalizeURL(env.URL)
	if err != nil {
		return err
	}
	env.URL = url
	client := archer.NewClient(models.SettingsFor(cfg, env), archer.WithTracerProvider(s.tracerProvider))
	collector := exporter.NewInventoryCollector(client,
		exporter.WithCollectorTracerProvider(s.tracerProvider),
		exporter.WithCacheTTL(cfg.GetCacheTTL()),
	)

	s.mu.Lock()
	oldCollector, oldClient := s.collector, s.client
	if oldCollector != nil {
		s.registry.Unregister(oldCollector)
	}
	if err := s.registry.Register(collector); err != nil {
		s.mu.Unlock()
		_ = client.Close()
		return fmt.Errorf("failed to register collector: %w", err)
	}
	s.collector, s.client = collector, client
	s.mu.Unlock()

	if oldClient != nil {
		go func() { _ = oldClient.Close() }()
	}
	log.Infof("Collecting inventory of %s (%s)", env.ID, url)
	return nil
}

func (s *Server) currentCollector() *exporter.InventoryCollector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collector
}

// setupReload reloads config.yaml and the environment registry on SIGHUP
// and when either file changes.
func (s *Server) setupReload(ctx context.Context) {
	files := s.reloadFiles()
	config.SetupSIGHUPHandler(ctx, files)

	w, err := config.NewWatcher(config.DefaultDebounce)
	if err != nil {
		log.Warnf("File watching disabled: %v", err)
		return
	}
	for path, fn := range files {
		if err := w.Watch(path, fn); err != nil {
			log.WithField("file", path).Warnf("Cannot watch file: %v", err)
		}
	}
	s.watcher = w
}

// reloadConfig swaps the configuration. A new platform URL or user drops
// the cached sessions and the inventory snapshot.
// reloadFiles maps each file the server follows to its reload function.
// The config file is the one load read, including the implicit config.yaml.
func (s *Server) reloadFiles() map[string]config.ReloadFunc {
	files := map[string]config.ReloadFunc{}
	if s.app.configFile != "" {
		files[s.app.configFile] = s.reloadConfig
	}
	files[s.app.config().Platform.EnvironmentsFile] = s.reloadEnvironments
	return files
}

func (s *Server) reloadConfig(path string) error {
	cfg, err := utils.LoadConfig(path)
	if err != nil {
		return err
	}
	if !s.app.cfg.Swap(cfg) {
		log.Info("Configuration reloaded")
		return nil
	}
	log.Info("Configuration reloaded with a new platform, resetting sessions")
	return s.platformChanged()
}

func (s *Server) reloadEnvironments(string) error {
	if err := s.app.store.Load(); err != nil {
		return err
	}
	log.Info("Environment registry reloaded")
	return s.platformChanged()
}

func (s *Server) platformChanged() error {
	s.app.sessions.Flush()
	if c := s.currentCollector(); c != nil {
		c.Cache().Flush()
	}
	return s.swapCollector()
}

// ErrorChan returns the channel for receiving server errors.
func (s *Server) ErrorChan() <-chan error {
	return s.serverErrChan
}

// Shutdown stops the server components in order:
//  1. HTTP server (no new scrapes or MCP calls)
//  2. file watcher and access log
//  3. OpenTelemetry (flush pending spans)
//  4. MCP session state and platform clients
func (s *Server) Shutdown() error {
	var errs []error

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("Shutting down HTTP server...")
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.accessLog != nil {
		_ = s.accessLog.Close()
	}

	if s.telemetryManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("Shutting down telemetry...")
		if err := s.telemetryManager.Shutdown(ctx); err != nil {
			log.Warnf("Telemetry shutdown warning: %v", err)
		}
	}

	if s.mcp != nil {
		if err := s.mcp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mcp close: %w", err))
		}
	}
	s.mu.Lock()
	if s.client != nil {
		log.Info("Closing platform connections...")
		if err := s.client.Close(); err != nil && !errors.Is(err, archer.ErrClientClosed) {
			errs = append(errs, fmt.Errorf("client close: %w", err))
		}
	}
	s.mu.Unlock()
	s.app.sessions.Flush()

	close(s.serverErrChan)

	if len(errs) > 0 {
		log.Errorf("Shutdown completed with %d errors", len(errs))
		return errors.Join(errs...)
	}
	log.Info("Server stopped gracefully")
	return nil
}

// extractTraceContextMiddleware continues the caller's trace, if any, in
// the scrape.
func (s *Server) extractTraceContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// healthHandler answers OK when the last collection succeeded, otherwise
// it probes the platform and answers 503 when it cannot be reached.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	c := s.currentCollector()
	if c == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "UNAVAILABLE: collector not started\n")
		return
	}
	if !c.IsHealthy() {
		if err := c.TestConnectivity(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "UNHEALTHY: %v\n", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK\n")
}

// waitForShutdown blocks until ctx is cancelled (SIGINT or SIGTERM) or
// the server reports an error.
func waitForShutdown(ctx context.Context, serverErr <-chan error) error {
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested, initiating graceful shutdown...")
		return nil
	case err := <-serverErr:
		return err
	}
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics, /health and /mcp",
		Long:  "Serve the Prometheus inventory metrics, a health check and the MCP server on one listener, reloading the configuration on SIGHUP or file change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			// Server logs go to the console at info level.
			if !a.debug {
				log.SetLevel(log.InfoLevel)
			}
			log.Infof("Starting %s...", programName)
			log.Infof("Platform: %s (environment %s)", a.environment().URL, a.environmentID())
			log.Infof("Cache TTL: %s", cfg.GetCacheTTL())
			if a.debug {
				log.Infof("Platform password: %s", cfg.MaskPassword())
			}

			server := NewServer(a)
			if err := server.Start(cmd.Context()); err != nil {
				return err
			}
			if err := waitForShutdown(cmd.Context(), server.ErrorChan()); err != nil {
				log.Errorf("Server error: %v", err)
			}
			return server.Shutdown()
		},
	}
}
