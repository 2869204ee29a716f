package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/envstore"
	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/mcpserver"
	"github.com/fjacquet/archer_ops/internal/metadb"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/monitor"
	"github.com/fjacquet/archer_ops/internal/sshexec"
	"github.com/fjacquet/archer_ops/internal/utils"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const defaultConfigFile = "config.yaml"

// app holds the global flags and the collaborators every command shares.
// load fills it once the flags are parsed.
type app struct {
	configPath string
	// configFile is the file load actually read, empty when running on
	// defaults and environment variables alone.
	configFile string
	envID      string
	output     string
	debug      bool

	stdout io.Writer
	stderr io.Writer

	cfg      *models.SafeConfig
	store    *envstore.Store
	sessions *archer.SessionManager
	tracer   trace.TracerProvider
}

func newApp() *app {
	return &app{stdout: os.Stdout, stderr: os.Stderr}
}

// loadConfig reads the config file. Without --config, config.yaml is used
// when present, otherwise the defaults plus ARCHER_* variables.
func loadConfig(path string) (*models.Config, error) {
	if path = resolveConfigPath(path); path != "" {
		return utils.LoadConfig(path)
	}
	cfg := &models.Config{}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolveConfigPath returns the file loadConfig reads for the --config
// value, falling back to config.yaml in the working directory.
func resolveConfigPath(path string) string {
	if path == "" && utils.FileExists(defaultConfigFile) {
		path = defaultConfigFile
	}
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// load reads the configuration, sets up logging and opens the environment
// registry. Console logs go to stderr so stdout only carries command output.
func (a *app) load() error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.configFile = resolveConfigPath(a.configPath)
	if err := logging.PrepareLogs(cfg.Server.LogName, a.stderr); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if a.debug {
		log.SetLevel(log.DebugLevel)
		log.Debug("Debug mode enabled")
	} else {
		log.SetLevel(log.WarnLevel)
	}

	store, err := envstore.Open(cfg.Platform.EnvironmentsFile, cfg.Platform.LastEnvFile)
	if err != nil {
		return err
	}
	a.cfg = models.NewSafeConfig(cfg)
	a.store = store
	a.sessions = archer.NewSessionManager(a.cfg.Get, store, archer.WithTracerProvider(a.tracer))
	return nil
}

func (a *app) config() *models.Config {
	return a.cfg.Get()
}

// environmentID returns --env, the last used environment, or the
// configured default, in that order.
func (a *app) environmentID() string {
	if a.envID != "" {
		return a.envID
	}
	if last := a.store.LastUsed(); last != "" {
		return last
	}
	return a.config().Platform.DefaultEnvironment
}

func (a *app) environment() models.Environment {
	return a.sessions.ResolveEnvironment(a.environmentID())
}

// client returns a logged-in platform client for the selected environment.
func (a *app) client(ctx context.Context) (*archer.Client, error) {
	env := a.environment()
	c, err := a.sessions.EstablishEnv(ctx, env.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to open a session on %s (%s): %w", env.ID, env.URL, err)
	}
	return c, nil
}

func (a *app) ssh() sshexec.Runner {
	return sshexec.FromConfig(a.config(), sshexec.WithTracerProvider(a.tracer))
}

// controller returns the controller node of env, falling back to the host
// of the platform URL.
func (a *app) controller(env models.Environment) (models.NodeRef, error) {
	if n, ok := monitor.ControllerNode(env.Nodes); ok {
		return n, nil
	}
	ip := utils.ExtractIPv4(env.URL)
	if ip == "" {
		return models.NodeRef{}, fmt.Errorf("environment %s has no controller address", env.ID)
	}
	return models.NodeRef{NodeID: 1, Hostname: "node-1", MgmtIP: ip, Role: "controller"}, nil
}

func (a *app) printer() printer {
	return printer{out: a.stdout, json: a.output == "json"}
}

// enableTracing switches the shared collaborators to tp. Sessions opened
// before the call are dropped so new clients carry the tracer.
func (a *app) enableTracing(tp trace.TracerProvider) {
	a.tracer = tp
	a.sessions.Flush()
	a.sessions = archer.NewSessionManager(a.cfg.Get, a.store, archer.WithTracerProvider(tp))
}

// mcpServer builds the MCP server on the shared sessions and registry.
func (a *app) mcpServer() (*mcpserver.Server, error) {
	return mcpserver.New(mcpserver.Options{
		Config:   a.cfg.Get,
		Sessions: a.sessions,
		Envs:     a.store,
		SSH:      a.ssh(),
		OpenDB: func(ctx context.Context, host string) (mcpserver.Database, error) {
			db, err := metadb.Open(ctx, host, a.config(), metadb.WithTracerProvider(a.tracer))
			if err != nil {
				return nil, err
			}
			return db, nil
		},
	})
}
