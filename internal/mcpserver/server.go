// Package mcpserver exposes the platform operations as Model Context
// Protocol tools, resources and prompts.
package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/archer"
	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/metadb"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/nodes"
	"github.com/fjacquet/archer_ops/internal/provision"
	"github.com/fjacquet/archer_ops/internal/resilience"
	"github.com/fjacquet/archer_ops/internal/sshexec"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	log "github.com/sirupsen/logrus"
)

// Database is the part of metadb.Client the tools use.
type Database interface {
	QuerySimple(ctx context.Context, query, database string) ([]map[string]any, error)
	Close() error
}

// LoginFunc opens a platform session.
type LoginFunc func(ctx context.Context, url, username, password string) (archer.API, error)

// DBOpener connects to the controller database on host.
type DBOpener func(ctx context.Context, host string) (Database, error)

// RunnerFactory builds an SSH runner for explicit connection settings.
type RunnerFactory func(port int, username, keyPath string) sshexec.Runner

// Options wires the server to its collaborators. Only Config is required.
type Options struct {
	Config    func() *models.Config
	Sessions  *archer.SessionManager
	Envs      archer.EnvironmentLookup
	Login     LoginFunc
	OpenDB    DBOpener
	SSH       sshexec.Runner
	NewRunner RunnerFactory
	IPMI      nodes.CommandRunner
	Catalog   *provision.Catalog
	Retries   *resilience.RetryManager
}

// Server is the MCP server and the state of the platform session it holds.
type Server struct {
	mcp   *mcp.Server
	opts  Options
	state *State
}

func (o *Options) setDefaults() {
	if o.Sessions == nil {
		o.Sessions = archer.NewSessionManager(o.Config, o.Envs)
	}
	if o.Login == nil {
		sessions := o.Sessions
		o.Login = func(ctx context.Context, url, username, password string) (archer.API, error) {
			c, err := sessions.EstablishURL(ctx, url, username, password)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	if o.OpenDB == nil {
		cfg := o.Config
		o.OpenDB = func(ctx context.Context, host string) (Database, error) {
			db, err := metadb.Open(ctx, host, cfg())
			if err != nil {
				return nil, err
			}
			return db, nil
		}
	}
	if o.NewRunner == nil {
		cfg := o.Config
		o.NewRunner = func(port int, username, keyPath string) sshexec.Runner {
			return sshexec.NewClient(username, keyPath, port, cfg().GetSSHTimeout())
		}
	}
	if o.SSH == nil {
		o.SSH = sshexec.FromConfig(o.Config())
	}
	if o.IPMI == nil {
		o.IPMI = nodes.ExecRunner{Timeout: o.Config().GetIPMITimeout()}
	}
	if o.Catalog == nil {
		o.Catalog = provision.NewCatalog()
	}
	if o.Retries == nil {
		o.Retries = resilience.NewRetryManager()
	}
}

// New creates the server and registers every tool, resource and prompt.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("mcp server needs a configuration")
	}
	opts.setDefaults()
	cfg := opts.Config()
	s := &Server{
		mcp:   mcp.NewServer(&mcp.Implementation{Name: cfg.MCP.Name, Version: cfg.MCP.Version}, nil),
		opts:  opts,
		state: &State{},
	}
	s.registerPlatformTools()
	s.registerDatabaseTools()
	s.registerOpsTools()
	s.registerResources()
	s.registerPrompts()
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// State returns the platform session state.
func (s *Server) State() *State { return s.state }

// Run serves over stdin and stdout until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	logging.Component("mcp").Info("Starting MCP server on stdio")
	defer s.state.Close()
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server stopped: %w", err)
	}
	return nil
}

// Handler returns the streamable HTTP handler. Every HTTP session shares
// the platform state of this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
}

// Close releases the database connection of the current session.
func (s *Server) Close() error {
	return s.state.Close()
}

// addTool registers h under name and logs every call.
func addTool[In, Out any](s *Server, name, description string, h mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: name, Description: description},
		func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
			start := time.Now()
			res, out, err := h(ctx, req, in)
			entry := logging.Component("mcp").WithFields(log.Fields{
				"tool":     name,
				"duration": time.Since(start).String(),
			})
			if err != nil {
				entry.WithError(err).Warn("Tool call failed")
			} else {
				entry.Debug("Tool call")
			}
			return res, out, err
		})
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "greeting",
		URITemplate: "greeting://{name}",
		Description: "获取个性化问候语",
		MIMEType:    "text/plain",
	}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		name := strings.TrimPrefix(req.Params.URI, "greeting://")
		return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Hello, %s!", name),
		}}}, nil
	})

	for _, table := range metadb.Tables() {
		uri := "doc://db/schema/" + table
		s.mcp.AddResource(&mcp.Resource{
			Name:        table,
			Title:       table + " 数据库表结构",
			URI:         uri,
			Description: "包含" + table + "表完整字段定义",
			MIMEType:    "text/markdown",
		}, func(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			md, err := metadb.Markdown(table)
			if err != nil {
				return nil, mcp.ResourceNotFoundError(req.Params.URI)
			}
			return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     md,
			}}}, nil
		})
	}
}

var greetingStyles = map[string]string{
	"friendly": "Please write a warm, friendly greeting",
	"formal":   "Please write a formal, professional greeting",
	"casual":   "Please write a casual, relaxed greeting",
}

// GreetingPrompt returns the prompt text of greet_user. Unknown styles are
// friendly.
func GreetingPrompt(name, style string) string {
	lead, ok := greetingStyles[style]
	if !ok {
		lead = greetingStyles["friendly"]
	}
	return fmt.Sprintf("%s for someone named %s.", lead, name)
}

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "greet_user",
		Description: "生成一个风格化的问候语提示",
		Arguments: []*mcp.PromptArgument{
			{Name: "name", Description: "被问候者的名字", Required: true},
			{Name: "style", Description: "friendly, formal or casual"},
		},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		args := req.Params.Arguments
		return &mcp.GetPromptResult{
			Description: "greeting",
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: GreetingPrompt(args["name"], args["style"])},
			}},
		}, nil
	})
}
