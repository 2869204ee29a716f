// Package sshexec runs commands on cluster nodes over SSH with key
// authentication.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ssh"
)

const (
	defaultPort    = 22
	defaultTimeout = 30 * time.Second
	ptyTerm        = "xterm"
	ptyRows        = 40
	ptyCols        = 80
)

// ErrKeyPermission marks failures caused by the private key: unreadable
// file, rejected key or a permission complaint on the node.
var ErrKeyPermission = errors.New("ssh key permission problem")

// Result is the outcome of one remote command.
type Result struct {
	Host     string        `json:"host"`
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// OK reports whether the command ran and exited with 0.
func (r Result) OK() bool {
	return r.Err == "" && r.ExitCode == 0
}

// Runner runs one command on one host. A non-zero exit status is reported
// in Result.ExitCode; the error is reserved for connection problems.
type Runner interface {
	Run(ctx context.Context, host, cmd string) (Result, error)
}

// Client is the x/crypto/ssh Runner.
type Client struct {
	User    string
	KeyPath string
	Port    int
	Timeout time.Duration
	// PTY requests a pseudo terminal, needed by a few interactive vendor tools.
	PTY bool

	tracing *telemetry.TracerWrapper
}

// Option configures a Client.
type Option func(*Client)

// WithTracerProvider enables spans around every command.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracing = telemetry.NewTracerWrapper(tp, "archer-ops/ssh") }
}

// WithPTY requests a pseudo terminal for every command.
func WithPTY() Option {
	return func(c *Client) { c.PTY = true }
}

// NewClient creates a Client. Zero port and timeout take 22 and 30s.
func NewClient(user, keyPath string, port int, timeout time.Duration, opts ...Option) *Client {
	if port <= 0 {
		port = defaultPort
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{User: user, KeyPath: keyPath, Port: port, Timeout: timeout}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracing == nil {
		c.tracing = telemetry.NewTracerWrapper(nil, "archer-ops/ssh")
	}
	return c
}

// FromConfig creates a Client from the ssh section.
func FromConfig(cfg *models.Config, opts ...Option) *Client {
	return NewClient(cfg.SSH.User, cfg.SSH.KeyPath, cfg.GetSSHPort(), cfg.GetSSHTimeout(), opts...)
}

func (c *Client) config() (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w (%w)", c.KeyPath, err, ErrKeyPermission)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", c.KeyPath, err)
	}
	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.Timeout,
	}, nil
}

// Run executes cmd on host.
func (c *Client) Run(ctx context.Context, host, cmd string) (Result, error) {
	ctx, span := c.tracing.StartSpan(ctx, "ssh.run", trace.SpanKindClient)
	defer span.End()
	span.SetAttributes(
		attribute.String(telemetry.AttrSSHHost, host),
		attribute.String(telemetry.AttrSSHCommand, cmd),
	)

	res, err := c.run(ctx, host, cmd)
	if err != nil {
		telemetry.RecordError(span, err)
		res.Err = err.Error()
	} else {
		span.SetAttributes(attribute.Int(telemetry.AttrSSHExitCode, res.ExitCode))
	}
	logging.Component("ssh").WithFields(log.Fields{
		"host":      host,
		"exit_code": res.ExitCode,
		"duration":  res.Duration.String(),
	}).Debug("Remote command finished")
	return res, err
}

func (c *Client) run(ctx context.Context, host, cmd string) (Result, error) {
	start := time.Now()
	res := Result{Host: host, Command: cmd, ExitCode: -1}

	cfg, err := c.config()
	if err != nil {
		return res, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(c.Port))
	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return res, fmt.Errorf("ssh connection to %s failed: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	_ = conn.SetDeadline(time.Time{})
	if err != nil {
		_ = conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return res, fmt.Errorf(telemetry.ErrSSHKeyPermissionTemplate+" (%w)", host, err, c.KeyPath, ErrKeyPermission)
		}
		return res, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return res, fmt.Errorf("failed to open ssh session on %s: %w", host, err)
	}
	defer func() { _ = session.Close() }()

	if c.PTY {
		modes := ssh.TerminalModes{ssh.ECHO: 0}
		if err := session.RequestPty(ptyTerm, ptyRows, ptyCols, modes); err != nil {
			return res, fmt.Errorf("failed to request pty on %s: %w", host, err)
		}
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		res.Duration = time.Since(start)
		return res, ctx.Err()
	case err = <-done:
	}

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.Duration = time.Since(start)

	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
		res.ExitCode = 0
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitStatus()
	case errors.As(err, &missing):
		res.ExitCode = -1
	default:
		return res, fmt.Errorf("ssh command on %s failed: %w", host, err)
	}
	return res, nil
}

// IsPermissionProblem reports whether stderr looks like a key or sudo
// permission failure.
func IsPermissionProblem(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "permission") || strings.Contains(s, "denied")
}

var _ Runner = (*Client)(nil)
