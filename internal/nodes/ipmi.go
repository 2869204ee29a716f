package nodes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Power states reported by PowerStatus.
const (
	PowerOn    = "on"
	PowerOff   = "off"
	PowerError = "error"
)

// Power actions accepted by PowerControl.
var powerActions = map[string]bool{"on": true, "off": true, "cycle": true, "status": true}

// CommandRunner runs a local program. ExecRunner is the real one.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs programs with os/exec under a per-call timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// Run implements CommandRunner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() != nil {
		err = fmt.Errorf("%s timed out: %w", name, ctx.Err())
	}
	return stdout.String(), stderr.String(), err
}

// IPMICredentials authenticate against a BMC.
type IPMICredentials struct {
	Username string
	Password string
}

func ipmiArgs(ip string, cred IPMICredentials, tail ...string) []string {
	return append([]string{"-H", ip, "-I", "lanplus", "-U", cred.Username, "-P", cred.Password}, tail...)
}

// ParsePowerState reads the "System Power" line of `chassis status`.
func ParsePowerState(output string) string {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(key) != "System Power" {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "on":
			return PowerOn
		case "off":
			return PowerOff
		}
	}
	return PowerOff
}

// ErrUnsupportedAction is returned for a power action other than on, off,
// cycle or status.
var ErrUnsupportedAction = errors.New("unsupported power action")
