package sshexec

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent SSH sessions of a fan-out.
const DefaultWorkers = 10

// FanOut runs cmd on every host with at most workers sessions in flight.
// Results keep the order of hosts. A failing host gets its error recorded in
// Result.Err and does not cancel the others.
func FanOut(ctx context.Context, runner Runner, hosts []string, cmd string, workers int) []Result {
	return FanOutFunc(ctx, hosts, workers, func(ctx context.Context, host string) Result {
		res, err := runner.Run(ctx, host, cmd)
		if err != nil {
			res.Host = host
			res.Command = cmd
			res.Err = err.Error()
		}
		return res
	})
}

// FanOutFunc calls fn for every item with bounded concurrency and returns
// the results in input order.
func FanOutFunc[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) R) []R {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	out := make([]R, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			out[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ParsePolicy parses "key: value" lines. Values become int, then float64,
// else stay strings. Blank lines, comments and lines without a colon are
// skipped.
func ParsePolicy(text string) map[string]any {
	out := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if n, err := strconv.Atoi(value); err == nil {
			out[key] = n
		} else if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = f
		} else {
			out[key] = value
		}
	}
	return out
}

// ErrInvalidRef is returned for a volume ref that is not UUID shaped.
var ErrInvalidRef = errors.New("invalid volume ref")

var refRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// CheckRef rejects refs holding anything but letters, digits, dots,
// dashes and underscores.
func CheckRef(ref string) error {
	if !refRe.MatchString(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// VolumeInodeExpr is the shell expression resolving the inode of a block
// volume from its ref.
func VolumeInodeExpr(ref string) string {
	q := shellQuote(ref)
	return fmt.Sprintf(`$(arblock show %s | grep provider_location | awk '{print $4}' | xargs -I {} ls -i /vstor{}/volume-%s | awk 'NR==1{print $1}' )`, q, q)
}

// PolicyCommand returns the command printing the mirror count and rebuild
// priority of the volume ref.
func PolicyCommand(ref string) string {
	return fmt.Sprintf(`sudo docker exec mxsp zklist -i %s -p | grep -E "numberOfMirrors|rebuildPriority"`, VolumeInodeExpr(ref))
}

// MirrorsCommand returns the command listing the mirror nodes of the volume ref.
func MirrorsCommand(ref string) string {
	return fmt.Sprintf(`sudo docker exec mxsp zklist -i %s -l | grep mirror | awk '{print $1}' | sort -u`, VolumeInodeExpr(ref))
}

// ReplicationPolicy reads the replication policy of the volume ref on host.
func ReplicationPolicy(ctx context.Context, runner Runner, host, ref string) (map[string]any, Result, error) {
	if err := CheckRef(ref); err != nil {
		return nil, Result{Host: host}, err
	}
	res, err := runner.Run(ctx, host, PolicyCommand(ref))
	if err != nil {
		return nil, res, err
	}
	if res.ExitCode != 0 {
		return nil, res, commandError(res)
	}
	return ParsePolicy(res.Stdout), res, nil
}

// IsX86 reports whether host runs an x86 kernel.
func IsX86(ctx context.Context, runner Runner, host string) (bool, error) {
	res, err := runner.Run(ctx, host, "sudo uname -r")
	if err != nil {
		return false, err
	}
	out := strings.TrimSpace(res.Stdout)
	if out == "" {
		return false, fmt.Errorf("uname on %s returned nothing (exit %d): %s", host, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return strings.Contains(out, "x86"), nil
}

// CommandError is a remote command that exited non-zero.
type CommandError struct {
	Host     string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command on %s exited %d: %s", e.Host, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Permission reports whether the failure looks like a permission problem.
func (e *CommandError) Permission() bool {
	return IsPermissionProblem(e.Stderr)
}

func commandError(res Result) error {
	return &CommandError{Host: res.Host, ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// Output runs cmd and returns stdout, turning a non-zero exit into a
// *CommandError.
func Output(ctx context.Context, runner Runner, host, cmd string) (string, error) {
	res, err := runner.Run(ctx, host, cmd)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return res.Stdout, commandError(res)
	}
	return res.Stdout, nil
}
