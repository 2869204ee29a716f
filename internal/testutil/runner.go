package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/fjacquet/archer_ops/internal/sshexec"
)

// FakeCall is one command seen by FakeRunner.
type FakeCall struct {
	Host    string
	Command string
}

type fakeResponse struct {
	host     string
	contains string
	result   sshexec.Result
	err      error
}

// FakeRunner is an sshexec.Runner answering from canned responses. The
// first response whose host (if set) and substring match the call wins.
// Unmatched commands exit 127.
type FakeRunner struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []FakeCall
}

// NewFakeRunner returns an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On answers commands containing substr with stdout and exit code 0.
func (f *FakeRunner) On(substr, stdout string) *FakeRunner {
	return f.OnResult("", substr, sshexec.Result{Stdout: stdout}, nil)
}

// OnHost is On restricted to host.
func (f *FakeRunner) OnHost(host, substr, stdout string) *FakeRunner {
	return f.OnResult(host, substr, sshexec.Result{Stdout: stdout}, nil)
}

// OnResult registers a full result or a connection error.
func (f *FakeRunner) OnResult(host, substr string, res sshexec.Result, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{host: host, contains: substr, result: res, err: err})
	return f
}

// Run implements sshexec.Runner.
func (f *FakeRunner) Run(_ context.Context, host, cmd string) (sshexec.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Host: host, Command: cmd})
	for _, r := range f.responses {
		if r.host != "" && r.host != host {
			continue
		}
		if strings.Contains(cmd, r.contains) {
			res := r.result
			res.Host = host
			res.Command = cmd
			return res, r.err
		}
	}
	return sshexec.Result{Host: host, Command: cmd, ExitCode: 127, Stderr: "command not found"}, nil
}

// Calls returns every call in order.
func (f *FakeRunner) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// Commands returns the commands run on any host.
func (f *FakeRunner) Commands() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Command)
	}
	return out
}
