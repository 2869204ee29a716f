package sshexec_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/sshexec"
	"github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	text := `
# policy
Policy.Policy.Mirroring.numberOfMirrors: 2
Policy.Policy.rebuildPriority: 5
ratio: 0.75
mode: sync: fast
garbage line
`
	got := sshexec.ParsePolicy(text)
	assert.Equal(t, map[string]any{
		"Policy.Policy.Mirroring.numberOfMirrors": 2,
		"Policy.Policy.rebuildPriority":           5,
		"ratio":                                   0.75,
		"mode":                                    "sync: fast",
	}, got)
	assert.Empty(t, sshexec.ParsePolicy(""))
}

func TestFanOutKeepsOrderAndRecordsErrors(t *testing.T) {
	runner := testutil.NewFakeRunner().
		OnResult("10.0.0.2", "", sshexec.Result{}, errors.New("connection refused")).
		On("hostname", "node\n")

	hosts := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	results := sshexec.FanOut(context.Background(), runner, hosts, "hostname", 2)

	require.Len(t, results, 3)
	for i, h := range hosts {
		assert.Equal(t, h, results[i].Host)
	}
	assert.True(t, results[0].OK())
	assert.Equal(t, "connection refused", results[1].Err)
	assert.False(t, results[1].OK())
	assert.Equal(t, "node\n", results[2].Stdout)
}

func TestFanOutFuncLimitsConcurrency(t *testing.T) {
	var inFlight, peak int32
	items := make([]int, 30)
	for i := range items {
		items[i] = i
	}
	out := sshexec.FanOutFunc(context.Background(), items, 4, func(_ context.Context, n int) string {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return fmt.Sprint(n)
	})
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(4))
	assert.Equal(t, "29", out[29])
}

func TestIsX86(t *testing.T) {
	tests := []struct {
		name    string
		runner  *testutil.FakeRunner
		want    bool
		wantErr bool
	}{
		{name: "x86", runner: testutil.NewFakeRunner().On("uname", "4.19.90-52.x86_64\n"), want: true},
		{name: "arm", runner: testutil.NewFakeRunner().On("uname", "4.19.90-52.aarch64\n")},
		{name: "empty output", runner: testutil.NewFakeRunner(), wantErr: true},
		{name: "connection error", runner: testutil.NewFakeRunner().OnResult("", "uname", sshexec.Result{}, errors.New("timeout")), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sshexec.IsX86(context.Background(), tt.runner, "10.0.0.1")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplicationPolicy(t *testing.T) {
	runner := testutil.NewFakeRunner().On("zklist", "Policy.Policy.Mirroring.numberOfMirrors: 3\n")
	policy, _, err := sshexec.ReplicationPolicy(context.Background(), runner, "10.0.0.1", "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, policy["Policy.Policy.Mirroring.numberOfMirrors"])

	cmd := runner.Commands()[0]
	assert.Contains(t, cmd, "sudo docker exec mxsp zklist -i $(arblock show 'abc'")
	assert.Contains(t, cmd, "/vstor{}/volume-'abc'")
	assert.Contains(t, cmd, "-p | grep -E")

	denied := testutil.NewFakeRunner().OnResult("", "zklist", sshexec.Result{ExitCode: 1, Stderr: "Permission denied (publickey)"}, nil)
	_, _, err = sshexec.ReplicationPolicy(context.Background(), denied, "10.0.0.1", "abc")
	var cmdErr *sshexec.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.True(t, cmdErr.Permission())
}

func TestOutput(t *testing.T) {
	runner := testutil.NewFakeRunner().On("ok", "fine")
	out, err := sshexec.Output(context.Background(), runner, "h", "ok")
	require.NoError(t, err)
	assert.Equal(t, "fine", out)

	_, err = sshexec.Output(context.Background(), runner, "h", "missing")
	var cmdErr *sshexec.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 127, cmdErr.ExitCode)
	assert.False(t, cmdErr.Permission())
}

func TestMirrorsCommand(t *testing.T) {
	assert.Contains(t, sshexec.MirrorsCommand("r1"), "-l | grep mirror | awk '{print $1}' | sort -u")
}

func TestCheckRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{name: "uuid", ref: "5f0c2f4e-8a7b-4c1d-9e3f-0a1b2c3d4e5f"},
		{name: "plain", ref: "abc"},
		{name: "empty", ref: "", wantErr: true},
		{name: "single quote", ref: "x'; rm -rf / #", wantErr: true},
		{name: "substitution", ref: "$(reboot)", wantErr: true},
		{name: "space", ref: "a b", wantErr: true},
		{name: "leading dash", ref: "-rf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sshexec.CheckRef(tt.ref)
			if tt.wantErr {
				assert.ErrorIs(t, err, sshexec.ErrInvalidRef)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVolumeInodeExprQuotesRef(t *testing.T) {
	expr := sshexec.VolumeInodeExpr("a'b")
	assert.Contains(t, expr, `arblock show 'a'\''b' |`)
	assert.Contains(t, expr, `/vstor{}/volume-'a'\''b' |`)
	assert.NotContains(t, expr, "'a'b'")
}

func TestReplicationPolicyRejectsBadRefBeforeRunning(t *testing.T) {
	runner := testutil.NewFakeRunner().On("zklist", "numberOfMirrors: 3\n")
	_, _, err := sshexec.ReplicationPolicy(context.Background(), runner, "10.0.0.1", "x'; reboot; echo '")
	require.ErrorIs(t, err, sshexec.ErrInvalidRef)
	assert.Empty(t, runner.Commands())
}
