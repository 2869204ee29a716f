package nodes

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInventory = `
# cluster
[controller]
node1 ansible_host=10.0.0.1 ipmi_ip=10.1.0.1 ipmi_username=admin ipmi_password=secret
node2 ansible_host=10.0.0.2
[compute]
node3 ansible_host=10.0.0.3 ansible_user=cloud
gateway ansible_host=10.0.0.9
node4
`

func TestParseInventory(t *testing.T) {
	got := ParseInventory(sampleInventory)
	assert.Equal(t, []Node{
		{Hostname: "node1", MgmtIP: "10.0.0.1", IPMIIP: "10.1.0.1", IPMIUser: "admin", IPMIPassword: "secret"},
		{Hostname: "node2", MgmtIP: "10.0.0.2"},
		{Hostname: "node3", MgmtIP: "10.0.0.3"},
	}, got)
}

func TestFilter(t *testing.T) {
	all := ParseInventory(sampleInventory)
	assert.Len(t, Filter(all, nil), 3)
	got := Filter(all, []string{"node3", " node1"})
	require.Len(t, got, 2)
	assert.Equal(t, "node1", got[0].Hostname)
}

func TestParsePowerState(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{name: "on", output: "System Power         : on\nPower Overload       : false\n", want: PowerOn},
		{name: "off", output: "System Power         : off\nMain Power Fault     : false\n", want: PowerOff},
		{name: "other lines mention on", output: "Power Restore Policy : always-on\nSystem Power : off\n", want: PowerOff},
		{name: "no power line", output: "garbage", want: PowerOff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePowerState(tt.output))
		})
	}
}

type ipmiCall struct {
	name string
	args []string
}

type fakeIPMI struct {
	mu     sync.Mutex
	calls  []ipmiCall
	stdout string
	stderr string
	err    error
}

func (f *fakeIPMI) Run(_ context.Context, name string, args ...string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ipmiCall{name: name, args: args})
	return f.stdout, f.stderr, f.err
}

func testManager(ssh *testutil.FakeRunner, ipmi CommandRunner) *Manager {
	cfg := &models.Config{}
	cfg.SetDefaults()
	return NewManager(cfg, ssh, ipmi)
}

func TestInventoryAndShowInventory(t *testing.T) {
	ssh := testutil.NewFakeRunner().
		On("cat /usr/local/cloudos-lcm_libs/CloudOs/inventory/hosts", sampleInventory).
		OnHost("10.0.0.2", "system-info", "").
		On("cat /etc/system-info", "ArcherOS 6.2\n")
	m := testManager(ssh, &fakeIPMI{})

	inv, err := m.ShowInventory(context.Background(), "production", "172.118.57.100")
	require.NoError(t, err)
	assert.Equal(t, 3, inv.TotalNodes)
	assert.Equal(t, "ArcherOS 6.2", inv.Nodes[0].SystemInfo)
	assert.Equal(t, "10.1.0.1", inv.Nodes[0].IPMIIP)
	assert.Equal(t, StatusError, inv.Nodes[1].Status)
	assert.Equal(t, StatusSuccess, inv.Nodes[2].Status)
	assert.Equal(t, "172.118.57.100", ssh.Calls()[0].Host)
}

func TestInventoryFailure(t *testing.T) {
	ssh := testutil.NewFakeRunner()
	_, err := testManager(ssh, &fakeIPMI{}).Inventory(context.Background(), "10.0.0.1")
	assert.Error(t, err)
}

func TestPowerStatus(t *testing.T) {
	ssh := testutil.NewFakeRunner().On("lan print 1", "10.1.0.2\n")
	ipmi := &fakeIPMI{stdout: "System Power : on\n"}
	m := testManager(ssh, ipmi)

	res := m.PowerStatus(context.Background(), Node{Hostname: "node2", MgmtIP: "10.0.0.2"})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, PowerOn, res.Power)
	assert.Equal(t, "10.1.0.2", res.IPMIIP)

	require.Len(t, ipmi.calls, 1)
	assert.Equal(t, "ipmitool", ipmi.calls[0].name)
	assert.Equal(t, []string{"-H", "10.1.0.2", "-I", "lanplus", "-U", "root", "-P", "Admin@123", "chassis", "status"}, ipmi.calls[0].args)

	res = m.PowerStatus(context.Background(), Node{Hostname: "node1", MgmtIP: "10.0.0.1", IPMIIP: "10.1.0.1", IPMIUser: "admin", IPMIPassword: "secret"})
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "admin", ipmi.calls[1].args[5], "inventory credentials win")
	assert.Len(t, ssh.Calls(), 1, "known BMC address skips the SSH lookup")
}

func TestPowerStatusErrors(t *testing.T) {
	m := testManager(testutil.NewFakeRunner(), &fakeIPMI{})
	res := m.PowerStatus(context.Background(), Node{Hostname: "node9", MgmtIP: "10.0.0.9"})
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, PowerError, res.Power)
	assert.Contains(t, res.Error, "无法获取IPMI IP")

	failing := &fakeIPMI{stderr: "Unable to establish IPMI v2 / RMCP+ session\n", err: errors.New("exit status 1")}
	m = testManager(testutil.NewFakeRunner(), failing)
	res = m.PowerStatus(context.Background(), Node{Hostname: "node1", IPMIIP: "10.1.0.1"})
	assert.Equal(t, PowerError, res.Power)
	assert.Equal(t, "Unable to establish IPMI v2 / RMCP+ session", res.Error)
}

func TestPowerControl(t *testing.T) {
	ipmi := &fakeIPMI{stdout: "Chassis Power Control: Up/On\n"}
	m := testManager(testutil.NewFakeRunner(), ipmi)
	n := Node{Hostname: "node1", IPMIIP: "10.1.0.1"}

	res := m.PowerControl(context.Background(), n, "on")
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Chassis Power Control: Up/On", res.Output)
	assert.Equal(t, []string{"power", "on"}, ipmi.calls[0].args[8:])

	res = m.PowerControl(context.Background(), n, "reboot")
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, strings.Contains(res.Error, "unsupported power action"))
	assert.Len(t, ipmi.calls, 1)
}

func TestExecute(t *testing.T) {
	ssh := testutil.NewFakeRunner().
		OnHost("10.0.0.1", "lan print", "10.1.0.1\n").
		OnHost("10.0.0.2", "lan print", "\n")
	m := testManager(ssh, &fakeIPMI{})
	nodes := []Node{{Hostname: "node1", MgmtIP: "10.0.0.1"}, {Hostname: "node2", MgmtIP: "10.0.0.2"}}

	results := m.Execute(context.Background(), nodes, OpIPMIAddress)
	require.Len(t, results, 2)
	assert.Equal(t, "10.1.0.1", results[0].IPMIIP)
	assert.Equal(t, StatusError, results[1].Status)

	bad := m.Execute(context.Background(), nodes[:1], "reboot")
	assert.Equal(t, "不支持的操作: reboot", bad[0].Error)
}

func TestExecRunner(t *testing.T) {
	stdout, _, err := ExecRunner{}.Run(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", stdout)

	_, _, err = ExecRunner{}.Run(context.Background(), "definitely-not-a-binary-archer")
	assert.Error(t, err)
}
