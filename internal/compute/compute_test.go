package compute

import (
	"context"
	"testing"
	"time"

	"github.com/fjacquet/archer_ops/internal/sshexec"
	"github.com/fjacquet/archer_ops/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hypervisorList = `+----+------------------------+-------+---------+-------+
| ID | Hypervisor hostname    | State | Status  | VMs   |
+----+------------------------+-------+---------+-------+
| 1  | compute-01.localdomain | up    | enabled | 15    |
| 2  | compute-02.localdomain | down  | enabled | n/a   |
| x  | broken                 | up    | enabled | 1     |
+----+------------------------+-------+---------+-------+`

const vmList = `+--------------------------------------+--------+---------+------------+
| ID                                   | Name   | Status  | Host       |
+--------------------------------------+--------+---------+------------+
| 6f1c2b8e-0000-4000-8000-000000000001 | web-01 | active  | compute-01 |
| 6f1c2b8e-0000-4000-8000-000000000002 | db-01  | shutoff | compute-02 |
| 6f1c2b8e-0000-4000-8000-000000000003 | app-01 | active  | compute-01 |
+--------------------------------------+--------+---------+------------+`

const serviceList = `+------------------+---------------+---------+--------+
| Binary           | Host          | Zone    | Status |
+------------------+---------------+---------+--------+
| nova-compute     | compute-01    | nova    | up     |
| nova-compute     | compute-02    | nova    | down   |
| nova-scheduler   | controller-01 | internal| up     |
+------------------+---------------+---------+--------+`

const hypervisorShow = `+----------------+--------------+
| Property       | Value        |
+----------------+--------------+
| vcpus          | 32           |
| memory_mb      | 131072       |
| local_gb       | 1800         |
| cpu ratio      | 4.0          |
| host_ip        | 10.0.0.11    |
+----------------+--------------+`

func TestParseHypervisors(t *testing.T) {
	got := ParseHypervisors(hypervisorList)
	assert.Equal(t, []Hypervisor{
		{ID: 1, Host: "compute-01.localdomain", State: "up", Status: "enabled", VMsCount: 15},
		{ID: 2, Host: "compute-02.localdomain", State: "down", Status: "enabled", VMsCount: 0},
	}, got)
}

func TestParseVMs(t *testing.T) {
	got := ParseVMs(vmList)
	require.Len(t, got, 3)
	assert.Equal(t, VM{ID: "6f1c2b8e-0000-4000-8000-000000000002", Name: "db-01", Status: "shutoff", Host: "compute-02"}, got[1])
}

func TestParseServices(t *testing.T) {
	assert.Equal(t, Services{
		"nova":     {"compute-01": "up", "compute-02": "down"},
		"internal": {"controller-01": "up"},
	}, ParseServices(serviceList))
}

func TestParseDetail(t *testing.T) {
	d := ParseDetail(hypervisorShow)
	assert.Equal(t, Detail{
		"vcpus":     32,
		"memory_mb": 131072,
		"local_gb":  1800,
		"cpu_ratio": 4.0,
		"host_ip":   "10.0.0.11",
	}, d)
	assert.Equal(t, 4, d.Int("cpu_ratio"))
	assert.Equal(t, 0, d.Int("host_ip"))
	assert.Equal(t, 0, d.Int("missing"))
}

func TestResourceUsage(t *testing.T) {
	details := []Detail{
		{"vcpus": 32, "memory_mb": 131072, "local_gb": 1800},
		{"vcpus": 32, "memory_mb": 131072, "local_gb": 1800},
	}
	u := ResourceUsage(details, ParseVMs(vmList))
	assert.Equal(t, Usage{
		HypervisorCount:    2,
		TotalVCPUs:         64,
		UsedVCPUs:          2,
		VCPUUsagePercent:   3.13,
		TotalMemoryGB:      256,
		UsedMemoryGB:       4,
		MemoryUsagePercent: 1.56,
		TotalStorageGB:     3600,
		VMs:                VMCount{Total: 3, Active: 2, Stopped: 1},
	}, u)

	empty := ResourceUsage(nil, nil)
	assert.Zero(t, empty.VCPUUsagePercent)
	assert.Zero(t, empty.MemoryUsagePercent)
}

func fakeController() *testutil.FakeRunner {
	return testutil.NewFakeRunner().
		On("arcompute hypervisor-list", hypervisorList).
		On("arcompute hypervisor-show", hypervisorShow).
		On("arcompute list", vmList).
		On("arcompute service-list", serviceList).
		On("arcompute show", "| status | active |\n| flavor | m1.small |")
}

func TestManagerQueries(t *testing.T) {
	runner := fakeController()
	m := NewManager(runner, "172.118.57.100", 4)
	ctx := context.Background()

	hvs, err := m.Hypervisors(ctx)
	require.NoError(t, err)
	assert.Len(t, hvs, 2)

	d, err := m.Hypervisor(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, d["id"])
	assert.Contains(t, runner.Commands(), "arcompute hypervisor-show 7")

	vm, err := m.VM(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "m1.small", vm["flavor"])
	assert.Equal(t, "abc", vm["id"])

	for _, c := range runner.Calls() {
		assert.Equal(t, "172.118.57.100", c.Host)
	}
}

func TestManagerErrors(t *testing.T) {
	m := NewManager(testutil.NewFakeRunner(), "10.0.0.1", 2)
	_, err := m.Hypervisors(context.Background())
	var cmdErr *sshexec.CommandError
	assert.ErrorAs(t, err, &cmdErr)
}

func TestDeleteVolume(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{name: "english", output: "Volume vol-1 deleted"},
		{name: "chinese", output: "存储卷已删除"},
		{name: "unexpected", output: "Volume busy", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(testutil.NewFakeRunner().On("arblock delete vol-1", tt.output), "10.0.0.1", 1)
			err := m.DeleteVolume(context.Background(), "vol-1")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOverview(t *testing.T) {
	m := NewManager(fakeController(), "10.0.0.1", 4)
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	ov := m.Overview(context.Background(), "production")
	assert.Equal(t, "2026-01-02 03:04:05", ov.Timestamp)
	assert.Empty(t, ov.Errors)
	require.NotNil(t, ov.Usage)
	assert.Equal(t, 64, ov.Usage.TotalVCPUs)
	assert.Len(t, ov.Services, 2)
}

func TestOverviewPartialFailure(t *testing.T) {
	runner := testutil.NewFakeRunner().On("arcompute service-list", serviceList)
	ov := NewManager(runner, "10.0.0.1", 2).Overview(context.Background(), "lab")
	assert.Len(t, ov.Errors, 2)
	assert.Nil(t, ov.Usage)
	assert.NotEmpty(t, ov.Services)
}
