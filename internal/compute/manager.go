package compute

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/sshexec"
)

const (
	// Per-VM figures assumed when the VM list carries no flavor data.
	defaultVMVCPUs    = 1
	defaultVMMemoryMB = 2048
)

// Manager runs arcompute on one controller node.
type Manager struct {
	runner     sshexec.Runner
	controller string
	workers    int
	now        func() time.Time
}

// NewManager creates a Manager for controller. workers bounds the detail
// fan-out of Overview.
func NewManager(runner sshexec.Runner, controller string, workers int) *Manager {
	return &Manager{runner: runner, controller: controller, workers: workers, now: time.Now}
}

func (m *Manager) output(ctx context.Context, cmd string) (string, error) {
	out, err := sshexec.Output(ctx, m.runner, m.controller, cmd)
	if err != nil {
		return "", fmt.Errorf("%s on %s: %w", cmd, m.controller, err)
	}
	return strings.TrimSpace(out), nil
}

// Hypervisors lists the compute nodes.
func (m *Manager) Hypervisors(ctx context.Context) ([]Hypervisor, error) {
	out, err := m.output(ctx, "arcompute hypervisor-list")
	if err != nil {
		return nil, err
	}
	return ParseHypervisors(out), nil
}

// Hypervisor returns the detail table of hypervisor id.
func (m *Manager) Hypervisor(ctx context.Context, id int) (Detail, error) {
	out, err := m.output(ctx, fmt.Sprintf("arcompute hypervisor-show %d", id))
	if err != nil {
		return nil, err
	}
	d := ParseDetail(out)
	d["id"] = id
	return d, nil
}

// VMs lists the instances known to the compute layer.
func (m *Manager) VMs(ctx context.Context) ([]VM, error) {
	out, err := m.output(ctx, "arcompute list")
	if err != nil {
		return nil, err
	}
	return ParseVMs(out), nil
}

// VM returns the detail table of instance id.
func (m *Manager) VM(ctx context.Context, id string) (Detail, error) {
	out, err := m.output(ctx, "arcompute show "+id)
	if err != nil {
		return nil, err
	}
	d := ParseDetail(out)
	d["id"] = id
	return d, nil
}

// Services returns the compute service states.
func (m *Manager) Services(ctx context.Context) (Services, error) {
	out, err := m.output(ctx, "arcompute service-list")
	if err != nil {
		return nil, err
	}
	return ParseServices(out), nil
}

// DeleteVolume removes a block volume. The tool's output must confirm the
// deletion.
func (m *Manager) DeleteVolume(ctx context.Context, id string) error {
	out, err := m.output(ctx, "arblock delete "+id)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToLower(out), "deleted") && !strings.Contains(out, "删除") {
		return fmt.Errorf("volume %s was not deleted: %s", id, out)
	}
	return nil
}

// VMCount splits the VM list by status.
type VMCount struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Stopped int `json:"stopped"`
}

// Usage is the aggregate resource usage of the compute layer.
type Usage struct {
	HypervisorCount    int     `json:"hypervisor_count"`
	TotalVCPUs         int     `json:"total_vcpus"`
	UsedVCPUs          int     `json:"used_vcpus"`
	VCPUUsagePercent   float64 `json:"vcpu_usage_percent"`
	TotalMemoryGB      int     `json:"total_memory_gb"`
	UsedMemoryGB       int     `json:"used_memory_gb"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	TotalStorageGB     int     `json:"total_storage_gb"`
	VMs                VMCount `json:"vm_count"`
}

// ResourceUsage combines hypervisor details with the VM list. Active VMs
// count one vCPU and 2 GB each.
func ResourceUsage(details []Detail, vms []VM) Usage {
	u := Usage{HypervisorCount: len(details)}
	totalMemMB := 0
	for _, d := range details {
		u.TotalVCPUs += d.Int("vcpus")
		totalMemMB += d.Int("memory_mb")
		u.TotalStorageGB += d.Int("local_gb")
	}
	usedMemMB := 0
	for _, vm := range vms {
		u.VMs.Total++
		switch vm.Status {
		case "active":
			u.VMs.Active++
			u.UsedVCPUs += defaultVMVCPUs
			usedMemMB += defaultVMMemoryMB
		case "shutoff":
			u.VMs.Stopped++
		}
	}
	u.TotalMemoryGB = totalMemMB / 1024
	u.UsedMemoryGB = usedMemMB / 1024
	u.VCPUUsagePercent = percent(u.UsedVCPUs, u.TotalVCPUs)
	u.MemoryUsagePercent = percent(usedMemMB, totalMemMB)
	return u
}

func percent(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(total)*10000) / 100
}

// Overview is the full picture of the compute layer.
type Overview struct {
	Environment string       `json:"environment"`
	Timestamp   string       `json:"timestamp"`
	Hypervisors []Hypervisor `json:"hypervisors,omitempty"`
	VMs         []VM         `json:"virtual_machines,omitempty"`
	Services    Services     `json:"services,omitempty"`
	Usage       *Usage       `json:"resource_usage,omitempty"`
	Errors      []string     `json:"errors,omitempty"`
}

// Overview gathers hypervisors, VMs and services. A failing section is
// reported in Errors and left out; usage needs both hypervisors and VMs.
func (m *Manager) Overview(ctx context.Context, env string) Overview {
	ov := Overview{Environment: env, Timestamp: m.now().Format("2006-01-02 15:04:05")}

	hvs, hvErr := m.Hypervisors(ctx)
	if hvErr != nil {
		ov.Errors = append(ov.Errors, hvErr.Error())
	} else {
		ov.Hypervisors = hvs
	}
	vms, vmErr := m.VMs(ctx)
	if vmErr != nil {
		ov.Errors = append(ov.Errors, vmErr.Error())
	} else {
		ov.VMs = vms
	}
	if services, err := m.Services(ctx); err != nil {
		ov.Errors = append(ov.Errors, err.Error())
	} else {
		ov.Services = services
	}

	if hvErr == nil && vmErr == nil {
		details := sshexec.FanOutFunc(ctx, hvs, m.workers, func(ctx context.Context, h Hypervisor) Detail {
			d, err := m.Hypervisor(ctx, h.ID)
			if err != nil {
				return Detail{"id": h.ID}
			}
			return d
		})
		usage := ResourceUsage(details, vms)
		ov.Usage = &usage
	}
	return ov
}
