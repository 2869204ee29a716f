package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/sshexec"
	log "github.com/sirupsen/logrus"
)

// Operations accepted by Execute.
const (
	OpSystemInfo  = "system_info"
	OpIPMIAddress = "ipmi_ip"
	OpPowerStatus = "power_status"
)

const (
	systemInfoCommand = "cat /etc/system-info"
	ipmiLanCommand    = "ipmitool -I open lan print 1 | awk '/IP Address[[:space:]]*:[[:space:]]*/ {print $NF}'"
)

// Status values of an OpResult.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// OpResult is the outcome of one operation on one node.
type OpResult struct {
	Hostname   string `json:"hostname"`
	MgmtIP     string `json:"mgmt_ip"`
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	SystemInfo string `json:"system_info,omitempty"`
	IPMIIP     string `json:"ipmi_ip,omitempty"`
	Power      string `json:"power,omitempty"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Inventory is the node list of an environment merged with system info.
type Inventory struct {
	Environment string     `json:"environment"`
	TotalNodes  int        `json:"total_nodes"`
	Nodes       []OpResult `json:"nodes"`
}

// Manager runs node operations. SSH reaches the nodes, IPMI runs locally.
type Manager struct {
	ssh           sshexec.Runner
	ipmi          CommandRunner
	ipmiBinary    string
	cred          IPMICredentials
	inventoryPath string
	workers       int
}

// NewManager creates a Manager from the ssh, ipmi and platform sections.
func NewManager(cfg *models.Config, ssh sshexec.Runner, ipmi CommandRunner) *Manager {
	return &Manager{
		ssh:           ssh,
		ipmi:          ipmi,
		ipmiBinary:    cfg.IPMI.Binary,
		cred:          IPMICredentials{Username: cfg.IPMI.Username, Password: cfg.IPMI.Password},
		inventoryPath: cfg.Platform.InventoryPath,
		workers:       cfg.SSH.Workers,
	}
}

// Inventory reads the ansible inventory from the controller.
func (m *Manager) Inventory(ctx context.Context, controllerIP string) ([]Node, error) {
	out, err := sshexec.Output(ctx, m.ssh, controllerIP, "cat "+m.inventoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory from %s: %w", controllerIP, err)
	}
	nodes := ParseInventory(out)
	logging.Component("nodes").WithFields(log.Fields{"controller": controllerIP, "nodes": len(nodes)}).Debug("Inventory parsed")
	return nodes, nil
}

// SystemInfo returns /etc/system-info of the node at ip.
func (m *Manager) SystemInfo(ctx context.Context, ip string) (string, error) {
	out, err := sshexec.Output(ctx, m.ssh, ip, systemInfoCommand)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%s returned no output on %s", systemInfoCommand, ip)
	}
	return out, nil
}

// IPMIAddress asks the node at ip for its BMC address.
func (m *Manager) IPMIAddress(ctx context.Context, ip string) (string, error) {
	out, err := sshexec.Output(ctx, m.ssh, ip, ipmiLanCommand)
	if err != nil {
		return "", err
	}
	addr := strings.TrimSpace(out)
	if addr == "" {
		return "", fmt.Errorf("no IPMI address reported by %s", ip)
	}
	return addr, nil
}

func (m *Manager) credentials(n Node) IPMICredentials {
	cred := m.cred
	if n.IPMIUser != "" {
		cred.Username = n.IPMIUser
	}
	if n.IPMIPassword != "" {
		cred.Password = n.IPMIPassword
	}
	return cred
}

func (m *Manager) bmcAddress(ctx context.Context, n Node) (string, error) {
	if n.IPMIIP != "" {
		return n.IPMIIP, nil
	}
	return m.IPMIAddress(ctx, n.MgmtIP)
}

// PowerStatus returns on, off or error for node.
func (m *Manager) PowerStatus(ctx context.Context, n Node) OpResult {
	res := OpResult{Hostname: n.Hostname, MgmtIP: n.MgmtIP, Operation: OpPowerStatus}
	ip, err := m.bmcAddress(ctx, n)
	if err != nil {
		res.Status, res.Power, res.Error = StatusError, PowerError, "无法获取IPMI IP: "+err.Error()
		return res
	}
	res.IPMIIP = ip
	stdout, stderr, err := m.ipmi.Run(ctx, m.ipmiBinary, ipmiArgs(ip, m.credentials(n), "chassis", "status")...)
	if err != nil {
		res.Status, res.Power, res.Error = StatusError, PowerError, errorText(stderr, err)
		return res
	}
	res.Status = StatusSuccess
	res.Power = ParsePowerState(stdout)
	return res
}

// PowerControl runs `power <action>` against the BMC of node.
func (m *Manager) PowerControl(ctx context.Context, n Node, action string) OpResult {
	res := OpResult{Hostname: n.Hostname, MgmtIP: n.MgmtIP, Operation: "power_" + action}
	if !powerActions[action] {
		res.Status, res.Error = StatusError, fmt.Sprintf("%s: %s", ErrUnsupportedAction, action)
		return res
	}
	ip, err := m.bmcAddress(ctx, n)
	if err != nil {
		res.Status, res.Error = StatusError, "无法获取IPMI IP: "+err.Error()
		return res
	}
	res.IPMIIP = ip
	stdout, stderr, err := m.ipmi.Run(ctx, m.ipmiBinary, ipmiArgs(ip, m.credentials(n), "power", action)...)
	if err != nil {
		res.Status, res.Error = StatusError, errorText(stderr, err)
		return res
	}
	logging.Component("nodes").WithFields(log.Fields{"node": n.Hostname, "action": action}).Info("Power action sent")
	res.Status = StatusSuccess
	res.Output = strings.TrimSpace(stdout)
	return res
}

func errorText(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		return s
	}
	return err.Error()
}

// ExecuteOne runs op on one node.
func (m *Manager) ExecuteOne(ctx context.Context, n Node, op string) OpResult {
	res := OpResult{Hostname: n.Hostname, MgmtIP: n.MgmtIP, Operation: op}
	switch op {
	case OpSystemInfo:
		info, err := m.SystemInfo(ctx, n.MgmtIP)
		if err != nil {
			res.Status, res.Error = StatusError, err.Error()
			return res
		}
		res.Status, res.SystemInfo = StatusSuccess, info
	case OpIPMIAddress:
		ip, err := m.bmcAddress(ctx, n)
		if err != nil {
			res.Status, res.Error = StatusError, err.Error()
			return res
		}
		res.Status, res.IPMIIP = StatusSuccess, ip
	case OpPowerStatus:
		return m.PowerStatus(ctx, n)
	default:
		res.Status, res.Error = StatusError, "不支持的操作: "+op
	}
	return res
}

// Execute runs op on every node in parallel, results in node order.
func (m *Manager) Execute(ctx context.Context, nodes []Node, op string) []OpResult {
	return sshexec.FanOutFunc(ctx, nodes, m.workers, func(ctx context.Context, n Node) OpResult {
		return m.ExecuteOne(ctx, n, op)
	})
}

// ShowInventory reads the inventory from controllerIP and adds system info
// for every node.
func (m *Manager) ShowInventory(ctx context.Context, env, controllerIP string) (Inventory, error) {
	nodes, err := m.Inventory(ctx, controllerIP)
	if err != nil {
		return Inventory{}, err
	}
	results := m.Execute(ctx, nodes, OpSystemInfo)
	for i := range results {
		results[i].IPMIIP = nodes[i].IPMIIP
	}
	return Inventory{Environment: env, TotalNodes: len(results), Nodes: results}, nil
}
