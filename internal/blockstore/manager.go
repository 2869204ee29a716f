package blockstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/sshexec"
	log "github.com/sirupsen/logrus"
)

const timeLayout = "2006-01-02 15:04:05"

// Command wraps cmd for execution inside the storage container.
func Command(cmd string) string {
	return "sudo docker exec mxsp " + cmd
}

// Manager runs storage checks over the storage nodes of an environment.
type Manager struct {
	runner  sshexec.Runner
	nodes   []models.NodeRef
	workers int
	now     func() time.Time
}

// NewManager creates a Manager for nodes.
func NewManager(runner sshexec.Runner, nodes []models.NodeRef, workers int) *Manager {
	return &Manager{runner: runner, nodes: nodes, workers: workers, now: time.Now}
}

// Nodes returns the storage nodes the manager works on.
func (m *Manager) Nodes() []models.NodeRef {
	return m.nodes
}

// Node returns the storage node with id.
func (m *Manager) Node(id int) (models.NodeRef, bool) {
	for _, n := range m.nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return models.NodeRef{}, false
}

func hostname(n models.NodeRef) string {
	if n.Hostname != "" {
		return n.Hostname
	}
	return fmt.Sprintf("node-%d", n.NodeID)
}

func (m *Manager) exec(ctx context.Context, ip, cmd string) (string, error) {
	out, err := sshexec.Output(ctx, m.runner, ip, Command(cmd))
	if err != nil {
		return "", fmt.Errorf("%s on %s: %w", cmd, ip, err)
	}
	return strings.TrimSpace(out), nil
}

// Zookeeper reads the ZooKeeper ensemble state from the node at ip.
func (m *Manager) Zookeeper(ctx context.Context, ip string) (ZKInfo, error) {
	out, err := m.exec(ctx, ip, "zklist -c")
	if err != nil {
		return ZKInfo{}, err
	}
	return ParseZookeeper(out), nil
}

// StaleDisks lists the inaccessible disks seen from the node at ip.
func (m *Manager) StaleDisks(ctx context.Context, ip string) (StaleReport, error) {
	out, err := m.exec(ctx, ip, "showInodes --stale")
	if err != nil {
		return StaleReport{}, err
	}
	return ParseStaleInodes(out), nil
}

// Usage returns the disk usage of node.
func (m *Manager) Usage(ctx context.Context, node models.NodeRef) (NodeUsage, error) {
	out, err := m.exec(ctx, node.MgmtIP, fmt.Sprintf("mxServices -n %d -L", node.NodeID))
	if err != nil {
		return NodeUsage{}, err
	}
	u := ParseDiskUsage(out)
	u.NodeID = node.NodeID
	u.Hostname = hostname(node)
	return u, nil
}

// ClusterSummary totals the capacity of all reachable nodes.
type ClusterSummary struct {
	TotalCapacityGB int     `json:"total_capacity_gb"`
	TotalUsedGB     int     `json:"total_used_gb"`
	OverallPercent  float64 `json:"overall_usage_percent"`
}

// Cluster is the storage usage of an environment.
type Cluster struct {
	Environment string         `json:"environment"`
	TotalNodes  int            `json:"total_nodes"`
	Nodes       []NodeUsage    `json:"nodes"`
	Summary     ClusterSummary `json:"cluster_summary"`
	Errors      []string       `json:"errors,omitempty"`
}

type usageResult struct {
	usage NodeUsage
	err   error
}

// ClusterUsage collects the usage of every node. Unreachable nodes are
// reported in Errors and left out of the totals.
func (m *Manager) ClusterUsage(ctx context.Context, env string) Cluster {
	c := Cluster{Environment: env, TotalNodes: len(m.nodes), Nodes: []NodeUsage{}}
	results := sshexec.FanOutFunc(ctx, m.nodes, m.workers, func(ctx context.Context, n models.NodeRef) usageResult {
		u, err := m.Usage(ctx, n)
		return usageResult{usage: u, err: err}
	})
	for _, r := range results {
		if r.err != nil {
			c.Errors = append(c.Errors, r.err.Error())
			continue
		}
		c.Nodes = append(c.Nodes, r.usage)
		c.Summary.TotalCapacityGB += r.usage.TotalCapacity
		c.Summary.TotalUsedGB += r.usage.TotalUsedGB
	}
	c.Summary.OverallPercent = percent(c.Summary.TotalUsedGB, c.Summary.TotalCapacityGB)
	return c
}

// ZKStatus is the ZooKeeper section of a health report.
type ZKStatus struct {
	Info  *ZKInfo `json:"zookeeper_info,omitempty"`
	Error string  `json:"error,omitempty"`
}

// NodeHealth is the stale disk check of one node.
type NodeHealth struct {
	NodeID  int          `json:"node_id"`
	Host    string       `json:"hostname"`
	MgmtIP  string       `json:"mgmt_ip"`
	Disks   *StaleReport `json:"disk_health,omitempty"`
	Error   string       `json:"error,omitempty"`
	Overall string       `json:"overall_health"`
}

// DiskHealth summarizes the node checks.
type DiskHealth struct {
	TotalNodes     int          `json:"total_nodes"`
	HealthyNodes   int          `json:"healthy_nodes"`
	UnhealthyNodes int          `json:"unhealthy_nodes"`
	Details        []NodeHealth `json:"node_details"`
}

// Alert is raised for a node with stale disks.
type Alert struct {
	Severity string      `json:"severity"`
	Node     string      `json:"node"`
	Message  string      `json:"message"`
	Details  []StaleDisk `json:"details"`
}

// HealthReport is the full storage health check of an environment.
type HealthReport struct {
	Environment string     `json:"environment"`
	Timestamp   string     `json:"timestamp"`
	ZK          *ZKStatus  `json:"zk_status"`
	DiskHealth  DiskHealth `json:"disk_health"`
	Alerts      []Alert    `json:"alerts"`
	Overall     string     `json:"overall_health"`
}

// HealthReport checks ZooKeeper from the first node and stale disks on
// every node. The cluster is healthy only when every node is and ZooKeeper
// has a leader.
func (m *Manager) HealthReport(ctx context.Context, env string) HealthReport {
	r := HealthReport{
		Environment: env,
		Timestamp:   m.now().Format(timeLayout),
		DiskHealth:  DiskHealth{TotalNodes: len(m.nodes), Details: []NodeHealth{}},
		Alerts:      []Alert{},
	}
	if len(m.nodes) > 0 {
		zk, err := m.Zookeeper(ctx, m.nodes[0].MgmtIP)
		if err != nil {
			r.ZK = &ZKStatus{Error: err.Error()}
		} else {
			r.ZK = &ZKStatus{Info: &zk}
		}
	}

	details := sshexec.FanOutFunc(ctx, m.nodes, m.workers, func(ctx context.Context, n models.NodeRef) NodeHealth {
		h := NodeHealth{NodeID: n.NodeID, Host: hostname(n), MgmtIP: n.MgmtIP, Overall: Unhealthy}
		stale, err := m.StaleDisks(ctx, n.MgmtIP)
		if err != nil {
			h.Error = err.Error()
			return h
		}
		h.Disks = &stale
		if stale.Healthy {
			h.Overall = Healthy
		}
		return h
	})
	for _, h := range details {
		if h.Overall == Healthy {
			r.DiskHealth.HealthyNodes++
		} else {
			r.DiskHealth.UnhealthyNodes++
			if h.Disks != nil && len(h.Disks.Disks) > 0 {
				r.Alerts = append(r.Alerts, Alert{
					Severity: "warning",
					Node:     h.Host,
					Message:  fmt.Sprintf("发现 %d 个不可访问的磁盘", len(h.Disks.Disks)),
					Details:  h.Disks.Disks,
				})
			}
		}
		r.DiskHealth.Details = append(r.DiskHealth.Details, h)
	}

	r.Overall = Unhealthy
	if r.DiskHealth.UnhealthyNodes == 0 && r.ZK != nil && r.ZK.Info != nil && r.ZK.Info.Status == Healthy {
		r.Overall = Healthy
	}
	logging.Component("blockstore").WithFields(log.Fields{
		"environment": env,
		"health":      r.Overall,
		"alerts":      len(r.Alerts),
	}).Info("Storage health checked")
	return r
}

// Error types of a failed replication query.
const (
	ErrorTypePermission = "permission"
	ErrorTypeConnection = "connection"
)

const permissionAdvice = "SSH权限问题，请检查id_rsa_cloud文件权限。建议使用 chmod 600 id_rsa_cloud"

// Replication is the replication policy and mirror set of one volume.
type Replication struct {
	Success   bool           `json:"success"`
	DiskRef   string         `json:"disk_ref"`
	Policy    map[string]any `json:"replication_info,omitempty"`
	Mirrors   string         `json:"mirrors_info,omitempty"`
	Hostname  string         `json:"hostname"`
	QueryTime string         `json:"query_time,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
}

// DiskReplication reads the replication policy and the mirror nodes of the
// volume ref through host.
func DiskReplication(ctx context.Context, runner sshexec.Runner, host, ref string) Replication {
	r := Replication{DiskRef: ref, Hostname: host}
	policy, _, err := sshexec.ReplicationPolicy(ctx, runner, host, ref)
	if err != nil {
		return replicationFailure(r, err)
	}
	mirrors, err := sshexec.Output(ctx, runner, host, sshexec.MirrorsCommand(ref))
	if err != nil {
		return replicationFailure(r, err)
	}
	r.Success = true
	r.Policy = policy
	r.Mirrors = strings.TrimSpace(mirrors)
	r.QueryTime = time.Now().Format(timeLayout)
	return r
}

func replicationFailure(r Replication, err error) Replication {
	var cmdErr *sshexec.CommandError
	permission := errors.Is(err, sshexec.ErrKeyPermission) ||
		(errors.As(err, &cmdErr) && cmdErr.Permission())
	if permission {
		r.ErrorType = ErrorTypePermission
		r.Error = permissionAdvice
	} else {
		r.ErrorType = ErrorTypeConnection
		r.Error = err.Error()
	}
	logging.Component("blockstore").WithFields(log.Fields{
		"disk_ref": r.DiskRef,
		"host":     r.Hostname,
		"type":     r.ErrorType,
	}).Warn("Replication query failed")
	return r
}

// DiskLister lists the disks attached to a VM.
type DiskLister interface {
	VMDisks(ctx context.Context, vmID string) ([]models.Disk, error)
}

// VMDisk pairs a platform disk with its storage side replication.
type VMDisk struct {
	models.Disk
	Replication *Replication `json:"replication,omitempty"`
}

// VMDiskReport lists the disks of vmID and queries the replication of each
// one through host. Disks without a ref are listed without replication.
func VMDiskReport(ctx context.Context, lister DiskLister, runner sshexec.Runner, host, vmID string, workers int) ([]VMDisk, error) {
	disks, err := lister.VMDisks(ctx, vmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list disks of VM %s: %w", vmID, err)
	}
	return sshexec.FanOutFunc(ctx, disks, workers, func(ctx context.Context, d models.Disk) VMDisk {
		out := VMDisk{Disk: d}
		if d.Ref != "" {
			rep := DiskReplication(ctx, runner, host, d.Ref)
			out.Replication = &rep
		}
		return out
	}), nil
}
