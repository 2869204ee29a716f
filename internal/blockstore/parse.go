// Package blockstore inspects the distributed block storage running in the
// mxsp container of the storage nodes.
package blockstore

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	zkNodeRe   = regexp.MustCompile(`Node (\d+):\s*([0-9.]+:\d+)\s*\((\w+)\)`)
	diskLineRe = regexp.MustCompile(`Disk\s+([^\s:]+):\s*(\d+)GB\s+used\s*/\s*(\d+)GB\s+total\s*\((\d+)%\)`)
)

// Health values.
const (
	Healthy   = "healthy"
	Unhealthy = "unhealthy"
	Unknown   = "unknown"
)

// ZKNode is one ZooKeeper ensemble member.
type ZKNode struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

// ZKInfo is the parsed output of `zklist -c`.
type ZKInfo struct {
	Status    string   `json:"status"`
	Nodes     []ZKNode `json:"nodes"`
	Leader    string   `json:"leader,omitempty"`
	Followers []string `json:"followers"`
	NodeCount int      `json:"node_count"`
}

// ParseZookeeper parses `zklist -c`. The ensemble is healthy once a leader
// is reported.
func ParseZookeeper(output string) ZKInfo {
	info := ZKInfo{Status: Unknown, Nodes: []ZKNode{}, Followers: []string{}}
	for _, line := range strings.Split(output, "\n") {
		m := zkNodeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n := ZKNode{ID: m[1], Address: m[2], Role: m[3]}
		info.Nodes = append(info.Nodes, n)
		if strings.EqualFold(n.Role, "leader") {
			info.Status = Healthy
			info.Leader = n.Address
		} else {
			info.Followers = append(info.Followers, n.Address)
		}
	}
	info.NodeCount = len(info.Nodes)
	return info
}

// StaleDisk is one line of `showInodes --stale`.
type StaleDisk struct {
	Info   string `json:"disk_info"`
	Status string `json:"status"`
}

// StaleReport is the stale inode check of one node.
type StaleReport struct {
	Disks   []StaleDisk `json:"stale_disks"`
	Healthy bool        `json:"healthy"`
}

// ParseStaleInodes turns every non-blank line into a stale disk.
func ParseStaleInodes(output string) StaleReport {
	r := StaleReport{Disks: []StaleDisk{}}
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			r.Disks = append(r.Disks, StaleDisk{Info: line, Status: "stale"})
		}
	}
	r.Healthy = len(r.Disks) == 0
	return r
}

// DiskUsage is one device line of `mxServices -L`.
type DiskUsage struct {
	Device       string `json:"device"`
	UsedGB       int    `json:"used_gb"`
	TotalGB      int    `json:"total_gb"`
	UsagePercent int    `json:"usage_percent"`
}

// NodeUsage is the disk usage of one storage node.
type NodeUsage struct {
	NodeID         int         `json:"node_id"`
	Hostname       string      `json:"hostname"`
	Disks          []DiskUsage `json:"disks"`
	TotalUsedGB    int         `json:"total_used_gb"`
	TotalCapacity  int         `json:"total_capacity_gb"`
	OverallPercent float64     `json:"overall_usage_percent"`
}

// ParseDiskUsage parses `mxServices -n <id> -L` and sums the devices.
func ParseDiskUsage(output string) NodeUsage {
	u := NodeUsage{Disks: []DiskUsage{}}
	for _, line := range strings.Split(output, "\n") {
		m := diskLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		d := DiskUsage{Device: m[1]}
		d.UsedGB, _ = strconv.Atoi(m[2])
		d.TotalGB, _ = strconv.Atoi(m[3])
		d.UsagePercent, _ = strconv.Atoi(m[4])
		u.Disks = append(u.Disks, d)
		u.TotalUsedGB += d.UsedGB
		u.TotalCapacity += d.TotalGB
	}
	u.OverallPercent = percent(u.TotalUsedGB, u.TotalCapacity)
	return u
}

func percent(used, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(total)*10000) / 100
}
