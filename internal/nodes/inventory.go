// Package nodes reads the cluster node inventory and drives node
// management: system information over SSH and power control over IPMI.
package nodes

import (
	"strings"
)

// Node is one host of the ansible inventory.
type Node struct {
	Hostname     string `json:"hostname"`
	MgmtIP       string `json:"mgmt_ip"`
	IPMIIP       string `json:"ipmi_ip,omitempty"`
	IPMIUser     string `json:"ipmi_username,omitempty"`
	IPMIPassword string `json:"-"`
}

// ParseInventory extracts nodes from the content of an ansible hosts file.
// Only lines with " ansible_host=" are considered, and a node needs both a
// node* hostname and a management IP.
func ParseInventory(text string) []Node {
	var out []Node
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || !strings.Contains(line, " ansible_host=") {
			continue
		}
		var n Node
		for _, field := range strings.Fields(line) {
			key, value, hasValue := strings.Cut(field, "=")
			switch {
			case hasValue && key == "ansible_host":
				n.MgmtIP = value
			case hasValue && key == "ipmi_ip":
				n.IPMIIP = value
			case hasValue && key == "ipmi_username":
				n.IPMIUser = value
			case hasValue && key == "ipmi_password":
				n.IPMIPassword = value
			case !hasValue && strings.HasPrefix(field, "node"):
				n.Hostname = field
			}
		}
		if n.Hostname != "" && n.MgmtIP != "" {
			out = append(out, n)
		}
	}
	return out
}

// Filter keeps the nodes whose hostname is in names. An empty names keeps all.
func Filter(nodes []Node, names []string) []Node {
	if len(names) == 0 {
		return nodes
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = true
	}
	var out []Node
	for _, n := range nodes {
		if want[n.Hostname] {
			out = append(out, n)
		}
	}
	return out
}
