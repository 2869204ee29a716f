package models

import "strings"

// NodeRef names a cluster node attached to an environment. Storage and
// monitoring commands run against these nodes.
type NodeRef struct {
	NodeID   int    `json:"node_id" yaml:"nodeId"`
	Hostname string `json:"hostname" yaml:"hostname"`
	MgmtIP   string `json:"mgmt_ip" yaml:"mgmtIp"`
	Role     string `json:"role,omitempty" yaml:"role,omitempty"`
}

// Environment is one platform entry of the environment registry.
type Environment struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	Username       string    `json:"username"`
	Password       string    `json:"password"`
	Description    string    `json:"description"`
	Tags           []string  `json:"tags"`
	StorageBackend string    `json:"storage_backend,omitempty"`
	Nodes          []NodeRef `json:"nodes,omitempty"`
}

// Masked returns a copy whose password is replaced by a fixed mask.
func (e Environment) Masked() Environment {
	if e.Password != "" {
		e.Password = "********"
	}
	return e
}

// Matches reports whether keyword occurs, case-insensitively, in the id,
// name, description or any tag.
func (e Environment) Matches(keyword string) bool {
	k := strings.ToLower(keyword)
	fields := append([]string{e.ID, e.Name, e.Description}, e.Tags...)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), k) {
			return true
		}
	}
	return false
}

// NodeIPs returns the management IPs of the attached nodes, in order.
func (e Environment) NodeIPs() []string {
	ips := make([]string, 0, len(e.Nodes))
	for _, n := range e.Nodes {
		ips = append(ips, n.MgmtIP)
	}
	return ips
}
