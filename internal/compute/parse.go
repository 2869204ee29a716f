// Package compute reads the virtualization layer through the arcompute and
// arblock command line tools on the controller node.
package compute

import (
	"strconv"
	"strings"
)

// Hypervisor is one row of `arcompute hypervisor-list`.
type Hypervisor struct {
	ID       int    `json:"id"`
	Host     string `json:"host"`
	State    string `json:"state"`
	Status   string `json:"status"`
	VMsCount int    `json:"vms_count"`
}

// VM is one row of `arcompute list`.
type VM struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Host   string `json:"host"`
}

// Services maps service type to host to status.
type Services map[string]map[string]string

// Detail is a parsed key/value table. Values are int, float64 or string.
type Detail map[string]any

// cells splits a table row into its trimmed non-empty cells. Separator
// lines, header rows and lines without a pipe yield nil.
func cells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "+") || !strings.Contains(line, "|") {
		return nil
	}
	var out []string
	for _, p := range strings.Split(line, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isHeader(row []string) bool {
	if len(row) == 0 {
		return false
	}
	switch strings.ToLower(row[0]) {
	case "id", "property", "field", "binary":
		return true
	}
	return false
}

// ParseHypervisors parses `arcompute hypervisor-list`. Rows whose id is not
// an integer are skipped; a non-numeric VM count becomes 0.
func ParseHypervisors(output string) []Hypervisor {
	var out []Hypervisor
	for _, line := range strings.Split(output, "\n") {
		row := cells(line)
		if len(row) < 5 || isHeader(row) {
			continue
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			continue
		}
		count, _ := strconv.Atoi(row[4])
		out = append(out, Hypervisor{ID: id, Host: row[1], State: row[2], Status: row[3], VMsCount: count})
	}
	return out
}

// ParseVMs parses `arcompute list`.
func ParseVMs(output string) []VM {
	var out []VM
	for _, line := range strings.Split(output, "\n") {
		row := cells(line)
		if len(row) < 4 || isHeader(row) {
			continue
		}
		out = append(out, VM{ID: row[0], Name: row[1], Status: row[2], Host: row[3]})
	}
	return out
}

// ParseServices parses `arcompute service-list` rows of
// name | host | type | status.
func ParseServices(output string) Services {
	out := Services{}
	for _, line := range strings.Split(output, "\n") {
		row := cells(line)
		if len(row) < 4 || isHeader(row) {
			continue
		}
		host, kind, status := row[1], row[2], row[3]
		if out[kind] == nil {
			out[kind] = map[string]string{}
		}
		out[kind][host] = status
	}
	return out
}

// ParseDetail parses a two-column show table. Keys are lower-cased with
// spaces replaced by underscores.
func ParseDetail(output string) Detail {
	out := Detail{}
	for _, line := range strings.Split(output, "\n") {
		row := cells(line)
		if len(row) < 2 || isHeader(row) {
			continue
		}
		key := strings.ReplaceAll(strings.ToLower(row[0]), " ", "_")
		out[key] = typedValue(row[1])
	}
	return out
}

func typedValue(v string) any {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return v
}

// Int returns the numeric value of key as an int, 0 when absent or textual.
func (d Detail) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
