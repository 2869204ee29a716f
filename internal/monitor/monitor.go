// Package monitor collects resource usage, log statistics and component
// health from the controller node of a platform.
package monitor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/sshexec"
	log "github.com/sirupsen/logrus"
)

const timeLayout = "2006-01-02 15:04:05"

const (
	cpuCommand    = "top -bn1 | grep 'Cpu(s)' | awk '{print $2}' | cut -d'%' -f1"
	memoryCommand = `free -m | awk 'NR==2{printf "%.2f", $3*100/$2}'`
	diskCommand   = "df -h / | awk 'NR==2{print $5}' | cut -d'%' -f1"
	loadCommand   = "uptime | awk -F'load average:' '{print $2}' | awk '{print $1}' | cut -d',' -f1"
)

// Monitor runs the checks over SSH.
type Monitor struct {
	runner     sshexec.Runner
	logPath    string
	service    string
	thresholds models.Thresholds
	now        func() time.Time
}

// New creates a Monitor from the monitor section of cfg.
func New(cfg *models.Config, runner sshexec.Runner) *Monitor {
	return &Monitor{
		runner:     runner,
		logPath:    cfg.Monitor.LogPath,
		service:    cfg.Monitor.Service,
		thresholds: cfg.Monitor.Thresholds,
		now:        time.Now,
	}
}

// ControllerNode picks the node with the controller role, else the first
// one.
func ControllerNode(nodes []models.NodeRef) (models.NodeRef, bool) {
	for _, n := range nodes {
		if n.Role == "controller" {
			return n, true
		}
	}
	if len(nodes) == 0 {
		return models.NodeRef{}, false
	}
	return nodes[0], true
}

// Resources is a usage snapshot of one node. Percentages are 0..100.
type Resources struct {
	NodeIP        string  `json:"node_ip"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	LoadAverage   float64 `json:"load_average"`
}

// Resources samples cpu, memory, root disk and the 1 minute load of ip.
// A value that cannot be read or parsed is 0.
func (m *Monitor) Resources(ctx context.Context, ip string) Resources {
	return Resources{
		NodeIP:        ip,
		CPUPercent:    m.number(ctx, ip, cpuCommand),
		MemoryPercent: m.number(ctx, ip, memoryCommand),
		DiskPercent:   m.number(ctx, ip, diskCommand),
		LoadAverage:   m.number(ctx, ip, loadCommand),
	}
}

func (m *Monitor) number(ctx context.Context, ip, cmd string) float64 {
	out, err := sshexec.Output(ctx, m.runner, ip, cmd)
	if err != nil {
		logging.Component("monitor").WithFields(log.Fields{"node": ip, "error": err}).Debug("Metric command failed")
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0
	}
	return v
}

// TimeRange bounds a log analysis.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LogAnalysis counts the severities of recent service log lines.
type LogAnalysis struct {
	Lines     int       `json:"log_lines"`
	Errors    []string  `json:"errors"`
	Warnings  []string  `json:"warnings"`
	InfoCount int       `json:"info_count"`
	ErrorRate float64   `json:"error_rate"`
	TimeRange TimeRange `json:"time_range"`
}

// LogCommand reads the service journal since since, falling back to the
// tail of the log file.
func (m *Monitor) LogCommand(since string) string {
	return fmt.Sprintf("journalctl -u %s --since '%s' || tail -n 1000 %s", m.service, since, m.logPath)
}

// AnalyzeLogs classifies the log lines of the last hours on ip.
func (m *Monitor) AnalyzeLogs(ctx context.Context, ip string, hours int) (LogAnalysis, error) {
	if hours <= 0 {
		hours = 1
	}
	now := m.now()
	since := now.Add(-time.Duration(hours) * time.Hour).Format(timeLayout)
	out, err := sshexec.Output(ctx, m.runner, ip, m.LogCommand(since))
	if err != nil {
		return LogAnalysis{}, fmt.Errorf("failed to read logs on %s: %w", ip, err)
	}
	a := ClassifyLogs(strings.TrimSpace(out))
	a.TimeRange = TimeRange{Start: since, End: now.Format(timeLayout)}
	return a, nil
}

// ClassifyLogs sorts lines into errors, warnings and info.
func ClassifyLogs(output string) LogAnalysis {
	a := LogAnalysis{Errors: []string{}, Warnings: []string{}}
	lines := strings.Split(output, "\n")
	a.Lines = len(lines)
	for _, line := range lines {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error"), strings.Contains(lower, "fatal"), strings.Contains(lower, "exception"):
			a.Errors = append(a.Errors, strings.TrimSpace(line))
		case strings.Contains(lower, "warn"):
			a.Warnings = append(a.Warnings, strings.TrimSpace(line))
		case strings.TrimSpace(line) != "":
			a.InfoCount++
		}
	}
	total := len(a.Errors) + len(a.Warnings) + a.InfoCount
	if total > 0 {
		a.ErrorRate = round2(float64(len(a.Errors)) / float64(total) * 100)
	}
	return a
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
