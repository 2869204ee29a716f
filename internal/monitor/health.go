package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/sshexec"
	log "github.com/sirupsen/logrus"
)

// Component names.
const (
	ComponentAPI      = "api"
	ComponentDatabase = "database"
	ComponentQueue    = "message_queue"
	ComponentResource = "resource_service"
)

// Components lists the checked components in report order.
var Components = []string{ComponentAPI, ComponentDatabase, ComponentQueue, ComponentResource}

// Status values.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// ErrUnknownComponent is returned for a component outside Components.
var ErrUnknownComponent = errors.New("unknown component")

const (
	apiActiveCommand      = "systemctl is-active haihe-api || ps aux | grep haihe-api | grep -v grep"
	apiProbeCommand       = "curl -s -o /dev/null -w '%{http_code}' http://localhost:8080/health || echo '000'"
	dbActiveCommand       = "systemctl is-active mariadb || systemctl is-active mysql || ps aux | grep mariadb | grep -v grep"
	dbProbeCommand        = "mysql -e 'SELECT 1;' 2>/dev/null || echo 'connection_failed'"
	queueActiveCommand    = "systemctl is-active rabbitmq-server || systemctl is-active redis || ps aux | grep rabbitmq | grep -v grep"
	resourceActiveCommand = "systemctl is-active haihe-resource || ps aux | grep haihe-resource | grep -v grep"
)

// ComponentHealth is the check result of one component.
type ComponentHealth struct {
	Component      string  `json:"component"`
	OK             bool    `json:"ok"`
	Active         bool    `json:"is_active"`
	ResponseTimeMS float64 `json:"response_time_ms,omitempty"`
	ConnectionOK   *bool   `json:"connection_ok,omitempty"`
	Score          int     `json:"health_score"`
	Error          string  `json:"error,omitempty"`
}

// IsActive reads the output of a `systemctl is-active ... || ps ...` chain.
// An "active" line or any process line counts; the inactive states
// systemctl prints do not.
func IsActive(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		switch strings.TrimSpace(line) {
		case "active":
			return true
		case "", "inactive", "failed", "unknown", "activating", "deactivating":
			continue
		default:
			return true
		}
	}
	return false
}

// probe runs cmd and returns stdout even when the chain exits non-zero;
// only a transport failure is an error.
func (m *Monitor) probe(ctx context.Context, ip, cmd string) (sshexec.Result, error) {
	res, err := m.runner.Run(ctx, ip, cmd)
	if err != nil {
		return res, fmt.Errorf("%s on %s: %w", cmd, ip, err)
	}
	return res, nil
}

// Component checks one component on ip.
func (m *Monitor) Component(ctx context.Context, ip, name string) (ComponentHealth, error) {
	switch name {
	case ComponentAPI:
		return m.checkAPI(ctx, ip), nil
	case ComponentDatabase:
		return m.checkDatabase(ctx, ip), nil
	case ComponentQueue:
		return m.checkService(ctx, ip, name, queueActiveCommand), nil
	case ComponentResource:
		return m.checkService(ctx, ip, name, resourceActiveCommand), nil
	}
	return ComponentHealth{}, fmt.Errorf("%w: %s", ErrUnknownComponent, name)
}

func failed(name string, err error) ComponentHealth {
	return ComponentHealth{Component: name, Error: err.Error()}
}

func (m *Monitor) checkAPI(ctx context.Context, ip string) ComponentHealth {
	res, err := m.probe(ctx, ip, apiActiveCommand)
	if err != nil {
		return failed(ComponentAPI, err)
	}
	h := ComponentHealth{Component: ComponentAPI, OK: true, Active: IsActive(res.Stdout)}
	if h.Active {
		probe, err := m.probe(ctx, ip, apiProbeCommand)
		if err != nil {
			return failed(ComponentAPI, err)
		}
		h.ResponseTimeMS = round2(float64(probe.Duration.Microseconds()) / 1000)
	}
	h.Score = 50
	if h.Active && h.ResponseTimeMS < m.thresholds.APIResponseMS {
		h.Score = 100
	}
	return h
}

func (m *Monitor) checkDatabase(ctx context.Context, ip string) ComponentHealth {
	res, err := m.probe(ctx, ip, dbActiveCommand)
	if err != nil {
		return failed(ComponentDatabase, err)
	}
	h := ComponentHealth{Component: ComponentDatabase, OK: true, Active: IsActive(res.Stdout)}
	conn := false
	if h.Active {
		probe, err := m.probe(ctx, ip, dbProbeCommand)
		if err != nil {
			return failed(ComponentDatabase, err)
		}
		conn = !strings.Contains(probe.Stdout, "connection_failed")
	}
	h.ConnectionOK = &conn
	h.Score = 50
	if h.Active && conn {
		h.Score = 100
	}
	return h
}

func (m *Monitor) checkService(ctx context.Context, ip, name, cmd string) ComponentHealth {
	res, err := m.probe(ctx, ip, cmd)
	if err != nil {
		return failed(name, err)
	}
	h := ComponentHealth{Component: name, OK: true, Active: IsActive(res.Stdout)}
	if h.Active {
		h.Score = 100
	}
	return h
}

// ComponentReport is the result of CheckAll.
type ComponentReport struct {
	Components map[string]ComponentHealth `json:"components"`
	Score      float64                    `json:"overall_health_score"`
	Status     string                     `json:"overall_status"`
}

// ScoreStatus maps a health score to healthy, warning or critical.
func ScoreStatus(score float64) string {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 60:
		return StatusWarning
	}
	return StatusCritical
}

// CheckAll checks every component on ip. A component that could not be
// reached scores 0.
func (m *Monitor) CheckAll(ctx context.Context, ip string) ComponentReport {
	r := ComponentReport{Components: make(map[string]ComponentHealth, len(Components))}
	total := 0
	for _, name := range Components {
		h, _ := m.Component(ctx, ip, name)
		r.Components[name] = h
		if h.OK {
			total += h.Score
		}
	}
	r.Score = round2(float64(total) / float64(len(Components)))
	r.Status = ScoreStatus(r.Score)
	return r
}

// Alert is a threshold violation.
type Alert struct {
	Severity  string `json:"severity"`
	Type      string `json:"type"`
	Metric    string `json:"metric"`
	Current   any    `json:"current_value"`
	Threshold any    `json:"threshold"`
	Message   string `json:"message"`
}

// Alerts compares a snapshot with the thresholds. A resource more than 10%
// above its limit is critical. logs may be nil when the analysis failed.
func Alerts(res Resources, logs *LogAnalysis, components ComponentReport, th models.Thresholds) []Alert {
	alerts := []Alert{}
	metrics := []struct {
		name  string
		value float64
		limit float64
	}{
		{"cpu_percent", res.CPUPercent, th.CPUPercent},
		{"memory_percent", res.MemoryPercent, th.MemoryPercent},
		{"disk_percent", res.DiskPercent, th.DiskPercent},
	}
	for _, mt := range metrics {
		if mt.value <= mt.limit {
			continue
		}
		severity := StatusWarning
		if mt.value > mt.limit*1.1 {
			severity = StatusCritical
		}
		alerts = append(alerts, Alert{
			Severity:  severity,
			Type:      "resource",
			Metric:    mt.name,
			Current:   mt.value,
			Threshold: mt.limit,
			Message:   fmt.Sprintf("%s 使用率 %v%% 超过阈值 %v%%", strings.ToUpper(mt.name), mt.value, mt.limit),
		})
	}

	if logs != nil && float64(len(logs.Errors)) > th.ErrorRate {
		alerts = append(alerts, Alert{
			Severity:  StatusWarning,
			Type:      "log",
			Metric:    "error_count",
			Current:   len(logs.Errors),
			Threshold: th.ErrorRate,
			Message:   fmt.Sprintf("日志错误数 %d 超过阈值 %v", len(logs.Errors), th.ErrorRate),
		})
	}

	for _, name := range Components {
		h, ok := components.Components[name]
		if !ok || !h.OK || h.Active {
			continue
		}
		alerts = append(alerts, Alert{
			Severity:  StatusCritical,
			Type:      "component",
			Metric:    name + "_status",
			Current:   "down",
			Threshold: "up",
			Message:   fmt.Sprintf("组件 %s 状态异常", strings.ToUpper(name)),
		})
	}
	return alerts
}

// Status is the platform status report of an environment.
type Status struct {
	Environment string          `json:"environment"`
	Timestamp   string          `json:"timestamp"`
	Controller  string          `json:"controller_node"`
	Overall     string          `json:"overall_status"`
	Score       float64         `json:"health_score"`
	Resources   Resources       `json:"resources"`
	Logs        *LogAnalysis    `json:"log_analysis,omitempty"`
	LogError    string          `json:"log_error,omitempty"`
	Components  ComponentReport `json:"component_health"`
	Alerts      []Alert         `json:"alerts"`
}

// PlatformStatus runs every check against node and derives the overall
// status: healthy needs a score of 80 and no alerts.
func (m *Monitor) PlatformStatus(ctx context.Context, env string, node models.NodeRef) Status {
	s := Status{
		Environment: env,
		Timestamp:   m.now().Format(timeLayout),
		Controller:  node.Hostname,
	}
	if s.Controller == "" {
		s.Controller = node.MgmtIP
	}
	s.Resources = m.Resources(ctx, node.MgmtIP)
	if logs, err := m.AnalyzeLogs(ctx, node.MgmtIP, 1); err != nil {
		s.LogError = err.Error()
	} else {
		s.Logs = &logs
	}
	s.Components = m.CheckAll(ctx, node.MgmtIP)
	s.Alerts = Alerts(s.Resources, s.Logs, s.Components, m.thresholds)
	s.Score = s.Components.Score

	switch {
	case s.Score >= 80 && len(s.Alerts) == 0:
		s.Overall = StatusHealthy
	case s.Score >= 60:
		s.Overall = StatusWarning
	default:
		s.Overall = StatusCritical
	}
	logging.Component("monitor").WithFields(log.Fields{
		"environment": env,
		"status":      s.Overall,
		"score":       s.Score,
		"alerts":      len(s.Alerts),
	}).Info("Platform status collected")
	return s
}
