// Package models defines the core data structures for archer_ops.
// It includes the configuration model, the environment registry entries and
// the request/response structures of the ArcherOSS resource API.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Transport names accepted by the MCP section.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Thresholds holds the alerting limits used by the platform monitor.
type Thresholds struct {
	CPUPercent    float64 `yaml:"cpuPercent"`
	MemoryPercent float64 `yaml:"memoryPercent"`
	DiskPercent   float64 `yaml:"diskPercent"`
	APIResponseMS float64 `yaml:"apiResponseMs"`
	ErrorRate     float64 `yaml:"errorRate"`
}

// Config represents the complete application configuration for archer_ops.
// It covers the local HTTP server, the platform API, SSH and IPMI access to
// cluster nodes, the metadata database, batch pacing, the MCP server and
// OpenTelemetry.
type Config struct {
	Server struct {
		Port             string `yaml:"port"`
		Host             string `yaml:"host"`
		URI              string `yaml:"uri"`
		ScrapingInterval string `yaml:"scrapingInterval"`
		CacheTTL         string `yaml:"cacheTTL"`
		LogName          string `yaml:"logName"`
	} `yaml:"server"`

	Platform struct {
		URL                string `yaml:"url"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		VerifyTLS          bool   `yaml:"verifyTLS"`
		Timeout            string `yaml:"timeout"`
		EnvironmentsFile   string `yaml:"environmentsFile"`
		LastEnvFile        string `yaml:"lastEnvFile"`
		DefaultEnvironment string `yaml:"defaultEnvironment"`
		InventoryPath      string `yaml:"inventoryPath"`
		LicenseID          string `yaml:"licenseId"`
	} `yaml:"platform"`

	SSH struct {
		User    string `yaml:"user"`
		KeyPath string `yaml:"keyPath"`
		Port    string `yaml:"port"`
		Timeout string `yaml:"timeout"`
		Workers int    `yaml:"workers"`
	} `yaml:"ssh"`

	IPMI struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Timeout  string `yaml:"timeout"`
		Binary   string `yaml:"binary"`
	} `yaml:"ipmi"`

	Database struct {
		User            string `yaml:"user"`
		Password        string `yaml:"password"`
		Port            string `yaml:"port"`
		Charset         string `yaml:"charset"`
		DefaultDatabase string `yaml:"defaultDatabase"`
		AllowWrites     bool   `yaml:"allowWrites"`
		MaxOpenConns    int    `yaml:"maxOpenConns"`
		MaxIdleConns    int    `yaml:"maxIdleConns"`
	} `yaml:"database"`

	Batch struct {
		DiskInterval string `yaml:"diskInterval"`
		VMInterval   string `yaml:"vmInterval"`
	} `yaml:"batch"`

	MCP struct {
		Name      string `yaml:"name"`
		Version   string `yaml:"version"`
		Transport string `yaml:"transport"`
		Listen    string `yaml:"listen"`
	} `yaml:"mcp"`

	Monitor struct {
		LogPath    string     `yaml:"logPath"`
		Service    string     `yaml:"service"`
		Thresholds Thresholds `yaml:"thresholds"`
	} `yaml:"monitor"`

	OpenTelemetry struct {
		Enabled      bool    `yaml:"enabled"`
		Endpoint     string  `yaml:"endpoint"`
		Insecure     bool    `yaml:"insecure"`
		SamplingRate float64 `yaml:"samplingRate"`
	} `yaml:"opentelemetry"`
}

// envOverlay lists the settings that may be supplied through ARCHER_*
// environment variables. Secrets usually arrive this way so they stay out of
// the YAML file.
type envOverlay struct {
	PlatformURL      string `envconfig:"PLATFORM_URL"`
	PlatformUsername string `envconfig:"PLATFORM_USERNAME"`
	PlatformPassword string `envconfig:"PLATFORM_PASSWORD"`
	SSHUser          string `envconfig:"SSH_USER"`
	SSHKeyPath       string `envconfig:"SSH_KEY_PATH"`
	IPMIUsername     string `envconfig:"IPMI_USERNAME"`
	IPMIPassword     string `envconfig:"IPMI_PASSWORD"`
	DatabaseUser     string `envconfig:"DATABASE_USER"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD"`
	OTelEndpoint     string `envconfig:"OTEL_ENDPOINT"`
}

// EnvPrefix is the prefix of the environment variables read by ApplyEnv.
const EnvPrefix = "ARCHER"

// ApplyEnv overlays non-empty ARCHER_* environment variables onto the
// configuration. It is called after the YAML file is decoded and before
// Validate.
func (c *Config) ApplyEnv() error {
	var env envOverlay
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to read %s_* environment: %w", EnvPrefix, err)
	}

	overlay := []struct {
		src string
		dst *string
	}{
		{env.PlatformURL, &c.Platform.URL},
		{env.PlatformUsername, &c.Platform.Username},
		{env.PlatformPassword, &c.Platform.Password},
		{env.SSHUser, &c.SSH.User},
		{env.SSHKeyPath, &c.SSH.KeyPath},
		{env.IPMIUsername, &c.IPMI.Username},
		{env.IPMIPassword, &c.IPMI.Password},
		{env.DatabaseUser, &c.Database.User},
		{env.DatabasePassword, &c.Database.Password},
		{env.OTelEndpoint, &c.OpenTelemetry.Endpoint},
	}
	for _, o := range overlay {
		if o.src != "" {
			*o.dst = o.src
		}
	}
	return nil
}

// SetDefaults fills every optional field that was left empty.
// This method is called automatically by Validate() before validation checks.
func (c *Config) SetDefaults() {
	setString(&c.Server.Port, "2112")
	setString(&c.Server.Host, "0.0.0.0")
	setString(&c.Server.URI, "/metrics")
	setString(&c.Server.ScrapingInterval, "1m")
	setString(&c.Server.CacheTTL, "5m")
	setString(&c.Server.LogName, "archer_ops.log")

	setString(&c.Platform.Username, "admin")
	setString(&c.Platform.Timeout, "20m")
	setString(&c.Platform.EnvironmentsFile, "environments.json")
	setString(&c.Platform.LastEnvFile, ".last_disk_env")
	setString(&c.Platform.DefaultEnvironment, "production")
	setString(&c.Platform.InventoryPath, "/usr/local/cloudos-lcm_libs/CloudOs/inventory/hosts")
	setString(&c.Platform.LicenseID, "t2t2t124-t3t1-4ttt-9475-t97t3159t41t")

	setString(&c.SSH.User, "cloud")
	setString(&c.SSH.KeyPath, "./id_rsa_cloud")
	setString(&c.SSH.Port, "22")
	setString(&c.SSH.Timeout, "30s")
	if c.SSH.Workers <= 0 {
		c.SSH.Workers = 10
	}

	setString(&c.IPMI.Username, "root")
	setString(&c.IPMI.Password, "Admin@123")
	setString(&c.IPMI.Timeout, "30s")
	setString(&c.IPMI.Binary, "ipmitool")

	setString(&c.Database.User, "root")
	setString(&c.Database.Password, "cloudadmin#Passw0rd")
	setString(&c.Database.Port, "3306")
	setString(&c.Database.Charset, "utf8mb4")
	setString(&c.Database.DefaultDatabase, "xu_resource")
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 5
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 2
	}

	setString(&c.Batch.DiskInterval, "2s")
	setString(&c.Batch.VMInterval, "3s")

	setString(&c.MCP.Name, "archer-ops")
	setString(&c.MCP.Version, "1.0.0")
	setString(&c.MCP.Transport, TransportStdio)
	setString(&c.MCP.Listen, "0.0.0.0:8080")

	setString(&c.Monitor.LogPath, "/var/log/haihe/resource/resource.log")
	setString(&c.Monitor.Service, "haihe-resource")
	setFloat(&c.Monitor.Thresholds.CPUPercent, 80)
	setFloat(&c.Monitor.Thresholds.MemoryPercent, 85)
	setFloat(&c.Monitor.Thresholds.DiskPercent, 90)
	setFloat(&c.Monitor.Thresholds.APIResponseMS, 1000)
	setFloat(&c.Monitor.Thresholds.ErrorRate, 5)

	if c.OpenTelemetry.Enabled && c.OpenTelemetry.SamplingRate == 0 {
		c.OpenTelemetry.SamplingRate = 1.0
	}
}

func setString(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func setFloat(field *float64, value float64) {
	if *field == 0 {
		*field = value
	}
}

// Validate checks if the configuration is valid and returns an error if not.
// It validates ports (1-65535), every duration field, the platform URL scheme
// when one is set, the MCP transport and the OpenTelemetry settings.
//
// This method calls SetDefaults() before validation to ensure optional fields
// have appropriate default values.
//
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	c.SetDefaults()

	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}
	if !strings.HasPrefix(c.Server.URI, "/") {
		return fmt.Errorf("invalid server URI: %s (must start with /)", c.Server.URI)
	}
	if err := validatePort("ssh", c.SSH.Port); err != nil {
		return err
	}
	if err := validatePort("database", c.Database.Port); err != nil {
		return err
	}

	durations := map[string]string{
		"scraping interval":   c.Server.ScrapingInterval,
		"cache TTL":           c.Server.CacheTTL,
		"platform timeout":    c.Platform.Timeout,
		"ssh timeout":         c.SSH.Timeout,
		"ipmi timeout":        c.IPMI.Timeout,
		"batch disk interval": c.Batch.DiskInterval,
		"batch vm interval":   c.Batch.VMInterval,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Platform.URL != "" && !IsHTTPURL(c.Platform.URL) {
		return fmt.Errorf("invalid platform URL: %s (must start with http:// or https://)", c.Platform.URL)
	}

	if c.MCP.Transport != TransportStdio && c.MCP.Transport != TransportHTTP {
		return fmt.Errorf("invalid MCP transport: %s (must be %s or %s)", c.MCP.Transport, TransportStdio, TransportHTTP)
	}

	if c.OpenTelemetry.Enabled {
		if c.OpenTelemetry.Endpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when tracing is enabled")
		}
		if c.OpenTelemetry.SamplingRate < 0 || c.OpenTelemetry.SamplingRate > 1 {
			return fmt.Errorf("invalid OpenTelemetry sampling rate: %v (must be between 0 and 1)", c.OpenTelemetry.SamplingRate)
		}
	}

	return nil
}

func validatePort(section, value string) error {
	if value == "" {
		return fmt.Errorf("%s port is required", section)
	}
	if port, err := strconv.Atoi(value); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %s", section, value)
	}
	return nil
}

// IsHTTPURL reports whether raw starts with an http or https scheme.
func IsHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

// GetServerAddress returns the complete server address for HTTP server binding.
// Format: host:port
//
// Example: "0.0.0.0:2112"
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetScrapingDuration parses and returns the scraping interval.
func (c *Config) GetScrapingDuration() (time.Duration, error) {
	return time.ParseDuration(c.Server.ScrapingInterval)
}

// GetCacheTTL returns the inventory cache TTL, or 5 minutes when unparsable.
func (c *Config) GetCacheTTL() time.Duration {
	return durationOr(c.Server.CacheTTL, 5*time.Minute)
}

// GetPlatformTimeout returns the per-request timeout for the platform API.
func (c *Config) GetPlatformTimeout() time.Duration {
	return durationOr(c.Platform.Timeout, 20*time.Minute)
}

// GetSSHTimeout returns the SSH dial timeout.
func (c *Config) GetSSHTimeout() time.Duration {
	return durationOr(c.SSH.Timeout, 30*time.Second)
}

// GetSSHPort returns the SSH port as an integer.
func (c *Config) GetSSHPort() int {
	port, err := strconv.Atoi(c.SSH.Port)
	if err != nil {
		return 22
	}
	return port
}

// GetIPMITimeout returns the timeout applied to a single ipmitool call.
func (c *Config) GetIPMITimeout() time.Duration {
	return durationOr(c.IPMI.Timeout, 30*time.Second)
}

// GetDiskInterval returns the pause between two disk creations of a batch.
func (c *Config) GetDiskInterval() time.Duration {
	return durationOr(c.Batch.DiskInterval, 2*time.Second)
}

// GetVMInterval returns the pause between two VM creations of a batch.
func (c *Config) GetVMInterval() time.Duration {
	return durationOr(c.Batch.VMInterval, 3*time.Second)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsOTelEnabled reports whether OpenTelemetry tracing is configured.
func (c *Config) IsOTelEnabled() bool {
	return c.OpenTelemetry.Enabled
}

// MaskPassword returns a masked version of the platform password for safe logging.
func (c *Config) MaskPassword() string {
	return MaskSecret(c.Platform.Password)
}

// MaskSecret shows the first 4 and last 4 characters of a secret with
// asterisks in between. Secrets of 8 characters or fewer become "****".
//
// Example: "abcd1234efgh5678" -> "abcd****5678"
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
