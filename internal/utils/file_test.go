package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "environments.json", "{}")

	assert.True(t, FileExists(file))
	assert.True(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "last_env")))
	assert.False(t, FileExists(""))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
		check   func(t *testing.T, cfg *models.Config)
	}{
		{
			name: "platform and ssh sections",
			content: `
platform:
  url: "https://172.118.57.100"
  username: "admin"
  verifyTLS: true
ssh:
  user: "ops"
  workers: 4
database:
  allowWrites: true
`,
			check: func(t *testing.T, cfg *models.Config) {
				assert.Equal(t, "https://172.118.57.100", cfg.Platform.URL)
				assert.True(t, cfg.Platform.VerifyTLS)
				assert.Equal(t, "ops", cfg.SSH.User)
				assert.Equal(t, 4, cfg.SSH.Workers)
				assert.True(t, cfg.Database.AllowWrites)
			},
		},
		{
			name:    "monitor thresholds",
			content: "monitor:\n  thresholds:\n    cpuPercent: 70\n    errorRate: 2.5\n",
			check: func(t *testing.T, cfg *models.Config) {
				assert.Equal(t, 70.0, cfg.Monitor.Thresholds.CPUPercent)
				assert.Equal(t, 2.5, cfg.Monitor.Thresholds.ErrorRate)
			},
		},
		{
			name:    "empty file keeps zero values",
			content: "",
			check: func(t *testing.T, cfg *models.Config) {
				assert.Empty(t, cfg.Platform.URL)
			},
		},
		{name: "misspelled key", content: "platform:\n  urll: \"https://10.0.0.1\"\n", wantErr: "urll"},
		{name: "broken yaml", content: "platform: [unclosed", wantErr: "failed to decode"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "config-"+string(rune('a'+i))+".yaml", tt.content)
			var cfg models.Config
			err := ReadFile(&cfg, path)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, &cfg)
		})
	}
}

func TestReadFileMissing(t *testing.T) {
	var cfg models.Config
	assert.ErrorContains(t, ReadFile(&cfg, filepath.Join(t.TempDir(), "config.yaml")), "failed to read config file")
}

func TestReadFileEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("ARCHER_PLATFORM_PASSWORD", "env-secret")
	t.Setenv("ARCHER_DATABASE_USER", "reader")
	path := writeFile(t, t.TempDir(), "config.yaml", "platform:\n  password: \"file-secret\"\ndatabase:\n  user: \"root\"\n")

	var cfg models.Config
	require.NoError(t, ReadFile(&cfg, path))
	assert.Equal(t, "env-secret", cfg.Platform.Password)
	assert.Equal(t, "reader", cfg.Database.User)
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(writeFile(t, dir, "good.yaml", "platform:\n  url: \"https://10.0.0.1\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "2112", cfg.Server.Port, "defaults applied")
	assert.Equal(t, "production", cfg.Platform.DefaultEnvironment)

	_, err = LoadConfig(writeFile(t, dir, "bad-port.yaml", "server:\n  port: \"99999\"\n"))
	assert.ErrorContains(t, err, "invalid configuration")

	_, err = LoadConfig(writeFile(t, dir, "bad-transport.yaml", "mcp:\n  transport: \"sse\"\n"))
	assert.ErrorContains(t, err, "invalid MCP transport")

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}
