package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetLogger(t *testing.T) {
	t.Cleanup(func() {
		log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{})
	})
}

func TestPrepareLogsSplitsConsoleAndFile(t *testing.T) {
	resetLogger(t)
	path := filepath.Join(t.TempDir(), "archer_ops.log")
	var console bytes.Buffer

	require.NoError(t, PrepareLogs(path, &console))
	Component("ssh").WithField("host", "10.0.0.1").Info("connected")
	LogWarn("environment missing")

	text := console.String()
	assert.Contains(t, text, "msg=connected")
	assert.Contains(t, text, "component=ssh")
	assert.NotContains(t, text, "{")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "connected", first["msg"])
	assert.Equal(t, "ssh", first["component"])
	assert.Equal(t, "10.0.0.1", first["host"])
	assert.Equal(t, job, first["job"])

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "warning", second["level"])
}

func TestPrepareLogsTwiceKeepsOneHook(t *testing.T) {
	resetLogger(t)
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	require.NoError(t, PrepareLogs(first, &bytes.Buffer{}))
	require.NoError(t, PrepareLogs(second, &bytes.Buffer{}))
	LogError("after reload")

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Empty(t, data)

	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "after reload"))
}

func TestPrepareLogsMissingDirectory(t *testing.T) {
	resetLogger(t)
	err := PrepareLogs(filepath.Join(t.TempDir(), "logs", "nested.log"), nil)
	assert.ErrorContains(t, err, "failed to open log file")
}
