// Package logging sets up logrus for archer_ops.
//
// The console gets short text lines, the log file gets one JSON object per
// entry. Every entry carries a job field naming the run, and Component
// adds the subsystem.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// job identifies one run of the program in the log file.
var job = filepath.Base(os.Args[0]) + "-" + time.Now().Format("2006-01-02T15:04:05")

var (
	mu      sync.Mutex
	logFile *os.File
)

// fileHook writes every entry as JSON, whatever the console formatter is.
type fileHook struct {
	w         io.Writer
	formatter log.Formatter
}

func (h *fileHook) Levels() []log.Level { return log.AllLevels }

func (h *fileHook) Fire(e *log.Entry) error {
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = h.w.Write(b)
	return err
}

// PrepareLogs sends the console log to console (stderr by default, since
// stdout carries command output or the MCP protocol) and appends JSON
// entries to logName. Calling it again replaces the previous file.
func PrepareLogs(logName string, console io.Writer) error {
	f, err := os.OpenFile(logName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logName, err)
	}
	if console == nil {
		console = os.Stderr
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f

	hooks := make(log.LevelHooks)
	hooks.Add(&fileHook{w: f, formatter: &log.JSONFormatter{TimestampFormat: time.RFC3339}})
	log.StandardLogger().ReplaceHooks(hooks)
	log.SetOutput(console)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true, DisableQuote: true})
	return nil
}

// Component returns an entry tagged with the job and the subsystem name:
// Component("ssh"), Component("batch").
func Component(name string) *log.Entry {
	return log.WithFields(log.Fields{"job": job, "component": name})
}

// LogWarn logs msg with the job field.
func LogWarn(msg string) {
	log.WithField("job", job).Warn(msg)
}

// LogError logs a recoverable error.
func LogError(msg string) {
	log.WithField("job", job).Error(msg)
}
