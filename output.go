package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
)

const maxColWidth = 60

var (
	good = color.New(color.FgGreen).SprintFunc()
	warn = color.New(color.FgYellow).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
)

// printer writes command results as a table or, with --output json, as
// indented JSON.
type printer struct {
	out  io.Writer
	json bool
}

// render writes v as JSON, or the table fill builds. A nil fill always
// prints JSON.
func (p printer) render(v any, fill func(t *uitable.Table)) error {
	if p.json || fill == nil {
		return p.writeJSON(v)
	}
	t := uitable.New()
	t.MaxColWidth = maxColWidth
	t.Wrap = true
	fill(t)
	_, err := fmt.Fprintln(p.out, t)
	return err
}

func (p printer) writeJSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// message prints a line in table mode and {"message": ...} in JSON mode.
func (p printer) message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if p.json {
		return p.writeJSON(map[string]string{"message": msg})
	}
	_, err := fmt.Fprintln(p.out, msg)
	return err
}

// colorStatus colours well known status words.
func colorStatus(status string) string {
	switch strings.ToLower(status) {
	case "healthy", "success", "running", "active", "ok", "on", "up":
		return good(status)
	case "warning", "partial", "degraded", "starting", "creating":
		return warn(status)
	case "critical", "error", "unhealthy", "failed", "off", "stopped", "down", "inactive":
		return bad(status)
	}
	return status
}

func yesNo(b bool) string {
	if b {
		return good("yes")
	}
	return bad("no")
}
