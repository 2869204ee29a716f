package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinterRender(t *testing.T) {
	color.NoColor = true
	rows := []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}{{"1", "vm-<a>"}, {"2", "vm-b"}}
	fill := func(tb *uitable.Table) {
		tb.AddRow("ID", "NAME")
		for _, r := range rows {
			tb.AddRow(r.ID, r.Name)
		}
	}

	tests := []struct {
		name    string
		json    bool
		fill    func(*uitable.Table)
		want    string
		notWant string
	}{
		{name: "table", fill: fill, want: "vm-b", notWant: "{"},
		{name: "json", json: true, fill: fill, want: "\"name\": \"vm-<a>\""},
		{name: "no table layout", fill: nil, want: "\"id\": \"2\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer{out: &buf, json: tt.json}
			require.NoError(t, p.render(rows, tt.fill))
			assert.Contains(t, buf.String(), tt.want)
			if tt.notWant != "" {
				assert.NotContains(t, buf.String(), tt.notWant)
			}
		})
	}
}

func TestPrinterMessage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printer{out: &buf}.message("%d disks", 3))
	assert.Equal(t, "3 disks\n", buf.String())

	buf.Reset()
	require.NoError(t, printer{out: &buf, json: true}.message("%d disks", 3))
	assert.JSONEq(t, `{"message": "3 disks"}`, buf.String())
}

func TestColorStatus(t *testing.T) {
	color.NoColor = false
	defer func() { color.NoColor = true }()

	assert.Equal(t, good("healthy"), colorStatus("healthy"))
	assert.Equal(t, bad("CRITICAL"), colorStatus("CRITICAL"))
	assert.Equal(t, warn("warning"), colorStatus("warning"))
	assert.Equal(t, "pending", colorStatus("pending"))
	assert.NotEqual(t, "healthy", colorStatus("healthy"))
}
