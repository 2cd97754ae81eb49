package display

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "just now", FormatAge(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", FormatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", FormatAge(now.Add(-3*time.Hour), now))
	assert.Equal(t, "10d ago", FormatAge(now.AddDate(0, 0, -10), now))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]OutputFormat{"": FormatTable, "table": FormatTable, "JSON": FormatJSON, "yaml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestEncode(t *testing.T) {
	v := map[string]interface{}{"filename": "backup-1.zip", "size": 42}

	var js bytes.Buffer
	require.NoError(t, Encode(&js, FormatJSON, v))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "backup-1.zip", decoded["filename"])

	var ym bytes.Buffer
	require.NoError(t, Encode(&ym, FormatYAML, v))
	var decodedYAML map[string]interface{}
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &decodedYAML))
	assert.Equal(t, 42, decodedYAML["size"])

	assert.Error(t, Encode(&js, FormatTable, v))
}

func TestTableRender(t *testing.T) {
	table := NewTable("NAME", "SIZE")
	table.MaxWidth = 0
	table.SetAlignment(1, AlignRight)
	table.AddRow("backup-1.zip", "1.0 KiB")
	table.AddRow("uploaded-20240101-000000-site.zip", "12 B")

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)

	for _, line := range lines {
		assert.Equal(t, len(lines[0]), len(line), "line %q", line)
	}
	assert.Contains(t, lines[1], "NAME")
	assert.Contains(t, lines[4], "|    12 B |")
}

func TestTableTruncatesToWidth(t *testing.T) {
	table := NewTable("NAME", "SIZE")
	table.MaxWidth = 30
	table.AddRow(strings.Repeat("x", 60), "1 B")

	var buf bytes.Buffer
	require.NoError(t, table.Render(&buf))
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 30)
	}
	assert.Contains(t, buf.String(), "...")
}

func TestPrinter_StreamsAndQuiet(t *testing.T) {
	var out, errOut bytes.Buffer
	p := NewPrinter(Options{Out: &out, Err: &errOut})

	p.Success("created %s", "backup-1.zip")
	p.Warning("mirror unavailable")
	p.KeyValues([][2]string{{"Archive", "backup-1.zip"}, {"Size", "1.0 KiB"}})

	assert.Contains(t, errOut.String(), "[ok] created backup-1.zip")
	assert.Contains(t, errOut.String(), "[!!] mirror unavailable")
	assert.Contains(t, out.String(), "Archive:  backup-1.zip")
	assert.NotContains(t, out.String(), "\x1b[")

	var quietErr bytes.Buffer
	q := NewPrinter(Options{Out: &out, Err: &quietErr, Quiet: true})
	q.Info("working")
	q.Error("boom")
	assert.NotContains(t, quietErr.String(), "working")
	assert.Contains(t, quietErr.String(), "boom")
}

func TestSpinner_NonInteractive(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, NewColorSystem(&buf, false), false)
	s.Start("Restoring")
	s.Update("Restoring database")
	s.Update("Restoring database")
	s.Stop("Done")
	s.Stop("ignored")

	assert.Equal(t, "Restoring\nRestoring database\nDone\n", buf.String())
}

func TestSpinner_Animated(t *testing.T) {
	var buf safeBuffer
	s := NewSpinner(&buf, NewColorSystem(&buf, false), true)
	s.delay = time.Millisecond
	s.Start("Dumping")
	time.Sleep(20 * time.Millisecond)
	s.Stop("Dumped")

	out := buf.String()
	assert.Contains(t, out, "Dumping")
	assert.True(t, strings.HasSuffix(out, "Dumped\n"))
}

func TestColorSystem_DisabledForBuffers(t *testing.T) {
	var buf bytes.Buffer
	cs := NewColorSystem(&buf, true)
	assert.False(t, cs.Enabled())
	assert.Equal(t, "text", cs.Colorize("text", ColorRed))
}
