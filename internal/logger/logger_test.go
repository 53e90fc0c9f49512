package logger

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func tick(i int) ecu.Telemetry {
	t := ecu.InitialTelemetry(epoch.Add(time.Duration(i) * 100 * time.Millisecond))
	t.RPM = 1000 + float64(i)
	return t
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecordHonoursInterval(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir, IntervalMs: 200})
	defer l.Close()

	for i := 0; i < 10; i++ {
		l.Record(tick(i))
	}
	path := l.Path()
	require.NotEmpty(t, path)
	assert.Contains(t, filepath.Base(path), l.Session()[:8])

	rows := readCSV(t, path)
	require.Len(t, rows, 6) // header + ticks 0,2,4,6,8
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "1000", rows[1][1])
	assert.Equal(t, "1002", rows[2][1])
	assert.Equal(t, "", rows[1][16])
}

func TestDisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: false, Path: dir})
	l.Record(tick(0))
	assert.False(t, l.IsEnabled())
	assert.Empty(t, l.Path())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestToggleClosesFile(t *testing.T) {
	dir := t.TempDir()
	l := New(Config{Enabled: true, Path: dir})
	l.Record(tick(0))
	require.NotEmpty(t, l.Path())

	l.SetEnabled(false)
	assert.Empty(t, l.Path())
	l.Record(tick(5))

	l.SetEnabled(true)
	l.Record(tick(10))
	defer l.Close()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteCSV(t *testing.T) {
	v := 4.25
	row := tick(1)
	row.ZeroToSixty = &v

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []ecu.Telemetry{tick(0), row}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp,rpm,boost_psi"))
	assert.True(t, strings.HasPrefix(lines[2], "2024-06-01T12:00:00.1Z,1001,"), lines[2])
	assert.True(t, strings.HasSuffix(lines[2], ",4.25"), lines[2])
}
