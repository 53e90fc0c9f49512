package logger

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// Logger records timestamped telemetry to CSV files with automatic rotation.
type Logger struct {
	mu       sync.Mutex
	dir      string
	interval time.Duration
	enabled  bool
	session  string

	file   *os.File
	writer *csv.Writer
	path   string
	part   int
	lastTs time.Time
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	IntervalMs int    `yaml:"interval_ms" json:"intervalMs"`
}

const (
	maxRowsPerFile = 100_000 // Rotate after 100k rows (~2.7 hrs at 10 Hz)
)

var csvHeader = []string{
	"timestamp", "rpm", "boost_psi", "afr", "throttle_pct", "knock",
	"coolant_c", "iat_c", "speed_mph", "g_force",
	"map_v", "fuel_psi", "oil_psi", "inj_duty_pct",
	"stft_pct", "ltft_pct", "zero_to_sixty_s",
}

// New creates a new Logger with a fresh session id.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/unimix"
	}
	interval := time.Duration(cfg.IntervalMs) * time.Millisecond
	if interval < 50*time.Millisecond {
		interval = 100 * time.Millisecond // Default 10 Hz
	}
	return &Logger{
		dir:      cfg.Path,
		interval: interval,
		enabled:  cfg.Enabled,
		session:  uuid.NewString(),
	}
}

// Session returns the id used in this logger's file names.
func (l *Logger) Session() string { return l.session }

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently being written, or "" if none is open.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Record writes a snapshot if the minimum interval has elapsed since the
// previous row. The snapshot's own timestamp is used.
func (l *Logger) Record(t ecu.Telemetry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	ts := t.Time()
	if !l.lastTs.IsZero() && ts.Sub(l.lastTs) < l.interval {
		return
	}
	l.lastTs = ts

	// Open/rotate file if needed
	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(ts); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(t)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

// WriteCSV writes rows with the same header and formatting as the log files.
func WriteCSV(w io.Writer, rows []ecu.Telemetry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, t := range rows {
		if err := cw.Write(buildRow(t)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	l.part++
	filename := fmt.Sprintf("unimix_%s_%s_%d.csv", now.UTC().Format("2006-01-02_150405"), l.session[:8], l.part)
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.path = path
	l.writer = csv.NewWriter(f)
	l.rows = 0

	// Write header
	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.path = ""
}

func buildRow(t ecu.Telemetry) []string {
	row := make([]string, len(csvHeader))

	row[0] = t.Time().UTC().Format(time.RFC3339Nano)
	row[1] = fmt.Sprintf("%.0f", t.RPM)
	row[2] = fmt.Sprintf("%.2f", t.Boost)
	row[3] = fmt.Sprintf("%.2f", t.AFR)
	row[4] = fmt.Sprintf("%.1f", t.Throttle)
	row[5] = fmt.Sprintf("%.2f", t.Knock)
	row[6] = fmt.Sprintf("%.1f", t.CoolantTemp)
	row[7] = fmt.Sprintf("%.1f", t.IAT)
	row[8] = fmt.Sprintf("%.1f", t.Speed)
	row[9] = fmt.Sprintf("%.3f", t.GForce)
	row[10] = fmt.Sprintf("%.3f", t.MAPVoltage)
	row[11] = fmt.Sprintf("%.1f", t.FuelPressure)
	row[12] = fmt.Sprintf("%.1f", t.OilPressure)
	row[13] = fmt.Sprintf("%.1f", t.InjDutyCycle)
	row[14] = fmt.Sprintf("%.2f", t.STFT)
	row[15] = fmt.Sprintf("%.2f", t.LTFT)
	if t.ZeroToSixty != nil {
		row[16] = strconv.FormatFloat(*t.ZeroToSixty, 'f', 2, 64)
	}

	return row
}
