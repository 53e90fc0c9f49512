package server

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// maxOdoGap is the longest tick gap that still counts as continuous driving.
const maxOdoGap = 2 * time.Second

// updateOdometer integrates vehicle speed between two snapshots.
func (s *Server) updateOdometer(prev, next ecu.Telemetry) {
	dt := next.Time().Sub(prev.Time())
	// Ignore the first tick and stalls, like a GPS glitch
	if prev.Timestamp <= 0 || dt <= 0 || dt > maxOdoGap {
		return
	}
	miles := (prev.Speed + next.Speed) / 2 * dt.Hours()
	if !(miles > 0) {
		return
	}

	s.odoMu.Lock()
	s.odoTotal += miles
	s.odoTrip += miles
	s.odoMu.Unlock()
}

func (s *Server) resetTrip() {
	s.odoMu.Lock()
	s.odoTrip = 0
	s.odoMu.Unlock()
	s.saveOdometer()
}

// loadOdometer reads persisted odometer values from disk.
func (s *Server) loadOdometer() {
	data, err := os.ReadFile(s.odoPath)
	if err != nil {
		log.Printf("[odo] no saved data at %s (starting at 0)", s.odoPath)
		return
	}
	parts := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(parts) >= 1 {
		if v, err := strconv.ParseFloat(parts[0], 64); err == nil {
			s.odoTotal = v
		}
	}
	if len(parts) >= 2 {
		if v, err := strconv.ParseFloat(parts[1], 64); err == nil {
			s.odoTrip = v
		}
	}
	log.Printf("[odo] loaded: total=%.1f mi, trip=%.1f mi", s.odoTotal, s.odoTrip)
}

// saveOdometer persists odometer values to disk.
func (s *Server) saveOdometer() {
	s.odoMu.Lock()
	total := s.odoTotal
	trip := s.odoTrip
	s.odoMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.odoPath), 0755); err != nil {
		log.Printf("[odo] save failed: %v", err)
		return
	}

	data := fmt.Sprintf("%.6f\n%.6f\n", total, trip)
	if err := os.WriteFile(s.odoPath, []byte(data), 0644); err != nil {
		log.Printf("[odo] save failed: %v", err)
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
