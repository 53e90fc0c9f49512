package ecu

import "time"

// LaunchTimer measures standing-start runs from 0 to a target speed.
//
// A run starts when speed leaves zero and ends when speed first reaches the
// target. Coming back to a stop mid-run does not cancel it; the stale start
// is simply replaced by the next departure from zero.
type LaunchTimer struct {
	target  float64
	start   time.Time
	running bool
}

// NewLaunchTimer returns an idle timer for the given target speed.
func NewLaunchTimer(target float64) *LaunchTimer {
	if !(target > 0) {
		target = 60
	}
	return &LaunchTimer{target: target}
}

// Observe feeds one speed transition. It returns the run duration in seconds
// and true when this transition completed a run. A run that starts and ends
// on the same transition has no measurable duration and is not published.
func (l *LaunchTimer) Observe(prevSpeed, speed float64, now time.Time) (float64, bool) {
	if prevSpeed == 0 && speed > 0 {
		l.start = now
		l.running = true
	}
	if l.running && prevSpeed < l.target && speed >= l.target {
		l.running = false
		elapsed := now.Sub(l.start).Seconds()
		if elapsed <= 0 {
			return 0, false
		}
		return elapsed, true
	}
	return 0, false
}

// Running reports whether a run is in progress.
func (l *LaunchTimer) Running() bool { return l.running }

// Target returns the finishing speed.
func (l *LaunchTimer) Target() float64 { return l.target }

// Reset discards any run in progress.
func (l *LaunchTimer) Reset() {
	l.running = false
	l.start = time.Time{}
}
