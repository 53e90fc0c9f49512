package ecu

import (
	"time"

	"github.com/shaunagostinho/unimix-dash/internal/piggyback"
)

// Params holds the simulator's tunable constants. They are calibrated for a
// 100ms tick; Step rescales integration and smoothing terms when the real
// tick period differs.
type Params struct {
	TickPeriod time.Duration

	// Driver pedal model
	FullThrottleChance float64 // probability of a stab to 100% per tick
	CruiseThrottleMin  float64
	CruiseThrottleSpan float64
	ThrottleSmoothing  float64

	// Engine speed
	IdleRPM        float64
	RPMPerThrottle float64
	RPMJitter      float64

	// Vehicle speed (mph per tick)
	AccelGain       float64
	Drag            float64 // fraction of current speed lost per tick
	CoastThrottle   float64 // below this the driver is braking
	BrakeDecel      float64
	TorqueCutChance float64 // chance per clamped tick of a torque cut notice

	// Manifold pressure
	PSIMax       float64 // MAP sensor full scale
	PeakBoostPsi float64 // used when the profile has no max boost
	VacuumPsi    float64 // manifold vacuum at closed throttle
	WOTThrottle  float64
	MidThrottle  float64

	// Mixture
	StoichAFR       float64
	MidAFR          float64
	AFRSmoothing    float64
	AFRNoise        float64
	CrackleThrottle float64
	CrackleMinRPM   float64
	CrackleAFRDrop  float64 // AFR drop at 100% crackle intensity

	// Detonation
	KnockLeanAFR float64
	KnockMax     float64

	// Launch timer threshold (mph)
	LaunchTarget float64
}

// DefaultParams returns the calibration used by the dashboard.
func DefaultParams() Params {
	return Params{
		TickPeriod: 100 * time.Millisecond,

		FullThrottleChance: 0.08,
		CruiseThrottleMin:  5,
		CruiseThrottleSpan: 15,
		ThrottleSmoothing:  0.15,

		IdleRPM:        800,
		RPMPerThrottle: 75,
		RPMJitter:      30,

		AccelGain:       1.8,
		Drag:            0.006,
		CoastThrottle:   10,
		BrakeDecel:      0.6,
		TorqueCutChance: 0.1,

		PSIMax:       piggyback.DefaultPSIMax,
		PeakBoostPsi: 24,
		VacuumPsi:    3,
		WOTThrottle:  85,
		MidThrottle:  45,

		StoichAFR:       14.7,
		MidAFR:          13.0,
		AFRSmoothing:    0.15,
		AFRNoise:        0.05,
		CrackleThrottle: 10,
		CrackleMinRPM:   1200,
		CrackleAFRDrop:  2.5,

		KnockLeanAFR: 13.8,
		KnockMax:     6.0,

		LaunchTarget: 60,
	}
}
