package tune

import (
	"math"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
	"github.com/shaunagostinho/unimix-dash/internal/piggyback"
)

const (
	// MinSamples is the shortest history the optimizer will act on.
	MinSamples = 5

	PullThrottle   = 50.0 // samples above this count as a power pull
	KnockThreshold = 0.8
	QuietKnock     = 0.1

	CoolIntake = 45.0 // °C
	HotIntake  = 55.0 // °C

	RicherStep      = 0.2 // AFR points
	BoostHeadroom   = 1.0 // psi
	HeatRetard      = 1.5 // degrees
	OctaneAdvance   = 0.5 // degrees
	MaxAdvance      = 5.0 // degrees
	MinKnockRetard  = 1.0
	MaxKnockRetard  = 4.0
	IntegralShare   = 0.5
	MaxFuelCorr     = 25.0
	MinFuelCorrStep = 0.05
)

// calibration is the profile-specific rule applied on top of the universal
// knock and fuel rules.
type calibration int

const (
	calNone calibration = iota
	calBoostTolerant
	calThermal
)

func calibrationFor(p ecu.VehicleProfile) calibration {
	switch p.ID {
	case "motec-m1", "haltech-nexus", "universal":
		return calBoostTolerant
	case "hellcat":
		return calThermal
	case "unichip-q4":
		return calNone
	}
	switch p.Induction {
	case ecu.InductionTurbo:
		return calBoostTolerant
	case ecu.InductionSupercharged:
		return calThermal
	}
	return calNone
}

// Stats summarises the window of history the optimizer looked at.
type Stats struct {
	Samples   int     `json:"samples"`
	PullOnly  bool    `json:"pullOnly"`
	MeanAFR   float64 `json:"meanAfr"`
	PeakKnock float64 `json:"peakKnock"`
	MeanIAT   float64 `json:"meanIat"`
}

// Analyze selects the power-pull window (or the full history when there are
// no pulls) and computes its statistics.
func Analyze(history []ecu.Telemetry) Stats {
	window := make([]ecu.Telemetry, 0, len(history))
	for _, t := range history {
		if t.Throttle > PullThrottle {
			window = append(window, t)
		}
	}
	pullOnly := len(window) > 0
	if !pullOnly {
		window = history
	}

	st := Stats{Samples: len(window), PullOnly: pullOnly}
	if len(window) == 0 {
		return st
	}
	var afr, iat float64
	for _, t := range window {
		afr += t.AFR
		iat += t.IAT
		if t.Knock > st.PeakKnock {
			st.PeakKnock = t.Knock
		}
	}
	st.MeanAFR = afr / float64(len(window))
	st.MeanIAT = iat / float64(len(window))
	return st
}

// Optimize derives a tune adjustment from recorded telemetry. It is a pure
// function: the same inputs always give the same adjustment. Fewer than
// MinSamples snapshots yield an empty adjustment.
func Optimize(history []ecu.Telemetry, current ecu.TuneSettings, profile ecu.VehicleProfile) Adjustment {
	var adj Adjustment
	if len(history) < MinSamples {
		return adj
	}
	current = current.Sanitized()
	st := Analyze(history)

	afrTarget := current.AFRTarget
	ignition := current.IgnitionOffset

	switch calibrationFor(profile) {
	case calBoostTolerant:
		if st.MeanIAT < CoolIntake {
			// never richer than the profile's safe AFR
			richer := round(math.Min(afrTarget, math.Max(profile.SafeAFR, afrTarget-RicherStep)), 2)
			if richer != afrTarget {
				afrTarget = richer
				adj.AFRTarget = Float(afrTarget)
			}
			// a zero boost limit means unclamped; leave it alone
			if current.BoostLimit > 0 && profile.MaxBoost > 0 {
				boost := math.Min(current.BoostLimit+BoostHeadroom, profile.MaxBoost)
				if boost > current.BoostLimit {
					adj.BoostLimit = Float(boost)
				}
			}
		}
	case calThermal:
		if st.MeanIAT > HotIntake {
			ignition -= HeatRetard
		}
	}

	if st.PeakKnock > KnockThreshold {
		retard := math.Max(MinKnockRetard, math.Min(MaxKnockRetard, st.PeakKnock*0.5))
		ignition -= retard / current.ChipType.Multiplier()
	} else if profile.FuelType.HighOctane() && st.PeakKnock < QuietKnock && ignition < MaxAdvance {
		ignition = math.Min(MaxAdvance, ignition+OctaneAdvance)
	}
	if ignition != current.IgnitionOffset {
		adj.IgnitionOffset = Float(round(ignition, 2))
	}

	delta := piggyback.CalculateFuelTrim(st.MeanAFR, afrTarget) * IntegralShare
	if math.Abs(delta) >= MinFuelCorrStep {
		fc := math.Max(-MaxFuelCorr, math.Min(MaxFuelCorr, current.FuelCorrection+delta))
		if fc != current.FuelCorrection {
			adj.FuelCorrection = Float(round(fc, 2))
		}
	}

	return adj
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
