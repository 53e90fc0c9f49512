package ecu

import "math"

// ChipType is the piggyback hardware grade. Higher grades tolerate less
// protective ignition retard for the same knock reading.
type ChipType string

const (
	ChipStandard ChipType = "standard"
	ChipSport    ChipType = "sport"
	ChipRace     ChipType = "race"
)

// Multiplier returns the performance multiplier of the chip. Unknown chips
// are treated as standard.
func (c ChipType) Multiplier() float64 {
	switch c {
	case ChipSport:
		return 1.25
	case ChipRace:
		return 1.5
	default:
		return 1.0
	}
}

// TuneSettings is the user editable calibration read by the simulator every tick.
type TuneSettings struct {
	AFRTarget          float64  `yaml:"afr_target" json:"afrTarget"`
	BoostLimit         float64  `yaml:"boost_limit" json:"boostLimit"`                   // PSI, 0 disables the MAP clamp
	IgnitionOffset     float64  `yaml:"ignition_offset" json:"ignitionOffset"`           // degrees
	FuelCorrection     float64  `yaml:"fuel_correction" json:"fuelCorrection"`           // %
	TimingRetardPerPsi float64  `yaml:"timing_retard_per_psi" json:"timingRetardPerPsi"` // degrees/PSI
	RevLimit           float64  `yaml:"rev_limit" json:"revLimit"`
	TopSpeedLimit      float64  `yaml:"top_speed_limit" json:"topSpeedLimit"` // mph
	GlobalOffset       float64  `yaml:"global_offset" json:"globalOffset"`    // % scaling of the torque curve
	CrackleIntensity   float64  `yaml:"crackle_intensity" json:"crackleIntensity"`
	ChipType           ChipType `yaml:"chip_type" json:"chipType"`
}

// DefaultTune is the factory calibration.
func DefaultTune() TuneSettings {
	return TuneSettings{
		AFRTarget:          14.7,
		BoostLimit:         0,
		IgnitionOffset:     0,
		FuelCorrection:     0,
		TimingRetardPerPsi: 0.5,
		RevLimit:           7000,
		TopSpeedLimit:      160,
		GlobalOffset:       0,
		CrackleIntensity:   0,
		ChipType:           ChipStandard,
	}
}

// Sanitized returns a copy safe to feed into the simulator. Non-finite
// numbers fall back to the factory value for limits and targets, or to 0 for
// offsets. Out of range values are clamped rather than rejected.
func (t TuneSettings) Sanitized() TuneSettings {
	def := DefaultTune()
	out := t

	out.AFRTarget = finiteOr(t.AFRTarget, def.AFRTarget)
	if out.AFRTarget <= 0 {
		out.AFRTarget = def.AFRTarget
	}
	out.BoostLimit = finiteOr(t.BoostLimit, 0)
	out.IgnitionOffset = finiteOr(t.IgnitionOffset, 0)
	out.FuelCorrection = clamp(finiteOr(t.FuelCorrection, 0), -50, 50)
	out.TimingRetardPerPsi = finiteOr(t.TimingRetardPerPsi, def.TimingRetardPerPsi)
	out.RevLimit = math.Max(0, finiteOr(t.RevLimit, def.RevLimit))
	out.TopSpeedLimit = math.Max(0, finiteOr(t.TopSpeedLimit, def.TopSpeedLimit))
	out.GlobalOffset = clamp(finiteOr(t.GlobalOffset, 0), -100, 100)
	out.CrackleIntensity = clamp(finiteOr(t.CrackleIntensity, 0), 0, 100)
	switch t.ChipType {
	case ChipStandard, ChipSport, ChipRace:
	default:
		out.ChipType = ChipStandard
	}
	return out
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
