// Package tune derives tune changes from recorded telemetry and holds the
// static calibration data (presets and the vehicle profile catalog).
package tune

import (
	"fmt"
	"strings"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// Adjustment is a partial TuneSettings. Nil fields are left untouched when
// the adjustment is applied, so callers can merge it non-destructively.
type Adjustment struct {
	AFRTarget          *float64 `json:"afrTarget,omitempty"`
	BoostLimit         *float64 `json:"boostLimit,omitempty"`
	IgnitionOffset     *float64 `json:"ignitionOffset,omitempty"`
	FuelCorrection     *float64 `json:"fuelCorrection,omitempty"`
	TimingRetardPerPsi *float64 `json:"timingRetardPerPsi,omitempty"`
	RevLimit           *float64 `json:"revLimit,omitempty"`
	TopSpeedLimit      *float64 `json:"topSpeedLimit,omitempty"`
	GlobalOffset       *float64 `json:"globalOffset,omitempty"`
	CrackleIntensity   *float64 `json:"crackleIntensity,omitempty"`

	ChipType *ecu.ChipType `json:"chipType,omitempty"`
}

// IsEmpty reports whether applying the adjustment would change nothing.
func (a Adjustment) IsEmpty() bool {
	return a.AFRTarget == nil && a.BoostLimit == nil && a.IgnitionOffset == nil &&
		a.FuelCorrection == nil && a.TimingRetardPerPsi == nil && a.RevLimit == nil &&
		a.TopSpeedLimit == nil && a.GlobalOffset == nil && a.CrackleIntensity == nil &&
		a.ChipType == nil
}

// Apply returns t with every set field of a copied over.
func (a Adjustment) Apply(t ecu.TuneSettings) ecu.TuneSettings {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&t.AFRTarget, a.AFRTarget)
	set(&t.BoostLimit, a.BoostLimit)
	set(&t.IgnitionOffset, a.IgnitionOffset)
	set(&t.FuelCorrection, a.FuelCorrection)
	set(&t.TimingRetardPerPsi, a.TimingRetardPerPsi)
	set(&t.RevLimit, a.RevLimit)
	set(&t.TopSpeedLimit, a.TopSpeedLimit)
	set(&t.GlobalOffset, a.GlobalOffset)
	set(&t.CrackleIntensity, a.CrackleIntensity)
	if a.ChipType != nil {
		t.ChipType = *a.ChipType
	}
	return t
}

// String renders the set fields in the "KEY=value" form used for RAM write
// notices, e.g. "AFR=11.80 BOOST=18.00".
func (a Adjustment) String() string {
	var parts []string
	add := func(key string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%.2f", key, *v))
		}
	}
	add("AFR", a.AFRTarget)
	add("BOOST", a.BoostLimit)
	add("IGN", a.IgnitionOffset)
	add("FUEL", a.FuelCorrection)
	add("RETARD", a.TimingRetardPerPsi)
	add("REV", a.RevLimit)
	add("VMAX", a.TopSpeedLimit)
	add("GLOBAL", a.GlobalOffset)
	add("CRACKLE", a.CrackleIntensity)
	if a.ChipType != nil {
		parts = append(parts, "CHIP="+string(*a.ChipType))
	}
	return strings.Join(parts, " ")
}

// Float returns a pointer to v for building adjustments.
func Float(v float64) *float64 { return &v }
