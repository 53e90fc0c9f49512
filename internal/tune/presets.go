package tune

import (
	"fmt"
	"sort"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// Presets are one-tap calibrations. Each sets the core fuel, boost and timing
// fields and leaves speed limiting, crackle and the chip untouched.
var Presets = map[string]Adjustment{
	"safe": {
		AFRTarget:          Float(11.5),
		BoostLimit:         Float(12),
		IgnitionOffset:     Float(-1),
		FuelCorrection:     Float(5),
		TimingRetardPerPsi: Float(0.5),
		RevLimit:           Float(6500),
	},
	"track": {
		AFRTarget:          Float(11.8),
		BoostLimit:         Float(18),
		IgnitionOffset:     Float(2),
		FuelCorrection:     Float(10),
		TimingRetardPerPsi: Float(0.3),
		RevLimit:           Float(7500),
	},
	"valet": {
		AFRTarget:          Float(14.7),
		BoostLimit:         Float(3),
		IgnitionOffset:     Float(-5),
		FuelCorrection:     Float(0),
		TimingRetardPerPsi: Float(1.0),
		RevLimit:           Float(3000),
	},
	"stock": stockPreset(),
}

func stockPreset() Adjustment {
	d := ecu.DefaultTune()
	return Adjustment{
		AFRTarget:          Float(d.AFRTarget),
		BoostLimit:         Float(d.BoostLimit),
		IgnitionOffset:     Float(d.IgnitionOffset),
		FuelCorrection:     Float(d.FuelCorrection),
		TimingRetardPerPsi: Float(d.TimingRetardPerPsi),
		RevLimit:           Float(d.RevLimit),
	}
}

// Preset looks up a preset by name.
func Preset(name string) (Adjustment, error) {
	p, ok := Presets[name]
	if !ok {
		return Adjustment{}, fmt.Errorf("unknown preset %q", name)
	}
	return p, nil
}

// PresetNames returns the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for n := range Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
