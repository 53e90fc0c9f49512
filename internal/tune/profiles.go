package tune

import (
	"fmt"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// DefaultProfileID is selected when nothing is configured.
const DefaultProfileID = "universal"

// Profiles is the built-in vehicle catalog.
var Profiles = []ecu.VehicleProfile{
	{
		ID:           "motec-m1",
		Name:         "MoTeC M1 Series",
		Engine:       "V8 Twin Turbo (Proprietary)",
		ECUType:      "MoTeC M150",
		VINPrefix:    "MOT",
		MaxBoost:     45,
		SafeAFR:      11.2,
		Displacement: 5.2,
		Induction:    ecu.InductionTurbo,
		FuelType:     ecu.FuelE85,
		TurboSize:    "Precision 7675",
	},
	{
		ID:           "haltech-nexus",
		Name:         "Haltech Nexus R5",
		Engine:       "2JZ-GTE Custom",
		ECUType:      "Haltech VCU",
		VINPrefix:    "HAL",
		MaxBoost:     35,
		SafeAFR:      11.0,
		Displacement: 3.0,
		Induction:    ecu.InductionTurbo,
		FuelType:     ecu.FuelRacing,
		TurboSize:    "Garrett G42",
	},
	{
		ID:           "unichip-q4",
		Name:         "UniChip Q4 Piggyback",
		Engine:       "Modern Turbo Diesel",
		ECUType:      "UniChip Q4",
		VINPrefix:    "UNI",
		MaxBoost:     28,
		SafeAFR:      17.5, // diesel runs lean
		Displacement: 2.8,
		Induction:    ecu.InductionTurbo,
		FuelType:     ecu.Fuel93,
		TurboSize:    "VGT",
	},
	{
		ID:           "hellcat",
		Name:         "Dodge Challenger Hellcat",
		Engine:       "6.2L Supercharged V8",
		ECUType:      "FCA GPEC2A",
		VINPrefix:    "2C3",
		MaxBoost:     22,
		SafeAFR:      11.5,
		Displacement: 6.2,
		Induction:    ecu.InductionSupercharged,
		FuelType:     ecu.Fuel93,
		TurboSize:    "2.4L IHI",
	},
	{
		ID:           "universal",
		Name:         "Universal ECU Template",
		Engine:       "Generic Forced Induction",
		ECUType:      "Piggyback/Standalone",
		VINPrefix:    "XXX",
		MaxBoost:     30,
		SafeAFR:      11.0,
		Displacement: 3.0,
		Induction:    ecu.InductionTurbo,
		FuelType:     ecu.Fuel93,
		TurboSize:    "Garrett G35",
	},
	{
		ID:           "na-track",
		Name:         "Naturally Aspirated Track Car",
		Engine:       "2.0L Inline 4",
		ECUType:      "Piggyback/Standalone",
		VINPrefix:    "JHM",
		MaxBoost:     0,
		SafeAFR:      12.5,
		Displacement: 2.0,
		Induction:    ecu.InductionNA,
		FuelType:     ecu.Fuel91,
	},
}

// Profile returns the catalog entry with the given id.
func Profile(id string) (ecu.VehicleProfile, error) {
	for _, p := range Profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return ecu.VehicleProfile{}, fmt.Errorf("unknown vehicle profile %q", id)
}
