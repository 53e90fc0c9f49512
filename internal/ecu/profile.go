package ecu

// Induction is how the engine fills its cylinders.
type Induction string

const (
	InductionTurbo        Induction = "Turbo"
	InductionSupercharged Induction = "Supercharged"
	InductionNA           Induction = "N/A"
)

// FuelType is the fuel grade the vehicle is calibrated for.
type FuelType string

const (
	Fuel91     FuelType = "91"
	Fuel93     FuelType = "93"
	FuelE85    FuelType = "E85"
	FuelRacing FuelType = "Racing"
)

// HighOctane reports whether the fuel tolerates extra ignition advance.
func (f FuelType) HighOctane() bool {
	return f == FuelE85 || f == FuelRacing
}

// VehicleProfile is read-only reference data about the connected vehicle.
type VehicleProfile struct {
	ID           string    `yaml:"id" json:"id"`
	Name         string    `yaml:"name" json:"name"`
	Engine       string    `yaml:"engine" json:"engine"`
	ECUType      string    `yaml:"ecu_type" json:"ecuType"`
	VINPrefix    string    `yaml:"vin_prefix" json:"vinPrefix"`
	MaxBoost     float64   `yaml:"max_boost" json:"maxBoost"` // PSI
	SafeAFR      float64   `yaml:"safe_afr" json:"safeAFR"`
	Displacement float64   `yaml:"displacement" json:"displacement"` // litres
	Induction    Induction `yaml:"induction" json:"induction"`
	FuelType     FuelType  `yaml:"fuel_type" json:"fuelType"`
	TurboSize    string    `yaml:"turbo_size" json:"turboSize"`
}
