package ecu

import "time"

// Telemetry is one simulated sensor snapshot. A snapshot is never modified
// after Step returns it; the next tick produces a new one.
type Telemetry struct {
	// Core engine
	RPM      float64 `json:"rpm"`
	Boost    float64 `json:"boost"`    // PSI gauge, negative is vacuum
	AFR      float64 `json:"afr"`      // Air-fuel ratio
	Throttle float64 `json:"throttle"` // 0-100%
	Knock    float64 `json:"knock"`    // Detonation level, 0 = none

	// Temperatures (°C)
	CoolantTemp float64 `json:"coolantTemp"`
	IAT         float64 `json:"iat"`

	// Vehicle
	Speed  float64 `json:"speed"`  // mph
	GForce float64 `json:"gForce"` // Longitudinal g

	// Diagnostics derived from the fields above
	MAPVoltage   float64 `json:"mapVoltage"`   // Volts as seen by the factory ECU
	FuelPressure float64 `json:"fuelPressure"` // PSI
	OilPressure  float64 `json:"oilPressure"`  // PSI
	InjDutyCycle float64 `json:"injDutyCycle"` // %
	STFT         float64 `json:"stft"`         // Short-term fuel trim %
	LTFT         float64 `json:"ltft"`         // Long-term fuel trim %

	// ZeroToSixty is the duration in seconds of the last completed launch,
	// nil until one completes.
	ZeroToSixty *float64 `json:"zeroToSixty"`

	Timestamp int64 `json:"timestamp"` // Unix ms
}

// InitialTelemetry is the engine-off state a session starts from.
func InitialTelemetry(now time.Time) Telemetry {
	return Telemetry{
		AFR:          14.7,
		CoolantTemp:  90,
		IAT:          30,
		MAPVoltage:   0.5,
		FuelPressure: 58,
		OilPressure:  45,
		Timestamp:    now.UnixMilli(),
	}
}

// Time returns the snapshot timestamp.
func (t Telemetry) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// IntentKind classifies a command the simulator wants projected onto the
// hardware link.
type IntentKind string

const (
	IntentTorqueCut      IntentKind = "torque_cut"
	IntentIgnitionRetard IntentKind = "ignition_retard"
	IntentRAMWrite       IntentKind = "ram_write"
)

// Intent is a fire-and-forget command notice. The Command text is cosmetic.
type Intent struct {
	Kind    IntentKind `json:"kind"`
	Command string     `json:"command"`
}
