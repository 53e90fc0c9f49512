// Package piggyback models the signal path of a piggyback tuning module: the
// MAP sensor voltage/pressure transfer function, the interception that caps
// what the factory ECU sees, and the proportional fuel trim.
package piggyback

const (
	// VoltageOffset is the sensor output at 0 PSI gauge.
	VoltageOffset = 0.5
	// VoltageSpan is the sensor output swing between 0 PSI and PSIMax.
	VoltageSpan = 4.0
	// DefaultPSIMax is the pressure reported at VoltageOffset+VoltageSpan.
	DefaultPSIMax = 29.0

	// RailMin and RailMax bound what a 5V sensor can physically output.
	RailMin = 0.0
	RailMax = 5.0
)

// Converter maps between MAP sensor voltage and boost pressure for one
// sensor calibration. The zero value is not usable; use NewConverter.
type Converter struct {
	psiMax float64
}

// NewConverter returns a converter for a sensor reading psiMax at full span.
// A non-positive psiMax falls back to DefaultPSIMax.
func NewConverter(psiMax float64) Converter {
	if !(psiMax > 0) {
		psiMax = DefaultPSIMax
	}
	return Converter{psiMax: psiMax}
}

// PSIMax returns the calibration full-scale pressure.
func (c Converter) PSIMax() float64 { return c.psiMax }

// VoltageToPsi decodes a sensor voltage into gauge PSI.
func (c Converter) VoltageToPsi(v float64) float64 {
	return (v - VoltageOffset) * (c.psiMax / VoltageSpan)
}

// PsiToVoltage is the exact inverse of VoltageToPsi.
func (c Converter) PsiToVoltage(psi float64) float64 {
	return VoltageOffset + psi*(VoltageSpan/c.psiMax)
}

// InterceptMapSignal returns the voltage forwarded to the factory ECU.
// When the decoded pressure is strictly above boostTarget the ECU is fed the
// voltage for boostTarget instead, hiding the real boost from its native
// boost cut. A boostTarget of zero or below disables capping.
func (c Converter) InterceptMapSignal(rawVoltage, boostTarget float64) float64 {
	if boostTarget > 0 && c.VoltageToPsi(rawVoltage) > boostTarget {
		return c.PsiToVoltage(boostTarget)
	}
	return rawVoltage
}

// ClampRail limits v to the sensor supply rail.
func ClampRail(v float64) float64 {
	if v < RailMin {
		return RailMin
	}
	if v > RailMax {
		return RailMax
	}
	return v
}

var defaultConverter = NewConverter(DefaultPSIMax)

// VoltageToPsi decodes v with the default calibration.
func VoltageToPsi(v float64) float64 { return defaultConverter.VoltageToPsi(v) }

// PsiToVoltage encodes psi with the default calibration.
func PsiToVoltage(psi float64) float64 { return defaultConverter.PsiToVoltage(psi) }

// InterceptMapSignal intercepts with the default calibration.
func InterceptMapSignal(rawVoltage, boostTarget float64) float64 {
	return defaultConverter.InterceptMapSignal(rawVoltage, boostTarget)
}
