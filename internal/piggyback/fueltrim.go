package piggyback

import "math"

const (
	// FuelTrimGain is the proportional gain applied to the relative AFR error.
	FuelTrimGain = 1.4
	// MaxEnrich is the largest positive (fuel adding) correction in percent.
	MaxEnrich = 25.0
	// MaxLean is the largest negative (fuel removing) correction in percent.
	MaxLean = -15.0
)

// CalculateFuelTrim returns the fuel correction in percent needed to pull
// currentAfr to targetAfr. Lean readings (current above target) produce a
// positive, enriching trim; rich readings a negative one. The band is
// asymmetric: there is more room to add fuel than to take it away.
func CalculateFuelTrim(currentAfr, targetAfr float64) float64 {
	if !(targetAfr > 0) || math.IsInf(targetAfr, 0) || math.IsNaN(currentAfr) || math.IsInf(currentAfr, 0) {
		return 0
	}
	diff := currentAfr - targetAfr
	if diff == 0 {
		return 0
	}
	correction := (diff / targetAfr) * 100 * FuelTrimGain
	return math.Max(MaxLean, math.Min(MaxEnrich, correction))
}
