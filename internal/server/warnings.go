package server

import (
	"fmt"

	"github.com/shaunagostinho/unimix-dash/internal/advisor"
	"github.com/shaunagostinho/unimix-dash/internal/ecu"
)

// checkWarnings lists the threshold breaches of one snapshot followed by any
// deviation from the advisor's safe envelope.
func checkWarnings(t ecu.Telemetry, current ecu.TuneSettings, th ThresholdConfig, env *advisor.Envelope) []string {
	var out []string
	if th.CLTWarn > 0 && t.CoolantTemp > th.CLTWarn {
		out = append(out, fmt.Sprintf("coolant %.1f°C above %.0f", t.CoolantTemp, th.CLTWarn))
	}
	if th.IATWarn > 0 && t.IAT > th.IATWarn {
		out = append(out, fmt.Sprintf("intake %.1f°C above %.0f", t.IAT, th.IATWarn))
	}
	if th.KnockWarn > 0 && t.Knock >= th.KnockWarn {
		out = append(out, fmt.Sprintf("knock %.2f", t.Knock))
	}
	if th.AFRLeanWarn > 0 && t.Boost > 0 && t.AFR > th.AFRLeanWarn {
		out = append(out, fmt.Sprintf("lean under boost: AFR %.2f", t.AFR))
	}
	if th.OilPWarn > 0 && t.RPM > 0 && t.OilPressure < th.OilPWarn {
		out = append(out, fmt.Sprintf("oil pressure %.0f psi", t.OilPressure))
	}
	for _, d := range env.Check(t, current) {
		out = append(out, d.String())
	}
	return out
}
