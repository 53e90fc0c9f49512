// Package advisor talks to the remote tuning advisor and turns its answers
// into tune adjustments and live safety warnings.
package advisor

import (
	"context"
	"fmt"
	"math"

	"github.com/shaunagostinho/unimix-dash/internal/ecu"
	"github.com/shaunagostinho/unimix-dash/internal/tune"
)

// Advisor suggests tune changes for a vehicle from its recent telemetry. A nil
// suggestion with a nil error means the advisor had nothing to offer.
type Advisor interface {
	Suggest(ctx context.Context, profile ecu.VehicleProfile, current ecu.TuneSettings, history []ecu.Telemetry) (*Suggestion, error)
}

// Suggestion is the advisor's answer. Every field is optional.
type Suggestion struct {
	AFRTarget      *float64  `json:"afrTarget,omitempty"`
	BoostLimit     *float64  `json:"boostLimit,omitempty"`
	IgnitionOffset *float64  `json:"ignitionOffset,omitempty"`
	Reasoning      string    `json:"reasoning"`
	SafeEnvelope   *Envelope `json:"safeEnvelope,omitempty"`
}

// Adjustment converts the suggestion into a partial tune. Non-finite values
// are dropped and boost never exceeds the profile's maximum.
func (s *Suggestion) Adjustment(profile ecu.VehicleProfile) tune.Adjustment {
	var adj tune.Adjustment
	if s == nil {
		return adj
	}
	if finite(s.AFRTarget) && *s.AFRTarget > 0 {
		adj.AFRTarget = tune.Float(*s.AFRTarget)
	}
	if finite(s.BoostLimit) {
		boost := *s.BoostLimit
		if profile.MaxBoost > 0 && boost > profile.MaxBoost {
			boost = profile.MaxBoost
		}
		adj.BoostLimit = tune.Float(boost)
	}
	if finite(s.IgnitionOffset) {
		adj.IgnitionOffset = tune.Float(*s.IgnitionOffset)
	}
	return adj
}

func finite(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// Range is an inclusive [min, max] pair, encoded as a two element array.
type Range [2]float64

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	lo, hi := r[0], r[1]
	if lo > hi {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

// Envelope is the advisor's safe operating window. Unset channels are not
// checked.
type Envelope struct {
	Boost    *Range `json:"boost,omitempty"`
	AFR      *Range `json:"afr,omitempty"`
	Ignition *Range `json:"ignition,omitempty"`
}

// Deviation is one channel outside the safe envelope.
type Deviation struct {
	Channel string  `json:"channel"`
	Value   float64 `json:"value"`
	Range   Range   `json:"range"`
}

func (d Deviation) String() string {
	return fmt.Sprintf("%s %.2f outside safe range [%.2f, %.2f]", d.Channel, d.Value, d.Range[0], d.Range[1])
}

// Check compares live telemetry and the active tune against the envelope.
func (e *Envelope) Check(t ecu.Telemetry, current ecu.TuneSettings) []Deviation {
	if e == nil {
		return nil
	}
	var out []Deviation
	check := func(channel string, r *Range, v float64) {
		if r != nil && !r.Contains(v) {
			out = append(out, Deviation{Channel: channel, Value: v, Range: *r})
		}
	}
	check("boost", e.Boost, t.Boost)
	check("afr", e.AFR, t.AFR)
	check("ignition", e.Ignition, current.IgnitionOffset)
	return out
}
