package ecu

import (
	"fmt"
	"math"
	"time"

	"github.com/shaunagostinho/unimix-dash/internal/piggyback"
)

// Rand returns uniform values in [0,1). Tests pass deterministic sequences;
// the server passes a seeded *rand.Rand's Float64.
type Rand func() float64

const (
	mphToMps = 0.44704
	gravity  = 9.80665
)

// Simulator produces the next telemetry snapshot from the previous one and
// the current tune. It carries the launch timer and crackle state between
// ticks and is owned by a single goroutine.
type Simulator struct {
	params    Params
	conv      piggyback.Converter
	launch    *LaunchTimer
	crackling bool
}

// NewSimulator creates a simulator. Zero-valued params fall back to
// DefaultParams.
func NewSimulator(p Params) *Simulator {
	if p == (Params{}) {
		p = DefaultParams()
	}
	if p.TickPeriod <= 0 {
		p.TickPeriod = 100 * time.Millisecond
	}
	return &Simulator{
		params: p,
		conv:   piggyback.NewConverter(p.PSIMax),
		launch: NewLaunchTimer(p.LaunchTarget),
	}
}

// Params returns the active calibration.
func (s *Simulator) Params() Params { return s.params }

// Converter returns the MAP sensor calibration in use.
func (s *Simulator) Converter() piggyback.Converter { return s.conv }

// Launch exposes the launch timer state.
func (s *Simulator) Launch() *LaunchTimer { return s.launch }

// Reset clears the state carried between ticks.
func (s *Simulator) Reset() {
	s.launch.Reset()
	s.crackling = false
}

// Step advances the engine by one tick. It never fails: malformed tune values
// are sanitized and limits are clamped. The returned intents are notices for
// the hardware link and may be empty.
func (s *Simulator) Step(prev Telemetry, tune TuneSettings, profile VehicleProfile, now time.Time, rng Rand) (Telemetry, []Intent) {
	p := s.params
	tune = tune.Sanitized()
	if rng == nil {
		rng = func() float64 { return 0.5 }
	}
	var intents []Intent

	scale := s.periodScale(prev, now)
	mult := math.Max(0, 1+tune.GlobalOffset/100)
	prevAFR := finiteOr(prev.AFR, p.StoichAFR)
	if prevAFR <= 0 {
		prevAFR = p.StoichAFR
	}
	prevSpeed := math.Max(0, finiteOr(prev.Speed, 0))

	// 1. pedal
	var target float64
	if rng() >= 1-p.FullThrottleChance {
		target = 100
	} else {
		target = p.CruiseThrottleMin + rng()*p.CruiseThrottleSpan
	}
	prevThrottle := clamp(finiteOr(prev.Throttle, 0), 0, 100)
	throttle := prevThrottle + (target-prevThrottle)*smoothing(p.ThrottleSmoothing, scale)
	throttle = clamp(throttle, 0, 100)

	// 2. engine speed
	rpm := p.IdleRPM + throttle*p.RPMPerThrottle*mult + rng()*p.RPMJitter
	rpm = clamp(rpm, 0, tune.RevLimit)

	// 3. vehicle speed
	accel := throttle/100*p.AccelGain*mult - p.Drag*prevSpeed
	if throttle < p.CoastThrottle {
		accel -= p.BrakeDecel
	}
	speed := prevSpeed + accel*scale
	if speed < 0 {
		speed = 0
	}
	if speed > tune.TopSpeedLimit {
		speed = tune.TopSpeedLimit
		if rng() < p.TorqueCutChance {
			intents = append(intents, Intent{
				Kind:    IntentTorqueCut,
				Command: fmt.Sprintf("TORQUE_CUT SPD=%.0f", tune.TopSpeedLimit),
			})
		}
	}

	// 4. manifold pressure through the piggyback
	rawPsi := s.rawBoost(throttle, profile)
	rawVoltage := piggyback.ClampRail(s.conv.PsiToVoltage(rawPsi))
	limit := tune.BoostLimit
	if limit > 0 && profile.MaxBoost > 0 && limit > profile.MaxBoost {
		limit = profile.MaxBoost
	}
	mapVoltage := s.conv.InterceptMapSignal(rawVoltage, limit)
	boost := math.Round(s.conv.VoltageToPsi(mapVoltage)*100) / 100
	if profile.Induction == InductionNA {
		boost = 0
	}

	// 5. mixture
	afrTarget := p.StoichAFR
	crackle := false
	switch {
	case throttle > p.WOTThrottle:
		afrTarget = tune.AFRTarget
	case throttle > p.MidThrottle:
		afrTarget = p.MidAFR
	case throttle < p.CrackleThrottle && rpm >= p.CrackleMinRPM && tune.CrackleIntensity > 0:
		afrTarget = p.StoichAFR - tune.CrackleIntensity/100*p.CrackleAFRDrop
		crackle = true
	}
	if crackle && !s.crackling {
		intents = append(intents, Intent{
			Kind:    IntentIgnitionRetard,
			Command: fmt.Sprintf("IGN_RETARD CRACKLE=%.0f", tune.CrackleIntensity),
		})
	}
	s.crackling = crackle
	commanded := afrTarget / (1 + tune.FuelCorrection/100)
	afr := prevAFR + (commanded-prevAFR)*smoothing(p.AFRSmoothing, scale) + rng()*p.AFRNoise

	// 6. detonation
	knock := 0.0
	if throttle > p.WOTThrottle && afr > p.KnockLeanAFR && !crackle {
		advance := tune.IgnitionOffset - tune.TimingRetardPerPsi*math.Max(0, boost)*0.1
		knock = rng() * p.KnockMax * clamp(1+advance/10, 0.5, 1.5)
	}

	// 7. derived channels
	coolant := finiteOr(prev.CoolantTemp, 90)
	if throttle > 60 {
		coolant += 0.08 * scale
	} else {
		coolant += (90 - coolant) * 0.01 * scale
	}
	iat := finiteOr(prev.IAT, 30)
	iat += (25 + math.Max(0, boost)*1.8 + throttle*0.05 - iat) * 0.02 * scale

	gForce := 0.0
	if scale > 0 {
		gForce = (speed - prevSpeed) / scale / p.TickPeriod.Seconds() * mphToMps / gravity
	}
	stft := piggyback.CalculateFuelTrim(afr, afrTarget)

	next := Telemetry{
		RPM:          rpm,
		Boost:        boost,
		AFR:          afr,
		Throttle:     throttle,
		Knock:        knock,
		CoolantTemp:  clamp(coolant, 60, 125),
		IAT:          iat,
		Speed:        speed,
		GForce:       gForce,
		MAPVoltage:   mapVoltage,
		FuelPressure: 58 + boost*0.6,
		OilPressure:  clamp(15+rpm/7000*50, 0, 80),
		InjDutyCycle: clamp(rpm/6500*throttle/100*90*(1+tune.FuelCorrection/100), 0, 100),
		STFT:         stft,
		LTFT:         finiteOr(prev.LTFT, 0) + (stft-finiteOr(prev.LTFT, 0))*0.01*scale,
		ZeroToSixty:  prev.ZeroToSixty,
		Timestamp:    now.UnixMilli(),
	}

	// 8. launch timer
	if elapsed, done := s.launch.Observe(prevSpeed, speed, now); done {
		next.ZeroToSixty = &elapsed
	}

	return next, intents
}

// rawBoost is the pressure the MAP sensor would really see. Turbos spool
// with the square of load, superchargers build linearly, and naturally
// aspirated engines never exceed atmosphere.
func (s *Simulator) rawBoost(throttle float64, profile VehicleProfile) float64 {
	load := throttle / 100
	vac := s.params.VacuumPsi
	peak := profile.MaxBoost
	if !(peak > 0) {
		peak = s.params.PeakBoostPsi
	}
	switch profile.Induction {
	case InductionNA:
		return load*vac - vac
	case InductionSupercharged:
		return load*(peak+vac) - vac
	default:
		return load*load*(peak+vac) - vac
	}
}

// periodScale is the elapsed time since prev in units of the calibrated tick.
func (s *Simulator) periodScale(prev Telemetry, now time.Time) float64 {
	if prev.Timestamp <= 0 {
		return 1
	}
	elapsed := now.Sub(prev.Time())
	if elapsed <= 0 {
		return 1
	}
	return clamp(float64(elapsed)/float64(s.params.TickPeriod), 0, 5)
}

// smoothing converts a per-tick low-pass factor into one for scale ticks.
func smoothing(alpha, scale float64) float64 {
	if scale == 1 {
		return alpha
	}
	return 1 - math.Pow(1-alpha, scale)
}
