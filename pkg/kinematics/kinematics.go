package kinematics

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/atcsim/atc-engine/pkg/coordinates"
	"github.com/atcsim/atc-engine/pkg/model"
)

// ErrInvalidState is returned when a flight's stored kinematic fields
// violate the storage bounds. The engine skips the flight for the tick.
var ErrInvalidState = errors.New("invalid flight state")

// Integrate advances a flight's kinematic state by one time step. It is a
// pure function of its inputs: the same flight, airport, random stream and
// dt always produce the same result. Update order is fixed (speed, heading,
// altitude, position) so that replays are repeatable.
//
// Flights without a target in a given axis receive bounded random drift
// drawn from rng. The caller owns the stream and the order in which flights
// are integrated.
func Integrate(f model.Flight, airport model.Airport, rng *rand.Rand, dt float64) (model.Flight, error) {
	if err := f.ValidateState(); err != nil {
		return model.Flight{}, fmt.Errorf("%w: flight %d: %v", ErrInvalidState, f.ID, err)
	}

	ref := coordinates.Geographic{Latitude: airport.Latitude, Longitude: airport.Longitude}
	pos := coordinates.Geographic{Latitude: f.Latitude, Longitude: f.Longitude}
	distanceNM := coordinates.DistanceNauticalMiles(pos, ref)

	prevSpeed := f.SpeedKts

	// 1. Speed.
	if f.TargetSpeedKts != nil {
		f.SpeedKts = stepSpeed(f.SpeedKts, *f.TargetSpeedKts, dt)
	} else {
		f.SpeedKts = clamp(f.SpeedKts+uniform(rng, DriftSpeedKt), MinSpeedKts, MaxSpeedKts)
	}

	// 2. Heading.
	if f.TargetHeadingDeg != nil {
		f.Heading = stepHeading(f.Heading, *f.TargetHeadingDeg, f.SpeedKts, dt)
	} else {
		f.Heading = coordinates.NormalizeHeading(f.Heading + uniform(rng, DriftHeadingDeg))
	}

	// 3. Altitude and vertical speed.
	f.AltitudeFt, f.VerticalSpeedFpm = stepAltitude(&f, airport, distanceNM, rng, dt)

	// 4. Position. The advance uses the speed held entering the tick so a
	// tick's displacement never exceeds what the previous state allowed.
	stepNM := prevSpeed * coordinates.KtToNMPerSec * dt
	next := coordinates.Advance(pos, f.Heading, stepNM)
	f.Latitude = next.Latitude
	f.Longitude = next.Longitude

	return f, nil
}

// stepSpeed ramps speed toward the target under the acceleration and
// deceleration limits and clamps to the performance envelope.
func stepSpeed(current, target, dt float64) float64 {
	delta := clamp(target-current, -MaxDecelKtPerSec*dt, MaxAccelKtPerSec*dt)
	return clamp(current+delta, MinSpeedKts, MaxSpeedKts)
}

// stepHeading turns toward the target at no more than the bank-limited
// rate for the current speed.
func stepHeading(current, target, speedKts, dt float64) float64 {
	turn := coordinates.ShortestTurn(current, coordinates.NormalizeHeading(target))
	maxStep := MaxTurnRateDegPerSec(speedKts) * dt
	if math.Abs(turn) > maxStep {
		turn = math.Copysign(maxStep, turn)
	}
	return coordinates.NormalizeHeading(current + turn)
}

// stepAltitude computes the new altitude and the realized vertical speed.
// Inside ApproachCapDistanceNM an arrival tracks the 3° glideslope; the
// approach cap applies there even when staying on profile would demand a
// steeper rate.
func stepAltitude(f *model.Flight, airport model.Airport, distanceNM float64, rng *rand.Rand, dt float64) (float64, float64) {
	onGlideslope := distanceNM < ApproachCapDistanceNM && f.FlightType == model.FlightTypeArrival

	var target float64
	haveTarget := false
	switch {
	case onGlideslope:
		target = airport.ElevationFt + distanceNM*GlideslopeFtPerNM
		if target < airport.ElevationFt {
			target = airport.ElevationFt
		}
		haveTarget = true
	case f.TargetAltitudeFt != nil:
		target = *f.TargetAltitudeFt
		haveTarget = true
	}

	var deltaFt float64
	if haveTarget {
		rate := commandedRateFpm(target-f.AltitudeFt, distanceNM)
		maxStepFt := rate / 60.0 * dt
		deltaFt = clamp(target-f.AltitudeFt, -maxStepFt, maxStepFt)
	} else {
		deltaFt = uniform(rng, DriftVerticalFpm/60.0) * dt
	}

	alt := f.AltitudeFt + deltaFt
	if alt < airport.ElevationFt {
		alt = airport.ElevationFt
	}
	vs := (alt - f.AltitudeFt) / dt * 60.0
	return alt, vs
}

// commandedRateFpm returns the magnitude of the vertical rate used to
// close the given altitude error, respecting the distance-based cap.
func commandedRateFpm(altErrorFt, distanceNM float64) float64 {
	var capFpm, defaultFpm float64
	if altErrorFt < 0 {
		capFpm = DescentMaxFpm
		defaultFpm = DefaultDescentFpm
	} else {
		capFpm = ClimbMaxFpm
		defaultFpm = DefaultClimbFpm
	}
	if distanceNM < ApproachCapDistanceNM {
		capFpm = ApproachCapFpm
	}
	return math.Min(capFpm, defaultFpm)
}

// DerivePhase tags the flight's phase from altitude and distance. The tag
// is descriptive only and never drives control decisions.
func DerivePhase(altitudeMSLFt, altitudeAGLFt, distanceNM float64) model.Phase {
	switch {
	case altitudeAGLFt < 50:
		return model.PhaseTouchdown
	case altitudeAGLFt < 3000 && distanceNM <= 3:
		return model.PhaseFinal
	case altitudeMSLFt >= 3000 && altitudeMSLFt < 10000 && distanceNM <= 10:
		return model.PhaseApproach
	case altitudeMSLFt >= 10000 && altitudeMSLFt <= 18000:
		return model.PhaseDescent
	case altitudeMSLFt > 18000:
		return model.PhaseCruise
	default:
		// States between the bands (e.g. low and far out) read as a
		// descent in progress.
		return model.PhaseDescent
	}
}

// uniform draws from [-bound, +bound).
func uniform(rng *rand.Rand, bound float64) float64 {
	return (rng.Float64()*2.0 - 1.0) * bound
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
