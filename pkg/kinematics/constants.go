package kinematics

import "math"

// Performance limits for a generic jet transport. All rates are applied
// against the engine's fixed 1-second time step.
const (
	// DT is the nominal integration step in seconds.
	DT = 1.0

	// MaxAccelKtPerSec is the maximum longitudinal acceleration.
	MaxAccelKtPerSec = 0.6

	// MaxDecelKtPerSec is the maximum deceleration.
	MaxDecelKtPerSec = 0.8

	// MaxBankDeg is the coordinated-turn bank angle limit.
	MaxBankDeg = 25.0

	// GravityFtPerSec2 is standard gravity in ft/s².
	GravityFtPerSec2 = 32.174

	// KtToFtPerSec converts knots to feet per second.
	KtToFtPerSec = 1.68781

	// MinSpeedKts is the stall-protection floor.
	MinSpeedKts = 140.0

	// MaxSpeedKts is the overspeed ceiling.
	MaxSpeedKts = 550.0
)

// Vertical profile limits.
const (
	// ClimbMaxFpm is the maximum climb rate outside the approach area.
	ClimbMaxFpm = 2500.0

	// DescentMaxFpm is the maximum descent rate outside the approach area.
	DescentMaxFpm = 3000.0

	// ApproachCapFpm caps both climb and descent inside
	// ApproachCapDistanceNM of the airport (stabilized approach).
	ApproachCapFpm = 1800.0

	// ApproachCapDistanceNM is the radius inside which ApproachCapFpm and
	// the glideslope profile apply.
	ApproachCapDistanceNM = 10.0

	// DefaultDescentFpm is the commanded descent rate when tracking an
	// altitude target from above.
	DefaultDescentFpm = 2000.0

	// DefaultClimbFpm is the commanded climb rate when tracking an
	// altitude target from below.
	DefaultClimbFpm = 1500.0

	// GlideslopeFtPerNM is the height of a 3° glideslope per nautical
	// mile of distance to the threshold (tan 3° ≈ 0.0524).
	GlideslopeFtPerNM = 318.5
)

// Bounded random drift applied when a flight has no target set.
const (
	// DriftSpeedKt is the per-tick speed drift bound (± knots).
	DriftSpeedKt = 5.0

	// DriftHeadingDeg is the per-tick heading drift bound (± degrees).
	DriftHeadingDeg = 2.0

	// DriftVerticalFpm is the per-tick vertical drift bound expressed as a
	// rate (± fpm); the per-tick altitude change is DriftVerticalFpm/60 ft.
	DriftVerticalFpm = 200.0
)

// maxBankRad is MaxBankDeg in radians.
var maxBankRad = MaxBankDeg * math.Pi / 180.0

// MaxTurnRateDegPerSec returns the bank-limited turn rate for the given
// ground speed: ω = g·tan(φ)/V, with V approximated by ground speed.
func MaxTurnRateDegPerSec(speedKts float64) float64 {
	speedFtPerSec := speedKts * KtToFtPerSec
	if speedFtPerSec < 1.0 {
		return 0.0
	}
	omegaRadPerSec := GravityFtPerSec2 * math.Tan(maxBankRad) / speedFtPerSec
	return omegaRadPerSec * 180.0 / math.Pi
}
