package coordinates

import "math"

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusNM is the Earth's mean radius in nautical miles
	EarthRadiusNM = 3440.065

	// KtToNMPerSec converts knots to nautical miles per second
	KtToNMPerSec = 1.0 / 3600.0
)

// Geographic represents a position on Earth's surface.
// Uses the WGS84 coordinate system (same as GPS).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64
}

// DistanceNauticalMiles calculates the great-circle distance between two
// points using the Haversine formula. Returns distance in nautical miles.
func DistanceNauticalMiles(from, to Geographic) float64 {
	lat1Rad := from.Latitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	dLat := (to.Latitude - from.Latitude) * DegreesToRadians
	dLon := (to.Longitude - from.Longitude) * DegreesToRadians

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusNM * c
}

// Bearing calculates the initial bearing (forward azimuth) from one point
// to another along a great circle. Returns bearing in degrees [0, 360),
// where 0/360 = North, 90 = East, 180 = South, 270 = West.
func Bearing(from, to Geographic) float64 {
	lat1 := from.Latitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	dLon := (to.Longitude - from.Longitude) * DegreesToRadians

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	bearing := math.Atan2(y, x) * RadiansToDegrees

	return NormalizeHeading(bearing)
}

// Advance calculates the forward great-circle destination after traveling
// distanceNM along headingDeg from the starting point.
func Advance(from Geographic, headingDeg, distanceNM float64) Geographic {
	latRad := from.Latitude * DegreesToRadians
	lonRad := from.Longitude * DegreesToRadians
	hdgRad := headingDeg * DegreesToRadians

	// Angular distance along the surface.
	delta := distanceNM / EarthRadiusNM

	newLatRad := math.Asin(
		math.Sin(latRad)*math.Cos(delta) +
			math.Cos(latRad)*math.Sin(delta)*math.Cos(hdgRad),
	)
	newLonRad := lonRad + math.Atan2(
		math.Sin(hdgRad)*math.Sin(delta)*math.Cos(latRad),
		math.Cos(delta)-math.Sin(latRad)*math.Sin(newLatRad),
	)

	newLon := newLonRad * RadiansToDegrees
	if newLon > 180.0 {
		newLon -= 360.0
	} else if newLon < -180.0 {
		newLon += 360.0
	}

	return Geographic{
		Latitude:  newLatRad * RadiansToDegrees,
		Longitude: newLon,
	}
}

// NormalizeHeading ensures a heading is in the range [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360.0)
	if h < 0 {
		h += 360.0
	}
	return h
}

// ShortestTurn returns the signed shortest angular difference from current
// to target, in (-180, +180]. Negative means a left turn, positive a right
// turn. An exact 180-degree split resolves to +180 (right turn). Inputs
// are expected in [0, 360).
func ShortestTurn(currentDeg, targetDeg float64) float64 {
	d := math.Mod(targetDeg-currentDeg+540.0, 360.0) - 180.0
	if d == -180.0 {
		d = 180.0
	}
	return d
}

// MSLToAGL converts an altitude above mean sea level to an altitude above
// ground level given the field elevation.
func MSLToAGL(altitudeMSLFt, elevationFt float64) float64 {
	return altitudeMSLFt - elevationFt
}
