// Package airspace defines the static airspace model: the airport
// reference point, the concentric sector rings, entry fixes and the spawn
// zone. The model is loaded once at startup and read-only afterwards.
package airspace

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/atcsim/atc-engine/pkg/coordinates"
	"github.com/atcsim/atc-engine/pkg/model"
)

// Sector names, innermost ring first.
const (
	SectorRunway   = "RUNWAY"
	SectorApproach = "APPROACH"
	SectorEnroute  = "ENROUTE"
	SectorEntry    = "ENTRY"
)

// ReflectionJitterDeg is the half-width of the random heading offset
// applied on boundary reflection.
const ReflectionJitterDeg = 20.0

// Sector is one concentric ring. A flight belongs to the ring when its
// distance lies in [RadiusInnerNM, RadiusOuterNM] and its altitude in
// [AltMinFt, AltMaxFt].
type Sector struct {
	Name                string  `json:"name"`
	RadiusInnerNM       float64 `json:"r_inner_nm"`
	RadiusOuterNM       float64 `json:"r_outer_nm"`
	AltMinFt            float64 `json:"alt_min_ft"`
	AltMaxFt            float64 `json:"alt_max_ft"`
	HysteresisNM        float64 `json:"hysteresis_nm"`
	StableTicksRequired int     `json:"stable_ticks_required"`
}

// Contains reports whether the (distance, altitude) pair falls inside the
// ring, ignoring hysteresis.
func (s Sector) Contains(distanceNM, altitudeFt float64) bool {
	return distanceNM >= s.RadiusInnerNM && distanceNM <= s.RadiusOuterNM &&
		altitudeFt >= s.AltMinFt && altitudeFt <= s.AltMaxFt
}

// EntryFix is a named arrival gate on the entry ring.
type EntryFix struct {
	Name       string  `json:"name"`
	Latitude   float64 `json:"lat"`
	Longitude  float64 `json:"lon"`
	BearingDeg float64 `json:"bearing_deg"`
}

// SpawnZone bounds the annulus and envelope the external spawner places
// new arrivals in. The engine never spawns; the zone is carried for
// validation tooling and published configuration.
type SpawnZone struct {
	RadiusMinNM float64 `json:"radius_min_nm"`
	RadiusMaxNM float64 `json:"radius_max_nm"`
	AltMinFt    float64 `json:"alt_min_ft"`
	AltMaxFt    float64 `json:"alt_max_ft"`
	SpeedMinKts float64 `json:"speed_min_kts"`
	SpeedMaxKts float64 `json:"speed_max_kts"`
}

// Airspace is the full static model.
type Airspace struct {
	Airport model.Airport
	// Sectors sorted innermost ring first.
	Sectors    []Sector
	EntryFixes []EntryFix
	Spawn      SpawnZone
}

// airportJSON is the on-disk airport shape.
type airportJSON struct {
	ICAO        string  `json:"icao"`
	Latitude    float64 `json:"lat"`
	Longitude   float64 `json:"lon"`
	ElevationFt float64 `json:"elevation_ft"`
}

type airspaceJSON struct {
	Airport    airportJSON `json:"airport"`
	Sectors    []Sector    `json:"sectors"`
	EntryFixes []EntryFix  `json:"entry_fixes"`
	Spawn      SpawnZone   `json:"spawn"`
}

// Load reads and validates an airspace configuration file.
func Load(path string) (*Airspace, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading airspace config: %w", err)
	}

	var doc airspaceJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing airspace config %s: %w", path, err)
	}

	a := &Airspace{
		Airport: model.Airport{
			ICAO:        doc.Airport.ICAO,
			Latitude:    doc.Airport.Latitude,
			Longitude:   doc.Airport.Longitude,
			ElevationFt: doc.Airport.ElevationFt,
		},
		Sectors:    doc.Sectors,
		EntryFixes: doc.EntryFixes,
		Spawn:      doc.Spawn,
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("airspace config %s: %w", path, err)
	}
	return a, nil
}

// Default returns the built-in model: four concentric rings around
// Toronto Pearson with eight entry fixes on the entry ring.
func Default() *Airspace {
	return DefaultFor(model.Airport{
		ICAO:        "CYYZ",
		Latitude:    43.6777,
		Longitude:   -79.6248,
		ElevationFt: 569.0,
	})
}

// DefaultFor builds the standard ring geometry around an arbitrary
// reference airport.
func DefaultFor(airport model.Airport) *Airspace {
	a := &Airspace{
		Airport: airport,
		Sectors: []Sector{
			{SectorRunway, 0, 3, 0, airport.ElevationFt + 3000, 0.2, 2},
			{SectorApproach, 3, 10, 0, 18000, 0.3, 2},
			{SectorEnroute, 10, 30, 18000, 35000, 0.5, 2},
			{SectorEntry, 30, 60, 20000, 60000, 0.5, 2},
		},
		EntryFixes: GenerateEntryFixes(airport, 30.0),
		Spawn: SpawnZone{
			RadiusMinNM: 35,
			RadiusMaxNM: 55,
			AltMinFt:    20000,
			AltMaxFt:    33000,
			SpeedMinKts: 250,
			SpeedMaxKts: 320,
		},
	}
	return a
}

// compassPoints are the eight entry-fix name suffixes in bearing order.
var compassPoints = []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// GenerateEntryFixes places eight fixes evenly spaced on the circle of
// the given radius, starting due north of the airport.
func GenerateEntryFixes(airport model.Airport, radiusNM float64) []EntryFix {
	ref := coordinates.Geographic{Latitude: airport.Latitude, Longitude: airport.Longitude}
	fixes := make([]EntryFix, 0, len(compassPoints))
	for i, point := range compassPoints {
		bearing := float64(i) * 45.0
		pos := coordinates.Advance(ref, bearing, radiusNM)
		fixes = append(fixes, EntryFix{
			Name:       fmt.Sprintf("%s_%s", airport.ICAO, point),
			Latitude:   pos.Latitude,
			Longitude:  pos.Longitude,
			BearingDeg: bearing,
		})
	}
	return fixes
}

// Validate checks ring geometry: positive extents, contiguous rings from
// the center out, sane hysteresis and stability requirements. It also
// normalizes ring order to innermost first.
func (a *Airspace) Validate() error {
	if a.Airport.Latitude < -90 || a.Airport.Latitude > 90 ||
		a.Airport.Longitude < -180 || a.Airport.Longitude > 180 {
		return fmt.Errorf("airport reference point (%.4f, %.4f) out of range",
			a.Airport.Latitude, a.Airport.Longitude)
	}
	if len(a.Sectors) == 0 {
		return fmt.Errorf("no sectors defined")
	}

	sort.Slice(a.Sectors, func(i, j int) bool {
		return a.Sectors[i].RadiusInnerNM < a.Sectors[j].RadiusInnerNM
	})

	for i, s := range a.Sectors {
		if s.Name == "" {
			return fmt.Errorf("sector %d has no name", i)
		}
		if s.RadiusInnerNM < 0 || s.RadiusOuterNM <= s.RadiusInnerNM {
			return fmt.Errorf("sector %s: invalid radii [%.1f, %.1f]",
				s.Name, s.RadiusInnerNM, s.RadiusOuterNM)
		}
		if s.AltMaxFt <= s.AltMinFt {
			return fmt.Errorf("sector %s: invalid altitude band [%.0f, %.0f]",
				s.Name, s.AltMinFt, s.AltMaxFt)
		}
		if s.HysteresisNM < 0 {
			return fmt.Errorf("sector %s: negative hysteresis", s.Name)
		}
		if s.StableTicksRequired < 1 {
			return fmt.Errorf("sector %s: stable_ticks_required must be >= 1", s.Name)
		}
		if i > 0 && a.Sectors[i-1].RadiusOuterNM != s.RadiusInnerNM {
			return fmt.Errorf("sector %s: inner radius %.1f does not meet %s outer radius %.1f",
				s.Name, s.RadiusInnerNM, a.Sectors[i-1].Name, a.Sectors[i-1].RadiusOuterNM)
		}
	}
	if a.Sectors[0].RadiusInnerNM != 0 {
		return fmt.Errorf("innermost sector %s does not reach the center", a.Sectors[0].Name)
	}

	for _, fix := range a.EntryFixes {
		if fix.Name == "" {
			return fmt.Errorf("entry fix at bearing %.0f has no name", fix.BearingDeg)
		}
	}
	if a.Spawn.RadiusMaxNM < a.Spawn.RadiusMinNM {
		return fmt.Errorf("spawn zone: radius_max_nm %.1f < radius_min_nm %.1f",
			a.Spawn.RadiusMaxNM, a.Spawn.RadiusMinNM)
	}
	return nil
}

// Classify returns the smallest-radius sector containing the given
// distance and altitude. The second return is false when no ring matches
// (the flight is outside managed airspace).
func (a *Airspace) Classify(distanceNM, altitudeFt float64) (Sector, bool) {
	for _, s := range a.Sectors {
		if s.Contains(distanceNM, altitudeFt) {
			return s, true
		}
	}
	return Sector{}, false
}

// SectorByName looks up a ring by name.
func (a *Airspace) SectorByName(name string) (Sector, bool) {
	for _, s := range a.Sectors {
		if s.Name == name {
			return s, true
		}
	}
	return Sector{}, false
}

// InwardNeighbor returns the ring immediately inside the named one.
func (a *Airspace) InwardNeighbor(name string) (Sector, bool) {
	for i, s := range a.Sectors {
		if s.Name == name && i > 0 {
			return a.Sectors[i-1], true
		}
	}
	return Sector{}, false
}

// OutwardNeighbor returns the ring immediately outside the named one.
func (a *Airspace) OutwardNeighbor(name string) (Sector, bool) {
	for i, s := range a.Sectors {
		if s.Name == name && i < len(a.Sectors)-1 {
			return a.Sectors[i+1], true
		}
	}
	return Sector{}, false
}

// Outermost returns the outer ring, where boundary reflection applies.
func (a *Airspace) Outermost() Sector {
	return a.Sectors[len(a.Sectors)-1]
}

// NearestEntryFix returns the fix closest to the position by great-circle
// distance. Ties resolve to the fix with the lowest bearing. The second
// return is false when no fixes are configured.
func (a *Airspace) NearestEntryFix(pos coordinates.Geographic) (EntryFix, bool) {
	if len(a.EntryFixes) == 0 {
		return EntryFix{}, false
	}
	best := a.EntryFixes[0]
	bestDist := coordinates.DistanceNauticalMiles(pos, coordinates.Geographic{
		Latitude: best.Latitude, Longitude: best.Longitude,
	})
	for _, fix := range a.EntryFixes[1:] {
		d := coordinates.DistanceNauticalMiles(pos, coordinates.Geographic{
			Latitude: fix.Latitude, Longitude: fix.Longitude,
		})
		if d < bestDist || (d == bestDist && fix.BearingDeg < best.BearingDeg) {
			best, bestDist = fix, d
		}
	}
	return best, true
}

// ReflectionHeading computes the heading a reflected flight is turned to:
// the bearing back to the airport center plus a random offset in
// [-ReflectionJitterDeg, +ReflectionJitterDeg).
func (a *Airspace) ReflectionHeading(pos coordinates.Geographic, rng *rand.Rand) float64 {
	center := coordinates.Geographic{Latitude: a.Airport.Latitude, Longitude: a.Airport.Longitude}
	jitter := (rng.Float64()*2.0 - 1.0) * ReflectionJitterDeg
	return coordinates.NormalizeHeading(coordinates.Bearing(pos, center) + jitter)
}

// DistanceToAirport is a convenience wrapper around the great-circle
// distance from a position to the reference point.
func (a *Airspace) DistanceToAirport(pos coordinates.Geographic) float64 {
	center := coordinates.Geographic{Latitude: a.Airport.Latitude, Longitude: a.Airport.Longitude}
	return coordinates.DistanceNauticalMiles(pos, center)
}
