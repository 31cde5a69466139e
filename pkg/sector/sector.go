// Package sector implements the per-flight handoff state machine over the
// concentric airspace rings: hysteresis thresholds, inbound filtering,
// stability counting, boundary reflection and at-most-once distance
// threshold events.
package sector

import (
	"math/rand"

	"github.com/atcsim/atc-engine/pkg/airspace"
	"github.com/atcsim/atc-engine/pkg/coordinates"
	"github.com/atcsim/atc-engine/pkg/model"
)

// Threshold event names, in ascending-distance emission order.
const (
	EventEnteredEntryZone = "ENTERED_ENTRY_ZONE"
	EventHandoffReady     = "HANDOFF_READY"
	EventTouchdown        = "TOUCHDOWN"
)

// Fixed distance thresholds for the at-most-once events.
const (
	EntryZoneNM    = 30.0
	HandoffReadyNM = 20.0

	// TouchdownAGLFt is the height above field elevation below which the
	// flight is considered landed.
	TouchdownAGLFt = 50.0

	// LandingRollSpeedKts is the ceiling applied to ground speed at
	// touchdown.
	LandingRollSpeedKts = 80.0
)

// Transition describes a committed sector handoff.
type Transition struct {
	From string
	To   string
	Tick uint64
}

// Result is everything a single Step decided for one flight.
type Result struct {
	// Transition is non-nil when a sector handoff committed this tick.
	Transition *Transition

	// Reflected is true when the flight was turned back at the outer
	// boundary; the flight's heading has already been rewritten.
	Reflected bool

	// ThresholdEvents lists newly fired at-most-once events in emission
	// order.
	ThresholdEvents []string

	// Touchdown is true when the flight landed this tick. Status,
	// controller, speed and vertical speed have been finalized.
	Touchdown bool
}

// flightState is the tracker's in-memory bookkeeping for one flight.
// Candidate counting is not persisted: a restart re-observes the
// candidate for stable_ticks_required ticks before committing, which only
// delays a pending handoff.
type flightState struct {
	candidateSector string
	candidateTicks  int
	entryTick       uint64
}

// Tracker runs the state machine for all flights the engine controls. It
// is not safe for concurrent use; the tick loop owns it.
type Tracker struct {
	airspace *airspace.Airspace
	flights  map[int64]*flightState
}

// NewTracker builds a tracker over the given airspace model.
func NewTracker(a *airspace.Airspace) *Tracker {
	return &Tracker{
		airspace: a,
		flights:  make(map[int64]*flightState),
	}
}

// Step evaluates one flight for one tick. distanceNM is the post-move
// distance to the airport; f.DistanceToAirportNM still holds the previous
// tick's value and supplies the inbound test. Step mutates the flight's
// sector bookkeeping, fired-event set, and, on reflection or touchdown,
// its kinematic and control fields.
func (t *Tracker) Step(f *model.Flight, distanceNM float64, tick uint64, rng *rand.Rand) Result {
	var res Result

	st, ok := t.flights[f.ID]
	if !ok {
		st = &flightState{entryTick: tick}
		t.flights[f.ID] = st
	}

	inbound := f.DistanceToAirportNM != nil && distanceNM < *f.DistanceToAirportNM
	geom, found := t.airspace.Classify(distanceNM, f.AltitudeFt)

	switch {
	case f.Sector == "":
		// First classification: adopt the geometric sector without a
		// handoff event. A flight already beyond the managed volume
		// adopts the outermost ring so the boundary reflection below
		// can turn it back.
		if found {
			f.Sector = geom.Name
			f.SectorStableTicks = 0
			st.entryTick = tick
		} else if outer := t.airspace.Outermost(); distanceNM >= outer.RadiusOuterNM {
			f.Sector = outer.Name
			f.SectorStableTicks = 0
			st.entryTick = tick
		}
	case found && geom.Name != f.Sector:
		if candidate, ok := t.candidate(f.Sector, geom, distanceNM, inbound); ok {
			if st.candidateSector == candidate.Name {
				st.candidateTicks++
			} else {
				st.candidateSector = candidate.Name
				st.candidateTicks = 1
			}
			if st.candidateTicks >= candidate.StableTicksRequired {
				res.Transition = &Transition{From: f.Sector, To: candidate.Name, Tick: tick}
				f.Sector = candidate.Name
				f.SectorStableTicks = 0
				st.candidateSector = ""
				st.candidateTicks = 0
				st.entryTick = tick
			}
		} else {
			st.candidateSector = ""
			st.candidateTicks = 0
		}
	default:
		// Same sector (or unclassified): any pending candidate decays.
		st.candidateSector = ""
		st.candidateTicks = 0
	}

	if res.Transition == nil && found && geom.Name == f.Sector && inbound {
		f.SectorStableTicks++
	}

	// Boundary reflection at the outer edge of the outermost ring.
	outer := t.airspace.Outermost()
	if f.Sector == outer.Name && distanceNM >= outer.RadiusOuterNM+outer.HysteresisNM {
		pos := coordinates.Geographic{Latitude: f.Latitude, Longitude: f.Longitude}
		f.Heading = t.airspace.ReflectionHeading(pos, rng)
		res.Reflected = true
	}

	// At-most-once threshold events, ascending-distance order.
	if distanceNM <= EntryZoneNM && f.EventsFired.Add(EventEnteredEntryZone) {
		res.ThresholdEvents = append(res.ThresholdEvents, EventEnteredEntryZone)
	}
	if distanceNM <= HandoffReadyNM && f.EventsFired.Add(EventHandoffReady) {
		res.ThresholdEvents = append(res.ThresholdEvents, EventHandoffReady)
	}
	if f.AltitudeFt < t.airspace.Airport.ElevationFt+TouchdownAGLFt && f.EventsFired.Add(EventTouchdown) {
		res.ThresholdEvents = append(res.ThresholdEvents, EventTouchdown)
		res.Touchdown = true
		t.land(f)
	}

	return res
}

// candidate evaluates the directed hysteresis threshold from the current
// sector toward the geometric one. Transitions only step to the adjacent
// ring; a flight that skipped a ring geometrically produces no candidate
// until it classifies into a neighbor.
func (t *Tracker) candidate(current string, geom airspace.Sector, distanceNM float64, inbound bool) (airspace.Sector, bool) {
	cur, ok := t.airspace.SectorByName(current)
	if !ok {
		// Recorded sector not in the model (stale config); adopt whatever
		// geometry says, one stable count at a time.
		return geom, true
	}

	if in, ok := t.airspace.InwardNeighbor(cur.Name); ok && geom.Name == in.Name {
		if inbound && distanceNM <= cur.RadiusInnerNM-cur.HysteresisNM {
			return in, true
		}
		return airspace.Sector{}, false
	}
	if out, ok := t.airspace.OutwardNeighbor(cur.Name); ok && geom.Name == out.Name {
		if !inbound && distanceNM >= cur.RadiusOuterNM+cur.HysteresisNM {
			return out, true
		}
		return airspace.Sector{}, false
	}
	return airspace.Sector{}, false
}

// land finalizes the flight at touchdown: the engine relinquishes control
// to ground.
func (t *Tracker) land(f *model.Flight) {
	f.Status = model.StatusLanded
	f.Controller = model.ControllerGround
	f.VerticalSpeedFpm = 0
	if f.SpeedKts > LandingRollSpeedKts {
		f.SpeedKts = LandingRollSpeedKts
	}
	f.Phase = model.PhaseTouchdown
	f.Sector = airspace.SectorRunway
}

// EntryTick reports the tick at which the flight entered its current
// sector, if the tracker has seen the flight.
func (t *Tracker) EntryTick(id int64) (uint64, bool) {
	st, ok := t.flights[id]
	if !ok {
		return 0, false
	}
	return st.entryTick, true
}

// Forget drops the tracker's state for a flight the engine no longer
// controls.
func (t *Tracker) Forget(id int64) {
	delete(t.flights, id)
}
