package model

import (
	"fmt"
	"strings"
)

// Controller identifies the logical owner permitted to mutate a flight's
// state. The engine only evolves flights whose controller is ENGINE.
type Controller string

const (
	ControllerEngine   Controller = "ENGINE"
	ControllerEntry    Controller = "ENTRY_ATC"
	ControllerEnroute  Controller = "ENROUTE_ATC"
	ControllerApproach Controller = "APPROACH_ATC"
	ControllerTower    Controller = "TOWER_ATC"
	ControllerGround   Controller = "GROUND"
)

// Status is the flight lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusLanded   Status = "landed"
	StatusDeparted Status = "departed"
)

// FlightType distinguishes arrivals from departures. Departures are
// ignored by the engine.
type FlightType string

const (
	FlightTypeArrival   FlightType = "ARRIVAL"
	FlightTypeDeparture FlightType = "DEPARTURE"
)

// Phase is a derived description of where the flight is in its arrival
// profile. It is never authoritative for control decisions.
type Phase string

const (
	PhaseCruise    Phase = "CRUISE"
	PhaseDescent   Phase = "DESCENT"
	PhaseApproach  Phase = "APPROACH"
	PhaseFinal     Phase = "FINAL"
	PhaseTouchdown Phase = "TOUCHDOWN"
)

// Airport is the reference point the engine simulates arrivals around.
type Airport struct {
	ICAO        string
	Latitude    float64
	Longitude   float64
	ElevationFt float64
}

// Flight is one simulated aircraft. Identity and classification fields are
// immutable after creation; the engine is the sole writer of the kinematic
// state, controller, phase and bookkeeping fields while it controls the
// flight.
type Flight struct {
	ID             int64
	ICAO24         string
	Registration   string
	Callsign       string
	Squawk         string
	AircraftTypeID int64
	AirlineID      int64
	FlightType     FlightType

	// Kinematic state.
	Latitude         float64
	Longitude        float64
	AltitudeFt       float64
	SpeedKts         float64
	Heading          float64
	VerticalSpeedFpm float64

	// Targets. Nil means no target: the integrator applies bounded drift.
	TargetSpeedKts   *float64
	TargetHeadingDeg *float64
	TargetAltitudeFt *float64

	Controller Controller
	Status     Status
	Phase      Phase

	// Derived distance bookkeeping. DistanceToAirportNM is the distance as
	// of the last completed tick; LastDistanceNM the tick before that.
	DistanceToAirportNM *float64
	LastDistanceNM      *float64

	// Sector bookkeeping.
	Sector            string
	SectorStableTicks int

	// Threshold events already fired for this flight, at most once each
	// for the flight's lifetime.
	EventsFired EventSet
}

// Kinematic state bounds. A stored flight outside these bounds is rejected
// by the integrator as invalid.
const (
	MaxAltitudeFt       = 60000.0
	MaxSpeedBoundKts    = 600.0
	MaxVerticalSpeedFpm = 6000.0
)

// ValidateState checks the flight's kinematic fields against the storage
// bounds. It returns a descriptive error for the first violation found.
func (f *Flight) ValidateState() error {
	switch {
	case f.Latitude < -90 || f.Latitude > 90:
		return fmt.Errorf("latitude %.6f out of range [-90, 90]", f.Latitude)
	case f.Longitude < -180 || f.Longitude > 180:
		return fmt.Errorf("longitude %.6f out of range [-180, 180]", f.Longitude)
	case f.AltitudeFt < 0 || f.AltitudeFt > MaxAltitudeFt:
		return fmt.Errorf("altitude %.0f ft out of range [0, %.0f]", f.AltitudeFt, MaxAltitudeFt)
	case f.SpeedKts < 0 || f.SpeedKts > MaxSpeedBoundKts:
		return fmt.Errorf("speed %.1f kts out of range [0, %.0f]", f.SpeedKts, MaxSpeedBoundKts)
	case f.Heading < 0 || f.Heading >= 360:
		return fmt.Errorf("heading %.2f out of range [0, 360)", f.Heading)
	case f.VerticalSpeedFpm < -MaxVerticalSpeedFpm || f.VerticalSpeedFpm > MaxVerticalSpeedFpm:
		return fmt.Errorf("vertical speed %.0f fpm out of range [-%.0f, %.0f]",
			f.VerticalSpeedFpm, MaxVerticalSpeedFpm, MaxVerticalSpeedFpm)
	}
	return nil
}

// EventSet is an ordered set of threshold-event names. Order is insertion
// order, which keeps the serialized form stable across persist cycles.
type EventSet struct {
	names []string
}

// ParseEventSet parses the comma-joined serialized form.
func ParseEventSet(s string) EventSet {
	var es EventSet
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			es.Add(name)
		}
	}
	return es
}

// Has reports whether the named event has already fired.
func (es *EventSet) Has(name string) bool {
	for _, n := range es.names {
		if n == name {
			return true
		}
	}
	return false
}

// Add records the event name. It returns true if the name was newly added,
// false if it was already present.
func (es *EventSet) Add(name string) bool {
	if es.Has(name) {
		return false
	}
	es.names = append(es.names, name)
	return true
}

// Names returns the fired event names in insertion order.
func (es *EventSet) Names() []string {
	out := make([]string, len(es.names))
	copy(out, es.names)
	return out
}

// String serializes the set as a comma-joined list for storage.
func (es EventSet) String() string {
	return strings.Join(es.names, ",")
}

// LogEvent is an operator-visible event row written to the store's event
// log alongside pub/sub publication.
type LogEvent struct {
	Level      string
	Type       string
	Message    string
	Details    map[string]any
	AircraftID *int64
	Sector     string
	Direction  string
}
