// Package events carries the engine's pub/sub surface: the message
// envelope, the payload builders for every event the engine emits, the
// notify-based publisher and the spawn listener.
package events

import (
	"time"

	"github.com/atcsim/atc-engine/pkg/model"
)

// Event types published on the engine channel.
const (
	TypePositionUpdated    = "aircraft.position_updated"
	TypeThresholdEvent     = "aircraft.threshold_event"
	TypeSectorHandoff      = "sector.handoff"
	TypeBoundaryReflection = "sector.boundary_reflection"
	TypeStateSnapshot      = "engine.state_snapshot"
	TypeSystemStatus       = "system.status"

	// TypeAircraftCreated is consumed from the spawn channel.
	TypeAircraftCreated = "aircraft.created"
)

// timestampLayout is UTC ISO-8601 with millisecond precision.
const timestampLayout = "2006-01-02T15:04:05.000Z"

// Envelope wraps every published message.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEnvelope stamps a payload with the current UTC time.
func NewEnvelope(eventType string, data map[string]any) Envelope {
	return Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(timestampLayout),
		Data:      data,
	}
}

// aircraftSummary is the per-flight block shared by position updates and
// snapshots.
func aircraftSummary(f *model.Flight) map[string]any {
	return map[string]any{
		"id":                     f.ID,
		"callsign":               f.Callsign,
		"lat":                    f.Latitude,
		"lon":                    f.Longitude,
		"altitude_ft":            f.AltitudeFt,
		"speed_kts":              f.SpeedKts,
		"heading":                f.Heading,
		"vertical_speed_fpm":     f.VerticalSpeedFpm,
		"distance_to_airport_nm": derefOrZero(f.DistanceToAirportNM),
		"controller":             string(f.Controller),
		"phase":                  string(f.Phase),
	}
}

// PositionUpdated is emitted once per flight per tick, before any other
// event for the same flight and tick.
func PositionUpdated(f *model.Flight, tick uint64) Envelope {
	data := map[string]any{
		"tick":     tick,
		"aircraft": aircraftSummary(f),
	}
	return NewEnvelope(TypePositionUpdated, data)
}

// ThresholdEvent is emitted on each at-most-once distance or altitude
// threshold crossing. extra carries event-specific annotations such as
// the nearest entry fix.
func ThresholdEvent(f *model.Flight, tick uint64, eventType string, extra map[string]any) Envelope {
	data := map[string]any{
		"tick":                   tick,
		"aircraft_id":            f.ID,
		"callsign":               f.Callsign,
		"event_type":             eventType,
		"distance_to_airport_nm": derefOrZero(f.DistanceToAirportNM),
		"altitude_ft":            f.AltitudeFt,
	}
	for k, v := range extra {
		data[k] = v
	}
	return NewEnvelope(TypeThresholdEvent, data)
}

// SectorHandoff is emitted when a sector transition commits.
func SectorHandoff(f *model.Flight, tick uint64, from, to string) Envelope {
	data := map[string]any{
		"tick":        tick,
		"aircraft_id": f.ID,
		"callsign":    f.Callsign,
		"from_sector": from,
		"to_sector":   to,
		"distance_to_airport_nm": derefOrZero(f.DistanceToAirportNM),
	}
	return NewEnvelope(TypeSectorHandoff, data)
}

// BoundaryReflection is emitted when a flight is turned back at the outer
// edge of the outermost sector.
func BoundaryReflection(f *model.Flight, tick uint64) Envelope {
	data := map[string]any{
		"tick":        tick,
		"aircraft_id": f.ID,
		"callsign":    f.Callsign,
		"new_heading": f.Heading,
		"distance_to_airport_nm": derefOrZero(f.DistanceToAirportNM),
	}
	return NewEnvelope(TypeBoundaryReflection, data)
}

// StateSnapshot summarizes all active flights, published every N ticks.
func StateSnapshot(tick uint64, flights []model.Flight) Envelope {
	summaries := make([]map[string]any, 0, len(flights))
	for i := range flights {
		f := &flights[i]
		summaries = append(summaries, map[string]any{
			"id":                     f.ID,
			"callsign":               f.Callsign,
			"sector":                 f.Sector,
			"phase":                  string(f.Phase),
			"distance_to_airport_nm": derefOrZero(f.DistanceToAirportNM),
			"altitude_ft":            f.AltitudeFt,
		})
	}
	data := map[string]any{
		"tick":          tick,
		"active_flights": len(flights),
		"flights":       summaries,
	}
	return NewEnvelope(TypeStateSnapshot, data)
}

// SystemStatus is emitted on engine start and stop.
func SystemStatus(runID, status string, extra map[string]any) Envelope {
	data := map[string]any{
		"run_id": runID,
		"status": status,
	}
	for k, v := range extra {
		data[k] = v
	}
	return NewEnvelope(TypeSystemStatus, data)
}

// SpawnMessage is the decoded aircraft.created payload the listener
// consumes. Fields beyond id and flight_type are opaque.
type SpawnMessage struct {
	Type string `json:"type"`
	Data struct {
		Aircraft struct {
			ID         int64  `json:"id"`
			FlightType string `json:"flight_type"`
		} `json:"aircraft"`
	} `json:"data"`
}

func derefOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
