// Package ephemeris decodes the delimited text blocks returned by the
// orbital-ephemeris service into structured records. Parsing is a pure
// function of the input text, with no I/O, so it can be tested exhaustively
// against recorded fixture payloads.
package ephemeris

import (
	"math"
	"time"
)

// SpeedOfLightKmPerSec is c in km/s, used for light-time derivation.
const SpeedOfLightKmPerSec = 299792.458

// KmPerAU converts astronomical units to kilometers.
const KmPerAU = 149597870.7

// Vector3 is a Cartesian triple in the ecliptic frame.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Norm returns the Euclidean magnitude.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Record is one parsed ephemeris entry. Every field is nullable: absence is
// a first-class, expected state, not an error. Consumers must treat nil as
// "unavailable", never as zero.
type Record struct {
	TimestampUTC         *time.Time `json:"timestamp_utc,omitempty"`
	PositionKm           *Vector3   `json:"position_km,omitempty"`
	VelocityKmPerSec     *Vector3   `json:"velocity_km_per_sec,omitempty"`
	RightAscensionDeg    *float64   `json:"right_ascension_deg,omitempty"`
	DeclinationDeg       *float64   `json:"declination_deg,omitempty"`
	DistanceFromEarthAU  *float64   `json:"distance_from_earth_au,omitempty"`
	DistanceFromSunAU    *float64   `json:"distance_from_sun_au,omitempty"`
	Eccentricity         *float64   `json:"eccentricity,omitempty"`
	PerihelionDistanceAU *float64   `json:"perihelion_distance_au,omitempty"`
	InclinationDeg       *float64   `json:"inclination_deg,omitempty"`
	ApparentMagnitude    *float64   `json:"apparent_magnitude,omitempty"`
}

// Empty reports whether no field at all was recovered.
func (r *Record) Empty() bool {
	return r.TimestampUTC == nil &&
		r.PositionKm == nil &&
		r.VelocityKmPerSec == nil &&
		r.RightAscensionDeg == nil &&
		r.DeclinationDeg == nil &&
		r.DistanceFromEarthAU == nil &&
		r.DistanceFromSunAU == nil &&
		r.Eccentricity == nil &&
		r.PerihelionDistanceAU == nil &&
		r.InclinationDeg == nil &&
		r.ApparentMagnitude == nil
}

// DistanceKm derives ‖position‖, or nil when no position vector was parsed.
func (r *Record) DistanceKm() *float64 {
	if r.PositionKm == nil {
		return nil
	}
	d := r.PositionKm.Norm()
	return &d
}

// SpeedKmPerSec derives ‖velocity‖, or nil when no velocity vector was parsed.
func (r *Record) SpeedKmPerSec() *float64 {
	if r.VelocityKmPerSec == nil {
		return nil
	}
	s := r.VelocityKmPerSec.Norm()
	return &s
}

// LightTimeSeconds derives one-way light time from the position vector, or
// from the Earth distance when only that is available.
func (r *Record) LightTimeSeconds() *float64 {
	if d := r.DistanceKm(); d != nil {
		lt := *d / SpeedOfLightKmPerSec
		return &lt
	}
	if r.DistanceFromEarthAU != nil {
		lt := *r.DistanceFromEarthAU * KmPerAU / SpeedOfLightKmPerSec
		return &lt
	}
	return nil
}

// SpacecraftPosition is the derived view of a Record consumed by the
// dashboard's spacecraft tracker: the raw record plus computed distance,
// speed, and communication-delay fields.
type SpacecraftPosition struct {
	Record

	DistanceKm                         *float64 `json:"distance_km,omitempty"`
	SpeedKmPerSec                      *float64 `json:"speed_km_per_sec,omitempty"`
	LightTimeSeconds                   *float64 `json:"light_time_seconds,omitempty"`
	CommunicationDelayRoundTripSeconds *float64 `json:"communication_delay_round_trip_seconds,omitempty"`
}

// NewSpacecraftPosition derives the dashboard view from a parsed record.
func NewSpacecraftPosition(r *Record) *SpacecraftPosition {
	sp := &SpacecraftPosition{Record: *r}
	sp.DistanceKm = r.DistanceKm()
	sp.SpeedKmPerSec = r.SpeedKmPerSec()
	sp.LightTimeSeconds = r.LightTimeSeconds()
	if sp.LightTimeSeconds != nil {
		rt := 2 * *sp.LightTimeSeconds
		sp.CommunicationDelayRoundTripSeconds = &rt
	}
	return sp
}
