package simclock

import "time"

// SyncTypeOffset is the type tag of every synchronization message.
const SyncTypeOffset = "offset"

// Simulation time is confined to this range. It spans less than the
// roughly 292 years a time.Duration can hold, so offsets between any two
// instants inside it are exact.
var (
	MinSimulationTime = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	MaxSimulationTime = time.Date(2150, 1, 1, 0, 0, 0, 0, time.UTC)
)

// ClampSimulationTime pins t to [MinSimulationTime, MaxSimulationTime].
func ClampSimulationTime(t time.Time) time.Time {
	switch {
	case t.Before(MinSimulationTime):
		return MinSimulationTime
	case t.After(MaxSimulationTime):
		return MaxSimulationTime
	}
	return t
}

// InSimulationRange reports whether t lies in the simulation range.
func InSimulationRange(t time.Time) bool {
	return !t.Before(MinSimulationTime) && !t.After(MaxSimulationTime)
}

// Mapping is the wall-clock to simulation-time mapping shared by the clock
// and every worker that derives simulation time on its own.
//
//	sim = DynamicOffsetEpoch + StaticOffset + (wall - DynamicOffsetEpoch) * PropRate
//
// With PropRate == 0 the result does not depend on wall. Results outside
// the simulation range are pinned to its bounds.
type Mapping struct {
	StaticOffset       time.Duration
	DynamicOffsetEpoch time.Time
	PropRate           float64
}

// RealTime returns the identity mapping anchored at epoch.
func RealTime(epoch time.Time) Mapping {
	return Mapping{DynamicOffsetEpoch: epoch, PropRate: 1}
}

// At returns the simulation time for the given wall-clock time.
func (m Mapping) At(wall time.Time) time.Time {
	base := ClampSimulationTime(m.DynamicOffsetEpoch.Add(m.StaticOffset))
	if m.PropRate == 0 {
		return base
	}
	// Compare in float64 before converting: a scaled span beyond the
	// range would not fit a Duration.
	scaled := float64(wall.Sub(m.DynamicOffsetEpoch)) * m.PropRate
	switch {
	case scaled >= float64(MaxSimulationTime.Sub(base)):
		return MaxSimulationTime
	case scaled <= float64(MinSimulationTime.Sub(base)):
		return MinSimulationTime
	}
	return base.Add(time.Duration(scaled))
}

// Frozen reports whether simulation time is paused.
func (m Mapping) Frozen() bool {
	return m.PropRate == 0
}

// Message encodes the mapping as a synchronization message.
func (m Mapping) Message() SyncMessage {
	return SyncMessage{
		Type:               SyncTypeOffset,
		StaticOffset:       m.StaticOffset.Milliseconds(),
		DynamicOffsetEpoch: m.DynamicOffsetEpoch.UnixMilli(),
		PropRate:           m.PropRate,
	}
}

// SyncMessage is broadcast to background workers whenever the mapping
// changes. Offsets are milliseconds; the epoch is Unix milliseconds.
type SyncMessage struct {
	Type               string  `json:"type"`
	StaticOffset       int64   `json:"staticOffset"`
	DynamicOffsetEpoch int64   `json:"dynamicOffsetEpoch"`
	PropRate           float64 `json:"propRate"`
}

// Mapping decodes the message back into a Mapping.
func (s SyncMessage) Mapping() Mapping {
	return Mapping{
		StaticOffset:       time.Duration(s.StaticOffset) * time.Millisecond,
		DynamicOffsetEpoch: time.UnixMilli(s.DynamicOffsetEpoch).UTC(),
		PropRate:           s.PropRate,
	}
}
