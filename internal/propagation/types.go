package propagation

import "time"

// Keyframe holds the positions of all satellites at one simulation time.
type Keyframe struct {
	Timestamp  time.Time
	Satellites []SatellitePosition
}

// SatellitePosition holds a single satellite's ECEF position at a keyframe time.
type SatellitePosition struct {
	NORADID      int
	PositionECEF [3]float64 // meters (X, Y, Z in ECEF)
	VelocityECEF [3]float64 // m/s (X, Y, Z in ECEF)
}

// PropConfig configures the propagator.
type PropConfig struct {
	Workers int           // Worker pool size (default: runtime.NumCPU())
	Step    time.Duration // Default keyframe spacing in simulation time (default: 5s)
}

// Span selects keyframes along the simulation timeline: Count frames one
// Step apart starting at From, walking backwards when Reverse is set.
type Span struct {
	From    time.Time
	Count   int
	Step    time.Duration // zero uses PropConfig.Step
	Reverse bool
}

// At returns the timestamp of the i-th frame of the span.
func (s Span) At(i int) time.Time {
	d := time.Duration(i) * s.Step
	if s.Reverse {
		d = -d
	}
	return s.From.Add(d)
}
