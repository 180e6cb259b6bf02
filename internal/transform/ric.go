package transform

import "math"

// RIC is a position relative to a reference satellite in its radial,
// in-track and cross-track frame (km).
type RIC struct {
	Radial     float64
	InTrack    float64
	CrossTrack float64
}

// Range returns the distance from the reference satellite in km.
func (r RIC) Range() float64 {
	return math.Sqrt(r.Radial*r.Radial + r.InTrack*r.InTrack + r.CrossTrack*r.CrossTrack)
}

// Within reports whether r lies inside the box of half-widths u, v, w (km)
// centered on the reference satellite.
func (r RIC) Within(u, v, w float64) bool {
	return math.Abs(r.Radial) < u && math.Abs(r.InTrack) < v && math.Abs(r.CrossTrack) < w
}

// ToRIC expresses the position of target relative to reference in the
// reference's RIC frame. Both states are TEME (km, km/s).
//
//	R = r / |r|
//	C = (r x v) / |r x v|
//	I = C x R
func ToRIC(reference, target PositionTEME) RIC {
	r := [3]float64{reference.X, reference.Y, reference.Z}
	v := [3]float64{reference.VX, reference.VY, reference.VZ}

	radial := unit(r)
	cross := unit(crossProduct(r, v))
	inTrack := crossProduct(cross, radial)

	d := [3]float64{target.X - reference.X, target.Y - reference.Y, target.Z - reference.Z}
	return RIC{
		Radial:     dot(d, radial),
		InTrack:    dot(d, inTrack),
		CrossTrack: dot(d, cross),
	}
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func crossProduct(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func unit(a [3]float64) [3]float64 {
	n := math.Sqrt(dot(a, a))
	if n == 0 {
		return a
	}
	return [3]float64{a[0] / n, a[1] / n, a[2] / n}
}
