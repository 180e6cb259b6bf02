// Package transform converts SGP4 output between reference frames: TEME to
// ECEF for keyframes, ECEF to geodetic and look angles for ground tracks and
// passes, and TEME to RIC for conjunction screening.
//
// TEME to ECEF rotates by GMST only (TEME to PEF, taken as ECEF). Polar
// motion and the equation of the equinoxes are ignored, an error of about
// 50m.
//
// Reference: Vallado, "Fundamentals of Astrodynamics and Applications", Ch. 3.
package transform

import (
	"math"
	"time"
)

// PositionTEME represents a satellite position and velocity in the TEME frame.
type PositionTEME struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// PositionECEF represents a satellite position and velocity in the ECEF frame.
type PositionECEF struct {
	X, Y, Z    float64 // meters
	VX, VY, VZ float64 // m/s
}

const (
	metersPerKm = 1000.0

	// Accepted orbit radius for ECEF positions, meters.
	minECEFRadius = 6200 * metersPerKm
	maxECEFRadius = 50000 * metersPerKm
)

// TEMEToECEF rotates a TEME state (km, km/s) into ECEF (m, m/s) at t.
func TEMEToECEF(teme PositionTEME, t time.Time) PositionECEF {
	return TEMEToECEFWithGMST(teme, GMST(t))
}

// TEMEToECEFWithGMST is TEMEToECEF with a precomputed GMST in radians, for
// batches of satellites at one instant.
//
//	r_ecef = R3(gmst) r_teme
//	v_ecef = R3(gmst) v_teme - w x r_ecef
func TEMEToECEFWithGMST(teme PositionTEME, gmst float64) PositionECEF {
	sin, cos := math.Sincos(gmst)
	rotate := func(x, y float64) (float64, float64) {
		return x*cos + y*sin, y*cos - x*sin
	}

	x, y := rotate(teme.X, teme.Y)
	vx, vy := rotate(teme.VX, teme.VY)
	vx += OmegaEarth * y
	vy -= OmegaEarth * x

	return PositionECEF{
		X:  x * metersPerKm,
		Y:  y * metersPerKm,
		Z:  teme.Z * metersPerKm,
		VX: vx * metersPerKm,
		VY: vy * metersPerKm,
		VZ: teme.VZ * metersPerKm,
	}
}

// ValidateECEF reports whether pos is finite and between the Earth's
// surface and a little beyond GEO.
func ValidateECEF(pos PositionECEF) bool {
	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return false
	}
	return r >= minECEFRadius && r <= maxECEFRadius
}
