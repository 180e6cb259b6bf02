package tle

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// earthMu is the WGS-84 gravitational parameter in km^3/s^2.
	earthMu = 398600.4418
	// earthRadiusKm is the WGS-84 equatorial radius.
	earthRadiusKm = 6378.137
)

// Elements holds the mean orbital elements carried on line 2 of a TLE.
type Elements struct {
	Inclination   float64 // degrees
	RAAN          float64 // degrees
	Eccentricity  float64
	ArgPerigee    float64 // degrees
	MeanAnomaly   float64 // degrees
	MeanMotion    float64 // revolutions per day
	RevolutionNum int
}

// ParseElements extracts the orbital elements from line 2.
func ParseElements(line2 string) (Elements, error) {
	line2 = strings.TrimRight(line2, "\r\n ")
	if len(line2) < 63 {
		return Elements{}, fmt.Errorf("line2 length %d, expected at least 63", len(line2))
	}
	if line2[0] != '2' {
		return Elements{}, fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}

	var e Elements
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"inclination", line2[8:16], &e.Inclination},
		{"raan", line2[17:25], &e.RAAN},
		// Eccentricity has an implied leading decimal point.
		{"eccentricity", "0." + strings.TrimSpace(line2[26:33]), &e.Eccentricity},
		{"argument of perigee", line2[34:42], &e.ArgPerigee},
		{"mean anomaly", line2[43:51], &e.MeanAnomaly},
		{"mean motion", line2[52:63], &e.MeanMotion},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
		if err != nil {
			return Elements{}, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	if e.MeanMotion <= 0 {
		return Elements{}, fmt.Errorf("invalid mean motion %v", e.MeanMotion)
	}

	if len(line2) >= 68 {
		if rev, err := strconv.Atoi(strings.TrimSpace(line2[63:68])); err == nil {
			e.RevolutionNum = rev
		}
	}
	return e, nil
}

// Period returns the orbital period.
func (e Elements) Period() time.Duration {
	return time.Duration(float64(24*time.Hour) / e.MeanMotion)
}

// SemiMajorAxis returns the semi-major axis in km derived from mean motion.
func (e Elements) SemiMajorAxis() float64 {
	n := e.MeanMotion * 2 * math.Pi / 86400 // rad/s
	return math.Cbrt(earthMu / (n * n))
}

// PerigeeApogee returns the perigee and apogee altitudes above the
// equatorial radius, in km.
func (e Elements) PerigeeApogee() (perigee, apogee float64) {
	a := e.SemiMajorAxis()
	return a*(1-e.Eccentricity) - earthRadiusKm, a*(1+e.Eccentricity) - earthRadiusKm
}
