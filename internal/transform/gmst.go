package transform

import (
	"math"
	"time"
)

const (
	// j2000 is the Julian Date of 2000-01-01 12:00 TT.
	j2000 = 2451545.0
	// unixEpochJD is the Julian Date of 1970-01-01 00:00 UTC.
	unixEpochJD = 2440587.5

	secondsPerDay      = 86400.0
	daysPerCentury     = 36525.0
	millisecondsPerDay = secondsPerDay * 1000
)

// OmegaEarth is Earth's rotation rate in rad/s (IAU value).
const OmegaEarth = 7.292115146706979e-5

// JulianDate converts t to a Julian Date. Simulation times carry
// millisecond precision and so does the result.
func JulianDate(t time.Time) float64 {
	return unixEpochJD + float64(t.UnixMilli())/millisecondsPerDay
}

// IAU-82 GMST polynomial in seconds of time, T in Julian centuries of UT1
// from J2000 (Vallado eq. 3-47). The linear term folds 876600h into seconds.
var gmstCoefficients = [4]float64{
	67310.54841,
	876600*3600 + 8640184.812866,
	0.093104,
	-6.2e-6,
}

// GMST returns Greenwich Mean Sidereal Time at t in radians, in [0, 2π).
func GMST(t time.Time) float64 {
	T := (JulianDate(t) - j2000) / daysPerCentury

	c := gmstCoefficients
	sec := c[0] + T*(c[1]+T*(c[2]+T*c[3]))

	sec = math.Mod(sec, secondsPerDay)
	if sec < 0 {
		sec += secondsPerDay
	}
	return sec / secondsPerDay * 2 * math.Pi
}
