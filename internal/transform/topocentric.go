package transform

import "math"

// WGS-84 ellipsoid.
const (
	wgs84A  = 6378137.0             // semi-major axis, meters
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// ObserverPosition is a ground site. The ECEF position and the rotation
// into the local horizon frame are computed once and reused for every
// satellite looked at from the site.
type ObserverPosition struct {
	LatRad, LonRad, AltM float64
	ECEF                 [3]float64 // meters

	sinLat, cosLat, sinLon, cosLon float64
}

// LookAngles locates a satellite in an observer's sky.
type LookAngles struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	ElevationDeg float64 // 0 = horizon, 90 = zenith
	RangeKm      float64
}

// GeodeticPoint is a position above the WGS-84 ellipsoid.
type GeodeticPoint struct {
	LatDeg, LonDeg, AltM float64
}

// primeVerticalRadius is the ellipsoid's radius of curvature in the prime
// vertical at the latitude with the given sine.
func primeVerticalRadius(sinLat float64) float64 {
	return wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
}

// NewObserverPosition builds a site from latitude and longitude in degrees
// and altitude in meters above the ellipsoid.
func NewObserverPosition(latDeg, lonDeg, altM float64) ObserverPosition {
	obs := ObserverPosition{
		LatRad: latDeg * degToRad,
		LonRad: lonDeg * degToRad,
		AltM:   altM,
	}
	obs.sinLat, obs.cosLat = math.Sincos(obs.LatRad)
	obs.sinLon, obs.cosLon = math.Sincos(obs.LonRad)

	n := primeVerticalRadius(obs.sinLat)
	obs.ECEF = [3]float64{
		(n + altM) * obs.cosLat * obs.cosLon,
		(n + altM) * obs.cosLat * obs.sinLon,
		(n*(1-wgs84E2) + altM) * obs.sinLat,
	}
	return obs
}

// ECEFToGeodetic converts an ECEF position in meters to latitude,
// longitude and altitude by fixed-point iteration on the latitude, seeded
// with Bowring's estimate. Five rounds are ample for orbital altitudes.
func ECEFToGeodetic(x, y, z float64) GeodeticPoint {
	p := math.Hypot(x, y)
	lat := math.Atan2(z, p*(1-wgs84E2))
	for range 5 {
		lat = math.Atan2(z+wgs84E2*primeVerticalRadius(math.Sin(lat))*math.Sin(lat), p)
	}

	sinLat, cosLat := math.Sincos(lat)
	n := primeVerticalRadius(sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		// Over a pole p/cosLat is undefined.
		alt = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return GeodeticPoint{
		LatDeg: lat * radToDeg,
		LonDeg: math.Atan2(y, x) * radToDeg,
		AltM:   alt,
	}
}

// ECEFToLookAngles returns azimuth, elevation and range from obs to a
// satellite at ECEF meters, via the South-East-Zenith frame (Vallado 4.4).
func ECEFToLookAngles(obs ObserverPosition, satX, satY, satZ float64) LookAngles {
	rx := satX - obs.ECEF[0]
	ry := satY - obs.ECEF[1]
	rz := satZ - obs.ECEF[2]

	south := obs.sinLat*obs.cosLon*rx + obs.sinLat*obs.sinLon*ry - obs.cosLat*rz
	east := -obs.sinLon*rx + obs.cosLon*ry
	zenith := obs.cosLat*obs.cosLon*rx + obs.cosLat*obs.sinLon*ry + obs.sinLat*rz

	rng := math.Sqrt(south*south + east*east + zenith*zenith)

	// North is -south in SEZ.
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * radToDeg,
		ElevationDeg: math.Asin(zenith/rng) * radToDeg,
		RangeKm:      rng / 1000,
	}
}
