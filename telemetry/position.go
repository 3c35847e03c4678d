package telemetry

import "math"

// WGS84 ellipsoid constants.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Position is a geodetic coordinate: degrees latitude/longitude, metres altitude.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// LookAngles describes a payload as seen from a station.
type LookAngles struct {
	Azimuth   float64 // degrees true, 0..360
	Elevation float64 // degrees above horizon
	Range     float64 // straight-line distance in metres
}

func ecef(p Position) (x, y, z float64) {
	lat := p.Latitude * math.Pi / 180
	lon := p.Longitude * math.Pi / 180
	sinLat := math.Sin(lat)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
	x = (n + p.Altitude) * math.Cos(lat) * math.Cos(lon)
	y = (n + p.Altitude) * math.Cos(lat) * math.Sin(lon)
	z = (n*(1-wgs84E2) + p.Altitude) * sinLat
	return
}

// StraightDistance returns the straight-line (chord) distance in metres
// between two geodetic positions, via ECEF conversion.
func StraightDistance(a, b Position) float64 {
	ax, ay, az := ecef(a)
	bx, by, bz := ecef(b)
	dx, dy, dz := bx-ax, by-ay, bz-az
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Look computes azimuth, elevation, and range from a station to a payload.
func Look(station, payload Position) LookAngles {
	sx, sy, sz := ecef(station)
	px, py, pz := ecef(payload)
	dx, dy, dz := px-sx, py-sy, pz-sz

	lat := station.Latitude * math.Pi / 180
	lon := station.Longitude * math.Pi / 180
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	sinLon, cosLon := math.Sin(lon), math.Cos(lon)

	// ECEF delta rotated into the station's east/north/up frame.
	east := -sinLon*dx + cosLon*dy
	north := -sinLat*cosLon*dx - sinLat*sinLon*dy + cosLat*dz
	up := cosLat*cosLon*dx + cosLat*sinLon*dy + sinLat*dz

	rng := math.Sqrt(dx*dx + dy*dy + dz*dz)
	az := math.Atan2(east, north) * 180 / math.Pi
	if az < 0 {
		az += 360
	}
	el := 0.0
	if rng > 0 {
		el = math.Asin(up/rng) * 180 / math.Pi
	}
	return LookAngles{Azimuth: az, Elevation: el, Range: rng}
}
