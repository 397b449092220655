package territory

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// EarthRadiusMeters is the mean Earth radius used for every distance in the engine.
const EarthRadiusMeters = 6371000.0

// HaversineDistanceMeters returns the great-circle distance between a and b.
func HaversineDistanceMeters(a, b GeoPoint) float64 {
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// BearingDegrees returns the initial bearing from one point to another in [0, 360),
// where 0 is North and 90 is East.
func BearingDegrees(from, to GeoPoint) float64 {
	lat1 := from.Lat * math.Pi / 180
	lat2 := to.Lat * math.Pi / 180
	lonDiff := (to.Lng - from.Lng) * math.Pi / 180

	y := math.Sin(lonDiff) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lonDiff)

	bearing := math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
	// Mod can round up to exactly 360 for tiny negative angles
	if bearing >= 360 {
		bearing -= 360
	}
	return bearing
}

// TraceLengthMeters sums the haversine distance between consecutive points.
func TraceLengthMeters(points []GeoPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += HaversineDistanceMeters(points[i-1], points[i])
	}
	return total
}

// TraceLengthKm is TraceLengthMeters in kilometers.
func TraceLengthKm(points []GeoPoint) float64 {
	return TraceLengthMeters(points) / 1000
}

// DestinationPoint moves distance meters from p along bearing degrees.
func DestinationPoint(p GeoPoint, bearing, distance float64) GeoPoint {
	bearingRad := bearing * math.Pi / 180
	angular := distance / EarthRadiusMeters
	latRad := p.Lat * math.Pi / 180
	lngRad := p.Lng * math.Pi / 180

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angular) +
		math.Cos(latRad)*math.Sin(angular)*math.Cos(bearingRad))
	lng2 := lngRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angular)*math.Cos(latRad),
		math.Cos(angular)-math.Sin(latRad)*math.Sin(lat2))

	return GeoPoint{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}

// orbPoint converts to orb's [lng, lat] order.
func orbPoint(p GeoPoint) orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func fromOrbPoint(p orb.Point) GeoPoint {
	return GeoPoint{Lat: p[1], Lng: p[0]}
}

func orbLineString(points []GeoPoint) orb.LineString {
	ls := make(orb.LineString, len(points))
	for i, p := range points {
		ls[i] = orbPoint(p)
	}
	return ls
}

func orbRing(r Ring) orb.Ring {
	ring := make(orb.Ring, len(r))
	for i, p := range r {
		ring[i] = orbPoint(p)
	}
	return ring
}

func fromOrbLineString(ls orb.LineString) []GeoPoint {
	out := make([]GeoPoint, len(ls))
	for i, p := range ls {
		out[i] = fromOrbPoint(p)
	}
	return out
}

// Bound returns the lat/lng bounding box of the ring.
func (r Ring) Bound() orb.Bound {
	return orbRing(r).Bound()
}

// localProjection is an equirectangular projection centred on a reference
// latitude/longitude. At city scale it maps degrees to meters well within GPS noise.
type localProjection struct {
	origin GeoPoint
	cosLat float64
}

func newLocalProjection(origin GeoPoint) localProjection {
	return localProjection{origin: origin, cosLat: math.Cos(origin.Lat * math.Pi / 180)}
}

// projectionFor centres a projection on the middle of the given points' bounds.
func projectionFor(points ...[]GeoPoint) localProjection {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, set := range points {
		for _, p := range set {
			b = b.Extend(orbPoint(p))
		}
	}
	if b.Min[0] > b.Max[0] {
		return newLocalProjection(GeoPoint{})
	}
	return newLocalProjection(fromOrbPoint(b.Center()))
}

func (lp localProjection) forward(p GeoPoint) orb.Point {
	const rad = math.Pi / 180
	return orb.Point{
		(p.Lng - lp.origin.Lng) * rad * EarthRadiusMeters * lp.cosLat,
		(p.Lat - lp.origin.Lat) * rad * EarthRadiusMeters,
	}
}

func (lp localProjection) inverse(p orb.Point) GeoPoint {
	const deg = 180 / math.Pi
	lng := lp.origin.Lng
	if lp.cosLat != 0 {
		lng += p[0] / (EarthRadiusMeters * lp.cosLat) * deg
	}
	return GeoPoint{
		Lat: lp.origin.Lat + p[1]/EarthRadiusMeters*deg,
		Lng: lng,
	}
}
