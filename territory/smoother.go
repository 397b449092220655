package territory

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// PathSmoother post-processes a finished trace. It must never be applied to
// a live recording: smoothing pulls the last point backwards and would delay
// closure detection.
type PathSmoother struct {
	Window          int
	ToleranceMeters float64
	MetersPerDegree float64
}

// NewPathSmoother builds a smoother from the smoothing thresholds.
func NewPathSmoother(th Thresholds) PathSmoother {
	th = th.WithDefaults()
	return PathSmoother{
		Window:          th.SmoothingWindow,
		ToleranceMeters: th.SimplifyToleranceMeters,
		MetersPerDegree: th.MetersPerDegree,
	}
}

// Optimize smooths then simplifies the trace.
func (s PathSmoother) Optimize(t Trace) Trace {
	return SimplifyPath(MovingAverage(t, s.Window), s.ToleranceMeters, s.MetersPerDegree)
}

// MovingAverage replaces every interior point with the mean of the window
// centred on it; lat and lng are averaged independently. The first and last
// window/2 points are kept as-is. A window of 1 or less, or one not smaller
// than the trace, returns the input unchanged.
func MovingAverage(t Trace, window int) Trace {
	if window <= 1 || window >= len(t) {
		return t
	}

	half := window / 2
	out := t.Clone()
	for i := half; i < len(t)-half; i++ {
		lo := i - half
		hi := lo + window // exclusive
		var sumLat, sumLng float64
		for _, p := range t[lo:hi] {
			sumLat += p.Lat
			sumLng += p.Lng
		}
		out[i] = GeoPoint{
			Lat: sumLat / float64(window),
			Lng: sumLng / float64(window),
		}
	}
	return out
}

// SimplifyPath applies Douglas-Peucker with a tolerance in meters.
//
// The tolerance is turned into degrees with a flat metersPerDegree factor
// (111000 by default). That is an approximation: it is exact-ish for latitude
// everywhere and for longitude only near the equator, which is acceptable for
// thinning GPS noise but not for geodesy. First and last points are always kept;
// inputs of two points or fewer are returned unchanged.
func SimplifyPath(t Trace, toleranceMeters, metersPerDegree float64) Trace {
	if len(t) <= 2 || toleranceMeters <= 0 {
		return t
	}
	if metersPerDegree <= 0 {
		metersPerDegree = DefaultThresholds().MetersPerDegree
	}

	ls := orbLineString(t)
	simplified := simplify.DouglasPeucker(toleranceMeters / metersPerDegree).Simplify(ls)
	result, ok := simplified.(orb.LineString)
	if !ok || len(result) < 2 {
		return t
	}

	out := Trace(fromOrbLineString(result))
	// Endpoints are preserved bit-for-bit, not round-tripped
	out[0] = t[0]
	out[len(out)-1] = t[len(t)-1]
	return out
}
