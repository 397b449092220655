package territory

import "math"

// FilterResult explains what PathFilter did with a fix.
type FilterResult int

const (
	// FixAccepted means the fix was appended to the trace.
	FixAccepted FilterResult = iota
	// FixRejectedAccuracy means the reported accuracy exceeded the gate (or was unknown).
	FixRejectedAccuracy
	// FixRejectedMovement means the fix was too close to the last accepted point.
	FixRejectedMovement
	// FixRejectedInvalid means the coordinates were not finite or out of range.
	FixRejectedInvalid
)

func (r FilterResult) String() string {
	switch r {
	case FixAccepted:
		return "accepted"
	case FixRejectedAccuracy:
		return "rejected:accuracy"
	case FixRejectedMovement:
		return "rejected:movement"
	case FixRejectedInvalid:
		return "rejected:invalid"
	}
	return "unknown"
}

// PathFilter turns a stream of raw fixes into an accepted trace.
//
// Policy: every fix, including the first of a session, must pass the accuracy
// gate. The first accepted fix bypasses the movement gate because there is no
// previous point to measure against. Fixes are processed in arrival order and
// never reordered. PathFilter is not safe for concurrent use; the tracking
// session serializes access.
type PathFilter struct {
	maxAccuracy float64
	minMovement float64

	trace    Trace
	distance float64
}

// NewPathFilter creates a filter using the accuracy and movement thresholds.
func NewPathFilter(th Thresholds) *PathFilter {
	th = th.WithDefaults()
	return &PathFilter{
		maxAccuracy: th.AccuracyMeters,
		minMovement: th.MovementMeters,
	}
}

// Add applies both gates to fix and appends it to the trace when accepted.
func (f *PathFilter) Add(fix RawFix) FilterResult {
	if !validCoordinate(fix.GeoPoint) {
		return FixRejectedInvalid
	}
	// NaN and +Inf accuracy both fail this comparison's negation
	if !(fix.Accuracy <= f.maxAccuracy) {
		return FixRejectedAccuracy
	}

	if len(f.trace) == 0 {
		f.trace = append(f.trace, fix.GeoPoint)
		return FixAccepted
	}

	last := f.trace[len(f.trace)-1]
	step := HaversineDistanceMeters(last, fix.GeoPoint)
	if step < f.minMovement {
		return FixRejectedMovement
	}

	f.trace = append(f.trace, fix.GeoPoint)
	f.distance += step
	return FixAccepted
}

// Trace returns a copy of the accepted points.
func (f *PathFilter) Trace() Trace {
	return f.trace.Clone()
}

// Len returns the number of accepted points.
func (f *PathFilter) Len() int {
	return len(f.trace)
}

// DistanceMeters is the cumulative length of the accepted trace.
func (f *PathFilter) DistanceMeters() float64 {
	return f.distance
}

// Start returns the first accepted point.
func (f *PathFilter) Start() (GeoPoint, bool) {
	if len(f.trace) == 0 {
		return GeoPoint{}, false
	}
	return f.trace[0], true
}

// Last returns the most recently accepted point.
func (f *PathFilter) Last() (GeoPoint, bool) {
	if len(f.trace) == 0 {
		return GeoPoint{}, false
	}
	return f.trace[len(f.trace)-1], true
}

// Reset discards the trace.
func (f *PathFilter) Reset() {
	f.trace = nil
	f.distance = 0
}

func validCoordinate(p GeoPoint) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
