package territory

// ClosureDetector decides whether a dominio recording may be closed into a loop.
// It is a pure predicate without memory: drifting away after becoming closable
// flips the answer back to false on the next evaluation.
type ClosureDetector struct {
	Radius        float64 // meters from the start point
	MinLoopLength float64 // meters walked
}

// NewClosureDetector builds a detector from the closure thresholds.
func NewClosureDetector(th Thresholds) ClosureDetector {
	th = th.WithDefaults()
	return ClosureDetector{
		Radius:        th.ClosureRadiusMeters,
		MinLoopLength: th.MinLoopMeters,
	}
}

// Closable reports whether last is within the closure radius of start while
// the loop walked so far is longer than the minimum loop length.
func (d ClosureDetector) Closable(start, last GeoPoint, traversedMeters float64) bool {
	if traversedMeters <= d.MinLoopLength {
		return false
	}
	return HaversineDistanceMeters(last, start) < d.Radius
}

// ClosableTrace evaluates the predicate over a full trace, using its first
// point as the start.
func (d ClosureDetector) ClosableTrace(t Trace) bool {
	if len(t) < 2 {
		return false
	}
	return d.Closable(t[0], t[len(t)-1], TraceLengthMeters(t))
}
