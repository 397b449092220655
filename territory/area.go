package territory

import (
	"math"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// AreaStrategy names how a trace is turned into claimed area.
type AreaStrategy string

const (
	// AreaLoop closes the trace into a ring and measures the enclosed area.
	AreaLoop AreaStrategy = "loop"
	// AreaCorridor buffers the walked line into a strip and measures the strip.
	AreaCorridor AreaStrategy = "corridor"
)

// StrategyFor returns the area strategy used by a capture mode.
func StrategyFor(mode CaptureMode) AreaStrategy {
	if mode == ModeLivre {
		return AreaCorridor
	}
	return AreaLoop
}

// AreaComputer measures claims in square meters.
type AreaComputer struct {
	CorridorRadius float64
}

// NewAreaComputer builds an area computer from the thresholds.
func NewAreaComputer(th Thresholds) AreaComputer {
	th = th.WithDefaults()
	return AreaComputer{CorridorRadius: th.CorridorRadiusMeters}
}

// Claim is the polygon and area produced from a finished trace.
type Claim struct {
	Strategy AreaStrategy
	Path     Ring
	Area     int64
}

// Compute derives the claim for a trace with the given strategy.
func (ac AreaComputer) Compute(strategy AreaStrategy, t Trace) Claim {
	switch strategy {
	case AreaCorridor:
		outline, area := ac.Corridor(t)
		return Claim{Strategy: AreaCorridor, Path: outline, Area: area}
	default:
		ring := CloseRing(t)
		return Claim{Strategy: AreaLoop, Path: ring, Area: LoopArea(ring)}
	}
}

// LoopArea returns the area enclosed by a ring in square meters, rounded.
// Winding order does not matter. Rings with fewer than three distinct
// vertices, collinear rings and rings with invalid coordinates yield 0.
func LoopArea(r Ring) int64 {
	if !r.Valid() {
		return 0
	}
	a := geo.Area(orbRing(r))
	return roundArea(a)
}

// CorridorArea returns the area of the trace buffered by radius meters.
func CorridorArea(t Trace, radius float64) int64 {
	_, area := AreaComputer{CorridorRadius: radius}.Corridor(t)
	return area
}

// Corridor buffers the trace and returns the strip's outer boundary together
// with its area. Holes (a corridor that loops around an unwalked block) are
// subtracted from the area but are not part of the returned outline. The
// outline is what gets stored as the conquest path, so a later claim inside
// such a block still conflicts with it even though the block never counted
// towards the livre claim's area.
func (ac AreaComputer) Corridor(t Trace) (Ring, int64) {
	if len(t) < 2 || ac.CorridorRadius <= 0 {
		return nil, 0
	}

	proj := projectionFor(t)
	shape := bufferLine(proj, t, ac.CorridorRadius)
	if len(shape) == 0 {
		return nil, 0
	}

	area := roundArea(planarArea(shape))

	// The outline is the outer ring of the largest piece
	largest, largestArea := 0, 0.0
	for i := range shape {
		if a := planar.Area(shape[i][0]); a > largestArea {
			largest, largestArea = i, a
		}
	}
	outer := shape[largest][0]
	pts := make(Trace, 0, len(outer))
	for i, p := range outer {
		if i == len(outer)-1 {
			break
		}
		pts = append(pts, proj.inverse(p))
	}
	return CloseRing(pts), area
}

// capsuleSegments is the number of vertices used to approximate each round cap.
const capsuleSegments = 16

// bufferLine expands the line into the union of one capsule per segment.
// Each capsule is the convex hull of two circles, so joints between segments
// are rounded like the ends.
func bufferLine(proj localProjection, t Trace, radius float64) orb.MultiPolygon {
	ls := make(orb.LineString, 0, len(t))
	for _, p := range t {
		ls = append(ls, proj.forward(p))
	}

	var capsules []orb.Ring
	for i := 0; i < len(ls)-1; i++ {
		p0, p1 := ls[i], ls[i+1]
		dx, dy := p1[0]-p0[0], p1[1]-p0[1]
		if math.Hypot(dx, dy) == 0 {
			continue
		}
		// Offset the cap vertices per segment so neighbouring capsules never
		// share identical edges, which clippers handle poorly.
		phase := math.Atan2(dy, dx) + float64(i)*0.37

		pts := make([]orb.Point, 0, 2*capsuleSegments)
		for k := 0; k < capsuleSegments; k++ {
			a := phase + 2*math.Pi*float64(k)/capsuleSegments
			off := orb.Point{radius * math.Cos(a), radius * math.Sin(a)}
			pts = append(pts,
				orb.Point{p0[0] + off[0], p0[1] + off[1]},
				orb.Point{p1[0] + off[0], p1[1] + off[1]},
			)
		}
		hull := convexHull(pts)
		if len(hull) < 3 {
			continue
		}
		capsules = append(capsules, append(orb.Ring(hull), hull[0]))
	}

	if len(capsules) == 0 {
		return nil
	}

	parts := make([]polyclip.Polygon, 0, len(capsules))
	for _, c := range capsules {
		parts = append(parts, toClipPolygon(c))
	}
	return assemble(unionAll(parts))
}

func roundArea(a float64) int64 {
	if math.IsNaN(a) || math.IsInf(a, 0) || a <= 0 {
		return 0
	}
	return int64(math.Round(a))
}
