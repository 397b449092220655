package territory

import (
	"math"
	"sort"

	polyclip "github.com/ctessum/polyclip-go"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// All boolean operations run in a local metric plane (see localProjection)
// so that areas come out in square meters and the clipper works on
// well-scaled numbers instead of tiny degree deltas.

// toContour converts a ring to a polyclip contour, dropping the closing point
// and consecutive duplicates.
func toContour(ring orb.Ring) polyclip.Contour {
	c := make(polyclip.Contour, 0, len(ring))
	for i, p := range ring {
		if i == len(ring)-1 && len(ring) > 1 && p == ring[0] {
			break
		}
		if len(c) > 0 && c[len(c)-1].X == p[0] && c[len(c)-1].Y == p[1] {
			continue
		}
		c = append(c, polyclip.Point{X: p[0], Y: p[1]})
	}
	return c
}

func toClipPolygon(rings ...orb.Ring) polyclip.Polygon {
	poly := make(polyclip.Polygon, 0, len(rings))
	for _, r := range rings {
		c := toContour(r)
		if len(c) >= 3 {
			poly = append(poly, c)
		}
	}
	return poly
}

func contourRing(c polyclip.Contour) orb.Ring {
	r := make(orb.Ring, 0, len(c)+1)
	for _, p := range c {
		r = append(r, orb.Point{p.X, p.Y})
	}
	if len(r) > 0 {
		r = append(r, r[0])
	}
	return r
}

// assemble turns the flat contour list produced by the clipper into
// polygons with holes. A contour nested inside an odd number of other
// contours is a hole of the smallest contour that contains it.
func assemble(p polyclip.Polygon) orb.MultiPolygon {
	type entry struct {
		ring  orb.Ring
		area  float64
		depth int
	}

	entries := make([]entry, 0, len(p))
	for _, c := range p {
		if len(c) < 3 {
			continue
		}
		r := contourRing(c)
		a := planar.Area(r)
		if a == 0 || math.IsNaN(a) {
			continue
		}
		entries = append(entries, entry{ring: r, area: a})
	}

	for i := range entries {
		probe := entries[i].ring[0]
		for j := range entries {
			if i == j || entries[j].area <= entries[i].area {
				continue
			}
			if planar.RingContains(entries[j].ring, probe) {
				entries[i].depth++
			}
		}
	}

	// Largest first so outers exist before their holes are placed
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].area > entries[j].area })

	var mp orb.MultiPolygon
	owner := make([]int, len(entries)) // index into mp for outers
	for i, e := range entries {
		if e.depth%2 == 0 {
			owner[i] = len(mp)
			mp = append(mp, orb.Polygon{e.ring})
			continue
		}
		// smallest earlier outer that contains the hole
		best := -1
		for j := i - 1; j >= 0; j-- {
			if entries[j].depth%2 == 0 && planar.RingContains(entries[j].ring, e.ring[0]) {
				best = j
				break
			}
		}
		if best < 0 {
			owner[i] = len(mp)
			mp = append(mp, orb.Polygon{e.ring})
			continue
		}
		idx := owner[best]
		mp[idx] = append(mp[idx], e.ring)
	}
	return mp
}

// planarArea returns the area of the assembled shape with holes subtracted.
func planarArea(mp orb.MultiPolygon) float64 {
	total := 0.0
	for _, poly := range mp {
		total += planar.Area(poly)
	}
	return math.Max(total, 0)
}

// intersect returns the overlap of two projected rings.
func intersect(a, b orb.Ring) orb.MultiPolygon {
	subject := toClipPolygon(a)
	clipping := toClipPolygon(b)
	if len(subject) == 0 || len(clipping) == 0 {
		return nil
	}
	return assemble(subject.Construct(polyclip.INTERSECTION, clipping))
}

// unionAll merges polygons pairwise so each clip operation works on
// similarly sized inputs.
func unionAll(parts []polyclip.Polygon) polyclip.Polygon {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	for len(parts) > 1 {
		next := make([]polyclip.Polygon, 0, (len(parts)+1)/2)
		for i := 0; i < len(parts); i += 2 {
			if i+1 == len(parts) {
				next = append(next, parts[i])
				continue
			}
			next = append(next, parts[i].Construct(polyclip.UNION, parts[i+1]))
		}
		parts = next
	}
	return parts[0]
}
