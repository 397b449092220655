package territory

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultCellDegrees is roughly 1 km of latitude.
const DefaultCellDegrees = 0.01

// maxCellsPerEntry caps grid fan-out; larger bounds are checked linearly.
const maxCellsPerEntry = 4096

type cell [2]int

// SpatialIndex is a uniform lat/lng grid over rival bounding boxes. It only
// ever narrows the candidate set: a rival whose bounds share no cell with the
// query bounds cannot intersect it.
type SpatialIndex struct {
	cellSize float64
	rivals   []RivalPolygon
	bounds   []orb.Bound
	grid     map[cell][]int
	// rivals whose bounds could not be computed go through the full check
	unindexed []int
}

// NewSpatialIndex indexes the rivals on a grid of cellSize degrees.
func NewSpatialIndex(rivals []RivalPolygon, cellSize float64) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = DefaultCellDegrees
	}
	idx := &SpatialIndex{
		cellSize: cellSize,
		rivals:   rivals,
		bounds:   make([]orb.Bound, len(rivals)),
		grid:     make(map[cell][]int),
	}
	for i, r := range rivals {
		b, ok := ringBound(r.Ring)
		if !ok || idx.cellCount(b) > maxCellsPerEntry {
			idx.unindexed = append(idx.unindexed, i)
			continue
		}
		idx.bounds[i] = b
		idx.eachCell(b, func(c cell) {
			idx.grid[c] = append(idx.grid[c], i)
		})
	}
	return idx
}

// Len returns the number of indexed rivals.
func (idx *SpatialIndex) Len() int {
	return len(idx.rivals)
}

// Candidates returns the rivals whose bounds overlap b, in their original order.
func (idx *SpatialIndex) Candidates(b orb.Bound) []RivalPolygon {
	if idx.cellCount(b) > maxCellsPerEntry {
		return idx.overlapping(b)
	}

	hits := make(map[int]struct{})
	idx.eachCell(b, func(c cell) {
		for _, i := range idx.grid[c] {
			if idx.bounds[i].Intersects(b) {
				hits[i] = struct{}{}
			}
		}
	})
	for _, i := range idx.unindexed {
		hits[i] = struct{}{}
	}

	out := make([]RivalPolygon, 0, len(hits))
	for i := range idx.rivals {
		if _, ok := hits[i]; ok {
			out = append(out, idx.rivals[i])
		}
	}
	return out
}

// overlapping is the linear fallback for very large query bounds.
func (idx *SpatialIndex) overlapping(b orb.Bound) []RivalPolygon {
	unindexed := make(map[int]bool, len(idx.unindexed))
	for _, i := range idx.unindexed {
		unindexed[i] = true
	}
	var out []RivalPolygon
	for i, r := range idx.rivals {
		if unindexed[i] || idx.bounds[i].Intersects(b) {
			out = append(out, r)
		}
	}
	return out
}

func (idx *SpatialIndex) cellCount(b orb.Bound) float64 {
	w := math.Floor(b.Max[0]/idx.cellSize) - math.Floor(b.Min[0]/idx.cellSize) + 1
	h := math.Floor(b.Max[1]/idx.cellSize) - math.Floor(b.Min[1]/idx.cellSize) + 1
	return w * h
}

func (idx *SpatialIndex) eachCell(b orb.Bound, fn func(cell)) {
	x1 := int(math.Floor(b.Min[0] / idx.cellSize))
	y1 := int(math.Floor(b.Min[1] / idx.cellSize))
	x2 := int(math.Floor(b.Max[0] / idx.cellSize))
	y2 := int(math.Floor(b.Max[1] / idx.cellSize))
	for x := x1; x <= x2; x++ {
		for y := y1; y <= y2; y++ {
			fn(cell{x, y})
		}
	}
}

// ringBound returns false for empty rings or rings containing non-finite coordinates.
func ringBound(r Ring) (orb.Bound, bool) {
	if len(r) == 0 {
		return orb.Bound{}, false
	}
	for _, p := range r {
		if !validCoordinate(p) {
			return orb.Bound{}, false
		}
	}
	return r.Bound(), true
}
