package territory

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ConflictDetector finds overlaps between a new claim and older rival claims.
//
// Detection is one-shot and directional: only the newer polygon is checked
// against the older ones, at the moment it is saved. Two players finalizing
// overlapping claims at the same time may only record one direction.
type ConflictDetector struct {
	// MinArea discards overlaps smaller than this many square meters.
	MinArea float64
	// Now stamps emitted conflicts; defaults to time.Now.
	Now func() time.Time
}

// NewConflictDetector builds a detector from the thresholds.
func NewConflictDetector(th Thresholds) ConflictDetector {
	th = th.WithDefaults()
	return ConflictDetector{MinArea: th.ConflictMinAreaSqm, Now: time.Now}
}

// Overlap is the measured intersection of two claims.
type Overlap struct {
	Area     int64
	Centroid GeoPoint
}

// DetectConflicts checks the new polygon against every rival. Rivals owned by
// ownerID, rivals with fewer than three distinct points and rivals whose
// intersection cannot be computed are skipped with a log line; they never
// abort the batch.
func (d ConflictDetector) DetectConflicts(newPolygon Ring, ownerID, conquestID string, rivals []RivalPolygon) []TerritoryConflict {
	if !newPolygon.Valid() {
		log.Printf("[CONFLICT] new polygon for conquest %s is degenerate (%d points), skipping detection", conquestID, len(newPolygon))
		return nil
	}

	var conflicts []TerritoryConflict
	now := d.now()
	for _, rival := range rivals {
		if rival.OwnerID == ownerID {
			continue
		}
		if c, ok := d.check(newPolygon, ownerID, conquestID, rival, now); ok {
			conflicts = append(conflicts, c)
		}
	}
	return conflicts
}

// DetectConflictsIndexed produces the same result as DetectConflicts but
// only tests rivals whose bounding boxes overlap the new polygon.
func (d ConflictDetector) DetectConflictsIndexed(newPolygon Ring, ownerID, conquestID string, idx *SpatialIndex) []TerritoryConflict {
	if !newPolygon.Valid() {
		log.Printf("[CONFLICT] new polygon for conquest %s is degenerate (%d points), skipping detection", conquestID, len(newPolygon))
		return nil
	}
	b, ok := ringBound(newPolygon)
	if !ok {
		log.Printf("[CONFLICT] new polygon for conquest %s has invalid coordinates, skipping detection", conquestID)
		return nil
	}
	return d.DetectConflicts(newPolygon, ownerID, conquestID, idx.Candidates(b))
}

func (d ConflictDetector) check(newPolygon Ring, ownerID, conquestID string, rival RivalPolygon, now time.Time) (TerritoryConflict, bool) {
	if rival.Ring.DistinctVertices() < 3 {
		log.Printf("[CONFLICT] rival conquest %s (owner %s) has %d distinct points, skipping",
			rival.ConquestID, rival.OwnerID, rival.Ring.DistinctVertices())
		return TerritoryConflict{}, false
	}

	ov, err := Intersection(newPolygon, RingFromPoints(rival.Ring))
	if err != nil {
		log.Printf("[CONFLICT] intersecting with rival conquest %s (owner %s): %v", rival.ConquestID, rival.OwnerID, err)
		return TerritoryConflict{}, false
	}
	if ov == nil || float64(ov.Area) < d.MinArea {
		return TerritoryConflict{}, false
	}

	loc := ov.Centroid
	return TerritoryConflict{
		InvaderID:        ownerID,
		VictimID:         rival.OwnerID,
		ConquestID:       conquestID,
		VictimConquestID: rival.ConquestID,
		AreaInvaded:      ov.Area,
		Location:         &loc,
		Label:            fmt.Sprintf("%s's territory near %.5f, %.5f", rival.OwnerID, loc.Lat, loc.Lng),
		CreatedAt:        now,
	}, true
}

func (d ConflictDetector) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Intersection measures the overlap of two rings. It returns nil when they do
// not overlap. Failures inside the clipper (including panics on malformed
// geometry) are reported as errors.
func Intersection(a, b Ring) (ov *Overlap, err error) {
	if _, ok := ringBound(a); !ok {
		return nil, ErrInvalidPolygon
	}
	if _, ok := ringBound(b); !ok {
		return nil, ErrInvalidPolygon
	}
	if !a.Bound().Intersects(b.Bound()) {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ov, err = nil, fmt.Errorf("polygon clipping failed: %v", r)
		}
	}()

	proj := projectionFor(a)
	shape := intersect(projectRing(proj, a), projectRing(proj, b))
	area := planarArea(shape)
	if area <= 0 || math.IsNaN(area) {
		return nil, nil
	}

	centroid, _ := planar.CentroidArea(shape)
	return &Overlap{
		Area:     roundArea(area),
		Centroid: proj.inverse(centroid),
	}, nil
}

func projectRing(proj localProjection, r Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = proj.forward(p)
	}
	return out
}
