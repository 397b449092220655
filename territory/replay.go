package territory

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"
)

// replayFix accepts both the engine's own field names and OwnTracks ones.
type replayFix struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Lon       *float64 `json:"lon"`
	Accuracy  *float64 `json:"accuracy"`
	Acc       *float64 `json:"acc"`
	Heading   *float64 `json:"heading"`
	Cog       *float64 `json:"cog"`
	Timestamp int64    `json:"timestamp"` // unix milliseconds
	Tst       int64    `json:"tst"`       // unix seconds
}

// LoadFixes reads a JSON array of recorded fixes from path.
func LoadFixes(path string) ([]RawFix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixes: %w", err)
	}
	return ParseFixes(data)
}

// ParseFixes decodes a JSON array of fixes. Missing accuracy is treated as
// unknown, which the accuracy gate rejects.
func ParseFixes(data []byte) ([]RawFix, error) {
	var raw []replayFix
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing fixes JSON: %w", err)
	}

	fixes := make([]RawFix, 0, len(raw))
	for i, r := range raw {
		lng := r.Lng
		if lng == nil {
			lng = r.Lon
		}
		if r.Lat == nil || lng == nil {
			return nil, fmt.Errorf("fix %d: lat and lng are required", i)
		}
		fix := NewRawFix(*r.Lat, *lng)
		switch {
		case r.Accuracy != nil:
			fix.Accuracy = *r.Accuracy
		case r.Acc != nil:
			fix.Accuracy = *r.Acc
		}
		switch {
		case r.Heading != nil:
			fix.Heading = *r.Heading
		case r.Cog != nil:
			fix.Heading = math.Mod(*r.Cog, 360)
		}
		switch {
		case r.Timestamp > 0:
			fix.Timestamp = time.UnixMilli(r.Timestamp).UTC()
		case r.Tst > 0:
			fix.Timestamp = time.Unix(r.Tst, 0).UTC()
		}
		fixes = append(fixes, fix)
	}
	return fixes, nil
}

// ReplayResult summarizes a recorded walk run through the engine offline.
type ReplayResult struct {
	Mode     CaptureMode
	Accepted int
	Rejected map[FilterResult]int
	Trace    Trace
	Distance float64 // meters
	Closable bool
	// Eligible is nil when the walk could be finalized.
	Eligible error
	Claim    Claim
	Duration *int64
}

// Replay feeds fixes through the same filter, closure and area steps as a
// live session. The claim is only computed when the walk is eligible.
func Replay(fixes []RawFix, mode CaptureMode, th Thresholds, smooth bool) ReplayResult {
	th = th.WithDefaults()
	filter := NewPathFilter(th)
	closure := NewClosureDetector(th)

	res := ReplayResult{Mode: mode, Rejected: make(map[FilterResult]int)}
	for _, fix := range fixes {
		if r := filter.Add(fix); r != FixAccepted {
			res.Rejected[r]++
			continue
		}
		res.Accepted++
		if mode == ModeDominio {
			start, _ := filter.Start()
			last, _ := filter.Last()
			res.Closable = closure.Closable(start, last, filter.DistanceMeters())
		}
	}

	res.Trace = filter.Trace()
	res.Distance = filter.DistanceMeters()
	res.Eligible = CheckFinalize(mode, res.Closable, res.Distance, th)

	if first, last := firstTimestamp(fixes), lastTimestamp(fixes); !first.IsZero() && last.After(first) {
		secs := int64(last.Sub(first) / time.Second)
		res.Duration = &secs
	}

	if res.Eligible != nil {
		return res
	}
	shape := res.Trace
	if smooth {
		shape = NewPathSmoother(th).Optimize(shape)
	}
	res.Claim = NewAreaComputer(th).Compute(StrategyFor(mode), shape)
	return res
}

// Draft turns an eligible replay into a conquest draft for ownerID.
func (r ReplayResult) Draft(ownerID string) (ConquestDraft, error) {
	if r.Eligible != nil {
		return ConquestDraft{}, r.Eligible
	}
	if r.Claim.Area <= 0 {
		return ConquestDraft{}, fmt.Errorf("%w: claim has no area", ErrInvalidPolygon)
	}
	return ConquestDraft{
		OwnerID:  ownerID,
		Mode:     r.Mode,
		Path:     r.Claim.Path,
		Trace:    r.Trace,
		Area:     r.Claim.Area,
		Distance: r.Distance / 1000,
		Duration: r.Duration,
	}, nil
}

func firstTimestamp(fixes []RawFix) time.Time {
	for _, f := range fixes {
		if !f.Timestamp.IsZero() {
			return f.Timestamp
		}
	}
	return time.Time{}
}

func lastTimestamp(fixes []RawFix) time.Time {
	for i := len(fixes) - 1; i >= 0; i-- {
		if !fixes[i].Timestamp.IsZero() {
			return fixes[i].Timestamp
		}
	}
	return time.Time{}
}
