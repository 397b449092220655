package territory

import (
	"math"
	"strings"
	"time"
)

// GeoPoint is a WGS84 position in decimal degrees. Lat always comes first;
// the [lng, lat] order used by GeoJSON and orb only exists at conversion points.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RawFix is a single location sample pushed by a location provider.
// Accuracy is +Inf when the provider did not report one; Heading is NaN when unknown.
type RawFix struct {
	GeoPoint
	Accuracy  float64   `json:"accuracy"`
	Heading   float64   `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

// NewRawFix builds a fix with unknown accuracy and heading.
func NewRawFix(lat, lng float64) RawFix {
	return RawFix{
		GeoPoint: GeoPoint{Lat: lat, Lng: lng},
		Accuracy: math.Inf(1),
		Heading:  math.NaN(),
	}
}

// HasHeading reports whether the device supplied a usable heading.
func (f RawFix) HasHeading() bool {
	return !math.IsNaN(f.Heading)
}

// Trace is the ordered sequence of accepted points of a recording.
type Trace []GeoPoint

// Clone returns an independent copy of the trace.
func (t Trace) Clone() Trace {
	if t == nil {
		return nil
	}
	out := make(Trace, len(t))
	copy(out, t)
	return out
}

// Ring is a closed polygon: the first and last point are identical.
// Build it with CloseRing or RingFromPoints, never by hand.
type Ring []GeoPoint

// CloseRing appends the trace's first point to its end. The result is always
// closed by construction, regardless of how close the trace came to its start.
func CloseRing(t Trace) Ring {
	if len(t) == 0 {
		return nil
	}
	r := make(Ring, len(t), len(t)+1)
	copy(r, t)
	return append(r, t[0])
}

// RingFromPoints accepts stored polygon data which may or may not already
// repeat its first point, and returns a closed ring.
func RingFromPoints(points []GeoPoint) Ring {
	if len(points) == 0 {
		return nil
	}
	if points[0] == points[len(points)-1] && len(points) > 1 {
		r := make(Ring, len(points))
		copy(r, points)
		return r
	}
	return CloseRing(Trace(points))
}

// DistinctVertices counts unique points in the ring, ignoring the closing point.
func (r Ring) DistinctVertices() int {
	seen := make(map[GeoPoint]struct{}, len(r))
	for _, p := range r {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
			continue
		}
		seen[p] = struct{}{}
	}
	return len(seen)
}

// Valid reports whether the ring is closed and has at least three distinct vertices.
func (r Ring) Valid() bool {
	if len(r) < 4 || r[0] != r[len(r)-1] {
		return false
	}
	return r.DistinctVertices() >= 3
}

// CaptureMode selects how a recording becomes a claim.
type CaptureMode string

const (
	// ModeLivre is open-ended capture: the walked line is buffered into a corridor.
	ModeLivre CaptureMode = "livre"
	// ModeDominio is loop capture: the trace must return near its start.
	ModeDominio CaptureMode = "dominio"
)

// ParseCaptureMode maps user input onto a mode, defaulting to dominio.
func ParseCaptureMode(s string) (CaptureMode, bool) {
	switch CaptureMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLivre:
		return ModeLivre, true
	case ModeDominio:
		return ModeDominio, true
	case "":
		return ModeDominio, true
	}
	return "", false
}

// Conquest is a persisted claimed polygon. It is never mutated after creation.
type Conquest struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"ownerId"`
	Mode      CaptureMode `json:"mode"`
	Path      Ring        `json:"path"`
	Area      int64       `json:"area"`     // square meters, rounded
	Distance  float64     `json:"distance"` // kilometers walked before closure
	Duration  *int64      `json:"duration,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ConquestDraft is what a finalized session hands to the store.
type ConquestDraft struct {
	OwnerID  string
	Mode     CaptureMode
	Path     Ring
	Trace    Trace
	Area     int64
	Distance float64
	Duration *int64
}

// RivalPolygon is the slice of a stored Conquest the conflict detector needs.
type RivalPolygon struct {
	OwnerID    string
	ConquestID string
	Ring       Ring
}

// TerritoryConflict records that a new Conquest overlapped an older one.
type TerritoryConflict struct {
	ID               string    `json:"id"`
	InvaderID        string    `json:"invaderId"`
	VictimID         string    `json:"victimId"`
	ConquestID       string    `json:"conquestId"`
	VictimConquestID string    `json:"victimConquestId"`
	AreaInvaded      int64     `json:"areaInvaded"`
	Location         *GeoPoint `json:"location,omitempty"`
	Label            string    `json:"label,omitempty"`
	ReadByVictim     bool      `json:"readByVictim"`
	ReadBySystem     bool      `json:"readBySystem"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Thresholds centralizes every tunable distance/area knob of the engine.
// A zero value means "use the default" (see DefaultThresholds), so no knob
// can be switched off by setting it to 0. A small positive value such as
// movementMeters: 0.01 makes a gate effectively permissive.
type Thresholds struct {
	AccuracyMeters          float64 `yaml:"accuracyMeters,omitempty" json:"accuracyMeters,omitempty"`
	MovementMeters          float64 `yaml:"movementMeters,omitempty" json:"movementMeters,omitempty"`
	ClosureRadiusMeters     float64 `yaml:"closureRadiusMeters,omitempty" json:"closureRadiusMeters,omitempty"`
	MinLoopMeters           float64 `yaml:"minLoopMeters,omitempty" json:"minLoopMeters,omitempty"`
	FinalizeMinMeters       float64 `yaml:"finalizeMinMeters,omitempty" json:"finalizeMinMeters,omitempty"`
	LivreUnlockMeters       float64 `yaml:"livreUnlockMeters,omitempty" json:"livreUnlockMeters,omitempty"`
	CorridorRadiusMeters    float64 `yaml:"corridorRadiusMeters,omitempty" json:"corridorRadiusMeters,omitempty"`
	ConflictMinAreaSqm      float64 `yaml:"conflictMinAreaSqm,omitempty" json:"conflictMinAreaSqm,omitempty"`
	MetersPerDegree         float64 `yaml:"metersPerDegree,omitempty" json:"metersPerDegree,omitempty"`
	SmoothingWindow         int     `yaml:"smoothingWindow,omitempty" json:"smoothingWindow,omitempty"`
	SimplifyToleranceMeters float64 `yaml:"simplifyToleranceMeters,omitempty" json:"simplifyToleranceMeters,omitempty"`
}

// DefaultThresholds returns the canonical defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AccuracyMeters:          20,
		MovementMeters:          3,
		ClosureRadiusMeters:     25,
		MinLoopMeters:           100,
		FinalizeMinMeters:       50,
		LivreUnlockMeters:       500,
		CorridorRadiusMeters:    10,
		ConflictMinAreaSqm:      10,
		MetersPerDegree:         111000,
		SmoothingWindow:         3,
		SimplifyToleranceMeters: 5,
	}
}

// WithDefaults fills every zero field from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.AccuracyMeters == 0 {
		t.AccuracyMeters = d.AccuracyMeters
	}
	if t.MovementMeters == 0 {
		t.MovementMeters = d.MovementMeters
	}
	if t.ClosureRadiusMeters == 0 {
		t.ClosureRadiusMeters = d.ClosureRadiusMeters
	}
	if t.MinLoopMeters == 0 {
		t.MinLoopMeters = d.MinLoopMeters
	}
	if t.FinalizeMinMeters == 0 {
		t.FinalizeMinMeters = d.FinalizeMinMeters
	}
	if t.LivreUnlockMeters == 0 {
		t.LivreUnlockMeters = d.LivreUnlockMeters
	}
	if t.CorridorRadiusMeters == 0 {
		t.CorridorRadiusMeters = d.CorridorRadiusMeters
	}
	if t.ConflictMinAreaSqm == 0 {
		t.ConflictMinAreaSqm = d.ConflictMinAreaSqm
	}
	if t.MetersPerDegree == 0 {
		t.MetersPerDegree = d.MetersPerDegree
	}
	if t.SmoothingWindow == 0 {
		t.SmoothingWindow = d.SmoothingWindow
	}
	if t.SimplifyToleranceMeters == 0 {
		t.SimplifyToleranceMeters = d.SimplifyToleranceMeters
	}
	return t
}

// PlayerConfig maps a player onto the MQTT topic their phone publishes fixes to.
type PlayerConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// DatabaseConfig locates the sqlite file. An empty path keeps everything in memory.
type DatabaseConfig struct {
	Path string `yaml:"path" json:"path"`
}

// TrackingConfig controls the recording loop.
type TrackingConfig struct {
	TickInterval time.Duration `yaml:"tickInterval,omitempty" json:"tickInterval,omitempty"`
}

// Config represents the full configuration file
type Config struct {
	MQTT       MQTTConfig     `yaml:"mqtt" json:"mqtt"`
	Players    []PlayerConfig `yaml:"players" json:"players"`
	Database   DatabaseConfig `yaml:"database" json:"database"`
	Thresholds Thresholds     `yaml:"thresholds" json:"thresholds"`
	Tracking   TrackingConfig `yaml:"tracking" json:"tracking"`
}

// GetPlayerByID returns the player config for the given ID
func (c *Config) GetPlayerByID(id string) *PlayerConfig {
	for i := range c.Players {
		if c.Players[i].ID == id {
			return &c.Players[i]
		}
	}
	return nil
}

// TickInterval returns the session timer period, one second unless configured.
func (c *Config) TickInterval() time.Duration {
	if c == nil || c.Tracking.TickInterval <= 0 {
		return time.Second
	}
	return c.Tracking.TickInterval
}
