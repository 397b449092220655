package territory

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// This is the only place coordinates leave the engine in [lng, lat] order.

// ConquestFeature converts a conquest into a GeoJSON Polygon feature.
func ConquestFeature(c Conquest) *geojson.Feature {
	f := geojson.NewFeature(orb.Polygon{orbRing(c.Path)})
	f.ID = c.ID
	f.Properties["layerType"] = "conquest"
	f.Properties["ownerId"] = c.OwnerID
	f.Properties["mode"] = string(c.Mode)
	f.Properties["area"] = c.Area
	f.Properties["distance"] = c.Distance
	if c.Duration != nil {
		f.Properties["duration"] = *c.Duration
	}
	f.Properties["createdAt"] = c.CreatedAt.Unix()
	return f
}

// ConflictFeature converts a conflict into a GeoJSON Point feature at the
// overlap centroid. Conflicts without a location return nil.
func ConflictFeature(c TerritoryConflict) *geojson.Feature {
	if c.Location == nil {
		return nil
	}
	f := geojson.NewFeature(orbPoint(*c.Location))
	f.ID = c.ID
	f.Properties["layerType"] = "conflict"
	f.Properties["invaderId"] = c.InvaderID
	f.Properties["victimId"] = c.VictimID
	f.Properties["areaInvaded"] = c.AreaInvaded
	if c.Label != "" {
		f.Properties["label"] = c.Label
	}
	return f
}

// ConquestsToFeatureCollection builds one collection for a map layer.
func ConquestsToFeatureCollection(conquests []Conquest, conflicts []TerritoryConflict) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range conquests {
		if len(c.Path) == 0 {
			continue
		}
		fc.Append(ConquestFeature(c))
	}
	for _, c := range conflicts {
		if f := ConflictFeature(c); f != nil {
			fc.Append(f)
		}
	}
	return fc
}
