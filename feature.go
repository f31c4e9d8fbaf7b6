package shapefile

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is a geometry with optional per-vertex Z and M values and its
// attribute row.
type Feature struct {
	ID         int // Ordinal in the source; set on read
	Geometry   orb.Geometry
	Z          []float64
	M          []float64
	Properties geojson.Properties
}

// NewFeature returns a feature with empty properties.
func NewFeature(geom orb.Geometry) *Feature {
	return &Feature{
		Geometry:   geom,
		Properties: make(geojson.Properties),
	}
}

// FeatureType returns the geometry family of the feature.
func (f *Feature) FeatureType() FeatureType {
	if f == nil || f.Geometry == nil {
		return FeatureTypeUnspecified
	}
	return GeometryFeatureType(f.Geometry)
}

// Envelope returns the XY extent of the geometry.
func (f *Feature) Envelope() Extent {
	if f == nil || f.Geometry == nil {
		return EmptyExtent()
	}
	return ExtentFromBound(f.Geometry.Bound())
}

// GeoJSON converts the feature to a geojson.Feature. Z and M are dropped.
func (f *Feature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Geometry)
	gf.ID = f.ID
	for k, v := range f.Properties {
		gf.Properties[k] = v
	}
	return gf
}

// featureFromShape builds a feature from a decoded shape and its attributes.
func featureFromShape(id int, s *Shape, attrs map[string]interface{}) *Feature {
	f := &Feature{ID: id, Properties: make(geojson.Properties, len(attrs))}
	for k, v := range attrs {
		f.Properties[k] = v
	}
	if s == nil {
		return f
	}
	f.Geometry = s.Geometry()
	f.Z = s.Z
	if s.HasM() {
		f.M = s.M
	}
	return f
}
