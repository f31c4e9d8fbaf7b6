package wkb

import (
	shapefile "github.com/tingold/orb-shapefile"
)

// Entry is one decoded shape together with the position of the geometry it
// came from in the pack's input.
type Entry struct {
	Source int
	Shape  *shapefile.Shape
}

// Builder collects shapes of one kind. It only grows.
type Builder struct {
	featureType shapefile.FeatureType
	entries     []Entry
}

func newBuilder(ft shapefile.FeatureType) *Builder {
	return &Builder{featureType: ft}
}

// FeatureType is the kind of shape the builder holds.
func (b *Builder) FeatureType() shapefile.FeatureType { return b.featureType }

// Len returns the number of shapes appended so far. A nil builder is empty.
func (b *Builder) Len() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}

// Entries returns the entries in the order they were appended.
func (b *Builder) Entries() []Entry {
	return append([]Entry(nil), b.entries...)
}

// Shapes returns the shapes in the order they were appended.
func (b *Builder) Shapes() []*shapefile.Shape {
	out := make([]*shapefile.Shape, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Shape
	}
	return out
}

// Extent is the union of the envelopes of all shapes in the builder.
func (b *Builder) Extent() shapefile.Extent {
	ext := shapefile.EmptyExtent()
	for _, e := range b.entries {
		ext.ExpandToInclude(e.Shape.Range.Extent)
	}
	return ext
}

func (b *Builder) append(source int, s *shapefile.Shape) {
	b.entries = append(b.entries, Entry{Source: source, Shape: s})
}

// FeatureSetPack splits decoded geometries by kind. Points also receives
// multipoints. Ordering holds within a builder but not across them. The zero
// value is ready to use.
type FeatureSetPack struct {
	Points   *Builder
	Lines    *Builder
	Polygons *Builder

	read int
}

// NewFeatureSetPack returns a pack with all three builders allocated.
func NewFeatureSetPack() *FeatureSetPack {
	return &FeatureSetPack{
		Points:   newBuilder(shapefile.FeatureTypePoint),
		Lines:    newBuilder(shapefile.FeatureTypeLine),
		Polygons: newBuilder(shapefile.FeatureTypePolygon),
	}
}

// Read is the number of geometries decoded into the pack.
func (p *FeatureSetPack) Read() int { return p.read }

// Len is the number of shapes across all builders.
func (p *FeatureSetPack) Len() int {
	return p.Points.Len() + p.Lines.Len() + p.Polygons.Len()
}

func (p *FeatureSetPack) builderFor(ft shapefile.FeatureType) *Builder {
	if p.Points == nil {
		p.Points = newBuilder(shapefile.FeatureTypePoint)
	}
	if p.Lines == nil {
		p.Lines = newBuilder(shapefile.FeatureTypeLine)
	}
	if p.Polygons == nil {
		p.Polygons = newBuilder(shapefile.FeatureTypePolygon)
	}

	switch ft {
	case shapefile.FeatureTypePoint, shapefile.FeatureTypeMultiPoint:
		return p.Points
	case shapefile.FeatureTypeLine:
		return p.Lines
	case shapefile.FeatureTypePolygon:
		return p.Polygons
	default:
		return nil
	}
}
