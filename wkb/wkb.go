// Package wkb decodes OGC Well-Known-Binary geometries into shapefile shapes.
//
// Decoded polygons follow the shapefile ring convention: shells clockwise,
// holes counter-clockwise, whatever orientation the producer used.
package wkb

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	orbwkb "github.com/paulmach/orb/encoding/wkb"

	shapefile "github.com/tingold/orb-shapefile"
)

// Errors returned by the decoder.
var (
	ErrMixedCollection = errors.New("wkb: geometry collection mixes feature types")
	ErrNilPack         = errors.New("wkb: nil feature set pack")
)

// ReadShape decodes one geometry from r. With an expected feature type a
// geometry of another kind yields a nil shape and no error;
// FeatureTypeUnspecified accepts any kind. Collections whose members share a
// kind are merged into a single multi-part shape.
func ReadShape(r io.Reader, expected shapefile.FeatureType) (*shapefile.Shape, error) {
	geom, err := orbwkb.NewDecoder(r).Decode()
	if err != nil {
		return nil, err
	}

	if c, ok := geom.(orb.Collection); ok {
		merged, ok := merge(c)
		if !ok {
			if expected == shapefile.FeatureTypeUnspecified {
				return nil, ErrMixedCollection
			}
			return nil, nil
		}
		geom = merged
	}
	if geom == nil {
		return nil, nil
	}

	geom, ok := conform(geom, expected)
	if !ok {
		return nil, nil
	}
	return shapefile.NewShape(geom, nil, nil)
}

// conform checks geom against the expected feature type. A single point is
// promoted when a multipoint is expected.
func conform(geom orb.Geometry, expected shapefile.FeatureType) (orb.Geometry, bool) {
	ft := shapefile.GeometryFeatureType(geom)
	switch {
	case expected == shapefile.FeatureTypeUnspecified, expected == ft:
		return geom, true
	case expected == shapefile.FeatureTypeMultiPoint && ft == shapefile.FeatureTypePoint:
		return orb.MultiPoint{geom.(orb.Point)}, true
	default:
		return nil, false
	}
}

// merge flattens a collection into one geometry. It reports false when the
// members span more than one kind.
func merge(c orb.Collection) (orb.Geometry, bool) {
	var (
		points   orb.MultiPoint
		lines    orb.MultiLineString
		polygons orb.MultiPolygon
		single   orb.Geometry
		leaves   int
	)
	for _, g := range flatten(c, nil) {
		leaves++
		single = g
		switch g := g.(type) {
		case orb.Point:
			points = append(points, g)
		case orb.MultiPoint:
			points = append(points, g...)
		case orb.LineString:
			lines = append(lines, g)
		case orb.MultiLineString:
			lines = append(lines, g...)
		case orb.Polygon:
			polygons = append(polygons, g)
		case orb.MultiPolygon:
			polygons = append(polygons, g...)
		}
	}

	kinds := 0
	for _, n := range []int{len(points), len(lines), len(polygons)} {
		if n > 0 {
			kinds++
		}
	}
	switch {
	case kinds > 1:
		return nil, false
	case leaves == 1:
		return single, true
	case len(points) > 0:
		return points, true
	case len(lines) > 0:
		return lines, true
	case len(polygons) > 0:
		return polygons, true
	}
	return nil, true
}

func flatten(c orb.Collection, out []orb.Geometry) []orb.Geometry {
	for _, g := range c {
		if sub, ok := g.(orb.Collection); ok {
			out = flatten(sub, out)
			continue
		}
		out = append(out, g)
	}
	return out
}

// ReadFeature decodes one geometry from r and appends its parts to the
// builder of the matching kind. A collection contributes to as many builders
// as it has kinds.
func ReadFeature(r io.Reader, pack *FeatureSetPack) error {
	if pack == nil {
		return ErrNilPack
	}
	geom, err := orbwkb.NewDecoder(r).Decode()
	if err != nil {
		return err
	}

	source := pack.read
	pack.read++

	var leaves []orb.Geometry
	if c, ok := geom.(orb.Collection); ok {
		leaves = flatten(c, nil)
	} else {
		leaves = []orb.Geometry{geom}
	}

	for _, g := range leaves {
		b := pack.builderFor(shapefile.GeometryFeatureType(g))
		if b == nil {
			continue
		}
		s, err := shapefile.NewShape(g, nil, nil)
		if err != nil {
			return err
		}
		if s != nil {
			b.append(source, s)
		}
	}
	return nil
}

// GetFeatureSets decodes every blob into a fresh pack.
func GetFeatureSets(blobs [][]byte) (*FeatureSetPack, error) {
	pack := NewFeatureSetPack()
	for i, blob := range blobs {
		if err := ReadFeature(bytes.NewReader(blob), pack); err != nil {
			return nil, fmt.Errorf("wkb: blob %d: %w", i, err)
		}
	}
	return pack, nil
}
