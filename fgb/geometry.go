package fgb

import (
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
)

// geometryType maps a geometry to its FlatGeobuf GeometryType.
func geometryType(geom orb.Geometry) flattypes.GeometryType {
	switch geom.(type) {
	case orb.Point:
		return flattypes.GeometryTypePoint
	case orb.MultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case orb.LineString:
		return flattypes.GeometryTypeLineString
	case orb.MultiLineString:
		return flattypes.GeometryTypeMultiLineString
	case orb.Ring, orb.Polygon:
		return flattypes.GeometryTypePolygon
	case orb.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	default:
		return flattypes.GeometryTypeUnknown
	}
}

// geometryToFGB converts a shapefile geometry to a FlatGeobuf geometry.
// Collections and other kinds a shapefile cannot hold yield nil.
func geometryToFGB(geom orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	if geom == nil || geometryType(geom) == flattypes.GeometryTypeUnknown {
		return nil
	}

	g := writer.NewGeometry(builder)

	switch v := geom.(type) {
	case orb.Point:
		g.SetType(flattypes.GeometryTypePoint)
		g.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		g.SetType(flattypes.GeometryTypeMultiPoint)
		g.SetXY(pointsToXY(v))

	case orb.LineString:
		g.SetType(flattypes.GeometryTypeLineString)
		g.SetXY(pointsToXY(v))

	case orb.MultiLineString:
		g.SetType(flattypes.GeometryTypeMultiLineString)
		parts := make([][]orb.Point, len(v))
		for i, ls := range v {
			parts[i] = ls
		}
		xy, ends := partsToXYEnds(parts)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.Ring:
		g.SetType(flattypes.GeometryTypePolygon)
		g.SetXY(pointsToXY(v))
		g.SetEnds([]uint32{uint32(len(v))})

	case orb.Polygon:
		g.SetType(flattypes.GeometryTypePolygon)
		xy, ends := polygonToXYEnds(v)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.MultiPolygon:
		g.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			pg := writer.NewGeometry(builder)
			pg.SetType(flattypes.GeometryTypePolygon)
			xy, ends := polygonToXYEnds(poly)
			pg.SetXY(xy)
			pg.SetEnds(ends)
			parts = append(parts, *pg)
		}
		g.SetParts(parts)
	}

	return g
}

// geometryFromFGB converts a FlatGeobuf geometry to an orb.Geometry.
func geometryFromFGB(fgbGeom *flattypes.Geometry) orb.Geometry {
	if fgbGeom == nil {
		return nil
	}

	switch fgbGeom.Type() {
	case flattypes.GeometryTypePoint:
		if fgbGeom.XyLength() < 2 {
			return nil
		}
		return orb.Point{fgbGeom.Xy(0), fgbGeom.Xy(1)}

	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(pointsFromXY(fgbGeom, 0, fgbGeom.XyLength()/2))

	case flattypes.GeometryTypeLineString:
		return orb.LineString(pointsFromXY(fgbGeom, 0, fgbGeom.XyLength()/2))

	case flattypes.GeometryTypeMultiLineString:
		var mls orb.MultiLineString
		for _, part := range partsFromEnds(fgbGeom) {
			mls = append(mls, orb.LineString(part))
		}
		return mls

	case flattypes.GeometryTypePolygon:
		return polygonFromXYEnds(fgbGeom)

	case flattypes.GeometryTypeMultiPolygon:
		return multiPolygonFromParts(fgbGeom)

	case flattypes.GeometryTypeGeometryCollection:
		return collectionFromParts(fgbGeom)

	default:
		return nil
	}
}

// Helper functions for writing

func pointsToXY(pts []orb.Point) []float64 {
	xy := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

func partsToXYEnds(parts [][]orb.Point) ([]float64, []uint32) {
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	xy := make([]float64, 0, total*2)
	ends := make([]uint32, 0, len(parts))
	cumulative := uint32(0)
	for _, p := range parts {
		for _, pt := range p {
			xy = append(xy, pt[0], pt[1])
		}
		cumulative += uint32(len(p))
		ends = append(ends, cumulative)
	}
	return xy, ends
}

func polygonToXYEnds(poly orb.Polygon) ([]float64, []uint32) {
	parts := make([][]orb.Point, len(poly))
	for i, r := range poly {
		parts[i] = r
	}
	return partsToXYEnds(parts)
}

// Helper functions for reading

func pointsFromXY(fgbGeom *flattypes.Geometry, start, end int) []orb.Point {
	n := fgbGeom.XyLength() / 2
	if end > n {
		end = n
	}
	if start >= end {
		return nil
	}
	pts := make([]orb.Point, 0, end-start)
	for i := start; i < end; i++ {
		pts = append(pts, orb.Point{fgbGeom.Xy(2 * i), fgbGeom.Xy(2*i + 1)})
	}
	return pts
}

// partsFromEnds splits the coordinates at the ends offsets. Without ends all
// coordinates form one part.
func partsFromEnds(fgbGeom *flattypes.Geometry) [][]orb.Point {
	n := fgbGeom.XyLength() / 2
	if n == 0 {
		return nil
	}
	endsLen := fgbGeom.EndsLength()
	if endsLen == 0 {
		return [][]orb.Point{pointsFromXY(fgbGeom, 0, n)}
	}

	parts := make([][]orb.Point, 0, endsLen)
	start := 0
	for i := 0; i < endsLen; i++ {
		end := int(fgbGeom.Ends(i))
		parts = append(parts, pointsFromXY(fgbGeom, start, end))
		start = end
	}
	return parts
}

func polygonFromXYEnds(fgbGeom *flattypes.Geometry) orb.Polygon {
	var poly orb.Polygon
	for _, part := range partsFromEnds(fgbGeom) {
		poly = append(poly, orb.Ring(part))
	}
	return poly
}

func multiPolygonFromParts(fgbGeom *flattypes.Geometry) orb.MultiPolygon {
	partsLen := fgbGeom.PartsLength()
	if partsLen == 0 {
		if poly := polygonFromXYEnds(fgbGeom); len(poly) > 0 {
			return orb.MultiPolygon{poly}
		}
		return nil
	}

	mp := make(orb.MultiPolygon, 0, partsLen)
	for i := 0; i < partsLen; i++ {
		var part flattypes.Geometry
		if fgbGeom.Parts(&part, i) {
			if poly := polygonFromXYEnds(&part); len(poly) > 0 {
				mp = append(mp, poly)
			}
		}
	}
	return mp
}

func collectionFromParts(fgbGeom *flattypes.Geometry) orb.Collection {
	partsLen := fgbGeom.PartsLength()
	coll := make(orb.Collection, 0, partsLen)
	for i := 0; i < partsLen; i++ {
		var part flattypes.Geometry
		if fgbGeom.Parts(&part, i) {
			if geom := geometryFromFGB(&part); geom != nil {
				coll = append(coll, geom)
			}
		}
	}
	return coll
}
