package shapefile

import "fmt"

// FeatureType is the geometry family a feature source holds.
type FeatureType int

// Feature types.
const (
	FeatureTypeUnspecified FeatureType = iota
	FeatureTypePoint
	FeatureTypeLine
	FeatureTypePolygon
	FeatureTypeMultiPoint
)

func (ft FeatureType) String() string {
	switch ft {
	case FeatureTypePoint:
		return "Point"
	case FeatureTypeLine:
		return "Line"
	case FeatureTypePolygon:
		return "Polygon"
	case FeatureTypeMultiPoint:
		return "MultiPoint"
	default:
		return "Unspecified"
	}
}

// CoordinateType is the measure/elevation axis of a shape type.
type CoordinateType int

// Coordinate types.
const (
	CoordinateRegular CoordinateType = iota
	CoordinateM
	CoordinateZ
)

func (ct CoordinateType) String() string {
	switch ct {
	case CoordinateM:
		return "M"
	case CoordinateZ:
		return "Z"
	default:
		return "Regular"
	}
}

// ShapeType is the on-disk shape type code.
type ShapeType int32

// Shape types.
const (
	ShapeTypeNull        ShapeType = 0
	ShapeTypePoint       ShapeType = 1
	ShapeTypePolyLine    ShapeType = 3
	ShapeTypePolygon     ShapeType = 5
	ShapeTypeMultiPoint  ShapeType = 8
	ShapeTypePointZ      ShapeType = 11
	ShapeTypePolyLineZ   ShapeType = 13
	ShapeTypePolygonZ    ShapeType = 15
	ShapeTypeMultiPointZ ShapeType = 18
	ShapeTypePointM      ShapeType = 21
	ShapeTypePolyLineM   ShapeType = 23
	ShapeTypePolygonM    ShapeType = 25
	ShapeTypeMultiPointM ShapeType = 28
	ShapeTypeMultiPatch  ShapeType = 31
)

var shapeTypeNames = map[ShapeType]string{
	ShapeTypeNull:        "Null",
	ShapeTypePoint:       "Point",
	ShapeTypePolyLine:    "PolyLine",
	ShapeTypePolygon:     "Polygon",
	ShapeTypeMultiPoint:  "MultiPoint",
	ShapeTypePointZ:      "PointZ",
	ShapeTypePolyLineZ:   "PolyLineZ",
	ShapeTypePolygonZ:    "PolygonZ",
	ShapeTypeMultiPointZ: "MultiPointZ",
	ShapeTypePointM:      "PointM",
	ShapeTypePolyLineM:   "PolyLineM",
	ShapeTypePolygonM:    "PolygonM",
	ShapeTypeMultiPointM: "MultiPointM",
	ShapeTypeMultiPatch:  "MultiPatch",
}

func (st ShapeType) String() string {
	if name, ok := shapeTypeNames[st]; ok {
		return name
	}
	return fmt.Sprintf("ShapeType(%d)", int32(st))
}

// Valid reports whether st is a known shape type code.
func (st ShapeType) Valid() bool {
	_, ok := shapeTypeNames[st]
	return ok
}

// FeatureType returns the geometry family of st. Null and MultiPatch map to
// FeatureTypeUnspecified.
func (st ShapeType) FeatureType() FeatureType {
	switch st {
	case ShapeTypePoint, ShapeTypePointM, ShapeTypePointZ:
		return FeatureTypePoint
	case ShapeTypePolyLine, ShapeTypePolyLineM, ShapeTypePolyLineZ:
		return FeatureTypeLine
	case ShapeTypePolygon, ShapeTypePolygonM, ShapeTypePolygonZ:
		return FeatureTypePolygon
	case ShapeTypeMultiPoint, ShapeTypeMultiPointM, ShapeTypeMultiPointZ:
		return FeatureTypeMultiPoint
	default:
		return FeatureTypeUnspecified
	}
}

// CoordinateType returns the coordinate axis of st.
func (st ShapeType) CoordinateType() CoordinateType {
	switch st {
	case ShapeTypePointM, ShapeTypePolyLineM, ShapeTypePolygonM, ShapeTypeMultiPointM:
		return CoordinateM
	case ShapeTypePointZ, ShapeTypePolyLineZ, ShapeTypePolygonZ, ShapeTypeMultiPointZ, ShapeTypeMultiPatch:
		return CoordinateZ
	default:
		return CoordinateRegular
	}
}

// HasZ reports whether records of st carry a Z block.
func (st ShapeType) HasZ() bool {
	return st.CoordinateType() == CoordinateZ
}

// HasM reports whether records of st may carry an M block. Z types allow an
// optional M block too.
func (st ShapeType) HasM() bool {
	return st.CoordinateType() != CoordinateRegular
}

// ShapeTypeFor returns the shape type for a feature and coordinate type, or
// ShapeTypeNull when ft is unspecified.
func ShapeTypeFor(ft FeatureType, ct CoordinateType) ShapeType {
	k, ok := kindFor(ft)
	if !ok {
		return ShapeTypeNull
	}
	switch ct {
	case CoordinateM:
		return k.typeM
	case CoordinateZ:
		return k.typeZ
	default:
		return k.typeRegular
	}
}
