package shapefile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// NoData fills M values that a record does not carry.
const NoData = -math.MaxFloat64

// PartRange is one ring or line of a shape: a window into the interleaved X,Y
// vertex buffer shared by every part of the shape.
type PartRange struct {
	StartIndex  int       // First vertex of the part
	NumVertices int       // Number of vertices in the part
	Vertices    []float64 // Shared X,Y buffer of the owning shape
}

// Point returns vertex i of the part.
func (p PartRange) Point(i int) orb.Point {
	j := 2 * (p.StartIndex + i)
	return orb.Point{p.Vertices[j], p.Vertices[j+1]}
}

// XY returns the part's slice of the shared buffer.
func (p PartRange) XY() []float64 {
	return p.Vertices[2*p.StartIndex : 2*(p.StartIndex+p.NumVertices)]
}

// SignedArea returns the shoelace area of the part: positive when the part is
// counter-clockwise, negative when clockwise.
func (p PartRange) SignedArea() float64 {
	return SignedArea(p.XY())
}

// ShapeRange is the on-disk metadata of one shape.
type ShapeRange struct {
	RecordNumber  int32
	ContentLength int32 // In 16-bit words
	ShapeType     ShapeType
	Extent        Extent
	StartIndex    int // First vertex of the shape in its vertex buffer
	NumParts      int
	NumPoints     int
	Parts         []PartRange
}

// Shape is a decoded shape and its coordinate buffers. Vertices interleaves X
// and Y; Z and M hold one value per vertex when present.
type Shape struct {
	Range    ShapeRange
	Vertices []float64
	Z        []float64
	M        []float64
}

// FeatureType returns the geometry family of the shape.
func (s *Shape) FeatureType() FeatureType {
	if s == nil {
		return FeatureTypeUnspecified
	}
	return s.Range.ShapeType.FeatureType()
}

// HasZ reports whether the shape carries Z values.
func (s *Shape) HasZ() bool {
	return s != nil && len(s.Z) > 0
}

// HasM reports whether the shape carries at least one M value.
func (s *Shape) HasM() bool {
	if s == nil {
		return false
	}
	for _, m := range s.M {
		if m > noDataLimit {
			return true
		}
	}
	return false
}

// Point returns vertex i.
func (s *Shape) Point(i int) orb.Point {
	return orb.Point{s.Vertices[2*i], s.Vertices[2*i+1]}
}

// Geometry converts the shape to an orb geometry. Lines and polygons with a
// single part become LineString and Polygon; several parts become
// MultiLineString and MultiPolygon, grouping each clockwise shell with the
// counter-clockwise holes that follow it.
func (s *Shape) Geometry() orb.Geometry {
	if s == nil {
		return nil
	}

	switch s.FeatureType() {
	case FeatureTypePoint:
		if s.Range.NumPoints == 0 {
			return nil
		}
		return s.Point(0)

	case FeatureTypeMultiPoint:
		mp := make(orb.MultiPoint, s.Range.NumPoints)
		for i := range mp {
			mp[i] = s.Point(i)
		}
		return mp

	case FeatureTypeLine:
		mls := make(orb.MultiLineString, len(s.Range.Parts))
		for i, p := range s.Range.Parts {
			mls[i] = partPoints[orb.LineString](p)
		}
		if len(mls) == 1 {
			return mls[0]
		}
		return mls

	case FeatureTypePolygon:
		var mp orb.MultiPolygon
		for _, p := range s.Range.Parts {
			ring := partPoints[orb.Ring](p)
			if p.SignedArea() <= 0 || len(mp) == 0 {
				mp = append(mp, orb.Polygon{ring})
				continue
			}
			last := len(mp) - 1
			mp[last] = append(mp[last], ring)
		}
		if len(mp) == 1 {
			return mp[0]
		}
		return mp
	}
	return nil
}

func partPoints[T orb.LineString | orb.Ring](p PartRange) T {
	out := make(T, p.NumVertices)
	for i := range out {
		out[i] = p.Point(i)
	}
	return out
}

// SignedArea returns the shoelace area of a ring held as interleaved X,Y:
// positive for counter-clockwise rings, negative for clockwise ones.
func SignedArea(xy []float64) float64 {
	n := len(xy) / 2
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += xy[2*i]*xy[2*j+1] - xy[2*j]*xy[2*i+1]
	}
	return sum / 2
}

// NewShape builds a shape from an orb geometry with optional per-vertex Z
// and M values, given in vertex order. The coordinate type follows the values
// supplied: Z makes a Z shape, M alone an M shape. Polygon rings are closed
// and oriented with shells clockwise and holes counter-clockwise. A nil or
// empty geometry yields a nil shape.
func NewShape(geom orb.Geometry, z, m []float64) (*Shape, error) {
	if geom == nil {
		return nil, nil
	}

	ft := GeometryFeatureType(geom)
	if ft == FeatureTypeUnspecified {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedGeometry, geom)
	}

	b := &shapeBuilder{}
	switch g := geom.(type) {
	case orb.Point:
		b.addPoints(g)
	case orb.MultiPoint:
		b.addPoints(g...)
	case orb.LineString:
		b.addPart(g, false)
	case orb.MultiLineString:
		for _, ls := range g {
			b.addPart(ls, false)
		}
	case orb.Ring:
		b.addPart(g, true)
	case orb.Polygon:
		b.addPolygon(g)
	case orb.MultiPolygon:
		for _, p := range g {
			b.addPolygon(p)
		}
	}
	if b.numPoints() == 0 {
		return nil, nil
	}

	n := b.numPoints()
	if b.closed {
		z = b.expandClosing(z)
		m = b.expandClosing(m)
	}
	if z != nil && len(z) != n {
		return nil, fmt.Errorf("%w: %d z values for %d vertices", ErrCoordinateCount, len(z), n)
	}
	if m != nil && len(m) != n {
		return nil, fmt.Errorf("%w: %d m values for %d vertices", ErrCoordinateCount, len(m), n)
	}

	ct := CoordinateRegular
	switch {
	case z != nil:
		ct = CoordinateZ
	case m != nil:
		ct = CoordinateM
	}

	s := &Shape{
		Vertices: b.xy,
		Z:        append([]float64(nil), z...),
		M:        append([]float64(nil), m...),
	}
	if z == nil {
		s.Z = nil
	}
	if m == nil {
		s.M = nil
	}
	s.Range = ShapeRange{
		ShapeType: ShapeTypeFor(ft, ct),
		NumPoints: n,
	}
	if ft == FeatureTypeLine || ft == FeatureTypePolygon {
		s.Range.NumParts = len(b.starts)
		s.Range.Parts = make([]PartRange, len(b.starts))
		for i, start := range b.starts {
			end := n
			if i+1 < len(b.starts) {
				end = b.starts[i+1]
			}
			s.Range.Parts[i] = PartRange{StartIndex: start, NumVertices: end - start, Vertices: s.Vertices}
		}
	}
	if ft == FeatureTypePolygon {
		s.orientRings(b.holes)
	}
	s.updateExtent()
	return s, nil
}

// GeometryFeatureType returns the feature type an orb geometry maps to.
func GeometryFeatureType(geom orb.Geometry) FeatureType {
	switch geom.(type) {
	case orb.Point:
		return FeatureTypePoint
	case orb.MultiPoint:
		return FeatureTypeMultiPoint
	case orb.LineString, orb.MultiLineString:
		return FeatureTypeLine
	case orb.Ring, orb.Polygon, orb.MultiPolygon:
		return FeatureTypePolygon
	default:
		return FeatureTypeUnspecified
	}
}

type shapeBuilder struct {
	xy          []float64
	starts      []int
	holes       []bool
	source      []int // input vertex each built vertex came from
	inputPoints int
	closed      bool // a closing vertex was inserted
}

func (b *shapeBuilder) numPoints() int {
	return len(b.xy) / 2
}

func (b *shapeBuilder) addPoints(pts ...orb.Point) {
	for _, p := range pts {
		b.xy = append(b.xy, p[0], p[1])
		b.source = append(b.source, b.inputPoints)
		b.inputPoints++
	}
}

func (b *shapeBuilder) addPart(pts []orb.Point, ring bool) {
	if len(pts) == 0 {
		return
	}
	first := b.inputPoints
	b.starts = append(b.starts, b.numPoints())
	b.addPoints(pts...)
	if ring && pts[0] != pts[len(pts)-1] {
		b.xy = append(b.xy, pts[0][0], pts[0][1])
		b.source = append(b.source, first)
		b.closed = true
	}
}

func (b *shapeBuilder) addPolygon(p orb.Polygon) {
	for i, r := range p {
		if len(r) == 0 {
			continue
		}
		b.addPart(r, true)
		b.holes = append(b.holes, i > 0)
	}
}

// expandClosing maps per-vertex values given for the input vertices onto the
// built vertices, repeating the first value of a ring at each closing vertex
// the builder inserted. Values already matching the built count are kept.
func (b *shapeBuilder) expandClosing(vs []float64) []float64 {
	if vs == nil || len(vs) != b.inputPoints {
		return vs
	}
	out := make([]float64, len(b.source))
	for i, src := range b.source {
		out[i] = vs[src]
	}
	return out
}

// orientRings reverses parts so shells are clockwise and holes
// counter-clockwise.
func (s *Shape) orientRings(holes []bool) {
	for i, p := range s.Range.Parts {
		area := p.SignedArea()
		hole := i < len(holes) && holes[i]
		if (hole && area < 0) || (!hole && area > 0) {
			s.reversePart(p)
		}
	}
}

func (s *Shape) reversePart(p PartRange) {
	for i, j := p.StartIndex, p.StartIndex+p.NumVertices-1; i < j; i, j = i+1, j-1 {
		s.Vertices[2*i], s.Vertices[2*j] = s.Vertices[2*j], s.Vertices[2*i]
		s.Vertices[2*i+1], s.Vertices[2*j+1] = s.Vertices[2*j+1], s.Vertices[2*i+1]
		if s.Z != nil {
			s.Z[i], s.Z[j] = s.Z[j], s.Z[i]
		}
		if s.M != nil {
			s.M[i], s.M[j] = s.M[j], s.M[i]
		}
	}
}

// updateExtent recomputes Range.Extent from the coordinate buffers.
func (s *Shape) updateExtent() {
	e := EmptyExtent()
	for i := 0; i < len(s.Vertices)/2; i++ {
		e.ExpandToIncludePoint(s.Vertices[2*i], s.Vertices[2*i+1])
	}
	for _, z := range s.Z {
		e.MinZ, e.MaxZ = expandRange(e.MinZ, e.MaxZ, z, z)
	}
	for _, m := range s.M {
		if m > noDataLimit {
			e.MinM, e.MaxM = expandRange(e.MinM, e.MaxM, m, m)
		}
	}
	s.Range.Extent = e
}

// withShapeType returns a copy of s converted to st, which must belong to the
// same feature type. Missing Z values become zero and missing M values
// NoData; axes st does not carry are dropped.
func (s *Shape) withShapeType(st ShapeType) *Shape {
	out := *s
	out.Range.ShapeType = st
	n := s.Range.NumPoints

	if st.HasZ() {
		if out.Z == nil {
			out.Z = make([]float64, n)
		}
	} else {
		out.Z = nil
	}
	if st.HasM() {
		if out.M == nil {
			out.M = make([]float64, n)
			for i := range out.M {
				out.M[i] = NoData
			}
		}
	} else {
		out.M = nil
	}
	out.updateExtent()
	return &out
}
