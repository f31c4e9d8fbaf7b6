package shapefile

import (
	"math"

	"github.com/paulmach/orb"
)

// Extent is an axis aligned bounding box with optional Z and M ranges. An
// extent that has included nothing has NaN on every axis; a NaN Z or M pair
// means the axis is absent.
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
	MinZ, MaxZ             float64
	MinM, MaxM             float64
}

// EmptyExtent returns an extent that contains nothing.
func EmptyExtent() Extent {
	nan := math.NaN()
	return Extent{nan, nan, nan, nan, nan, nan, nan, nan}
}

// ExtentFromBound returns the XY extent of b with absent Z and M.
func ExtentFromBound(b orb.Bound) Extent {
	e := EmptyExtent()
	if b.IsEmpty() {
		return e
	}
	e.MinX, e.MinY = b.Min[0], b.Min[1]
	e.MaxX, e.MaxY = b.Max[0], b.Max[1]
	return e
}

// NewExtent returns the XY extent spanning the two corners.
func NewExtent(minX, minY, maxX, maxY float64) Extent {
	e := EmptyExtent()
	e.MinX, e.MinY, e.MaxX, e.MaxY = minX, minY, maxX, maxY
	return e
}

// Width returns MaxX - MinX; NaN for an empty extent.
func (e Extent) Width() float64 {
	return e.MaxX - e.MinX
}

// Height returns MaxY - MinY; NaN for an empty extent.
func (e Extent) Height() float64 {
	return e.MaxY - e.MinY
}

// IsEmpty reports whether the extent has included nothing.
func (e Extent) IsEmpty() bool {
	return math.IsNaN(e.Width())
}

// HasZ reports whether the Z range is set.
func (e Extent) HasZ() bool {
	return !math.IsNaN(e.MinZ) && !math.IsNaN(e.MaxZ)
}

// HasM reports whether the M range is set.
func (e Extent) HasM() bool {
	return !math.IsNaN(e.MinM) && !math.IsNaN(e.MaxM)
}

// ExpandToInclude grows e to cover o. Absent axes of o are skipped.
func (e *Extent) ExpandToInclude(o Extent) {
	e.MinX, e.MaxX = expandRange(e.MinX, e.MaxX, o.MinX, o.MaxX)
	e.MinY, e.MaxY = expandRange(e.MinY, e.MaxY, o.MinY, o.MaxY)
	e.MinZ, e.MaxZ = expandRange(e.MinZ, e.MaxZ, o.MinZ, o.MaxZ)
	e.MinM, e.MaxM = expandRange(e.MinM, e.MaxM, o.MinM, o.MaxM)
}

// ExpandToIncludePoint grows the XY range of e to cover (x, y).
func (e *Extent) ExpandToIncludePoint(x, y float64) {
	e.MinX, e.MaxX = expandRange(e.MinX, e.MaxX, x, x)
	e.MinY, e.MaxY = expandRange(e.MinY, e.MaxY, y, y)
}

func expandRange(min, max, omin, omax float64) (float64, float64) {
	if math.IsNaN(omin) || math.IsNaN(omax) {
		return min, max
	}
	if math.IsNaN(min) || omin < min {
		min = omin
	}
	if math.IsNaN(max) || omax > max {
		max = omax
	}
	return min, max
}

// Intersects reports whether the XY ranges of e and o overlap, boundaries
// included. Empty extents intersect nothing.
func (e Extent) Intersects(o Extent) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX &&
		e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Contains reports whether o lies inside e in XY, boundaries included.
func (e Extent) Contains(o Extent) bool {
	if e.IsEmpty() || o.IsEmpty() {
		return false
	}
	return e.MinX <= o.MinX && o.MaxX <= e.MaxX &&
		e.MinY <= o.MinY && o.MaxY <= e.MaxY
}

// TouchesBoundary reports whether inner reaches the boundary of e on any axis,
// Z and M included when both extents carry them. Removing a feature whose
// envelope touches the boundary may shrink the extent.
func (e Extent) TouchesBoundary(inner Extent) bool {
	if e.IsEmpty() || inner.IsEmpty() {
		return false
	}
	// NaN compares false, so absent Z or M ranges never touch.
	return inner.MinX <= e.MinX || inner.MinY <= e.MinY ||
		inner.MaxX >= e.MaxX || inner.MaxY >= e.MaxY ||
		inner.MinZ <= e.MinZ || inner.MaxZ >= e.MaxZ ||
		inner.MinM <= e.MinM || inner.MaxM >= e.MaxM
}

// Bound returns the XY range as an orb.Bound. An empty extent yields a bound
// for which IsEmpty is true.
func (e Extent) Bound() orb.Bound {
	if e.IsEmpty() {
		return orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{-1, -1}}
	}
	return orb.Bound{
		Min: orb.Point{e.MinX, e.MinY},
		Max: orb.Point{e.MaxX, e.MaxY},
	}
}

// Equal compares two extents, treating NaN as equal to NaN.
func (e Extent) Equal(o Extent) bool {
	return sameFloat(e.MinX, o.MinX) && sameFloat(e.MinY, o.MinY) &&
		sameFloat(e.MaxX, o.MaxX) && sameFloat(e.MaxY, o.MaxY) &&
		sameFloat(e.MinZ, o.MinZ) && sameFloat(e.MaxZ, o.MaxZ) &&
		sameFloat(e.MinM, o.MinM) && sameFloat(e.MaxM, o.MaxM)
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}
