package shapefile

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

// readBack encodes s as the only record of a file and decodes it again.
func readBack(t *testing.T, s *Shape, envelope *Extent) *Shape {
	t.Helper()
	rec, err := encodeShape(s, 1)
	require.NoError(t, err)

	st := ShapeTypePoint
	if s != nil {
		st = s.Range.ShapeType
	}
	file := append(make([]byte, HeaderSize), rec...)
	entry := ShapeHeader{Offset: HeaderWords, ContentLength: int32((len(rec) - recordHeaderSize) / 2)}

	got, err := GetShapeAtIndex(bytes.NewReader(file), entry, NewHeader(st), 0, envelope)
	require.NoError(t, err)
	return got
}

func TestContentLength(t *testing.T) {
	point, _ := kindFor(FeatureTypePoint)
	multi, _ := kindFor(FeatureTypeMultiPoint)
	line, _ := kindFor(FeatureTypeLine)

	tests := []struct {
		name         string
		kind         shapeKind
		parts, pts   int
		withZ, withM bool
		want         int32
	}{
		{"point", point, 0, 1, false, false, 10},
		{"point-m", point, 0, 1, false, true, 14},
		{"point-z", point, 0, 1, true, true, 18},
		{"point-z-no-m", point, 0, 1, true, false, 14},
		{"multipoint", multi, 0, 3, false, false, 20 + 8*3},
		{"multipoint-m", multi, 0, 3, false, true, 20 + 8*3 + 8 + 4*3},
		{"multipoint-z", multi, 0, 3, true, true, 20 + 8*3 + 2*(8+4*3)},
		{"polyline", line, 2, 5, false, false, 22 + 2*2 + 8*5},
		{"polyline-m", line, 2, 5, false, true, 22 + 2*2 + 8*5 + 8 + 4*5},
		{"polyline-z", line, 2, 5, true, true, 22 + 2*2 + 8*5 + 2*(8+4*5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.kind.contentLength(tt.parts, tt.pts, tt.withZ, tt.withM))
		})
	}
}

func TestShapeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		geom orb.Geometry
		z, m []float64
		want ShapeType
	}{
		{"point", orb.Point{1.5, -2.25}, nil, nil, ShapeTypePoint},
		{"point-m", orb.Point{1, 2}, nil, []float64{7}, ShapeTypePointM},
		{"point-z", orb.Point{1, 2}, []float64{3}, []float64{4}, ShapeTypePointZ},
		{"multipoint", orb.MultiPoint{{0, 0}, {1, 1}, {2, 0}}, nil, nil, ShapeTypeMultiPoint},
		{"multipoint-z", orb.MultiPoint{{0, 0}, {1, 1}}, []float64{5, 6}, nil, ShapeTypeMultiPointZ},
		{"linestring", orb.LineString{{0, 0}, {1, 1}, {2, 3}}, nil, nil, ShapeTypePolyLine},
		{"multilinestring-m", orb.MultiLineString{{{0, 0}, {1, 1}}, {{5, 5}, {6, 7}, {8, 8}}}, nil, []float64{1, 2, 3, 4, 5}, ShapeTypePolyLineM},
		{"polygon-hole", orb.Polygon{
			{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}},
			{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}},
		}, nil, nil, ShapeTypePolygon},
		{"multipolygon-z", orb.MultiPolygon{
			{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}},
			{{{5, 5}, {5, 6}, {6, 6}, {6, 5}, {5, 5}}},
		}, []float64{1, 1, 1, 1, 1, 2, 2, 2, 2, 2}, nil, ShapeTypePolygonZ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewShape(tt.geom, tt.z, tt.m)
			require.NoError(t, err)
			require.Equal(t, tt.want, s.Range.ShapeType)

			got := readBack(t, s, nil)
			require.Equal(t, s.Vertices, got.Vertices)
			require.Equal(t, s.Z, got.Z)
			if tt.m != nil {
				require.Equal(t, s.M, got.M)
			}
			require.Equal(t, s.Range.NumPoints, got.Range.NumPoints)
			require.Equal(t, len(s.Range.Parts), got.Range.NumParts)
			require.True(t, s.Range.Extent.Equal(got.Range.Extent), "extent %v != %v", s.Range.Extent, got.Range.Extent)
			require.Equal(t, ExtentFromBound(tt.geom.Bound()).Bound(), got.Range.Extent.Bound())
			require.Equal(t, tt.geom, got.Geometry())
		})
	}
}

// polyLineM builds a PolyLineM record body for a two point line, with or
// without the M block.
func polyLineM(withM bool) []byte {
	var body []byte
	le := binary.LittleEndian
	f64 := func(v float64) { body = le.AppendUint64(body, math.Float64bits(v)) }
	i32 := func(v int32) { body = le.AppendUint32(body, uint32(v)) }

	i32(int32(ShapeTypePolyLineM))
	f64(0)
	f64(0)
	f64(3)
	f64(4)
	i32(1) // parts
	i32(2) // points
	i32(0)
	f64(0)
	f64(0)
	f64(3)
	f64(4)
	if withM {
		f64(10)
		f64(20)
		f64(10)
		f64(20)
	}

	rec := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint32(rec[0:], 1)
	binary.BigEndian.PutUint32(rec[4:], uint32(len(body)/2))
	return append(rec, body...)
}

func TestGetShapeAtIndex_OptionalM(t *testing.T) {
	header := NewHeader(ShapeTypePolyLineM)

	for _, withM := range []bool{true, false} {
		rec := polyLineM(withM)
		file := append(make([]byte, HeaderSize), rec...)
		entry := ShapeHeader{Offset: HeaderWords, ContentLength: int32((len(rec) - 8) / 2)}

		s, err := GetShapeAtIndex(bytes.NewReader(file), entry, header, 0, nil)
		require.NoError(t, err)
		require.Equal(t, []float64{0, 0, 3, 4}, s.Vertices)
		require.Len(t, s.M, 2)

		if withM {
			require.Equal(t, int32(56), s.Range.ContentLength)
			require.True(t, s.HasM())
			require.Equal(t, []float64{10, 20}, s.M)
			require.Equal(t, 10.0, s.Range.Extent.MinM)
		} else {
			require.Equal(t, int32(40), s.Range.ContentLength)
			require.False(t, s.HasM())
			require.Equal(t, []float64{NoData, NoData}, s.M)
			require.False(t, s.Range.Extent.HasM())
		}
	}
}

func TestGetShapeAtIndex_MissingZ(t *testing.T) {
	s, err := NewShape(orb.LineString{{0, 0}, {1, 1}}, nil, nil)
	require.NoError(t, err)
	rec, err := encodeShape(s, 1)
	require.NoError(t, err)

	// A plain PolyLine body relabelled as PolyLineZ lacks the Z block.
	binary.LittleEndian.PutUint32(rec[8:], uint32(ShapeTypePolyLineZ))
	file := append(make([]byte, HeaderSize), rec...)
	entry := ShapeHeader{Offset: HeaderWords, ContentLength: int32((len(rec) - 8) / 2)}

	_, err = GetShapeAtIndex(bytes.NewReader(file), entry, NewHeader(ShapeTypePolyLineZ), 0, nil)
	require.ErrorIs(t, err, ErrContentLength)
}

func TestGetShapeAtIndex_NullShape(t *testing.T) {
	rec, err := encodeShape(nil, 1)
	require.NoError(t, err)
	require.Len(t, rec, 12)

	file := append(make([]byte, HeaderSize), rec...)
	got, err := GetShapeAtIndex(bytes.NewReader(file), ShapeHeader{Offset: HeaderWords, ContentLength: 2}, NewHeader(ShapeTypePolygon), 0, nil)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Nil(t, got.Geometry())
}

func TestGetShapeAtIndex_EnvelopeSkipsVertices(t *testing.T) {
	s, err := NewShape(orb.LineString{{0, 0}, {10, 10}}, nil, nil)
	require.NoError(t, err)
	rec, err := encodeShape(s, 1)
	require.NoError(t, err)

	// Drop the vertices: a read that gets past the box would fail.
	file := append(make([]byte, HeaderSize), rec[:8+4+32]...)
	entry := ShapeHeader{Offset: HeaderWords, ContentLength: int32((len(rec) - 8) / 2)}
	header := NewHeader(ShapeTypePolyLine)

	outside := NewExtent(20, 20, 30, 30)
	got, err := GetShapeAtIndex(bytes.NewReader(file), entry, header, 0, &outside)
	require.NoError(t, err)
	require.Nil(t, got)

	inside := NewExtent(5, 5, 30, 30)
	_, err = GetShapeAtIndex(bytes.NewReader(file), entry, header, 0, &inside)
	require.ErrorIs(t, err, ErrTruncatedRecord)

	touching := NewExtent(10, 10, 30, 30)
	got = readBack(t, s, &touching)
	require.NotNil(t, got)
}

func TestGetShapeAtIndex_WrongFamily(t *testing.T) {
	s, err := NewShape(orb.Point{1, 1}, nil, nil)
	require.NoError(t, err)
	rec, err := encodeShape(s, 1)
	require.NoError(t, err)

	file := append(make([]byte, HeaderSize), rec...)
	entry := ShapeHeader{Offset: HeaderWords, ContentLength: 10}
	_, err = GetShapeAtIndex(bytes.NewReader(file), entry, NewHeader(ShapeTypePolygon), 0, nil)
	require.ErrorIs(t, err, ErrInvalidShapeType)
}

func TestGetShapeAtIndex_CorruptCounts(t *testing.T) {
	s, err := NewShape(orb.LineString{{0, 0}, {1, 1}}, nil, nil)
	require.NoError(t, err)
	rec, err := encodeShape(s, 1)
	require.NoError(t, err)

	// NumPoints claims more vertices than the record holds.
	binary.LittleEndian.PutUint32(rec[8+4+32+4:], 1000)
	file := append(make([]byte, HeaderSize), rec...)
	entry := ShapeHeader{Offset: HeaderWords, ContentLength: int32((len(rec) - 8) / 2)}

	_, err = GetShapeAtIndex(bytes.NewReader(file), entry, NewHeader(ShapeTypePolyLine), 0, nil)
	require.ErrorIs(t, err, ErrContentLength)
}

func TestGetShapeAtIndex_LengthDisagreesWithIndex(t *testing.T) {
	s, err := NewShape(orb.LineString{{0, 0}, {1, 1}}, nil, nil)
	require.NoError(t, err)
	rec, err := encodeShape(s, 1)
	require.NoError(t, err)
	entry := ShapeHeader{Offset: HeaderWords, ContentLength: int32((len(rec) - 8) / 2)}

	// A damaged record header claiming close to 4 GiB of content.
	binary.BigEndian.PutUint32(rec[4:], 0x7fffffff)
	file := append(make([]byte, HeaderSize), rec...)

	_, err = GetShapeAtIndex(bytes.NewReader(file), entry, NewHeader(ShapeTypePolyLine), 0, nil)
	require.ErrorIs(t, err, ErrContentLength)
}

func TestEncodeShape_OmitsAbsentM(t *testing.T) {
	s, err := NewShape(orb.LineString{{0, 0}, {3, 4}}, nil, []float64{NoData, NoData})
	require.NoError(t, err)
	require.Equal(t, ShapeTypePolyLineM, s.Range.ShapeType)

	rec, err := encodeShape(s, 1)
	require.NoError(t, err)
	require.Equal(t, polyLineM(false), rec)

	s.M = []float64{10, 20}
	s.updateExtent()
	rec, err = encodeShape(s, 1)
	require.NoError(t, err)
	require.Equal(t, polyLineM(true), rec)
}
