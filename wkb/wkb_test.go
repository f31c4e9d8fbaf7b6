package wkb

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/paulmach/orb"
	orbwkb "github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/require"

	shapefile "github.com/tingold/orb-shapefile"
)

func marshal(t *testing.T, g orb.Geometry, order binary.ByteOrder) []byte {
	t.Helper()
	data, err := orbwkb.Marshal(g, order)
	require.NoError(t, err)
	return data
}

func TestReadShape_NormalizesRings(t *testing.T) {
	ccwShell := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	cwHole := orb.Ring{{2, 2}, {2, 4}, {4, 4}, {4, 2}, {2, 2}}
	cwShell := orb.Ring{{0, 0}, {0, 10}, {10, 10}, {10, 0}, {0, 0}}
	ccwHole := orb.Ring{{2, 2}, {4, 2}, {4, 4}, {2, 4}, {2, 2}}

	tests := []struct {
		name  string
		poly  orb.Polygon
		order binary.ByteOrder
	}{
		{"ccw-shell-cw-hole", orb.Polygon{ccwShell, cwHole}, binary.LittleEndian},
		{"already-normalized", orb.Polygon{cwShell, ccwHole}, binary.BigEndian},
		{"both-ccw", orb.Polygon{ccwShell, ccwHole}, binary.LittleEndian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ReadShape(bytes.NewReader(marshal(t, tt.poly, tt.order)), shapefile.FeatureTypePolygon)
			require.NoError(t, err)
			require.Equal(t, shapefile.ShapeTypePolygon, s.Range.ShapeType)
			require.Len(t, s.Range.Parts, 2)
			require.Less(t, s.Range.Parts[0].SignedArea(), 0.0, "shell must be clockwise")
			require.Greater(t, s.Range.Parts[1].SignedArea(), 0.0, "hole must be counter-clockwise")
			require.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{10, 10}}, s.Range.Extent.Bound())
		})
	}
}

func TestReadShape_ExpectedType(t *testing.T) {
	point := marshal(t, orb.Point{1, 2}, binary.LittleEndian)

	s, err := ReadShape(bytes.NewReader(point), shapefile.FeatureTypeLine)
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = ReadShape(bytes.NewReader(point), shapefile.FeatureTypeUnspecified)
	require.NoError(t, err)
	require.Equal(t, shapefile.ShapeTypePoint, s.Range.ShapeType)

	s, err = ReadShape(bytes.NewReader(point), shapefile.FeatureTypeMultiPoint)
	require.NoError(t, err)
	require.Equal(t, shapefile.ShapeTypeMultiPoint, s.Range.ShapeType)
	require.Equal(t, orb.MultiPoint{{1, 2}}, s.Geometry())

	multi := marshal(t, orb.MultiPoint{{1, 2}, {3, 4}}, binary.LittleEndian)
	s, err = ReadShape(bytes.NewReader(multi), shapefile.FeatureTypePoint)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestReadShape_Collections(t *testing.T) {
	lines := orb.Collection{
		orb.LineString{{0, 0}, {1, 1}},
		orb.Collection{orb.MultiLineString{{{5, 5}, {6, 6}, {7, 5}}}},
	}
	s, err := ReadShape(bytes.NewReader(marshal(t, lines, binary.LittleEndian)), shapefile.FeatureTypeLine)
	require.NoError(t, err)
	require.Equal(t, 2, s.Range.NumParts)
	require.Equal(t, 5, s.Range.NumPoints)
	require.Equal(t, orb.MultiLineString{{{0, 0}, {1, 1}}, {{5, 5}, {6, 6}, {7, 5}}}, s.Geometry())

	mixed := marshal(t, orb.Collection{orb.Point{0, 0}, orb.LineString{{0, 0}, {1, 1}}}, binary.LittleEndian)

	_, err = ReadShape(bytes.NewReader(mixed), shapefile.FeatureTypeUnspecified)
	require.ErrorIs(t, err, ErrMixedCollection)

	s, err = ReadShape(bytes.NewReader(mixed), shapefile.FeatureTypePoint)
	require.NoError(t, err)
	require.Nil(t, s)

	s, err = ReadShape(bytes.NewReader(marshal(t, orb.Collection{}, binary.LittleEndian)), shapefile.FeatureTypeUnspecified)
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestReadShape_Invalid(t *testing.T) {
	_, err := ReadShape(bytes.NewReader([]byte{2, 1, 0, 0, 0}), shapefile.FeatureTypeUnspecified)
	require.ErrorIs(t, err, orbwkb.ErrNotWKB)

	// PointZ is outside the 2D type tags.
	_, err = ReadShape(bytes.NewReader([]byte{1, 0xe9, 0x03, 0, 0}), shapefile.FeatureTypeUnspecified)
	require.ErrorIs(t, err, orbwkb.ErrUnsupportedGeometry)
}

func TestGetFeatureSets(t *testing.T) {
	blobs := [][]byte{
		marshal(t, orb.Point{1, 1}, binary.LittleEndian),
		marshal(t, orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}, binary.BigEndian),
		marshal(t, orb.Collection{
			orb.LineString{{0, 0}, {2, 2}},
			orb.Point{3, 3},
			orb.Polygon{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}},
		}, binary.LittleEndian),
		marshal(t, orb.MultiPoint{{7, 7}, {8, 8}}, binary.LittleEndian),
	}

	pack, err := GetFeatureSets(blobs)
	require.NoError(t, err)
	require.Equal(t, 4, pack.Read())
	require.Equal(t, 6, pack.Len())

	sources := func(b *Builder) []int {
		var out []int
		for _, e := range b.Entries() {
			out = append(out, e.Source)
		}
		return out
	}
	require.Equal(t, []int{0, 2, 3}, sources(pack.Points))
	require.Equal(t, []int{2}, sources(pack.Lines))
	require.Equal(t, []int{1, 2}, sources(pack.Polygons))

	require.Equal(t, shapefile.ShapeTypeMultiPoint, pack.Points.Shapes()[2].Range.ShapeType)
	for _, s := range pack.Polygons.Shapes() {
		require.Less(t, s.Range.Parts[0].SignedArea(), 0.0)
	}
	require.Equal(t, orb.Bound{Min: orb.Point{1, 1}, Max: orb.Point{8, 8}}, pack.Points.Extent().Bound())
}

func TestGetFeatureSets_Error(t *testing.T) {
	blobs := [][]byte{
		marshal(t, orb.Point{1, 1}, binary.LittleEndian),
		{5},
	}
	_, err := GetFeatureSets(blobs)
	require.ErrorIs(t, err, orbwkb.ErrNotWKB)
	require.Contains(t, err.Error(), "blob 1")
}

func TestReadFeature_ZeroPack(t *testing.T) {
	var pack FeatureSetPack
	require.Equal(t, 0, pack.Len())

	err := ReadFeature(bytes.NewReader(marshal(t, orb.LineString{{0, 0}, {1, 1}}, binary.LittleEndian)), &pack)
	require.NoError(t, err)
	require.Equal(t, 1, pack.Lines.Len())
	require.Equal(t, 0, pack.Points.Len())

	require.ErrorIs(t, ReadFeature(bytes.NewReader(nil), nil), ErrNilPack)
}
