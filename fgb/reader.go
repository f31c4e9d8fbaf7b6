package fgb

import (
	"strings"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"

	shapefile "github.com/tingold/orb-shapefile"
)

// Reader provides read access to a FlatGeobuf file.
type Reader struct {
	fgb *flatgeobuf.FlatGeoBuf
}

// NewReader creates a reader from a file path.
// The file is memory-mapped.
func NewReader(path string) (*Reader, error) {
	fgb, err := flatgeobuf.New(path)
	if err != nil {
		return nil, err
	}
	return &Reader{fgb: fgb}, nil
}

// NewReaderFromData creates a reader from byte data.
func NewReaderFromData(data []byte) (*Reader, error) {
	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, err
	}
	return &Reader{fgb: fgb}, nil
}

// Header returns metadata about the FlatGeobuf file.
func (r *Reader) Header() *Header {
	h := r.fgb.Header()
	if h == nil {
		return nil
	}

	header := &Header{
		Name:          string(h.Name()),
		Description:   string(h.Description()),
		GeometryType:  flattypes.EnumNamesGeometryType[h.GeometryType()],
		FeaturesCount: h.FeaturesCount(),
		HasIndex:      h.IndexNodeSize() > 0,
	}

	if h.EnvelopeLength() >= 4 {
		header.Envelope = [4]float64{h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3)}
	}

	var crs flattypes.Crs
	if h.Crs(&crs) != nil {
		header.CRS = &CRS{
			Code:        int(crs.Code()),
			Name:        string(crs.Name()),
			Description: string(crs.Description()),
		}
	}

	if n := h.ColumnsLength(); n > 0 {
		header.Columns = make([]ColumnInfo, 0, n)
		for i := 0; i < n; i++ {
			var col flattypes.Column
			if h.Columns(&col, i) {
				header.Columns = append(header.Columns, ColumnInfo{
					Name:        string(col.Name()),
					Type:        flattypes.EnumNamesColumnType[col.Type()],
					Title:       string(col.Title()),
					Description: string(col.Description()),
					Nullable:    col.Nullable(),
				})
			}
		}
	}

	return header
}

// Features reads every feature through the spatial index. Features come back
// in index order, numbered from zero in that order. Files written without an
// index cannot be iterated and return ErrNoIndex.
func (r *Reader) Features() ([]*shapefile.Feature, error) {
	h := r.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}
	if h.FeaturesCount() == 0 || h.EnvelopeLength() < 4 {
		return nil, nil
	}
	return r.search(h, h.Envelope(0), h.Envelope(1), h.Envelope(2), h.Envelope(3))
}

// Search returns the features whose bounding boxes intersect bounds.
func (r *Reader) Search(bounds orb.Bound) ([]*shapefile.Feature, error) {
	h := r.fgb.Header()
	if h.IndexNodeSize() == 0 {
		return nil, ErrNoIndex
	}
	return r.search(h, bounds.Min[0], bounds.Min[1], bounds.Max[0], bounds.Max[1])
}

func (r *Reader) search(h *flattypes.Header, minX, minY, maxX, maxY float64) ([]*shapefile.Feature, error) {
	found, err := r.fgb.Search(minX, minY, maxX, maxY)
	if err != nil {
		return nil, err
	}

	features := make([]*shapefile.Feature, 0, len(found))
	for _, ff := range found {
		if f := convertFeature(ff, h); f != nil {
			f.ID = len(features)
			features = append(features, f)
		}
	}
	return features, nil
}

// Close releases the reader. The underlying mapping is reclaimed by the
// garbage collector.
func (r *Reader) Close() error {
	r.fgb = nil
	return nil
}

// convertFeature converts a FlatGeobuf feature to a shapefile feature.
func convertFeature(ff *flattypes.Feature, header *flattypes.Header) *shapefile.Feature {
	if ff == nil {
		return nil
	}

	var geomObj flattypes.Geometry
	geom := geometryFromFGB(ff.Geometry(&geomObj))
	if geom == nil {
		return nil
	}

	f := shapefile.NewFeature(geom)
	if n := ff.PropertiesLength(); n > 0 && header.ColumnsLength() > 0 {
		data := make([]byte, n)
		for i := 0; i < n; i++ {
			data[i] = byte(ff.Properties(i))
		}
		f.Properties = decodeProperties(data, header)
	}
	return f
}

// ReadFeatures decodes a whole FlatGeobuf file held in memory.
func ReadFeatures(data []byte) ([]*shapefile.Feature, *Header, error) {
	r, err := NewReaderFromData(data)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = r.Close() }()

	features, err := r.Features()
	if err != nil {
		return nil, nil, err
	}
	return features, r.Header(), nil
}

// Import reads a FlatGeobuf file and appends its features to dst. Properties
// without a matching attribute field are dropped. It returns the number of
// features added before any error.
func Import(dst *shapefile.FeatureSource, data []byte) (int, error) {
	if dst == nil {
		return 0, ErrNilSource
	}
	features, _, err := ReadFeatures(data)
	if err != nil {
		return 0, err
	}

	fields := dst.Fields()
	for i, f := range features {
		attrs := make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if v, ok := lookupProperty(f.Properties, field.Name); ok {
				attrs[field.Name] = attributeValue(field, v)
			}
		}
		f.Properties = attrs

		if err := dst.Add(f); err != nil {
			return i, err
		}
	}
	return len(features), nil
}

// lookupProperty finds name case-insensitively, as dBASE field names are.
func lookupProperty(props map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := props[name]; ok {
		return v, true
	}
	for k, v := range props {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}
