package fgb

import (
	"context"
	"io"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"

	shapefile "github.com/tingold/orb-shapefile"
)

// Export writes the features of src to w as FlatGeobuf. Features with null
// geometry are skipped.
func Export(w io.Writer, src *shapefile.FeatureSource, opts *Options) error {
	return ExportContext(context.Background(), w, src, opts)
}

// ExportContext is Export with a context checked while reading the source.
func ExportContext(ctx context.Context, w io.Writer, src *shapefile.FeatureSource, opts *Options) error {
	if src == nil {
		return ErrNilSource
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultOptions().PageSize
	}

	var features []*shapefile.Feature
	var cursor shapefile.Cursor
	for {
		res, err := src.Select(ctx, opts.Filter, opts.Envelope, cursor, pageSize)
		if err != nil {
			return err
		}
		for _, f := range res.Features {
			if f.Geometry != nil {
				features = append(features, f)
			}
		}
		if res.Done {
			break
		}
		cursor = res.Next
	}
	if len(features) == 0 {
		return ErrNoFeatures
	}

	cols := columnsFor(src.Fields())
	gen := &featureGenerator{features: features, columns: cols}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetGeometryType(uniformType(features))
	if opts.Name != "" {
		header.SetName(opts.Name)
	}
	if opts.Description != "" {
		header.SetDescription(opts.Description)
	}
	if len(cols) > 0 {
		header.SetColumns(buildColumns(cols, builder))
	}
	if c := opts.CRS; c != nil {
		crs := writer.NewCrs(builder)
		crs.SetOrg("EPSG")
		if c.Code > 0 {
			crs.SetCode(int32(c.Code))
		}
		if c.Name != "" {
			crs.SetName(c.Name)
		}
		switch {
		case c.Description != "":
			crs.SetDescription(c.Description)
		case c.WKT != "":
			crs.SetDescription(c.WKT)
		}
		header.SetCrs(crs)
	}

	fgbWriter := writer.NewWriter(header, opts.IncludeIndex, gen, nil)
	if _, err := fgbWriter.Write(w); err != nil {
		return err
	}
	return gen.err
}

// uniformType is the geometry type shared by every feature, or Unknown.
func uniformType(features []*shapefile.Feature) flattypes.GeometryType {
	typ := geometryType(features[0].Geometry)
	for _, f := range features[1:] {
		if geometryType(f.Geometry) != typ {
			return flattypes.GeometryTypeUnknown
		}
	}
	return typ
}

// featureGenerator feeds collected features to the FlatGeobuf writer. The
// writer has no error path from a generator, so the first encoding error
// ends generation and is reported after Write.
type featureGenerator struct {
	features []*shapefile.Feature
	columns  []column
	index    int
	err      error
}

func (g *featureGenerator) Generate() *writer.Feature {
	for g.err == nil && g.index < len(g.features) {
		f := g.features[g.index]
		g.index++

		builder := flatbuffers.NewBuilder(1024)
		fgbGeom := geometryToFGB(f.Geometry, builder)
		if fgbGeom == nil {
			continue
		}

		feature := writer.NewFeature(builder)
		feature.SetGeometry(fgbGeom)

		props, err := encodeProperties(f.Properties, g.columns)
		if err != nil {
			g.err = err
			return nil
		}
		if len(props) > 0 {
			feature.SetProperties(props)
		}
		return feature
	}
	return nil
}
