// Package fgb moves shapefile features to and from FlatGeobuf.
//
// Export streams a feature source page by page into a FlatGeobuf file with
// one column per attribute field. ReadFeatures and Import go the other way.
// Only X and Y are carried; Z and M values stay behind in the shapefile.
package fgb

import (
	"errors"

	shapefile "github.com/tingold/orb-shapefile"
)

// Common errors returned by this package.
var (
	ErrNilSource        = errors.New("fgb: nil feature source")
	ErrNoIndex          = errors.New("fgb: file has no spatial index")
	ErrNoFeatures       = errors.New("fgb: no features to write")
	ErrPropertyMismatch = errors.New("fgb: property type mismatch")
)

// CRS represents a coordinate reference system.
type CRS struct {
	Code        int    // EPSG code (e.g., 4326 for WGS84)
	Name        string // CRS name
	Description string // CRS description
	WKT         string // Well-Known Text representation
}

// WGS84 returns the standard WGS84 CRS (EPSG:4326).
func WGS84() *CRS {
	return &CRS{
		Code: 4326,
		Name: "WGS 84",
	}
}

// Options configures Export.
type Options struct {
	Name        string
	Description string
	CRS         *CRS

	// IncludeIndex writes the packed Hilbert R-tree. Files without it
	// cannot be read back by ReadFeatures.
	IncludeIndex bool

	// PageSize is the number of features read from the source per Select.
	PageSize int

	// Filter and Envelope restrict the exported features.
	Filter   shapefile.Filter
	Envelope *shapefile.Extent
}

// DefaultOptions returns default options for Export.
func DefaultOptions() *Options {
	return &Options{
		IncludeIndex: true,
		PageSize:     1024,
	}
}

// ColumnInfo describes a property column in a FlatGeobuf file.
type ColumnInfo struct {
	Name        string // Column name
	Type        string // Column type ("Bool", "Int", "Long", "Double", "String", "DateTime", etc.)
	Title       string
	Description string
	Nullable    bool
}

// Header contains metadata about a FlatGeobuf file.
type Header struct {
	Name          string
	Description   string
	GeometryType  string // "Point", "Polygon", "Unknown", ...
	FeaturesCount uint64
	Envelope      [4]float64 // minX, minY, maxX, maxY
	CRS           *CRS
	HasIndex      bool
	Columns       []ColumnInfo
}

// Extent returns the header envelope. Files without one yield an empty extent.
func (h *Header) Extent() shapefile.Extent {
	if h.Envelope == [4]float64{} && h.FeaturesCount == 0 {
		return shapefile.EmptyExtent()
	}
	return shapefile.NewExtent(h.Envelope[0], h.Envelope[1], h.Envelope[2], h.Envelope[3])
}
