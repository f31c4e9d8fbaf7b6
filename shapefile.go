// Package shapefile provides a feature store over the ESRI shapefile triad:
// .shp geometry, .shx record index and .dbf attributes.
//
// A FeatureSource opens or creates the three files through an afero.Fs and
// exposes feature level Add, RemoveAt and Select on top of the shape codec, a
// paged attribute cache and an R-tree envelope index. Geometries are
// github.com/paulmach/orb values; attributes are geojson.Properties.
package shapefile

import (
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/text/encoding/charmap"
)

// Common errors returned by this package.
var (
	ErrInvalidFileCode     = errors.New("shapefile: invalid file code")
	ErrInvalidVersion      = errors.New("shapefile: invalid version")
	ErrInvalidShapeType    = errors.New("shapefile: invalid shape type")
	ErrTruncatedHeader     = errors.New("shapefile: truncated header")
	ErrTruncatedRecord     = errors.New("shapefile: truncated record")
	ErrContentLength       = errors.New("shapefile: invalid content length")
	ErrUnsupportedGeometry = errors.New("shapefile: unsupported geometry")
	ErrCoordinateCount     = errors.New("shapefile: coordinate count mismatch")
	ErrFeatureTypeMismatch = errors.New("shapefile: feature type mismatch")
	ErrIndexOutOfRange     = errors.New("shapefile: feature index out of range")
	ErrNotOpen             = errors.New("shapefile: source not open")
	ErrDisposed            = errors.New("shapefile: source disposed")
	ErrInvalidFilter       = errors.New("shapefile: invalid filter")
)

// FeatureTypeMismatchError is returned when a feature of one geometry family
// is added to a source of another. It matches ErrFeatureTypeMismatch.
type FeatureTypeMismatchError struct {
	Expected FeatureType
	Actual   FeatureType
}

func (e *FeatureTypeMismatchError) Error() string {
	return fmt.Sprintf("shapefile: feature type mismatch: source holds %s, feature is %s", e.Expected, e.Actual)
}

// Is reports whether target is ErrFeatureTypeMismatch.
func (e *FeatureTypeMismatchError) Is(target error) bool {
	return target == ErrFeatureTypeMismatch
}

// Options configures a FeatureSource.
type Options struct {
	Logger        log.Logger            // Logger (default: no-op)
	RowsPerPage   int                   // Attribute rows per cache page (default: 1000)
	CachePages    int                   // Attribute cache page slots (default: 2)
	IndexPageSize int                   // Shapes read per page when scanning (default: 1000)
	BuildIndex    bool                  // Build the spatial index on open
	Registerer    prometheus.Registerer // Registers attribute cache metrics (optional)
	Encoding      *charmap.Charmap      // Overrides the .dbf code page (optional)
}

// DefaultOptions returns default options for opening a feature source.
func DefaultOptions() *Options {
	return &Options{
		Logger:        log.NewNopLogger(),
		RowsPerPage:   1000,
		CachePages:    2,
		IndexPageSize: 1000,
	}
}

// withDefaults fills zero fields of opts from DefaultOptions.
func (opts *Options) withDefaults() *Options {
	def := DefaultOptions()
	if opts == nil {
		return def
	}
	o := *opts
	if o.Logger == nil {
		o.Logger = def.Logger
	}
	if o.RowsPerPage <= 0 {
		o.RowsPerPage = def.RowsPerPage
	}
	if o.CachePages <= 0 {
		o.CachePages = def.CachePages
	}
	if o.IndexPageSize <= 0 {
		o.IndexPageSize = def.IndexPageSize
	}
	return &o
}
