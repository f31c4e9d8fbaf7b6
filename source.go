package shapefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/tingold/orb-shapefile/attrcache"
	"github.com/tingold/orb-shapefile/dbf"
	"github.com/tingold/orb-shapefile/spatial"
)

// State is the lifecycle stage of a FeatureSource.
type State int

// Feature source states. A source moves forward only: Closed, Opened,
// optionally IndexBuilt, then Disposed.
const (
	StateClosed State = iota
	StateOpened
	StateIndexBuilt
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "Opened"
	case StateIndexBuilt:
		return "IndexBuilt"
	case StateDisposed:
		return "Disposed"
	default:
		return "Closed"
	}
}

// FeatureSource is an open shapefile. All methods are serialized by one
// mutex; reads take it too because they move the attribute cache window.
type FeatureSource struct {
	mu sync.Mutex

	fs     afero.Fs
	base   string
	opts   *Options
	logger log.Logger
	state  State

	shp    afero.File
	shx    afero.File
	header *Header
	index  *IndexFile
	table  *dbf.Table
	cache  *attrcache.Cache
	tree   *spatial.Index
}

// Open opens the shapefile at path. The path may name the .shp file or the
// common base name of the three files.
func Open(fs afero.Fs, path string, opts *Options) (*FeatureSource, error) {
	opts = opts.withDefaults()
	src := &FeatureSource{
		fs:     fs,
		base:   basePath(path),
		opts:   opts,
		logger: log.With(opts.Logger, "shapefile", basePath(path)),
	}

	if err := src.open(); err != nil {
		src.closeFiles()
		return nil, err
	}

	level.Debug(src.logger).Log("msg", "opened shapefile", "type", src.header.ShapeType, "features", len(src.index.Shapes))
	if rows := src.table.NumRows(); rows != len(src.index.Shapes) {
		level.Warn(src.logger).Log("msg", "attribute and geometry counts differ", "rows", rows, "shapes", len(src.index.Shapes))
	}

	if opts.BuildIndex {
		if err := src.buildIndex(); err != nil {
			src.closeFiles()
			return nil, err
		}
	}
	return src, nil
}

func (src *FeatureSource) open() error {
	var err error
	if src.shp, err = src.fs.OpenFile(src.base+".shp", os.O_RDWR, 0o644); err != nil {
		return fmt.Errorf("open shp: %w", err)
	}
	if src.shx, err = src.fs.OpenFile(src.base+".shx", os.O_RDWR, 0o644); err != nil {
		return fmt.Errorf("open shx: %w", err)
	}

	head := make([]byte, HeaderSize)
	if n, err := src.shp.ReadAt(head, 0); n < HeaderSize {
		return fmt.Errorf("%w: shp: %v", ErrTruncatedHeader, err)
	}
	if src.header, err = ParseHeader(head); err != nil {
		return fmt.Errorf("shp: %w", err)
	}
	if _, ok := kindFor(src.header.ShapeType.FeatureType()); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidShapeType, src.header.ShapeType)
	}

	info, err := src.shx.Stat()
	if err != nil {
		return fmt.Errorf("stat shx: %w", err)
	}
	if src.index, err = ReadIndexFile(src.shx, info.Size()); err != nil {
		return fmt.Errorf("shx: %w", err)
	}
	if len(src.index.Shapes) == 0 {
		// Removed records stay in the .shp; the index decides emptiness.
		src.header.Extent = EmptyExtent()
	}

	if src.table, err = dbf.Open(src.fs, src.base+".dbf", &dbf.Options{Encoding: src.opts.Encoding}); err != nil {
		return err
	}
	return src.newCache()
}

// Create creates an empty shapefile of shape type st, truncating existing
// files. An empty field list creates a single numeric FID field.
func Create(fs afero.Fs, path string, st ShapeType, fields []dbf.Field, opts *Options) (*FeatureSource, error) {
	if _, ok := kindFor(st.FeatureType()); !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShapeType, st)
	}
	if len(fields) == 0 {
		fields = []dbf.Field{{Name: fidField, Type: dbf.Numeric, Length: 10}}
	}

	opts = opts.withDefaults()
	src := &FeatureSource{
		fs:     fs,
		base:   basePath(path),
		opts:   opts,
		logger: log.With(opts.Logger, "shapefile", basePath(path)),
		header: NewHeader(st),
	}
	src.index = &IndexFile{Header: NewHeader(st)}

	if err := src.create(fields); err != nil {
		src.closeFiles()
		return nil, err
	}

	level.Debug(src.logger).Log("msg", "created shapefile", "type", st, "fields", len(fields))
	if opts.BuildIndex {
		if err := src.buildIndex(); err != nil {
			src.closeFiles()
			return nil, err
		}
	}
	return src, nil
}

const fidField = "FID"

func (src *FeatureSource) create(fields []dbf.Field) error {
	flags := os.O_RDWR | os.O_CREATE | os.O_TRUNC
	var err error
	if src.shp, err = src.fs.OpenFile(src.base+".shp", flags, 0o644); err != nil {
		return fmt.Errorf("create shp: %w", err)
	}
	if src.shx, err = src.fs.OpenFile(src.base+".shx", flags, 0o644); err != nil {
		return fmt.Errorf("create shx: %w", err)
	}
	if src.table, err = dbf.Create(src.fs, src.base+".dbf", fields, &dbf.Options{Encoding: src.opts.Encoding}); err != nil {
		return err
	}
	if err := src.writeHeaders(); err != nil {
		return err
	}
	return src.newCache()
}

func (src *FeatureSource) newCache() error {
	cacheOpts := &attrcache.Options{
		RowsPerPage: src.opts.RowsPerPage,
		Pages:       src.opts.CachePages,
	}
	if src.opts.Registerer != nil {
		reg := prometheus.WrapRegistererWith(prometheus.Labels{"source": filepath.Base(src.base)}, src.opts.Registerer)
		cacheOpts.Metrics = attrcache.NewMetrics(reg)
	}

	var err error
	src.cache, err = attrcache.New(src.table, cacheOpts)
	if err != nil {
		return err
	}
	src.state = StateOpened
	return nil
}

// basePath strips a shapefile member extension from path.
func basePath(path string) string {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".shp", ".shx", ".dbf":
		return strings.TrimSuffix(path, ext)
	}
	return path
}

// State returns the lifecycle stage of the source.
func (src *FeatureSource) State() State {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.state
}

// FeatureType returns the geometry family the source holds.
func (src *FeatureSource) FeatureType() FeatureType {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.header == nil {
		return FeatureTypeUnspecified
	}
	return src.header.ShapeType.FeatureType()
}

// ShapeType returns the shape type recorded in the file header.
func (src *FeatureSource) ShapeType() ShapeType {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.header == nil {
		return ShapeTypeNull
	}
	return src.header.ShapeType
}

// Count returns the number of features.
func (src *FeatureSource) Count() int {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.index == nil {
		return 0
	}
	return len(src.index.Shapes)
}

// Extent returns the cached dataset extent.
func (src *FeatureSource) Extent() Extent {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.header == nil {
		return EmptyExtent()
	}
	return src.header.Extent
}

// Fields returns the attribute schema.
func (src *FeatureSource) Fields() []dbf.Field {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.table == nil {
		return nil
	}
	return src.table.Fields()
}

// Attributes returns the attribute cache. Callers must not use it
// concurrently with other calls on the source.
func (src *FeatureSource) Attributes() *attrcache.Cache {
	src.mu.Lock()
	defer src.mu.Unlock()
	return src.cache
}

func (src *FeatureSource) usable() error {
	switch src.state {
	case StateClosed:
		return ErrNotOpen
	case StateDisposed:
		return ErrDisposed
	}
	return nil
}

// Add appends a feature. A feature with a nil geometry is stored as a null
// shape.
func (src *FeatureSource) Add(f *Feature) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return err
	}
	if err := src.checkType(f); err != nil {
		return err
	}
	return src.add(f)
}

// AddRange appends features in order. Every feature is type checked before
// anything is written.
func (src *FeatureSource) AddRange(features []*Feature) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return err
	}
	for _, f := range features {
		if err := src.checkType(f); err != nil {
			return err
		}
	}
	for _, f := range features {
		if err := src.add(f); err != nil {
			return err
		}
	}
	return nil
}

func (src *FeatureSource) checkType(f *Feature) error {
	if f == nil {
		return fmt.Errorf("%w: nil feature", ErrUnsupportedGeometry)
	}
	want := src.header.ShapeType.FeatureType()
	if got := f.FeatureType(); got != FeatureTypeUnspecified && got != want {
		return &FeatureTypeMismatchError{Expected: want, Actual: got}
	}
	if f.Geometry != nil && GeometryFeatureType(f.Geometry) == FeatureTypeUnspecified {
		return fmt.Errorf("%w: %T", ErrUnsupportedGeometry, f.Geometry)
	}
	return nil
}

// add writes the attribute row, then the .shx entry, then the .shp record,
// and finally both headers.
func (src *FeatureSource) add(f *Feature) error {
	shape, err := NewShape(f.Geometry, f.Z, f.M)
	if err != nil {
		return err
	}
	if shape != nil {
		shape = shape.withShapeType(src.header.ShapeType)
	}

	id := len(src.index.Shapes)
	rec, err := encodeShape(shape, int32(id+1))
	if err != nil {
		return err
	}

	props := map[string]interface{}(f.Properties)
	if src.hasDefaultFID() {
		if _, ok := props[fidField]; !ok {
			props = map[string]interface{}{fidField: id}
		}
	}
	row, err := src.table.AppendRow(props)
	if err != nil {
		return fmt.Errorf("append attributes: %w", err)
	}
	src.cache.Invalidate()
	if row != id {
		level.Warn(src.logger).Log("msg", "attribute row does not match shape index", "row", row, "shape", id)
	}

	entry := ShapeHeader{
		Offset:        src.header.FileLength,
		ContentLength: int32((len(rec) - recordHeaderSize) / 2),
	}
	if _, err := src.shx.WriteAt(encodeShapeHeader(entry), HeaderSize+int64(id)*ShapeHeaderSize); err != nil {
		return fmt.Errorf("write shx entry: %w", err)
	}
	src.index.Shapes = append(src.index.Shapes, entry)

	if _, err := src.shp.WriteAt(rec, entry.ByteOffset()); err != nil {
		return fmt.Errorf("write shp record: %w", err)
	}
	src.header.FileLength += int32(len(rec) / 2)
	if shape != nil {
		src.header.Extent.ExpandToInclude(shape.Range.Extent)
	}
	if err := src.writeHeaders(); err != nil {
		return err
	}

	if src.tree != nil && shape != nil {
		src.tree.Insert(shape.Range.Extent.Bound(), id)
	}
	return nil
}

func (src *FeatureSource) hasDefaultFID() bool {
	fields := src.table.Fields()
	return len(fields) == 1 && fields[0].Name == fidField && fields[0].Type == dbf.Numeric
}

// writeHeaders writes the .shp header and the .shx header. They share shape
// type and extent and differ in file length.
func (src *FeatureSource) writeHeaders() error {
	if _, err := src.shp.WriteAt(src.header.Encode(), 0); err != nil {
		return fmt.Errorf("write shp header: %w", err)
	}

	src.index.Header.ShapeType = src.header.ShapeType
	src.index.Header.Extent = src.header.Extent
	src.index.Header.FileLength = src.index.FileLength()
	if _, err := src.shx.WriteAt(src.index.Header.Encode(), 0); err != nil {
		return fmt.Errorf("write shx header: %w", err)
	}
	return nil
}

// RemoveAt removes feature i. Later features move down by one. The extent is
// recomputed only when the removed envelope touched its boundary.
func (src *FeatureSource) RemoveAt(i int) error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return err
	}
	if i < 0 || i >= len(src.index.Shapes) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}

	shape, err := GetShapeAtIndex(src.shp, src.index.Shapes[i], src.header, i, nil)
	if err != nil {
		return err
	}

	src.index.Shapes = append(src.index.Shapes[:i], src.index.Shapes[i+1:]...)
	if err := src.rewriteIndex(); err != nil {
		return err
	}

	if i < src.table.NumRows() {
		if err := src.table.RemoveRow(i); err != nil {
			return fmt.Errorf("remove attributes: %w", err)
		}
	}
	src.cache.Invalidate()

	if src.tree != nil {
		src.tree.RemoveAndShift(i)
	}

	if shape != nil && src.header.Extent.TouchesBoundary(shape.Range.Extent) {
		return src.updateExtents()
	}
	return src.writeHeaders()
}

// rewriteIndex writes the whole .shx and truncates the removed tail.
func (src *FeatureSource) rewriteIndex() error {
	data := src.index.Encode()
	if _, err := src.shx.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write shx: %w", err)
	}
	if err := src.shx.Truncate(int64(len(data))); err != nil {
		return fmt.Errorf("truncate shx: %w", err)
	}
	return nil
}

// UpdateExtents recomputes the extent from every shape and writes it to both
// headers. An empty source keeps an empty extent and writes nothing.
func (src *FeatureSource) UpdateExtents() error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return err
	}
	return src.updateExtents()
}

func (src *FeatureSource) updateExtents() error {
	extent := EmptyExtent()
	err := src.scan(0, len(src.index.Shapes), nil, func(_ int, s *Shape) error {
		if s != nil {
			extent.ExpandToInclude(s.Range.Extent)
		}
		return nil
	})
	if err != nil {
		return err
	}

	src.header.Extent = extent
	level.Debug(src.logger).Log("msg", "recomputed extent", "features", len(src.index.Shapes), "empty", extent.IsEmpty())
	if extent.IsEmpty() {
		return nil
	}
	return src.writeHeaders()
}

// BuildIndex builds the spatial index if it has not been built yet.
func (src *FeatureSource) BuildIndex() error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return err
	}
	return src.buildIndex()
}

func (src *FeatureSource) buildIndex() error {
	if src.tree != nil {
		return nil
	}

	tree := spatial.New()
	err := src.scan(0, len(src.index.Shapes), nil, func(id int, s *Shape) error {
		if s != nil {
			tree.Insert(s.Range.Extent.Bound(), id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	src.tree = tree
	src.state = StateIndexBuilt
	level.Debug(src.logger).Log("msg", "built spatial index", "features", tree.Len())
	return nil
}

// Query returns the ids of features whose envelopes intersect env, building
// the spatial index on first use. Null shapes have no envelope and are never
// members of the index, so Query does not return them.
func (src *FeatureSource) Query(env Extent) ([]int, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return nil, err
	}
	if err := src.buildIndex(); err != nil {
		return nil, err
	}
	return src.tree.Query(env.Bound()), nil
}

// GetShape reads shape i. With a non-nil envelope, a shape outside it reads
// as nil.
func (src *FeatureSource) GetShape(i int, envelope *Extent) (*Shape, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(src.index.Shapes) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return GetShapeAtIndex(src.shp, src.index.Shapes[i], src.header, i, envelope)
}

// Feature reads feature i with its attributes.
func (src *FeatureSource) Feature(i int) (*Feature, error) {
	src.mu.Lock()
	defer src.mu.Unlock()
	if err := src.usable(); err != nil {
		return nil, err
	}
	if i < 0 || i >= len(src.index.Shapes) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}

	s, err := GetShapeAtIndex(src.shp, src.index.Shapes[i], src.header, i, nil)
	if err != nil {
		return nil, err
	}
	attrs, err := src.attributes(i)
	if err != nil {
		return nil, err
	}
	return featureFromShape(i, s, attrs), nil
}

// attributes returns the row for feature i. Features past the end of the
// attribute table have no attributes.
func (src *FeatureSource) attributes(i int) (map[string]interface{}, error) {
	attrs, err := src.cache.RetrieveElement(i)
	if errors.Is(err, attrcache.ErrRowOutOfRange) {
		return nil, nil
	}
	return attrs, err
}

// scan reads shapes [start, end) in pages of IndexPageSize. Each page is
// fetched from the .shp with a single read.
func (src *FeatureSource) scan(start, end int, envelope *Extent, fn func(id int, s *Shape) error) error {
	pageSize := src.opts.IndexPageSize
	for first := start; first < end; first += pageSize {
		last := first + pageSize
		if last > end {
			last = end
		}

		page, err := src.readPage(src.index.Shapes[first:last])
		if err != nil {
			return err
		}
		for id := first; id < last; id++ {
			s, err := GetShapeAtIndex(page, src.index.Shapes[id], src.header, id, envelope)
			if err != nil {
				return err
			}
			if err := fn(id, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// readPage reads the byte span covering entries.
func (src *FeatureSource) readPage(entries []ShapeHeader) (io.ReaderAt, error) {
	if len(entries) == 0 {
		return src.shp, nil
	}
	lo, hi := entries[0].ByteOffset(), int64(0)
	for _, e := range entries {
		if off := e.ByteOffset(); off < lo {
			lo = off
		}
		if end := e.ByteOffset() + int64(e.RecordSize()); end > hi {
			hi = end
		}
	}

	buf := make([]byte, hi-lo)
	n, err := src.shp.ReadAt(buf, lo)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read shapes: %w", err)
	}
	return &pageReader{buf: buf[:n], base: lo}, nil
}

// pageReader serves ReadAt calls from a buffered span of the .shp file.
type pageReader struct {
	buf  []byte
	base int64
}

func (p *pageReader) ReadAt(b []byte, off int64) (int, error) {
	off -= p.base
	if off < 0 || off >= int64(len(p.buf)) {
		return 0, io.EOF
	}
	n := copy(b, p.buf[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// Close closes the files and disposes of the source. A disposed source
// cannot be reopened.
func (src *FeatureSource) Close() error {
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.state == StateDisposed {
		return nil
	}
	err := src.closeFiles()
	if err != nil {
		level.Warn(src.logger).Log("msg", "close failed", "err", err)
	}
	src.state = StateDisposed
	src.tree = nil
	return err
}

func (src *FeatureSource) closeFiles() error {
	var errs []error
	for _, c := range []io.Closer{src.shp, src.shx} {
		if f, ok := c.(afero.File); ok && f != nil {
			errs = append(errs, f.Close())
		}
	}
	if src.table != nil {
		errs = append(errs, src.table.Close())
	}
	src.shp, src.shx, src.table = nil, nil, nil
	return errors.Join(errs...)
}
