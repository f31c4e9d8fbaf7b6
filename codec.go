package shapefile

import (
	"fmt"
	"io"
)

// recordHeaderSize is the big-endian record number and content length that
// precede every .shp record.
const recordHeaderSize = 8

// shapeKind carries the constants of one geometry family. The record layouts
// of the four families differ only in these values, so a single engine reads
// and writes all of them.
type shapeKind struct {
	featureType FeatureType
	typeRegular ShapeType
	typeM       ShapeType
	typeZ       ShapeType
	hasBox      bool // Bounding box follows the shape type
	hasParts    bool // NumParts and part starts follow the box
}

var shapeKinds = [...]shapeKind{
	{FeatureTypePoint, ShapeTypePoint, ShapeTypePointM, ShapeTypePointZ, false, false},
	{FeatureTypeMultiPoint, ShapeTypeMultiPoint, ShapeTypeMultiPointM, ShapeTypeMultiPointZ, true, false},
	{FeatureTypeLine, ShapeTypePolyLine, ShapeTypePolyLineM, ShapeTypePolyLineZ, true, true},
	{FeatureTypePolygon, ShapeTypePolygon, ShapeTypePolygonM, ShapeTypePolygonZ, true, true},
}

func kindFor(ft FeatureType) (shapeKind, bool) {
	for _, k := range shapeKinds {
		if k.featureType == ft {
			return k, true
		}
	}
	return shapeKind{}, false
}

// fixedBytes returns the size of the mandatory XY fields.
func (k shapeKind) fixedBytes(numParts, numPoints int) int {
	if !k.hasBox {
		return 4 + 16
	}
	n := 4 + 32 + 4
	if k.hasParts {
		n += 4 + 4*numParts
	}
	return n + 16*numPoints
}

// blockBytes returns the size of one Z or M block.
func (k shapeKind) blockBytes(numPoints int) int {
	if !k.hasBox {
		return 8
	}
	return 16 + 8*numPoints
}

// contentLength returns the record content length in 16-bit words. Point
// records are 10 words, MultiPoint 20+8n and PolyLine or Polygon 22+2p+8n;
// each Z or M block adds 8+4n words (4 for a point).
func (k shapeKind) contentLength(numParts, numPoints int, withZ, withM bool) int32 {
	n := k.fixedBytes(numParts, numPoints)
	if withZ {
		n += k.blockBytes(numPoints)
	}
	if withM {
		n += k.blockBytes(numPoints)
	}
	return int32(n / 2)
}

// GetShapeAtIndex reads the shape described by entry from r, the .shp
// stream. The read always seeks to the absolute offset held in entry. A null
// record yields a nil shape. When envelope is not nil and the record's
// bounding box does not intersect it, the vertices are not read and the
// result is nil.
func GetShapeAtIndex(r io.ReaderAt, entry ShapeHeader, header *Header, shapeNumber int, envelope *Extent) (*Shape, error) {
	if entry.ContentLength < 2 {
		return nil, fmt.Errorf("shape %d: %w: %d words", shapeNumber, ErrContentLength, entry.ContentLength)
	}

	k, ok := kindFor(header.ShapeType.FeatureType())
	if !ok {
		return nil, fmt.Errorf("shape %d: %w: %s", shapeNumber, ErrInvalidShapeType, header.ShapeType)
	}

	// Record header and the leading fields up to the end of the bounding box.
	prefix := recordHeaderSize + 4 + 32
	if !k.hasBox {
		prefix = recordHeaderSize + 4 + 16
	}
	headLen := prefix
	if total := recordHeaderSize + int(entry.ContentLength)*2; total < headLen {
		// Null records and damaged entries end before the box.
		headLen = total
	}
	head := make([]byte, headLen)
	if n, err := r.ReadAt(head, entry.ByteOffset()); n < len(head) {
		return nil, fmt.Errorf("shape %d: %w: record header: %v", shapeNumber, ErrTruncatedRecord, err)
	}

	recordNumber := getInt32BE(head, 0)
	contentLength := getInt32BE(head, 4)
	if contentLength < 2 {
		return nil, fmt.Errorf("shape %d: %w: %d words", shapeNumber, ErrContentLength, contentLength)
	}
	if contentLength != entry.ContentLength {
		return nil, fmt.Errorf("shape %d: %w: record says %d words, index says %d",
			shapeNumber, ErrContentLength, contentLength, entry.ContentLength)
	}
	st := ShapeType(getInt32LE(head, 8))
	if st == ShapeTypeNull {
		return nil, nil
	}
	if st.FeatureType() != k.featureType {
		return nil, fmt.Errorf("shape %d: %w: %s in %s file", shapeNumber, ErrInvalidShapeType, st, header.ShapeType)
	}
	if int(contentLength)*2 < prefix-recordHeaderSize || len(head) < prefix {
		return nil, fmt.Errorf("shape %d: %w: %d words for %s", shapeNumber, ErrContentLength, contentLength, st)
	}

	s := &Shape{Range: ShapeRange{
		RecordNumber:  recordNumber,
		ContentLength: contentLength,
		ShapeType:     st,
		Extent:        EmptyExtent(),
	}}

	content := make([]byte, int(contentLength)*2)
	copy(content, head[recordHeaderSize:])
	rd := &leReader{buf: content[:prefix-recordHeaderSize]}
	rd.int32()

	if k.hasBox {
		s.Range.Extent.MinX = rd.float64()
		s.Range.Extent.MinY = rd.float64()
		s.Range.Extent.MaxX = rd.float64()
		s.Range.Extent.MaxY = rd.float64()
	} else {
		x, y := rd.float64(), rd.float64()
		s.Range.Extent.ExpandToIncludePoint(x, y)
	}
	if envelope != nil && !envelope.Intersects(s.Range.Extent) {
		return nil, nil
	}

	// Vertex payload.
	if rest := content[prefix-recordHeaderSize:]; len(rest) > 0 {
		if n, err := r.ReadAt(rest, entry.ByteOffset()+int64(prefix)); n < len(rest) {
			return nil, fmt.Errorf("shape %d: %w: %v", shapeNumber, ErrTruncatedRecord, err)
		}
	}
	rd.buf = content

	if err := k.decodeBody(s, rd); err != nil {
		return nil, fmt.Errorf("shape %d: %w", shapeNumber, err)
	}
	return s, nil
}

// decodeBody reads parts, vertices and the optional Z and M blocks. rd is
// positioned after the bounding box (or the point XY).
func (k shapeKind) decodeBody(s *Shape, rd *leReader) error {
	numParts, numPoints := 0, 1
	if !k.hasBox {
		s.Vertices = []float64{s.Range.Extent.MinX, s.Range.Extent.MinY}
	} else {
		if k.hasParts {
			numParts = int(rd.int32())
		}
		numPoints = int(rd.int32())
		if rd.err != nil {
			return rd.err
		}
		if numParts < 0 || numPoints < 0 {
			return fmt.Errorf("%w: %d parts, %d points", ErrContentLength, numParts, numPoints)
		}
		if need := k.fixedBytes(numParts, numPoints); need > len(rd.buf) {
			return fmt.Errorf("%w: %d parts and %d points need %d bytes, record has %d",
				ErrContentLength, numParts, numPoints, need, len(rd.buf))
		}

		starts := make([]int, numParts)
		for i := range starts {
			starts[i] = int(rd.int32())
		}
		s.Vertices = make([]float64, 2*numPoints)
		rd.float64s(s.Vertices)
		if rd.err != nil {
			return rd.err
		}

		if k.hasParts {
			parts, err := partRanges(starts, numPoints, s.Vertices)
			if err != nil {
				return err
			}
			s.Range.Parts = parts
		}
	}
	s.Range.NumParts = numParts
	s.Range.NumPoints = numPoints

	st := s.Range.ShapeType
	if st.HasZ() {
		if rd.remaining() < k.blockBytes(numPoints) {
			return fmt.Errorf("%w: missing Z block", ErrContentLength)
		}
		s.Z = k.readBlock(rd, numPoints, &s.Range.Extent.MinZ, &s.Range.Extent.MaxZ)
	}
	if st.HasM() {
		if rd.remaining() >= k.blockBytes(numPoints) {
			s.M = k.readBlock(rd, numPoints, &s.Range.Extent.MinM, &s.Range.Extent.MaxM)
			s.Range.Extent.MinM = noData(s.Range.Extent.MinM)
			s.Range.Extent.MaxM = noData(s.Range.Extent.MaxM)
		} else {
			s.M = make([]float64, numPoints)
			for i := range s.M {
				s.M[i] = NoData
			}
		}
	}
	return rd.err
}

// readBlock reads a Z or M block: the range (absent for points) and one value
// per vertex.
func (k shapeKind) readBlock(rd *leReader, numPoints int, min, max *float64) []float64 {
	if k.hasBox {
		*min = rd.float64()
		*max = rd.float64()
	}
	vs := make([]float64, numPoints)
	rd.float64s(vs)
	if !k.hasBox && numPoints == 1 {
		*min, *max = vs[0], vs[0]
	}
	return vs
}

func partRanges(starts []int, numPoints int, xy []float64) ([]PartRange, error) {
	parts := make([]PartRange, len(starts))
	for i, start := range starts {
		end := numPoints
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if start < 0 || end > numPoints || start > end {
			return nil, fmt.Errorf("%w: part %d spans %d..%d of %d points", ErrContentLength, i, start, end, numPoints)
		}
		parts[i] = PartRange{StartIndex: start, NumVertices: end - start, Vertices: xy}
	}
	return parts, nil
}

// encodeShape returns the complete record for s, record header included. A
// nil shape encodes as a null record. M is written only when s carries at
// least one M value.
func encodeShape(s *Shape, recordNumber int32) ([]byte, error) {
	if s == nil {
		b := make([]byte, recordHeaderSize+4)
		putInt32BE(b, 0, recordNumber)
		putInt32BE(b, 4, 2)
		putInt32LE(b, 8, int32(ShapeTypeNull))
		return b, nil
	}

	st := s.Range.ShapeType
	k, ok := kindFor(st.FeatureType())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidShapeType, st)
	}

	numPoints := len(s.Vertices) / 2
	numParts := 0
	if k.hasParts {
		numParts = len(s.Range.Parts)
	}
	if !k.hasBox && numPoints != 1 {
		return nil, fmt.Errorf("%w: point shape with %d vertices", ErrCoordinateCount, numPoints)
	}
	withZ := st.HasZ()
	withM := st.HasM() && s.HasM()
	if withZ && len(s.Z) != numPoints {
		return nil, fmt.Errorf("%w: %d z values for %d vertices", ErrCoordinateCount, len(s.Z), numPoints)
	}
	if withM && len(s.M) != numPoints {
		return nil, fmt.Errorf("%w: %d m values for %d vertices", ErrCoordinateCount, len(s.M), numPoints)
	}

	cl := k.contentLength(numParts, numPoints, withZ, withM)
	w := &leWriter{buf: make([]byte, recordHeaderSize, recordHeaderSize+int(cl)*2)}
	putInt32BE(w.buf, 0, recordNumber)
	putInt32BE(w.buf, 4, cl)
	w.int32(int32(st))

	e := s.Range.Extent
	if k.hasBox {
		w.float64(e.MinX)
		w.float64(e.MinY)
		w.float64(e.MaxX)
		w.float64(e.MaxY)
		if k.hasParts {
			w.int32(int32(numParts))
		}
		w.int32(int32(numPoints))
		for _, p := range s.Range.Parts {
			w.int32(int32(p.StartIndex))
		}
	}
	w.float64s(s.Vertices)

	if withZ {
		if k.hasBox {
			w.float64(e.MinZ)
			w.float64(e.MaxZ)
		}
		w.float64s(s.Z)
	}
	if withM {
		if k.hasBox {
			w.float64(e.MinM)
			w.float64(e.MaxM)
		}
		w.float64s(s.M)
	}

	if len(w.buf) != recordHeaderSize+int(cl)*2 {
		return nil, fmt.Errorf("%w: encoded %d bytes, expected %d", ErrContentLength, len(w.buf)-recordHeaderSize, int(cl)*2)
	}
	return w.buf, nil
}
