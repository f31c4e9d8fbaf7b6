package shapefile

import (
	"fmt"
	"math"
)

const (
	// HeaderSize is the size in bytes of the .shp and .shx file header.
	HeaderSize = 100
	// HeaderWords is HeaderSize in 16-bit words.
	HeaderWords = HeaderSize / 2

	fileCode = 9994
	version  = 1000

	// noDataLimit is the threshold below which Z and M values mean "no data".
	noDataLimit = -1e38
)

// Header is the 100-byte header shared by .shp and .shx files.
type Header struct {
	FileLength int32 // File length in 16-bit words, header included
	ShapeType  ShapeType
	Extent     Extent
}

// NewHeader returns the header of an empty file holding st.
func NewHeader(st ShapeType) *Header {
	return &Header{
		FileLength: HeaderWords,
		ShapeType:  st,
		Extent:     EmptyExtent(),
	}
}

// ParseHeader decodes a file header. The file code and file length are
// big-endian; version, shape type and bounding box are little-endian.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: header is %d bytes", ErrTruncatedHeader, len(b))
	}
	if code := getInt32BE(b, 0); code != fileCode {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFileCode, code)
	}
	if v := getInt32LE(b, 28); v != version {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, v)
	}

	h := &Header{
		FileLength: getInt32BE(b, 24),
		ShapeType:  ShapeType(getInt32LE(b, 32)),
	}
	if !h.ShapeType.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidShapeType, int32(h.ShapeType))
	}
	if h.FileLength < HeaderWords {
		return nil, fmt.Errorf("%w: file length %d words", ErrTruncatedHeader, h.FileLength)
	}

	h.Extent = EmptyExtent()
	if h.FileLength == HeaderWords {
		// Header only: the bounding box carries no information.
		return h, nil
	}
	h.Extent.MinX = getFloat64LE(b, 36)
	h.Extent.MinY = getFloat64LE(b, 44)
	h.Extent.MaxX = getFloat64LE(b, 52)
	h.Extent.MaxY = getFloat64LE(b, 60)
	if h.ShapeType.HasZ() {
		h.Extent.MinZ = noData(getFloat64LE(b, 68))
		h.Extent.MaxZ = noData(getFloat64LE(b, 76))
	}
	if h.ShapeType.HasM() {
		h.Extent.MinM = noData(getFloat64LE(b, 84))
		h.Extent.MaxM = noData(getFloat64LE(b, 92))
	}
	return h, nil
}

// Encode returns the 100-byte encoding of h. Absent axes are written as zero.
func (h *Header) Encode() []byte {
	b := make([]byte, HeaderSize)
	putInt32BE(b, 0, fileCode)
	putInt32BE(b, 24, h.FileLength)
	putInt32LE(b, 28, version)
	putInt32LE(b, 32, int32(h.ShapeType))

	e := h.Extent
	for i, v := range []float64{e.MinX, e.MinY, e.MaxX, e.MaxY, e.MinZ, e.MaxZ, e.MinM, e.MaxM} {
		if math.IsNaN(v) {
			v = 0
		}
		putFloat64LE(b, 36+8*i, v)
	}
	return b
}

// noData maps the shapefile "no data" convention to NaN.
func noData(v float64) float64 {
	if v <= noDataLimit {
		return math.NaN()
	}
	return v
}
