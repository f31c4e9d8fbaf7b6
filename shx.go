package shapefile

import (
	"fmt"
	"io"
)

// ShapeHeaderSize is the size in bytes of one .shx entry.
const ShapeHeaderSize = 8

// ShapeHeader is one .shx entry. Both fields are in 16-bit words.
type ShapeHeader struct {
	Offset        int32
	ContentLength int32
}

// ByteOffset returns the position of the record in the .shp file.
func (sh ShapeHeader) ByteOffset() int64 {
	return int64(sh.Offset) * 2
}

// RecordSize returns the size in bytes of the record, header included.
func (sh ShapeHeader) RecordSize() int {
	return 8 + int(sh.ContentLength)*2
}

// IndexFile is a decoded .shx file.
type IndexFile struct {
	Header *Header
	Shapes []ShapeHeader
}

// ReadIndexFile decodes a .shx file of size bytes.
func ReadIndexFile(r io.ReaderAt, size int64) (*IndexFile, error) {
	if size < HeaderSize {
		return nil, fmt.Errorf("%w: index is %d bytes", ErrTruncatedHeader, size)
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("read index: %w", err)
	}

	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}

	// Trust the declared length when the file carries trailing garbage, and
	// the file size when the declared length overruns it.
	n := int64(h.FileLength)*2 - HeaderSize
	if avail := size - HeaderSize; n > avail {
		n = avail
	}
	count := int(n / ShapeHeaderSize)

	idx := &IndexFile{Header: h, Shapes: make([]ShapeHeader, count)}
	for i := range idx.Shapes {
		off := HeaderSize + i*ShapeHeaderSize
		idx.Shapes[i] = ShapeHeader{
			Offset:        getInt32BE(buf, off),
			ContentLength: getInt32BE(buf, off+4),
		}
	}
	return idx, nil
}

// FileLength returns the .shx length in words for the current entries.
func (idx *IndexFile) FileLength() int32 {
	return int32(HeaderWords + len(idx.Shapes)*ShapeHeaderSize/2)
}

// Encode returns the complete .shx file. The header file length is updated to
// match the entries.
func (idx *IndexFile) Encode() []byte {
	idx.Header.FileLength = idx.FileLength()
	b := make([]byte, HeaderSize+len(idx.Shapes)*ShapeHeaderSize)
	copy(b, idx.Header.Encode())
	for i, sh := range idx.Shapes {
		off := HeaderSize + i*ShapeHeaderSize
		putInt32BE(b, off, sh.Offset)
		putInt32BE(b, off+4, sh.ContentLength)
	}
	return b
}

// encodeShapeHeader returns the 8-byte encoding of one entry.
func encodeShapeHeader(sh ShapeHeader) []byte {
	b := make([]byte, ShapeHeaderSize)
	putInt32BE(b, 0, sh.Offset)
	putInt32BE(b, 4, sh.ContentLength)
	return b
}
