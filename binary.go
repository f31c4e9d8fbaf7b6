package shapefile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Shapefiles mix byte orders: file and record headers are big-endian, every
// payload field is little-endian.

func getInt32BE(b []byte, off int) int32 {
	return int32(binary.BigEndian.Uint32(b[off:]))
}

func putInt32BE(b []byte, off int, v int32) {
	binary.BigEndian.PutUint32(b[off:], uint32(v))
}

func getInt32LE(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

func putInt32LE(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:], uint32(v))
}

func getFloat64LE(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}

func putFloat64LE(b []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
}

// leReader decodes little-endian fields from a record payload. The first
// out-of-bounds read sets err and every later read returns zero.
type leReader struct {
	buf []byte
	off int
	err error
}

func (r *leReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncatedRecord, n, r.off, len(r.buf))
		return false
	}
	return true
}

func (r *leReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *leReader) int32() int32 {
	if !r.need(4) {
		return 0
	}
	v := getInt32LE(r.buf, r.off)
	r.off += 4
	return v
}

func (r *leReader) float64() float64 {
	if !r.need(8) {
		return 0
	}
	v := getFloat64LE(r.buf, r.off)
	r.off += 8
	return v
}

func (r *leReader) float64s(dst []float64) {
	if !r.need(8 * len(dst)) {
		return
	}
	for i := range dst {
		dst[i] = getFloat64LE(r.buf, r.off)
		r.off += 8
	}
}

// leWriter appends little-endian fields to a byte slice.
type leWriter struct {
	buf []byte
}

func (w *leWriter) int32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *leWriter) float64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *leWriter) float64s(vs []float64) {
	for _, v := range vs {
		w.float64(v)
	}
}
