package fgb

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/orb-shapefile/dbf"
)

const (
	dateLayout      = "2006-01-02"
	stringFieldSize = 254
)

// column pairs a field name with the FlatGeobuf type its values are written
// as. writer.Column does not expose its type, so it is kept here.
type column struct {
	name string
	typ  flattypes.ColumnType
}

// columnsFor maps attribute fields to FlatGeobuf columns, keeping field order.
func columnsFor(fields []dbf.Field) []column {
	cols := make([]column, len(fields))
	for i, f := range fields {
		cols[i] = column{name: f.Name, typ: columnType(f)}
	}
	return cols
}

func columnType(f dbf.Field) flattypes.ColumnType {
	switch f.Type {
	case dbf.Numeric:
		if f.Decimals == 0 {
			if f.Length < 10 {
				return flattypes.ColumnTypeInt
			}
			return flattypes.ColumnTypeLong
		}
		return flattypes.ColumnTypeDouble
	case dbf.Float:
		return flattypes.ColumnTypeDouble
	case dbf.Logical:
		return flattypes.ColumnTypeBool
	case dbf.Date:
		return flattypes.ColumnTypeDateTime
	default:
		return flattypes.ColumnTypeString
	}
}

func buildColumns(cols []column, builder *flatbuffers.Builder) []*writer.Column {
	out := make([]*writer.Column, 0, len(cols))
	for _, c := range cols {
		col := writer.NewColumn(builder)
		col.SetName(c.name)
		col.SetTitle(c.name) // Set title to match name for JS library compatibility
		col.SetType(c.typ)
		col.SetNullable(true)
		out = append(out, col)
	}
	return out
}

// FieldsFor derives attribute fields able to hold the columns of a
// FlatGeobuf file. Column names longer than a dBASE field allows are cut.
func FieldsFor(h *Header) []dbf.Field {
	if h == nil {
		return nil
	}
	fields := make([]dbf.Field, 0, len(h.Columns))
	for _, c := range h.Columns {
		name := c.Name
		if len(name) > 10 {
			name = name[:10]
		}
		f := dbf.Field{Name: name}
		switch c.Type {
		case "Bool":
			f.Type, f.Length = dbf.Logical, 1
		case "Byte", "UByte", "Short", "UShort", "Int", "UInt":
			f.Type, f.Length = dbf.Numeric, 11
		case "Long", "ULong":
			f.Type, f.Length = dbf.Numeric, 20
		case "Float", "Double":
			f.Type, f.Length, f.Decimals = dbf.Float, 20, 8
		case "DateTime":
			f.Type, f.Length = dbf.Date, 8
		default:
			f.Type, f.Length = dbf.Character, stringFieldSize
		}
		fields = append(fields, f)
	}
	return fields
}

// encodeProperties encodes properties to the FlatGeobuf binary layout:
// [2-byte column index][value bytes]... in column order. Missing and nil
// values are left out.
func encodeProperties(props geojson.Properties, cols []column) ([]byte, error) {
	if len(props) == 0 || len(cols) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for i, c := range cols {
		value, ok := props[c.name]
		if !ok || value == nil {
			continue
		}

		var idx [2]byte
		binary.LittleEndian.PutUint16(idx[:], uint16(i))
		buf.Write(idx[:])

		if err := writePropertyValue(&buf, value, c.typ); err != nil {
			return nil, fmt.Errorf("%w: column %s: %v", ErrPropertyMismatch, c.name, err)
		}
	}
	return buf.Bytes(), nil
}

// writePropertyValue writes a single value as the column type dictates.
func writePropertyValue(buf *bytes.Buffer, value interface{}, typ flattypes.ColumnType) error {
	switch typ {
	case flattypes.ColumnTypeBool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%T is not a bool", value)
		}
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case flattypes.ColumnTypeInt:
		v, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("%T is not an integer", value)
		}
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(int32(v)))
		buf.Write(b[:])

	case flattypes.ColumnTypeLong:
		v, ok := toInt64(value)
		if !ok {
			return fmt.Errorf("%T is not an integer", value)
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		buf.Write(b[:])

	case flattypes.ColumnTypeDouble:
		v, ok := toFloat64(value)
		if !ok {
			return fmt.Errorf("%T is not a number", value)
		}
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])

	case flattypes.ColumnTypeDateTime:
		buf.WriteString(toString(value))
		buf.WriteByte(0)

	default:
		buf.WriteString(toString(value))
		buf.WriteByte(0) // Null terminator
	}
	return nil
}

// decodeProperties decodes FlatGeobuf binary properties to geojson.Properties.
func decodeProperties(data []byte, header *flattypes.Header) geojson.Properties {
	if len(data) == 0 || header == nil {
		return nil
	}

	props := make(geojson.Properties)
	offset := 0

	for offset+2 <= len(data) {
		colIndex := binary.LittleEndian.Uint16(data[offset : offset+2])
		offset += 2

		if int(colIndex) >= header.ColumnsLength() {
			break
		}
		var col flattypes.Column
		if !header.Columns(&col, int(colIndex)) {
			break
		}

		value, n := readPropertyValue(data[offset:], col.Type())
		if n == 0 {
			break
		}
		offset += n
		props[string(col.Name())] = value
	}

	return props
}

// readPropertyValue reads a property value from the buffer.
// Returns the value and number of bytes read.
func readPropertyValue(data []byte, colType flattypes.ColumnType) (interface{}, int) {
	switch colType {
	case flattypes.ColumnTypeBool:
		if len(data) < 1 {
			return nil, 0
		}
		return data[0] != 0, 1

	case flattypes.ColumnTypeByte:
		if len(data) < 1 {
			return nil, 0
		}
		return int64(int8(data[0])), 1

	case flattypes.ColumnTypeUByte:
		if len(data) < 1 {
			return nil, 0
		}
		return int64(data[0]), 1

	case flattypes.ColumnTypeShort:
		if len(data) < 2 {
			return nil, 0
		}
		return int64(int16(binary.LittleEndian.Uint16(data[:2]))), 2

	case flattypes.ColumnTypeUShort:
		if len(data) < 2 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint16(data[:2])), 2

	case flattypes.ColumnTypeInt:
		if len(data) < 4 {
			return nil, 0
		}
		return int64(int32(binary.LittleEndian.Uint32(data[:4]))), 4

	case flattypes.ColumnTypeUInt:
		if len(data) < 4 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint32(data[:4])), 4

	case flattypes.ColumnTypeLong:
		if len(data) < 8 {
			return nil, 0
		}
		return int64(binary.LittleEndian.Uint64(data[:8])), 8

	case flattypes.ColumnTypeULong:
		if len(data) < 8 {
			return nil, 0
		}
		return binary.LittleEndian.Uint64(data[:8]), 8

	case flattypes.ColumnTypeFloat:
		if len(data) < 4 {
			return nil, 0
		}
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))), 4

	case flattypes.ColumnTypeDouble:
		if len(data) < 8 {
			return nil, 0
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), 8

	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime:
		nullIdx := bytes.IndexByte(data, 0)
		if nullIdx == -1 {
			return string(data), len(data)
		}
		return string(data[:nullIdx]), nullIdx + 1

	case flattypes.ColumnTypeJson:
		nullIdx := bytes.IndexByte(data, 0)
		end := nullIdx + 1
		if nullIdx == -1 {
			nullIdx, end = len(data), len(data)
		}
		var v interface{}
		if err := json.Unmarshal(data[:nullIdx], &v); err != nil {
			return string(data[:nullIdx]), end
		}
		return v, end

	case flattypes.ColumnTypeBinary:
		if len(data) < 4 {
			return nil, 0
		}
		length := binary.LittleEndian.Uint32(data[:4])
		if uint64(len(data)) < 4+uint64(length) {
			return nil, 0
		}
		return data[4 : 4+length], int(4 + length)

	default:
		return nil, 0
	}
}

// attributeValue converts a decoded property to what the attribute field
// accepts. Date fields take the date part of an ISO 8601 string.
func attributeValue(f dbf.Field, v interface{}) interface{} {
	if f.Type != dbf.Date {
		return v
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if len(s) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, s[:len(dateLayout)]); err == nil {
			return t
		}
	}
	return nil
}

// Type conversion helpers

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(dateLayout)
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return strings.Trim(string(b), `"`)
	}
}
