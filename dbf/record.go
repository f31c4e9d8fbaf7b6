package dbf

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
)

const dateLayout = "20060102"

// decodeRecord converts one fixed-width record to a row. Deleted records are
// decoded like active ones; RemoveRow compacts instead of flagging.
func (t *Table) decodeRecord(rec []byte) (map[string]interface{}, error) {
	row := make(map[string]interface{}, len(t.fields))
	for i, f := range t.fields {
		start := t.offsets[i]
		end := start + int(f.Length)
		if end > len(rec) {
			return nil, fmt.Errorf("%w: field %s past end of record", ErrInvalidHeader, f.Name)
		}
		v, err := t.decodeValue(f, rec[start:end])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		row[f.Name] = v
	}
	return row, nil
}

func (t *Table) decodeValue(f Field, raw []byte) (interface{}, error) {
	switch f.Type {
	case Character:
		s := bytes.TrimRight(raw, " \x00")
		if t.encoding != nil {
			decoded, err := t.encoding.NewDecoder().Bytes(s)
			if err != nil {
				return nil, err
			}
			s = decoded
		}
		return string(s), nil

	case Numeric, Float:
		s := strings.TrimSpace(string(bytes.Trim(raw, "\x00")))
		if s == "" || strings.Trim(s, "*") == "" {
			return nil, nil
		}
		if f.Type == Numeric && f.Decimals == 0 {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return v, nil
			}
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return v, nil

	case Logical:
		switch raw[0] {
		case 'T', 't', 'Y', 'y':
			return true, nil
		case 'F', 'f', 'N', 'n':
			return false, nil
		default:
			return nil, nil
		}

	case Date:
		s := strings.TrimSpace(string(raw))
		if s == "" || strings.Trim(s, "0") == "" {
			return nil, nil
		}
		v, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, err
		}
		return v, nil

	default:
		// Unknown field types are surfaced as raw text.
		return strings.TrimSpace(string(raw)), nil
	}
}

// encodeRecord converts a row to a fixed-width record.
func (t *Table) encodeRecord(values map[string]interface{}) ([]byte, error) {
	rec := bytes.Repeat([]byte{' '}, t.recordLen)
	rec[0] = recordActive
	for i, f := range t.fields {
		v, ok := lookup(values, f.Name)
		if !ok || v == nil {
			continue
		}
		raw, err := t.encodeValue(f, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		copy(rec[t.offsets[i]:t.offsets[i]+int(f.Length)], raw)
	}
	return rec, nil
}

// lookup finds a value by field name, falling back to a case-insensitive
// match since dBASE field names are conventionally upper case.
func lookup(values map[string]interface{}, name string) (interface{}, bool) {
	if v, ok := values[name]; ok {
		return v, true
	}
	for k, v := range values {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func (t *Table) encodeValue(f Field, v interface{}) ([]byte, error) {
	width := int(f.Length)

	switch f.Type {
	case Character:
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprint(v)
		}
		b := []byte(s)
		if t.encoding != nil {
			encoded, err := encoding.ReplaceUnsupported(t.encoding.NewEncoder()).Bytes(b)
			if err != nil {
				return nil, err
			}
			b = encoded
		}
		if len(b) > width {
			b = b[:truncateAt(b, width, t.encoding == nil)]
		}
		return padRight(b, width), nil

	case Numeric, Float:
		s, err := formatNumber(v, int(f.Decimals))
		if err != nil {
			return nil, err
		}
		if len(s) > width {
			return nil, fmt.Errorf("%w: %s needs %d bytes, field has %d", ErrValueTooLong, s, len(s), width)
		}
		return padLeft([]byte(s), width), nil

	case Logical:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %T for logical field", ErrUnsupportedVal, v)
		}
		if b {
			return []byte{'T'}, nil
		}
		return []byte{'F'}, nil

	case Date:
		switch d := v.(type) {
		case time.Time:
			return []byte(d.Format(dateLayout)), nil
		case string:
			if _, err := time.Parse(dateLayout, d); err != nil {
				return nil, err
			}
			return []byte(d), nil
		default:
			return nil, fmt.Errorf("%w: %T for date field", ErrUnsupportedVal, v)
		}
	}

	return nil, fmt.Errorf("%w: field type %q", ErrUnsupportedVal, f.Type)
}

func formatNumber(v interface{}, decimals int) (string, error) {
	var f float64
	switch n := v.(type) {
	case int:
		if decimals == 0 {
			return strconv.Itoa(n), nil
		}
		f = float64(n)
	case int32:
		if decimals == 0 {
			return strconv.FormatInt(int64(n), 10), nil
		}
		f = float64(n)
	case int64:
		if decimals == 0 {
			return strconv.FormatInt(n, 10), nil
		}
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case float32:
		f = float64(n)
	case float64:
		f = n
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return "", fmt.Errorf("%w: %q is not numeric", ErrUnsupportedVal, n)
		}
		f = parsed
	default:
		return "", fmt.Errorf("%w: %T for numeric field", ErrUnsupportedVal, v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedVal, f)
	}
	return strconv.FormatFloat(f, 'f', decimals, 64), nil
}

// truncateAt returns the cut point for keeping at most width bytes of b. Raw
// UTF-8 is cut on a rune boundary; code page bytes are single characters.
func truncateAt(b []byte, width int, utf8Text bool) int {
	if !utf8Text || width >= len(b) {
		return width
	}
	cut := width
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return cut
}

func padRight(b []byte, width int) []byte {
	out := bytes.Repeat([]byte{' '}, width)
	copy(out, b)
	return out
}

func padLeft(b []byte, width int) []byte {
	out := bytes.Repeat([]byte{' '}, width)
	copy(out[width-len(b):], b)
	return out
}
