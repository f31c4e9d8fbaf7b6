// Package dbf reads and writes dBASE III attribute tables, the .dbf member of
// a shapefile.
//
// A Table is a row store addressed by ordinal. Rows are returned as
// map[string]interface{} keyed by field name, which lets a Table back the
// attribute cache directly. Removing a row physically compacts the file so
// row numbers stay aligned with the shape index.
package dbf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/encoding/charmap"
)

// Common errors returned by this package.
var (
	ErrInvalidHeader  = errors.New("dbf: invalid header")
	ErrInvalidField   = errors.New("dbf: invalid field")
	ErrRowOutOfRange  = errors.New("dbf: row out of range")
	ErrValueTooLong   = errors.New("dbf: value does not fit field")
	ErrUnsupportedVal = errors.New("dbf: unsupported value type")
	ErrClosed         = errors.New("dbf: table closed")
)

const (
	versionDBase3   = 0x03
	headerSize      = 32
	fieldSize       = 32
	fieldTerminator = 0x0D
	fileTerminator  = 0x1A
	recordActive    = ' '
	recordDeleted   = '*'
	maxFieldName    = 10
)

// FieldType is a dBASE field type code.
type FieldType byte

// Supported field types.
const (
	Character FieldType = 'C'
	Numeric   FieldType = 'N'
	Float     FieldType = 'F'
	Logical   FieldType = 'L'
	Date      FieldType = 'D'
)

// Field describes one column.
type Field struct {
	Name     string
	Type     FieldType
	Length   uint8
	Decimals uint8
}

// Options configures a Table.
type Options struct {
	// Encoding overrides the code page derived from the language driver id.
	Encoding *charmap.Charmap
}

// Table is an open dBASE table. It is not safe for concurrent use.
type Table struct {
	fs        afero.Fs
	path      string
	file      afero.File
	fields    []Field
	offsets   []int
	numRows   int
	headerLen int
	recordLen int
	ldid      byte
	encoding  *charmap.Charmap
	updated   time.Time
}

// Create creates a new, empty table at path, truncating any existing file.
func Create(fs afero.Fs, path string, fields []Field, opts *Options) (*Table, error) {
	if err := validateFields(fields); err != nil {
		return nil, err
	}

	file, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}

	t := &Table{
		fs:      fs,
		path:    path,
		file:    file,
		fields:  append([]Field(nil), fields...),
		updated: time.Now(),
	}
	if opts != nil && opts.Encoding != nil {
		t.ldid = languageDriverFor(opts.Encoding)
	}
	t.layout()
	t.encoding = encodingFor(t.ldid, opts)

	if err := t.writeHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}
	if _, err := file.WriteAt([]byte{fileTerminator}, int64(t.headerLen)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write terminator: %w", err)
	}
	return t, nil
}

// Open opens an existing table for reading and writing.
func Open(fs afero.Fs, path string, opts *Options) (*Table, error) {
	file, err := fs.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	t := &Table{fs: fs, path: path, file: file}
	if err := t.readHeader(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.encoding = encodingFor(t.ldid, opts)
	return t, nil
}

// Fields returns the table schema.
func (t *Table) Fields() []Field {
	return append([]Field(nil), t.fields...)
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int {
	return t.numRows
}

// Close closes the underlying file.
func (t *Table) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	return err
}

// GetAttributes returns up to numRows rows starting at startRow.
func (t *Table) GetAttributes(startRow, numRows int) ([]map[string]interface{}, error) {
	if t.file == nil {
		return nil, ErrClosed
	}
	if startRow < 0 || startRow > t.numRows {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, startRow)
	}
	if startRow+numRows > t.numRows {
		numRows = t.numRows - startRow
	}
	if numRows <= 0 {
		return nil, nil
	}

	data := make([]byte, numRows*t.recordLen)
	if _, err := t.file.ReadAt(data, t.recordOffset(startRow)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows %d-%d: %w", startRow, startRow+numRows-1, err)
	}

	rows := make([]map[string]interface{}, 0, numRows)
	for i := 0; i < numRows; i++ {
		rec := data[i*t.recordLen : (i+1)*t.recordLen]
		row, err := t.decodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", startRow+i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetRow returns a single row.
func (t *Table) GetRow(row int) (map[string]interface{}, error) {
	if row < 0 || row >= t.numRows {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	rows, err := t.GetAttributes(row, 1)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// SetAttributes overwrites row. Fields missing from values are written blank;
// keys that are not fields are ignored.
func (t *Table) SetAttributes(row int, values map[string]interface{}) error {
	if t.file == nil {
		return ErrClosed
	}
	if row < 0 || row >= t.numRows {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}

	rec, err := t.encodeRecord(values)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	if _, err := t.file.WriteAt(rec, t.recordOffset(row)); err != nil {
		return fmt.Errorf("write row %d: %w", row, err)
	}
	t.updated = time.Now()
	return t.writeHeader()
}

// AppendRow adds a row at the end of the table and returns its index.
func (t *Table) AppendRow(values map[string]interface{}) (int, error) {
	if t.file == nil {
		return 0, ErrClosed
	}

	rec, err := t.encodeRecord(values)
	if err != nil {
		return 0, err
	}

	row := t.numRows
	buf := append(rec, fileTerminator)
	if _, err := t.file.WriteAt(buf, t.recordOffset(row)); err != nil {
		return 0, fmt.Errorf("append row: %w", err)
	}

	t.numRows++
	t.updated = time.Now()
	if err := t.writeHeader(); err != nil {
		return 0, err
	}
	return row, nil
}

// RemoveRow removes row and shifts every following row up by one.
func (t *Table) RemoveRow(row int) error {
	if t.file == nil {
		return ErrClosed
	}
	if row < 0 || row >= t.numRows {
		return fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}

	tail := make([]byte, (t.numRows-row-1)*t.recordLen)
	if len(tail) > 0 {
		if _, err := t.file.ReadAt(tail, t.recordOffset(row+1)); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read tail: %w", err)
		}
	}
	tail = append(tail, fileTerminator)
	if _, err := t.file.WriteAt(tail, t.recordOffset(row)); err != nil {
		return fmt.Errorf("shift rows: %w", err)
	}

	t.numRows--
	if err := t.file.Truncate(t.recordOffset(t.numRows) + 1); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	t.updated = time.Now()
	return t.writeHeader()
}

func (t *Table) recordOffset(row int) int64 {
	return int64(t.headerLen) + int64(row)*int64(t.recordLen)
}

// layout computes field offsets and lengths from the schema.
func (t *Table) layout() {
	t.offsets = make([]int, len(t.fields))
	t.recordLen = 1 // deletion flag
	for i, f := range t.fields {
		t.offsets[i] = t.recordLen
		t.recordLen += int(f.Length)
	}
	t.headerLen = headerSize + fieldSize*len(t.fields) + 1
}

func (t *Table) readHeader() error {
	head := make([]byte, headerSize)
	if _, err := t.file.ReadAt(head, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	t.numRows = int(binary.LittleEndian.Uint32(head[4:8]))
	t.headerLen = int(binary.LittleEndian.Uint16(head[8:10]))
	t.recordLen = int(binary.LittleEndian.Uint16(head[10:12]))
	t.ldid = head[29]
	t.updated = time.Date(1900+int(head[1]), time.Month(head[2]), int(head[3]), 0, 0, 0, 0, time.UTC)

	if t.headerLen < headerSize+1 || t.recordLen < 1 {
		return ErrInvalidHeader
	}

	descriptors := make([]byte, t.headerLen-headerSize)
	if _, err := t.file.ReadAt(descriptors, headerSize); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	t.fields = nil
	for off := 0; off+fieldSize <= len(descriptors) && descriptors[off] != fieldTerminator; off += fieldSize {
		d := descriptors[off : off+fieldSize]
		name := string(bytes.TrimRight(d[:11], "\x00 "))
		t.fields = append(t.fields, Field{
			Name:     name,
			Type:     FieldType(d[11]),
			Length:   d[16],
			Decimals: d[17],
		})
	}

	// Trust the stored record length over the sum of field lengths; some
	// writers pad records.
	recordLen := t.recordLen
	headerLen := t.headerLen
	t.layout()
	if t.recordLen > recordLen {
		return fmt.Errorf("%w: record length %d shorter than fields", ErrInvalidHeader, recordLen)
	}
	t.recordLen = recordLen
	t.headerLen = headerLen
	return nil
}

func (t *Table) writeHeader() error {
	buf := make([]byte, t.headerLen)
	buf[0] = versionDBase3
	buf[1] = byte(t.updated.Year() - 1900)
	buf[2] = byte(t.updated.Month())
	buf[3] = byte(t.updated.Day())
	binary.LittleEndian.PutUint32(buf[4:8], uint32(t.numRows))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(t.headerLen))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(t.recordLen))
	buf[29] = t.ldid

	for i, f := range t.fields {
		d := buf[headerSize+i*fieldSize : headerSize+(i+1)*fieldSize]
		copy(d[:11], f.Name)
		d[11] = byte(f.Type)
		d[16] = f.Length
		d[17] = f.Decimals
	}
	buf[len(buf)-1] = fieldTerminator

	if _, err := t.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func validateFields(fields []Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidField)
	}
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		name := strings.ToUpper(f.Name)
		switch {
		case f.Name == "" || len(f.Name) > maxFieldName:
			return fmt.Errorf("%w: name %q", ErrInvalidField, f.Name)
		case seen[name]:
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidField, f.Name)
		case f.Length == 0:
			return fmt.Errorf("%w: %s has zero length", ErrInvalidField, f.Name)
		}
		seen[name] = true

		switch f.Type {
		case Character, Numeric, Float:
		case Logical:
			if f.Length != 1 {
				return fmt.Errorf("%w: logical field %s must have length 1", ErrInvalidField, f.Name)
			}
		case Date:
			if f.Length != 8 {
				return fmt.Errorf("%w: date field %s must have length 8", ErrInvalidField, f.Name)
			}
		default:
			return fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidField, f.Name, f.Type)
		}
	}
	return nil
}

// encodingFor maps a language driver id to a code page. Id 0 and unknown ids
// leave bytes untouched.
func encodingFor(ldid byte, opts *Options) *charmap.Charmap {
	if opts != nil && opts.Encoding != nil {
		return opts.Encoding
	}
	switch ldid {
	case 0x01:
		return charmap.CodePage437
	case 0x02:
		return charmap.CodePage850
	case 0x03, 0x57:
		return charmap.Windows1252
	case 0x64:
		return charmap.CodePage852
	case 0x65:
		return charmap.CodePage866
	case 0xC8:
		return charmap.Windows1250
	case 0xC9:
		return charmap.Windows1251
	default:
		return nil
	}
}

// languageDriverFor is the inverse of encodingFor for the code pages it knows.
func languageDriverFor(cm *charmap.Charmap) byte {
	switch cm {
	case charmap.CodePage437:
		return 0x01
	case charmap.CodePage850:
		return 0x02
	case charmap.Windows1252:
		return 0x57
	case charmap.CodePage852:
		return 0x64
	case charmap.CodePage866:
		return 0x65
	case charmap.Windows1250:
		return 0xC8
	case charmap.Windows1251:
		return 0xC9
	default:
		return 0
	}
}
