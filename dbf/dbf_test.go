package dbf

import (
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

var testFields = []Field{
	{Name: "NAME", Type: Character, Length: 20},
	{Name: "POP", Type: Numeric, Length: 10},
	{Name: "AREA", Type: Numeric, Length: 12, Decimals: 3},
	{Name: "CAPITAL", Type: Logical, Length: 1},
	{Name: "FOUNDED", Type: Date, Length: 8},
}

func createTestTable(t *testing.T, fs afero.Fs, opts *Options) *Table {
	t.Helper()
	table, err := Create(fs, "cities.dbf", testFields, opts)
	require.NoError(t, err)
	return table
}

func TestCreate_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
	}{
		{"no-fields", nil},
		{"empty-name", []Field{{Name: "", Type: Character, Length: 5}}},
		{"long-name", []Field{{Name: "ABCDEFGHIJK", Type: Character, Length: 5}}},
		{"duplicate", []Field{{Name: "A", Type: Character, Length: 5}, {Name: "a", Type: Numeric, Length: 5}}},
		{"zero-length", []Field{{Name: "A", Type: Character}}},
		{"bad-logical", []Field{{Name: "A", Type: Logical, Length: 2}}},
		{"bad-date", []Field{{Name: "A", Type: Date, Length: 6}}},
		{"bad-type", []Field{{Name: "A", Type: 'X', Length: 6}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(afero.NewMemMapFs(), "t.dbf", tt.fields, nil)
			require.ErrorIs(t, err, ErrInvalidField)
		})
	}
}

func TestAppendAndRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := createTestTable(t, fs, nil)

	founded := time.Date(1624, 5, 24, 0, 0, 0, 0, time.UTC)
	row, err := table.AppendRow(map[string]interface{}{
		"NAME":    "New York",
		"POP":     8336817,
		"AREA":    783.8,
		"CAPITAL": false,
		"FOUNDED": founded,
	})
	require.NoError(t, err)
	require.Equal(t, 0, row)

	row, err = table.AppendRow(map[string]interface{}{"name": "Paris"})
	require.NoError(t, err)
	require.Equal(t, 1, row)
	require.NoError(t, table.Close())

	reopened, err := Open(fs, "cities.dbf", nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	require.Equal(t, 2, reopened.NumRows())
	require.Equal(t, testFields, reopened.Fields())

	rows, err := reopened.GetAttributes(0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "New York", rows[0]["NAME"])
	require.Equal(t, int64(8336817), rows[0]["POP"])
	require.InDelta(t, 783.8, rows[0]["AREA"], 1e-9)
	require.Equal(t, false, rows[0]["CAPITAL"])
	require.Equal(t, founded, rows[0]["FOUNDED"])

	require.Equal(t, "Paris", rows[1]["NAME"])
	require.Nil(t, rows[1]["POP"])
	require.Nil(t, rows[1]["CAPITAL"])
	require.Nil(t, rows[1]["FOUNDED"])
}

func TestSetAttributes(t *testing.T) {
	table := createTestTable(t, afero.NewMemMapFs(), nil)
	defer func() { _ = table.Close() }()

	_, err := table.AppendRow(map[string]interface{}{"NAME": "a"})
	require.NoError(t, err)

	require.NoError(t, table.SetAttributes(0, map[string]interface{}{"NAME": "b", "POP": int64(7)}))

	got, err := table.GetRow(0)
	require.NoError(t, err)
	require.Equal(t, "b", got["NAME"])
	require.Equal(t, int64(7), got["POP"])

	require.ErrorIs(t, table.SetAttributes(1, nil), ErrRowOutOfRange)
}

func TestRemoveRow(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := createTestTable(t, fs, nil)

	for _, name := range []string{"a", "b", "c", "d"} {
		_, err := table.AppendRow(map[string]interface{}{"NAME": name})
		require.NoError(t, err)
	}

	require.NoError(t, table.RemoveRow(1))
	require.NoError(t, table.RemoveRow(2))
	require.Equal(t, 2, table.NumRows())
	require.ErrorIs(t, table.RemoveRow(2), ErrRowOutOfRange)
	require.NoError(t, table.Close())

	reopened, err := Open(fs, "cities.dbf", nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rows, err := reopened.GetAttributes(0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "a", rows[0]["NAME"])
	require.Equal(t, "c", rows[1]["NAME"])

	info, err := fs.Stat("cities.dbf")
	require.NoError(t, err)
	require.Equal(t, reopened.recordOffset(2)+1, info.Size())
}

func TestValueTooLong(t *testing.T) {
	table := createTestTable(t, afero.NewMemMapFs(), nil)
	defer func() { _ = table.Close() }()

	_, err := table.AppendRow(map[string]interface{}{"POP": int64(12345678901)})
	require.ErrorIs(t, err, ErrValueTooLong)

	_, err = table.AppendRow(map[string]interface{}{"CAPITAL": "yes"})
	require.ErrorIs(t, err, ErrUnsupportedVal)

	// Character values are truncated rather than rejected.
	_, err = table.AppendRow(map[string]interface{}{"NAME": "a name that is far too long"})
	require.NoError(t, err)
	row, err := table.GetRow(0)
	require.NoError(t, err)
	require.Equal(t, "a name that is far t", row["NAME"])
}

func TestEncoding(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := createTestTable(t, fs, &Options{Encoding: charmap.Windows1252})

	_, err := table.AppendRow(map[string]interface{}{"NAME": "São Paulo"})
	require.NoError(t, err)
	require.NoError(t, table.Close())

	raw, err := afero.ReadFile(fs, "cities.dbf")
	require.NoError(t, err)
	require.Equal(t, byte(0x57), raw[29])

	// Single byte 0xE3 for the tilde a.
	reopened, err := Open(fs, "cities.dbf", nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	require.Equal(t, 9, len(rawName(t, reopened)))

	row, err := reopened.GetRow(0)
	require.NoError(t, err)
	require.Equal(t, "São Paulo", row["NAME"])
}

func TestEncoding_DefaultUTF8(t *testing.T) {
	fs := afero.NewMemMapFs()
	table := createTestTable(t, fs, nil)

	_, err := table.AppendRow(map[string]interface{}{"NAME": "東京"})
	require.NoError(t, err)

	row, err := table.GetRow(0)
	require.NoError(t, err)
	require.Equal(t, "東京", row["NAME"])
	require.NoError(t, table.Close())
}

func TestCharacter_TruncatesOnRuneBoundary(t *testing.T) {
	table, err := Create(afero.NewMemMapFs(), "names.dbf", []Field{
		{Name: "NAME", Type: Character, Length: 4},
	}, nil)
	require.NoError(t, err)
	defer func() { _ = table.Close() }()

	// "aé東" is 1+2+3 bytes; a byte cut at 4 would split 東.
	_, err = table.AppendRow(map[string]interface{}{"NAME": "aé東"})
	require.NoError(t, err)

	row, err := table.GetRow(0)
	require.NoError(t, err)
	require.Equal(t, "aé", row["NAME"])
	require.True(t, utf8.ValidString(row["NAME"].(string)))

	require.Equal(t, 3, truncateAt([]byte("aé東"), 4, true))
	require.Equal(t, 4, truncateAt([]byte("aé東"), 4, false))
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(afero.NewMemMapFs(), "missing.dbf", nil)
	require.Error(t, err)
}

func TestOpen_Truncated(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "bad.dbf", []byte{0x03, 0x01}, 0o644))

	_, err := Open(fs, "bad.dbf", nil)
	require.ErrorIs(t, err, ErrInvalidHeader)
}

// rawName returns the trimmed bytes of the NAME field of row 0.
func rawName(t *testing.T, table *Table) []byte {
	t.Helper()
	rec := make([]byte, table.recordLen)
	_, err := table.file.ReadAt(rec, table.recordOffset(0))
	require.NoError(t, err)
	name := rec[1:21]
	end := len(name)
	for end > 0 && name[end-1] == ' ' {
		end--
	}
	return name[:end]
}
