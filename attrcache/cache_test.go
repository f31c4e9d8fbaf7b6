package attrcache

import (
	"errors"
	"maps"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/tingold/orb-shapefile/dbf"
)

// memStore is an in-memory Store that counts page reads.
type memStore struct {
	rows  []Row
	reads int
	fail  bool
}

func newMemStore(n int) *memStore {
	s := &memStore{}
	for i := 0; i < n; i++ {
		s.rows = append(s.rows, Row{"id": i, "name": "row"})
	}
	return s
}

func (s *memStore) NumRows() int { return len(s.rows) }

func (s *memStore) GetAttributes(startRow, numRows int) ([]Row, error) {
	if s.fail {
		return nil, errors.New("store unavailable")
	}
	s.reads++
	end := startRow + numRows
	if end > len(s.rows) {
		end = len(s.rows)
	}
	out := make([]Row, 0, end-startRow)
	for _, r := range s.rows[startRow:end] {
		out = append(out, maps.Clone(r))
	}
	return out, nil
}

func (s *memStore) SetAttributes(row int, values Row) error {
	s.rows[row] = maps.Clone(values)
	return nil
}

func newTestCache(t *testing.T, store Store, rowsPerPage, pages int) *Cache {
	t.Helper()
	c, err := New(store, &Options{RowsPerPage: rowsPerPage, Pages: pages})
	require.NoError(t, err)
	return c
}

func TestNew_NilStore(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrNilStore)
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(newMemStore(1), nil)
	require.NoError(t, err)
	require.Equal(t, 1000, c.RowsPerPage())
	require.Len(t, c.Pages(), 2)
	require.Equal(t, -1, c.EditRowIndex())
}

func TestRetrieveElement_PageAlignment(t *testing.T) {
	store := newMemStore(25)
	c := newTestCache(t, store, 10, 2)

	row, err := c.RetrieveElement(13)
	require.NoError(t, err)
	require.Equal(t, 13, row["id"])

	page := c.Pages()[0]
	require.NotNil(t, page)
	require.Equal(t, 10, page.LowestIndex)
	require.Equal(t, 19, page.HighestIndex)

	// Last page is short.
	_, err = c.RetrieveElement(24)
	require.NoError(t, err)
	require.Equal(t, 20, c.Pages()[1].LowestIndex)
	require.Equal(t, 24, c.Pages()[1].HighestIndex)
}

func TestRetrieveElement_OutOfRange(t *testing.T) {
	c := newTestCache(t, newMemStore(5), 10, 2)

	_, err := c.RetrieveElement(-1)
	require.ErrorIs(t, err, ErrRowOutOfRange)

	_, err = c.RetrieveElement(5)
	require.ErrorIs(t, err, ErrRowOutOfRange)
}

func TestRetrieveElement_StoreError(t *testing.T) {
	store := newMemStore(5)
	store.fail = true
	c := newTestCache(t, store, 10, 2)

	_, err := c.RetrieveElement(1)
	require.Error(t, err)
}

func TestRetrieveElement_HitsDoNotReload(t *testing.T) {
	store := newMemStore(100)
	c := newTestCache(t, store, 10, 2)

	for i := 0; i < 20; i++ {
		_, err := c.RetrieveElement(i)
		require.NoError(t, err)
	}
	require.Equal(t, 2, store.reads)
	require.Equal(t, Stats{Hits: 18, Misses: 2, Evictions: 0}, c.Stats())
}

func TestRetrieveElement_ReturnsCopy(t *testing.T) {
	c := newTestCache(t, newMemStore(5), 10, 2)

	row, err := c.RetrieveElement(1)
	require.NoError(t, err)
	row["name"] = "mutated"

	again, err := c.RetrieveElement(1)
	require.NoError(t, err)
	require.Equal(t, "row", again["name"])
}

func TestEviction_MostDistantWins(t *testing.T) {
	store := newMemStore(100)
	c := newTestCache(t, store, 10, 2)

	lowest := func() []int {
		var out []int
		for _, p := range c.Pages() {
			out = append(out, p.LowestIndex)
		}
		return out
	}

	_, _ = c.RetrieveElement(0)  // page 0 -> slot 0
	_, _ = c.RetrieveElement(20) // page 2 -> slot 1
	require.Equal(t, []int{0, 20}, lowest())

	// Page 1 is one page from both slots: the tie keeps slot 0 as the victim.
	_, _ = c.RetrieveElement(10)
	require.Equal(t, []int{10, 20}, lowest())

	// Page 5: slot 0 is 4 pages away, slot 1 is 3 pages away.
	_, _ = c.RetrieveElement(55)
	require.Equal(t, []int{50, 20}, lowest())

	// Page 3: slot 0 is 2 away, slot 1 is 1 away.
	_, _ = c.RetrieveElement(30)
	require.Equal(t, []int{30, 20}, lowest())

	require.Equal(t, 3, c.Stats().Evictions)
}

func TestEviction_ThreePages(t *testing.T) {
	c := newTestCache(t, newMemStore(100), 10, 3)

	_, _ = c.RetrieveElement(0)
	_, _ = c.RetrieveElement(40)
	_, _ = c.RetrieveElement(90)

	// Page 6: distances 6, 2, 3.
	_, _ = c.RetrieveElement(60)
	require.Equal(t, 60, c.Pages()[0].LowestIndex)
	require.Equal(t, 40, c.Pages()[1].LowestIndex)
	require.Equal(t, 90, c.Pages()[2].LowestIndex)
}

func TestRetrieveElement_MatchesNaiveStore(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	store := newMemStore(537)
	for i := range store.rows {
		store.rows[i]["value"] = r.Intn(1000)
	}

	for _, pages := range []int{1, 2, 4} {
		c := newTestCache(t, store, 17, pages)
		row := 0
		for i := 0; i < 5000; i++ {
			switch r.Intn(4) {
			case 0:
				row = r.Intn(len(store.rows))
			case 1:
				row = (row + 1) % len(store.rows)
			case 2:
				row = (row + 17) % len(store.rows)
			default:
				row = (row + len(store.rows) - 16) % len(store.rows)
			}

			got, err := c.RetrieveElement(row)
			require.NoError(t, err)
			require.Equal(t, store.rows[row], got, "row %d", row)
		}
	}
}

func TestEditRow_ShadowsPages(t *testing.T) {
	store := newMemStore(30)
	c := newTestCache(t, store, 10, 2)

	_, err := c.RetrieveElement(5)
	require.NoError(t, err)

	require.NoError(t, c.SetEditRowIndex(5))
	require.Equal(t, 5, c.EditRowIndex())
	c.EditRow()["name"] = "edited"

	got, err := c.RetrieveElement(5)
	require.NoError(t, err)
	require.Equal(t, "edited", got["name"])

	// Not saved yet: the store is untouched.
	require.Equal(t, "row", store.rows[5]["name"])
}

func TestSaveChanges_PatchesResidentPage(t *testing.T) {
	store := newMemStore(30)
	c := newTestCache(t, store, 10, 2)

	_, err := c.RetrieveElement(5)
	require.NoError(t, err)

	require.NoError(t, c.SetEditRowIndex(5))
	c.EditRow()["name"] = "saved"
	require.NoError(t, c.SaveChanges())
	require.Equal(t, "saved", store.rows[5]["name"])

	// Switch the edit row away so reads go through the page.
	require.NoError(t, c.SetEditRowIndex(-1))
	require.Nil(t, c.EditRow())

	got, err := c.RetrieveElement(5)
	require.NoError(t, err)
	require.Equal(t, "saved", got["name"])
	require.Equal(t, "saved", c.Pages()[0].Row(5)["name"])
}

func TestSaveChanges_NoResidentPage(t *testing.T) {
	store := newMemStore(30)
	c := newTestCache(t, store, 10, 1)

	require.NoError(t, c.SetEditRowIndex(25))
	c.EditRow()["name"] = "far"

	// Move the only page elsewhere.
	_, err := c.RetrieveElement(3)
	require.NoError(t, err)
	require.False(t, c.Pages()[0].Contains(25))

	require.NoError(t, c.SaveChanges())
	require.Equal(t, "far", store.rows[25]["name"])

	c.Invalidate()
	got, err := c.RetrieveElement(25)
	require.NoError(t, err)
	require.Equal(t, "far", got["name"])
}

func TestSaveChanges_ReflectsStoredValues(t *testing.T) {
	table, err := dbf.Create(afero.NewMemMapFs(), "values.dbf", []dbf.Field{
		{Name: "NAME", Type: dbf.Character, Length: 4},
		{Name: "VAL", Type: dbf.Numeric, Length: 10, Decimals: 2},
		{Name: "N", Type: dbf.Numeric, Length: 6},
	}, nil)
	require.NoError(t, err)
	defer func() { _ = table.Close() }()
	for i := 0; i < 3; i++ {
		_, err := table.AppendRow(Row{"NAME": "a", "VAL": 0.0, "N": i})
		require.NoError(t, err)
	}

	c := newTestCache(t, table, 2, 2)
	_, err = c.RetrieveElement(1)
	require.NoError(t, err)

	require.NoError(t, c.SetEditRowIndex(1))
	edit := c.EditRow()
	edit["NAME"] = "abcdefgh"
	edit["VAL"] = 1.23456
	edit["N"] = 7
	edit["EXTRA"] = "ignored"
	require.NoError(t, c.SaveChanges())

	want := Row{"NAME": "abcd", "VAL": 1.23, "N": int64(7)}
	stored, err := table.GetRow(1)
	require.NoError(t, err)
	require.Equal(t, want, stored)
	require.Equal(t, want, c.EditRow())

	require.NoError(t, c.SetEditRowIndex(-1))
	got, err := c.RetrieveElement(1)
	require.NoError(t, err)
	require.Equal(t, stored, got)
	require.Equal(t, stored, c.Pages()[0].Row(1))
}

func TestSaveChanges_WithoutEdit(t *testing.T) {
	c := newTestCache(t, newMemStore(3), 10, 2)
	require.NoError(t, c.SaveChanges())
}

func TestSetEditRowIndex_OutOfRangeClears(t *testing.T) {
	c := newTestCache(t, newMemStore(3), 10, 2)

	require.NoError(t, c.SetEditRowIndex(1))
	require.NotNil(t, c.EditRow())

	require.NoError(t, c.SetEditRowIndex(3))
	require.Equal(t, -1, c.EditRowIndex())
	require.Nil(t, c.EditRow())

	require.NoError(t, c.SetEditRowIndex(1))
	require.NoError(t, c.SetEditRowIndex(-7))
	require.Equal(t, -1, c.EditRowIndex())
	require.Nil(t, c.EditRow())
}

func TestRetrieveValue(t *testing.T) {
	c := newTestCache(t, newMemStore(3), 10, 2)

	v, err := c.RetrieveValue(2, "id")
	require.NoError(t, err)
	require.Equal(t, 2, v)

	v, err = c.RetrieveValue(2, "missing")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	c, err := New(newMemStore(50), &Options{RowsPerPage: 10, Pages: 1, Metrics: m})
	require.NoError(t, err)

	_, _ = c.RetrieveElement(0)
	_, _ = c.RetrieveElement(1)
	_, _ = c.RetrieveElement(30)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Hits))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Misses))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Evictions))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)
}

func TestNewMetrics_ReusesRegisteredCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics(reg)
	first.Misses.Inc()

	var second *Metrics
	require.NotPanics(t, func() { second = NewMetrics(reg) })
	second.Misses.Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(first.Misses))
	require.Equal(t, float64(2), testutil.ToFloat64(second.Misses))
}
