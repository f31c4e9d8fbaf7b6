// Package attrcache provides a paged, windowed cache over a tabular attribute
// store such as a dBASE file.
//
// The cache keeps a small fixed number of page-aligned windows of rows in
// memory. A request for a row outside every resident page loads the page that
// contains it and installs it in the slot whose page lies farthest from the
// request. Shapefile access is dominated by near-sequential scans, so this
// simple policy keeps the useful neighbour warm without LRU bookkeeping.
//
// A single edit row can be checked out with SetEditRowIndex. While it is set it
// shadows whatever the pages hold for that row, and SaveChanges writes it back
// to the store and patches any resident copy.
package attrcache

import (
	"errors"
	"fmt"
	"maps"
)

// Errors returned by the cache.
var (
	ErrRowOutOfRange = errors.New("attrcache: row out of range")
	ErrNilStore      = errors.New("attrcache: nil store")
)

// Row is one attribute record keyed by column name.
type Row = map[string]interface{}

// Store is the backing attribute table. It is treated as opaque and possibly
// slow; the cache only ever asks it for whole pages.
type Store interface {
	// NumRows returns the number of rows in the store.
	NumRows() int
	// GetAttributes returns up to numRows rows starting at startRow.
	GetAttributes(startRow, numRows int) ([]Row, error)
	// SetAttributes overwrites a single row.
	SetAttributes(row int, values Row) error
}

// Options configures a Cache.
type Options struct {
	RowsPerPage int      // Rows held by each page (default: 1000)
	Pages       int      // Number of page slots (default: 2)
	Metrics     *Metrics // Optional Prometheus metrics
}

// DefaultOptions returns the default cache options.
func DefaultOptions() *Options {
	return &Options{
		RowsPerPage: 1000,
		Pages:       2,
	}
}

// Stats holds cache counters.
type Stats struct {
	Hits      int // Requests served from a resident page or the edit row
	Misses    int // Requests that loaded a page from the store
	Evictions int // Page loads that replaced a resident page
}

// Cache is a windowed attribute cache. It is not safe for concurrent use; the
// owner serializes access.
type Cache struct {
	store       Store
	rowsPerPage int
	pages       []*DataPage
	metrics     *Metrics
	stats       Stats

	editRowIndex int
	editRow      Row
}

// New creates a cache over store.
func New(store Store, opts *Options) (*Cache, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if opts == nil {
		opts = DefaultOptions()
	}

	rowsPerPage := opts.RowsPerPage
	if rowsPerPage <= 0 {
		rowsPerPage = DefaultOptions().RowsPerPage
	}
	numPages := opts.Pages
	if numPages <= 0 {
		numPages = DefaultOptions().Pages
	}

	return &Cache{
		store:        store,
		rowsPerPage:  rowsPerPage,
		pages:        make([]*DataPage, numPages),
		metrics:      opts.Metrics,
		editRowIndex: -1,
	}, nil
}

// RowsPerPage returns the page size of this cache.
func (c *Cache) RowsPerPage() int {
	return c.rowsPerPage
}

// Pages returns the page slots. Empty slots are nil.
func (c *Cache) Pages() []*DataPage {
	return c.pages
}

// Stats returns the cache counters.
func (c *Cache) Stats() Stats {
	return c.stats
}

// RetrieveElement returns a copy of the attributes of row.
func (c *Cache) RetrieveElement(row int) (Row, error) {
	if row == c.editRowIndex && c.editRow != nil {
		c.hit()
		return maps.Clone(c.editRow), nil
	}

	if row < 0 || row >= c.store.NumRows() {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}

	for _, page := range c.pages {
		if page.Contains(row) {
			c.hit()
			return maps.Clone(page.Row(row)), nil
		}
	}

	page, err := c.load(row)
	if err != nil {
		return nil, err
	}
	if !page.Contains(row) {
		// The store returned fewer rows than it claims to hold.
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}

	return maps.Clone(page.Row(row)), nil
}

// RetrieveValue returns the value of a single column of row.
func (c *Cache) RetrieveValue(row int, column string) (interface{}, error) {
	values, err := c.RetrieveElement(row)
	if err != nil {
		return nil, err
	}
	return values[column], nil
}

// EditRowIndex returns the row currently checked out for editing, or -1.
func (c *Cache) EditRowIndex() int {
	return c.editRowIndex
}

// EditRow returns the mutable edit buffer, or nil when no row is checked out.
func (c *Cache) EditRow() Row {
	return c.editRow
}

// SetEditRowIndex checks out row for editing. An out of range row clears the
// edit buffer instead of failing.
func (c *Cache) SetEditRowIndex(row int) error {
	if row < 0 || row >= c.store.NumRows() {
		c.editRowIndex = -1
		c.editRow = nil
		return nil
	}
	if row == c.editRowIndex && c.editRow != nil {
		return nil
	}

	// Clear first so RetrieveElement reads the stored row, not the old edit.
	c.editRowIndex = -1
	c.editRow = nil

	values, err := c.RetrieveElement(row)
	if err != nil {
		return err
	}

	c.editRowIndex = row
	c.editRow = values
	return nil
}

// SaveChanges writes the edit row back to the store. The row is then read
// back, and the edit row and any resident copy are replaced with what the
// store holds, so width limits and rounding applied by the store show up in
// later reads.
func (c *Cache) SaveChanges() error {
	if c.editRow == nil || c.editRowIndex < 0 {
		return nil
	}

	row := c.editRowIndex
	if err := c.store.SetAttributes(row, maps.Clone(c.editRow)); err != nil {
		return fmt.Errorf("save row %d: %w", row, err)
	}

	stored, err := c.store.GetAttributes(row, 1)
	if err != nil {
		return fmt.Errorf("reload row %d: %w", row, err)
	}
	if len(stored) != 1 {
		return fmt.Errorf("reload row %d: %w", row, ErrRowOutOfRange)
	}

	c.editRow = maps.Clone(stored[0])
	c.setIfCached(row, stored[0])
	return nil
}

// Invalidate drops every resident page and the edit row. Owners call it after
// structural changes to the store such as row insertion or removal.
func (c *Cache) Invalidate() {
	for i := range c.pages {
		c.pages[i] = nil
	}
	c.editRowIndex = -1
	c.editRow = nil
}

// setIfCached patches row in every resident page that holds it.
func (c *Cache) setIfCached(row int, values Row) {
	for _, page := range c.pages {
		if page.Contains(row) {
			page.setRow(row, maps.Clone(values))
		}
	}
}

// load fetches the page containing row and installs it.
func (c *Cache) load(row int) (*DataPage, error) {
	start := pageStart(row, c.rowsPerPage)

	rows, err := c.store.GetAttributes(start, c.rowsPerPage)
	if err != nil {
		return nil, fmt.Errorf("load page at row %d: %w", start, err)
	}

	page := newDataPage(start, c.rowsPerPage, rows)
	slot := c.victim(start)
	if c.pages[slot] != nil {
		c.stats.Evictions++
		if c.metrics != nil {
			c.metrics.Evictions.Inc()
		}
	}
	c.pages[slot] = page

	c.stats.Misses++
	if c.metrics != nil {
		c.metrics.Misses.Inc()
	}
	return page, nil
}

// victim picks the slot to replace for a page starting at start. Empty slots
// are used first. Otherwise the page farthest away in page units is chosen; a
// strictly greater distance is needed to move past an earlier slot, so ties
// keep the lowest slot.
func (c *Cache) victim(start int) int {
	for i, page := range c.pages {
		if page == nil {
			return i
		}
	}

	target := start / c.rowsPerPage
	best, bestDistance := 0, -1
	for i, page := range c.pages {
		distance := abs(page.LowestIndex/c.rowsPerPage - target)
		if distance > bestDistance {
			best, bestDistance = i, distance
		}
	}
	return best
}

func (c *Cache) hit() {
	c.stats.Hits++
	if c.metrics != nil {
		c.metrics.Hits.Inc()
	}
}

func pageStart(row, rowsPerPage int) int {
	return row / rowsPerPage * rowsPerPage
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
