package attrcache

// DataPage is a page-aligned window of rows. LowestIndex is always a multiple
// of the page size; HighestIndex is the last row the page actually holds,
// which is lower than the aligned end for the final page of a table.
type DataPage struct {
	Rows         []Row
	LowestIndex  int
	HighestIndex int
}

func newDataPage(start, rowsPerPage int, rows []Row) *DataPage {
	if len(rows) > rowsPerPage {
		rows = rows[:rowsPerPage]
	}
	return &DataPage{
		Rows:         rows,
		LowestIndex:  start,
		HighestIndex: start + len(rows) - 1,
	}
}

// Contains reports whether row is held by the page. A nil page holds nothing.
func (p *DataPage) Contains(row int) bool {
	if p == nil {
		return false
	}
	return row >= p.LowestIndex && row <= p.HighestIndex
}

// Row returns the cached row. The caller must check Contains first.
func (p *DataPage) Row(row int) Row {
	return p.Rows[row-p.LowestIndex]
}

func (p *DataPage) setRow(row int, values Row) {
	p.Rows[row-p.LowestIndex] = values
}
