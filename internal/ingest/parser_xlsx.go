package ingest

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// workbookParser streams rows from the first sheet of a spreadsheet workbook
// using excelize's row iterator, so the whole workbook never resides in
// memory at once.
type workbookParser struct {
	path string
}

// Total counts data rows in a separate streaming pre-pass over the first
// sheet, subtracting the header. The sheet dimension attribute would be
// cheaper but many writers leave it stale or absent, so rows are counted
// the same way the CSV pre-pass scans lines. Returns 0 on any error.
func (p *workbookParser) Total() int {
	f, err := excelize.OpenFile(p.path)
	if err != nil {
		return 0
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return 0
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if rows.Error() != nil || count <= 1 {
		return 0
	}
	return count - 1
}

// Parse iterates the first sheet row by row. Cell values arrive already
// formatted as strings (numeric and date cells included); empty cells become
// empty strings through the usual header mapping.
func (p *workbookParser) Parse(fn func(Row) error) error {
	f, err := excelize.OpenFile(p.path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	var header []string
	index := 1
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("read row %d: %w", index, err)
		}
		if header == nil {
			header = buildHeader(cells)
			continue
		}
		if err := fn(makeRow(header, cells, index)); err != nil {
			return err
		}
		index++
	}
	return rows.Error()
}
