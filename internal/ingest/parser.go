package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Parser decodes a stored file into an ordered, lazy sequence of rows
// without materializing the whole file in memory.
type Parser interface {
	// Total returns a best-effort count of data rows for progress-fraction
	// accuracy, or 0 when it cannot be determined. It never fails the parse.
	Total() int

	// Parse performs a single forward pass over the file, invoking fn for
	// each data row in file order. The first row is consumed as the header.
	// Parse is not restartable.
	Parse(fn func(Row) error) error
}

// NewParser selects the parser variant by file extension: spreadsheet
// workbooks for .xlsx/.xls, delimited text for everything else.
func NewParser(path string) Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xls":
		return &workbookParser{path: path}
	default:
		return &delimitedParser{path: path}
	}
}

// buildHeader derives column names from the header row. Empty header cells
// synthesize positional names so every cell index stays addressable.
func buildHeader(cells []string) []string {
	header := make([]string, len(cells))
	for i, cell := range cells {
		name := strings.TrimSpace(cell)
		if name == "" {
			name = fmt.Sprintf("col%d", i)
		}
		header[i] = name
	}
	return header
}

// makeRow maps one record onto the header. Short records backfill empty
// strings; extra cells beyond the header are keyed colN by position.
func makeRow(header []string, record []string, index int) Row {
	width := len(header)
	if len(record) > width {
		width = len(record)
	}
	columns := make([]string, width)
	values := make([]string, width)
	for i := 0; i < width; i++ {
		if i < len(header) {
			columns[i] = header[i]
		} else {
			columns[i] = fmt.Sprintf("col%d", i)
		}
		if i < len(record) {
			values[i] = record[i]
		}
	}
	return Row{Index: index, Columns: columns, Values: values}
}
