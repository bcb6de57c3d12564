package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// delimitedParser streams rows from a delimited text file. Quoting and
// escaping follow common CSV conventions via encoding/csv.
type delimitedParser struct {
	path string
}

// byteOrderMark is the UTF-8 BOM commonly prepended by Windows tools.
var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Total counts newline-terminated lines in a separate pre-pass and subtracts
// the header. The count is a heuristic (quoted fields may span lines); it
// only feeds progress estimation, never correctness.
func (p *delimitedParser) Total() int {
	f, err := os.Open(p.path)
	if err != nil {
		return 0
	}
	defer f.Close()

	lines := 0
	buf := make([]byte, 32*1024)
	sawData := false
	endsWithNewline := false
	for {
		n, err := f.Read(buf)
		if n > 0 {
			sawData = true
			lines += bytes.Count(buf[:n], []byte{'\n'})
			endsWithNewline = buf[n-1] == '\n'
		}
		if err != nil {
			break
		}
	}
	if sawData && !endsWithNewline {
		lines++
	}
	if lines <= 1 {
		return 0
	}
	return lines - 1
}

// Parse reads the file in a single forward pass. An empty file yields zero
// rows without error.
func (p *delimitedParser) Parse(fn func(Row) error) error {
	f, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	buffered := bufio.NewReader(f)
	if prefix, err := buffered.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = buffered.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(buffered)
	reader.FieldsPerRecord = -1

	headerRec, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	header := buildHeader(headerRec)

	index := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read row %d: %w", index, err)
		}
		if err := fn(makeRow(header, record, index)); err != nil {
			return err
		}
		index++
	}
}
