// Package tabular reads uploaded spreadsheet files into a header row plus
// data rows.
//
// Two physical formats are accepted:
//
//   - Delimited text (comma, semicolon or tab separated). UTF-8 and UTF-16
//     byte order marks are honoured and invalid UTF-8 is replaced with U+FFFD.
//   - XLSX workbooks. Only the first sheet is read.
//
// The first non-empty row is the header. Fully empty data rows are dropped
// and short rows are padded to the header width, so every returned row has
// exactly len(Headers) cells. Lines keeps the 1-based source line of each
// data row so errors can point back into the file.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrParse is wrapped by every error caused by undecodable input.
var ErrParse = errors.New("invalid tabular file")

// ErrFileTooLarge is returned when the input exceeds the configured limit.
var ErrFileTooLarge = errors.New("file too large")

// Format identifies the physical file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// zipMagic is the local file header signature every XLSX archive starts with.
var zipMagic = []byte("PK\x03\x04")

// Table is a decoded file: header names plus data rows aligned to them.
// Lines[i] is the line (CSV) or sheet row (XLSX) Rows[i] was read from.
type Table struct {
	Format  Format
	Headers []string
	Rows    [][]string
	Lines   []int
}

// Read decodes r as a tabular file. fileName is only used to pick the
// format; content sniffing wins for XLSX archives uploaded without an
// extension. maxBytes <= 0 disables the size limit.
func Read(r io.Reader, fileName string, maxBytes int64) (*Table, error) {
	data, err := readLimited(r, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrParse)
	}

	format := DetectFormat(fileName, data)

	var (
		records [][]string
		lines   []int
	)
	switch format {
	case FormatXLSX:
		records, lines, err = readXLSX(data)
	default:
		records, lines, err = readDelimited(data)
	}
	if err != nil {
		return nil, err
	}

	table, err := buildTable(records, lines)
	if err != nil {
		return nil, err
	}
	table.Format = format
	return table, nil
}

// DetectFormat picks the decoder for a file.
func DetectFormat(fileName string, data []byte) Format {
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	}
	return FormatCSV
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, maxBytes)
	}
	return data, nil
}

// readDelimited decodes CSV-like text. The BOM override also switches to
// UTF-16 when the file starts with a UTF-16 BOM (Excel "Unicode text").
// encoding/csv skips blank lines silently, so each record's starting line is
// taken from FieldPos.
func readDelimited(data []byte) ([][]string, []int, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	text, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: encoding error: %v", ErrParse, err)
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.Comma = sniffDelimiter(text)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		line, _ := r.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}
	return records, lines, nil
}

// sniffDelimiter picks the most frequent candidate separator on the first line.
func sniffDelimiter(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}

	best, bestCount := ',', 0
	for _, c := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// readXLSX returns the first sheet. GetRows keeps blank rows between data
// rows as empty slices, so rows[i] is sheet row i+1.
func readXLSX(data []byte) ([][]string, []int, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open workbook: %v", ErrParse, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: workbook has no sheets", ErrParse)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read sheet %q: %v", ErrParse, sheets[0], err)
	}
	lines := make([]int, len(rows))
	for i := range rows {
		lines[i] = i + 1
	}
	return rows, lines, nil
}

func buildTable(records [][]string, lines []int) (*Table, error) {
	start := 0
	for start < len(records) && IsEmptyRow(records[start]) {
		start++
	}
	if start == len(records) {
		return nil, fmt.Errorf("%w: missing header row", ErrParse)
	}

	headers := make([]string, len(records[start]))
	for i, h := range records[start] {
		headers[i] = CleanCell(h)
	}
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}

	table := &Table{Headers: headers}
	for i := start + 1; i < len(records); i++ {
		rec := records[i]
		if IsEmptyRow(rec) {
			continue
		}
		row := make([]string, len(headers))
		for i := range row {
			if i < len(rec) {
				row[i] = CleanCell(rec[i])
			}
		}
		table.Rows = append(table.Rows, row)
		table.Lines = append(table.Lines, lines[i])
	}
	return table, nil
}

// IsEmptyRow reports whether every cell is blank.
func IsEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and one matched
// pair of enclosing quotes. Apostrophes inside or at one end of a value are
// kept.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	if len(s) >= 2 {
		if q := s[0]; (q == '"' || q == '\'') && s[len(s)-1] == q {
			s = s[1 : len(s)-1]
		}
	}
	return strings.TrimSpace(s)
}
