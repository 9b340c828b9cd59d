package fetcher

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// XLSXOptions configures the XLSX parser.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of header rows to skip
}

// ReadXLSX reads one sheet of an XLSX file and returns all rows as string
// slices.
func ReadXLSX(path string, opts XLSXOptions) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open workbook %s", path)
	}

	var sheet *xlsx.Sheet
	switch {
	case opts.SheetName != "":
		s, ok := findSheet(f, opts.SheetName)
		if !ok {
			return nil, eris.Errorf("fetcher: sheet %q not found in %s", opts.SheetName, path)
		}
		sheet = s
	case opts.SheetIndex >= len(f.Sheets):
		return nil, eris.Errorf("fetcher: sheet index %d out of range (%s has %d sheets)", opts.SheetIndex, path, len(f.Sheets))
	default:
		sheet = f.Sheets[opts.SheetIndex]
	}
	return sheetRows(sheet, opts.SkipRows), nil
}

// ReadXLSXSheets reads the named sheets of a workbook, matching names
// without regard to case or surrounding spaces. Sheets missing from the
// workbook are absent from the result, which is keyed by the requested name.
func ReadXLSXSheets(path string, names ...string) (map[string][][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open workbook %s", path)
	}

	out := make(map[string][][]string, len(names))
	for _, name := range names {
		if sheet, ok := findSheet(f, name); ok {
			out[name] = sheetRows(sheet, 0)
		}
	}
	return out, nil
}

func findSheet(f *xlsx.File, name string) (*xlsx.Sheet, bool) {
	if s, ok := f.Sheet[name]; ok {
		return s, true
	}
	for _, s := range f.Sheets {
		if strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(name)) {
			return s, true
		}
	}
	return nil, false
}

func sheetRows(sheet *xlsx.Sheet, skip int) [][]string {
	var rows [][]string
	for i, row := range sheet.Rows {
		if i < skip {
			continue
		}
		cells := rowToStrings(row)
		if isBlank(cells) {
			continue
		}
		rows = append(rows, cells)
	}
	return rows
}

// rowToStrings reads numeric cells by their stored value, so a price
// formatted as currency on the sheet still parses as a decimal.
func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		if cell.Type() == xlsx.CellTypeNumeric {
			cells[j] = strings.TrimSpace(cell.Value)
			continue
		}
		cells[j] = strings.TrimSpace(cell.String())
	}
	return cells
}
