// Package sheet reads report records from, and writes metadata to, Excel
// workbooks.
package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/report-harvester/internal/harvest"
)

// Columns names the header cells the reader looks for.
type Columns struct {
	Index    string
	Direct   string
	Fallback string
}

// DefaultColumns matches the GRI report workbooks.
var DefaultColumns = Columns{
	Index:    "BRnum",
	Direct:   "Pdf_URL",
	Fallback: "Report Html Address",
}

// Table is the first worksheet of a workbook held as strings. Every row has
// len(Header) cells.
type Table struct {
	Header []string
	Rows   [][]string
	// Duplicates lists ids that appeared more than once; only the first row
	// for each was kept.
	Duplicates []string
	// Unsafe lists ids that cannot name a file in the output directory; their
	// rows were skipped.
	Unsafe []string

	index int
}

// Read loads the first worksheet of path and returns it together with the
// records it describes. Rows without an identifier, or whose identifier is
// not a plain file name, are skipped. limit > 0
// keeps only the first limit records, and the table is trimmed to match.
func Read(path string, cols Columns, limit int) (*Table, harvest.Batch, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("read workbook %s: %w", path, err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows of %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("workbook %s has no header row", path)
	}
	return build(rows, cols, limit)
}

func build(rows [][]string, cols Columns, limit int) (*Table, harvest.Batch, error) {
	header := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		header[i] = strings.TrimSpace(cell)
	}
	indexCol, err := column(header, cols.Index)
	if err != nil {
		return nil, nil, err
	}
	directCol, err := column(header, cols.Direct)
	if err != nil {
		return nil, nil, err
	}
	// A workbook without the fallback column simply has no fallbacks.
	fallbackCol, _ := column(header, cols.Fallback)

	table := &Table{Header: header, index: indexCol}
	var batch harvest.Batch
	seen := make(map[string]struct{})
	for _, raw := range rows[1:] {
		if limit > 0 && len(batch) >= limit {
			break
		}
		row := pad(raw, len(header))
		id := strings.TrimSpace(row[indexCol])
		if id == "" {
			continue
		}
		if !harvest.SafeID(id) {
			table.Unsafe = append(table.Unsafe, id)
			continue
		}
		if _, dup := seen[id]; dup {
			table.Duplicates = append(table.Duplicates, id)
			continue
		}
		seen[id] = struct{}{}
		row[indexCol] = id

		rec := harvest.Record{ID: id, DirectURL: strings.TrimSpace(row[directCol])}
		if fallbackCol >= 0 {
			rec.FallbackURL = strings.TrimSpace(row[fallbackCol])
		}
		table.Rows = append(table.Rows, row)
		batch = append(batch, rec)
	}
	return table, batch, nil
}

// IDs returns the identifier of each row in order.
func (t *Table) IDs() []string {
	ids := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		ids[i] = row[t.index]
	}
	return ids
}

// SetColumn adds (or replaces) a column whose value is looked up by row id.
// Rows missing from values get missing.
func (t *Table) SetColumn(name string, values map[string]string, missing string) {
	col := -1
	for i, h := range t.Header {
		if h == name {
			col = i
			break
		}
	}
	if col < 0 {
		t.Header = append(t.Header, name)
		col = len(t.Header) - 1
	}
	for i, row := range t.Rows {
		row = pad(row, len(t.Header))
		v, ok := values[row[t.index]]
		if !ok {
			v = missing
		}
		row[col] = v
		t.Rows[i] = row
	}
}

// Write saves the table as a single-sheet workbook at path, creating parent
// directories as needed.
func Write(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	sheetName := f.GetSheetList()[0]

	write := func(r int, cells []string) error {
		cell, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		values := make([]any, len(cells))
		for i, c := range cells {
			values[i] = c
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", r, err)
		}
		return nil
	}

	if err := write(1, t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := write(i+2, row); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

// MetadataPath names the metadata workbook for source inside dir:
// Metadata{suffix}.xlsx where suffix is everything in the source's base name
// after its first underscore.
func MetadataPath(dir, source string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	suffix := ""
	if _, after, ok := strings.Cut(base, "_"); ok {
		suffix = after
	}
	return filepath.Join(dir, "Metadata"+suffix+".xlsx")
}

func column(header []string, name string) (int, error) {
	for i, h := range header {
		if strings.EqualFold(h, name) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("column %q not found", name)
}

func pad(row []string, n int) []string {
	if len(row) >= n {
		return row[:n:n]
	}
	out := make([]string, n)
	copy(out, row)
	return out
}
