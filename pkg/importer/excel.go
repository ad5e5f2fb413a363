package importer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/store"
)

// ExcelImporter stages workbook sheets, named ranges, and tables from
// OOXML spreadsheets. All staged columns are VARCHAR.
type ExcelImporter struct{}

// NewExcelImporter creates the spreadsheet importer.
func NewExcelImporter() *ExcelImporter {
	return &ExcelImporter{}
}

// Formats returns the formats this importer handles.
func (i *ExcelImporter) Formats() []format.Format {
	return []format.Format{format.Xlsx, format.Xlsm, format.Xltx}
}

// excelObject is one importable region of the workbook.
type excelObject struct {
	kind  ObjectKind
	name  string
	sheet string
	ref   string // A1-style range for ranges and tables, empty for sheets
}

// Import stages every selected object as its own table.
func (i *ExcelImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error) {
	xl, err := excelize.OpenReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "failed to open spreadsheet").
			WithContext("file", fileName)
	}
	defer xl.Close()

	objects, err := selectObjects(xl, opts)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, errors.New(errors.CodeImportFailed, "no importable objects").
			WithContext("file", fileName)
	}

	var staged []string
	dropStaged := func() {
		for _, s := range staged {
			st.DropObject(ctx, s)
		}
	}

	var datasets []Dataset
	for _, obj := range objects {
		rows, err := readObjectRows(xl, obj)
		if err != nil {
			dropStaged()
			return nil, err
		}
		if len(rows) == 0 {
			if len(opts.ObjectNames) > 0 {
				dropStaged()
				return nil, errors.New(errors.CodeMalformedInput, "object is empty").
					WithContext("object", obj.name)
			}
			continue
		}

		staging, cols, count, err := stageStringRows(ctx, st, rows, opts.HasHeaderRow)
		if err != nil {
			dropStaged()
			return nil, errors.Wrapf(err, errors.CodeImportFailed, "failed to stage object %q", obj.name)
		}
		staged = append(staged, staging)

		datasets = append(datasets, Dataset{
			DefaultName:  DefaultName(fileName, obj.name),
			ObjectName:   obj.name,
			StagingTable: staging,
			Columns:      cols,
			RowCount:     count,
		})
	}

	if len(datasets) == 0 {
		return nil, errors.New(errors.CodeImportFailed, "no importable objects").
			WithContext("file", fileName)
	}

	return &Result{
		Datasets:    datasets,
		ApproxBytes: int64(len(buf)),
	}, nil
}

// selectObjects enumerates workbook objects and applies the kind and
// ordered name filters.
func selectObjects(xl *excelize.File, opts Options) ([]excelObject, error) {
	var all []excelObject

	if opts.ObjectKind == ObjectAny || opts.ObjectKind == ObjectSheet {
		for _, sheet := range xl.GetSheetList() {
			all = append(all, excelObject{kind: ObjectSheet, name: sheet, sheet: sheet})
		}
	}

	if opts.ObjectKind == ObjectAny || opts.ObjectKind == ObjectNamedRange {
		for _, dn := range xl.GetDefinedName() {
			sheet, ref, err := splitAreaRef(dn.RefersTo)
			if err != nil {
				continue // non-rectangular or external names are not importable
			}
			all = append(all, excelObject{kind: ObjectNamedRange, name: dn.Name, sheet: sheet, ref: ref})
		}
	}

	if opts.ObjectKind == ObjectAny || opts.ObjectKind == ObjectTable {
		for _, sheet := range xl.GetSheetList() {
			tables, err := xl.GetTables(sheet)
			if err != nil {
				continue
			}
			for _, tbl := range tables {
				all = append(all, excelObject{kind: ObjectTable, name: tbl.Name, sheet: sheet, ref: tbl.Range})
			}
		}
	}

	if len(opts.ObjectNames) == 0 {
		return all, nil
	}

	byName := make(map[string]excelObject, len(all))
	for _, obj := range all {
		if _, dup := byName[obj.name]; !dup {
			byName[obj.name] = obj
		}
	}

	out := make([]excelObject, 0, len(opts.ObjectNames))
	for _, want := range opts.ObjectNames {
		obj, ok := byName[want]
		if !ok {
			return nil, errors.New(errors.CodeMalformedInput, "object not found").
				WithContext("object", want)
		}
		out = append(out, obj)
	}
	return out, nil
}

// readObjectRows materializes the cell grid of one object.
func readObjectRows(xl *excelize.File, obj excelObject) ([][]string, error) {
	if obj.ref == "" {
		return readSheetRows(xl, obj.sheet)
	}
	return readRangeRows(xl, obj.sheet, obj.ref)
}

// readSheetRows streams a whole sheet.
func readSheetRows(xl *excelize.File, sheet string) ([][]string, error) {
	it, err := xl.Rows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeMalformedInput, "failed to read sheet %q", sheet)
	}
	defer it.Close()

	var rows [][]string
	for it.Next() {
		cells, err := it.Columns()
		if err != nil {
			return nil, errors.Wrapf(err, errors.CodeMalformedInput, "failed to read sheet %q", sheet)
		}
		rows = append(rows, cells)
	}
	return rows, it.Error()
}

// readRangeRows reads a rectangular A1-style range cell by cell.
func readRangeRows(xl *excelize.File, sheet, ref string) ([][]string, error) {
	parts := strings.SplitN(ref, ":", 2)
	if len(parts) != 2 {
		return nil, errors.New(errors.CodeMalformedInput, "range is not rectangular").
			WithContext("range", ref)
	}
	c1, r1, err := excelize.CellNameToCoordinates(strings.ReplaceAll(parts[0], "$", ""))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "bad range start")
	}
	c2, r2, err := excelize.CellNameToCoordinates(strings.ReplaceAll(parts[1], "$", ""))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "bad range end")
	}
	if c2 < c1 || r2 < r1 {
		return nil, errors.New(errors.CodeMalformedInput, "inverted range").WithContext("range", ref)
	}

	rows := make([][]string, 0, r2-r1+1)
	for r := r1; r <= r2; r++ {
		row := make([]string, 0, c2-c1+1)
		for c := c1; c <= c2; c++ {
			cell, err := excelize.CoordinatesToCellName(c, r)
			if err != nil {
				return nil, errors.Wrap(err, errors.CodeMalformedInput, "bad cell coordinate")
			}
			val, err := xl.GetCellValue(sheet, cell)
			if err != nil {
				return nil, errors.Wrapf(err, errors.CodeMalformedInput, "failed to read cell %s", cell)
			}
			row = append(row, val)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// splitAreaRef splits a defined-name reference like 'My Sheet'!$A$1:$B$5
// into sheet and range.
func splitAreaRef(refersTo string) (sheet, ref string, err error) {
	if strings.Contains(refersTo, ",") {
		return "", "", fmt.Errorf("multi-area reference")
	}
	idx := strings.LastIndexByte(refersTo, '!')
	if idx < 0 {
		return "", "", fmt.Errorf("no sheet qualifier")
	}
	sheet = strings.Trim(refersTo[:idx], "'")
	ref = strings.ReplaceAll(refersTo[idx+1:], "$", "")
	if !strings.Contains(ref, ":") {
		ref = ref + ":" + ref
	}
	return sheet, ref, nil
}

// stageStringRows creates a VARCHAR staging table from a cell grid.
func stageStringRows(ctx context.Context, st store.Store, rows [][]string, hasHeader bool) (string, []store.Column, int64, error) {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return "", nil, 0, fmt.Errorf("object has no cells")
	}

	names := make([]string, width)
	data := rows
	if hasHeader {
		header := rows[0]
		data = rows[1:]
		for i := 0; i < width; i++ {
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				names[i] = header[i]
			} else {
				names[i] = fmt.Sprintf("column%d", i)
			}
		}
		names = EnsureUnique(names)
	} else {
		for i := 0; i < width; i++ {
			names[i] = fmt.Sprintf("column%d", i)
		}
	}

	cols := make([]store.Column, width)
	for i, n := range names {
		cols[i] = store.Column{Name: n, Type: "VARCHAR", Nullable: true}
	}

	staging := stagingName()
	if err := st.CreateTable(ctx, staging, cols); err != nil {
		return "", nil, 0, err
	}

	values := make([][]interface{}, len(data))
	for r, row := range data {
		rec := make([]interface{}, width)
		for c := 0; c < width; c++ {
			if c < len(row) {
				rec[c] = row[c]
			}
		}
		values[r] = rec
	}

	if err := insertValueRows(ctx, st, staging, width, values); err != nil {
		st.DropObject(ctx, staging)
		return "", nil, 0, err
	}

	return staging, cols, int64(len(data)), nil
}

const insertBatchRows = 500

// insertValueRows loads rows into a staging table in multi-row
// INSERT batches.
func insertValueRows(ctx context.Context, st store.Store, table string, width int, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	rowTuple := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"

	for start := 0; start < len(rows); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		args := make([]interface{}, 0, len(batch)*width)
		for _, row := range batch {
			args = append(args, row...)
		}

		stmt := fmt.Sprintf("INSERT INTO %s VALUES %s",
			store.QuoteIdent(table),
			strings.TrimSuffix(strings.Repeat(rowTuple+",", len(batch)), ","))
		if err := st.Exec(ctx, stmt, args...); err != nil {
			return errors.Wrap(err, errors.CodeStoreWriteFailed, "batch insert failed")
		}
	}
	return nil
}
