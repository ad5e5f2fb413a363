package importer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/store"
)

const parquetBatchRows = 512

// ParquetImporter stages Parquet buffers by reading them in memory
// through Arrow and inserting rows in batches.
type ParquetImporter struct{}

// NewParquetImporter creates the Parquet importer.
func NewParquetImporter() *ParquetImporter {
	return &ParquetImporter{}
}

// Formats returns the formats this importer handles.
func (i *ParquetImporter) Formats() []format.Format {
	return []format.Format{format.Parquet}
}

// Import stages the buffer as one table.
func (i *ParquetImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "parquet open failed").
			WithContext("file", fileName)
	}
	defer pf.Close()

	rdr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: parquetBatchRows}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "parquet reader failed").
			WithContext("file", fileName)
	}

	tbl, err := rdr.ReadTable(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMalformedInput, "parquet read failed").
			WithContext("file", fileName)
	}
	defer tbl.Release()

	schema := tbl.Schema()
	cols := make([]store.Column, schema.NumFields())
	for idx, f := range schema.Fields() {
		cols[idx] = store.Column{
			Name:     f.Name,
			Type:     arrowStoreType(f.Type),
			Nullable: f.Nullable,
		}
	}

	staging := stagingName()
	if err := st.CreateTable(ctx, staging, cols); err != nil {
		return nil, err
	}

	if err := insertArrowRows(ctx, st, staging, tbl, len(cols)); err != nil {
		st.DropObject(ctx, staging)
		return nil, err
	}

	ds, err := describeStaged(ctx, st, staging, fileName, "")
	if err != nil {
		st.DropObject(ctx, staging)
		return nil, err
	}

	return &Result{
		Datasets:    []Dataset{ds},
		ApproxBytes: int64(len(buf)),
	}, nil
}

// insertArrowRows streams the Arrow table into the staging table in
// multi-row INSERT batches.
func insertArrowRows(ctx context.Context, st store.Store, staging string, tbl arrow.Table, width int) error {
	tr := array.NewTableReader(tbl, parquetBatchRows)
	defer tr.Release()

	rowTuple := "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"

	for tr.Next() {
		rec := tr.Record()
		n := int(rec.NumRows())
		if n == 0 {
			continue
		}

		args := make([]interface{}, 0, n*width)
		for r := 0; r < n; r++ {
			for c := 0; c < width; c++ {
				args = append(args, arrowValue(rec.Column(c), r))
			}
		}

		stmt := fmt.Sprintf("INSERT INTO %s VALUES %s",
			store.QuoteIdent(staging),
			strings.TrimSuffix(strings.Repeat(rowTuple+",", n), ","))
		if err := st.Exec(ctx, stmt, args...); err != nil {
			return errors.Wrap(err, errors.CodeStoreWriteFailed, "parquet batch insert failed")
		}
	}
	return nil
}

// arrowStoreType maps an Arrow type to a store column type.
func arrowStoreType(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return "BIGINT"
	case arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128, arrow.DECIMAL256:
		return "DOUBLE"
	case arrow.BOOL:
		return "BOOLEAN"
	case arrow.DATE32, arrow.DATE64:
		return "DATE"
	case arrow.TIMESTAMP:
		return "TIMESTAMP"
	case arrow.BINARY, arrow.LARGE_BINARY:
		return "BLOB"
	default:
		return "VARCHAR"
	}
}

// arrowValue extracts one cell as a driver-friendly Go value.
func arrowValue(col arrow.Array, row int) interface{} {
	if col.IsNull(row) {
		return nil
	}
	switch a := col.(type) {
	case *array.Int8:
		return int64(a.Value(row))
	case *array.Int16:
		return int64(a.Value(row))
	case *array.Int32:
		return int64(a.Value(row))
	case *array.Int64:
		return a.Value(row)
	case *array.Uint8:
		return int64(a.Value(row))
	case *array.Uint16:
		return int64(a.Value(row))
	case *array.Uint32:
		return int64(a.Value(row))
	case *array.Uint64:
		return int64(a.Value(row))
	case *array.Float32:
		return float64(a.Value(row))
	case *array.Float64:
		return a.Value(row)
	case *array.Boolean:
		return a.Value(row)
	case *array.String:
		return a.Value(row)
	case *array.LargeString:
		return a.Value(row)
	case *array.Binary:
		return a.Value(row)
	case *array.Date32:
		return a.Value(row).ToTime()
	case *array.Date64:
		return a.Value(row).ToTime()
	case *array.Timestamp:
		dt := a.DataType().(*arrow.TimestampType)
		return a.Value(row).ToTime(dt.Unit)
	default:
		return col.ValueStr(row)
	}
}
