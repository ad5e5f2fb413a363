// Package profile computes per-column statistics for a dataset using
// the store's aggregate functions: null counts, distinct cardinality,
// Shannon entropy, and value bounds.
package profile

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/store"
	"github.com/fileforge/fileforge/pkg/telemetry"
	"github.com/fileforge/fileforge/pkg/workbook"
)

// maxConcurrentColumns bounds the number of in-flight column queries.
const maxConcurrentColumns = 4

// ColumnProfile is the computed statistics for one column.
type ColumnProfile struct {
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	NullCount     int64   `json:"nullCount"`
	DistinctCount int64   `json:"distinctCount"`
	Entropy       float64 `json:"entropy"`
	Min           *string `json:"min"`
	Max           *string `json:"max"`
}

// DatasetProfile is the full profile payload for one dataset.
type DatasetProfile struct {
	Dataset  string          `json:"dataset"`
	RowCount int64           `json:"rowCount"`
	Columns  []ColumnProfile `json:"columns"`
}

// Dataset profiles one dataset of a workbook and returns the canonical
// JSON payload. Columns are analyzed concurrently; results keep schema
// order.
func Dataset(ctx context.Context, wb *workbook.Workbook, name string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "profile.dataset")
	defer span.End()

	meta, ok := wb.Dataset(name)
	if !ok {
		return "", errors.UnknownDataset(name)
	}
	st := wb.Store()

	rowCount, err := st.RowCount(ctx, meta.TechnicalName)
	if err != nil {
		return "", err
	}

	out := DatasetProfile{
		Dataset:  meta.TechnicalName,
		RowCount: rowCount,
		Columns:  make([]ColumnProfile, len(meta.Columns)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentColumns)
	for i, col := range meta.Columns {
		i, col := i, col
		g.Go(func() error {
			cp, err := profileColumn(ctx, st, meta.TechnicalName, col, rowCount)
			if err != nil {
				return err
			}
			out.Columns[i] = cp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "profile encoding failed")
	}
	return string(data), nil
}

// profileColumn runs one aggregate query for one column.
func profileColumn(ctx context.Context, st store.Store, table string, col store.Column, rowCount int64) (ColumnProfile, error) {
	cp := ColumnProfile{Name: col.Name, Type: store.TypeLabel(col.Type)}

	q := fmt.Sprintf(
		`SELECT count(%[1]s), approx_count_distinct(%[1]s), entropy(%[1]s), min(%[1]s), max(%[1]s) FROM %[2]s`,
		store.QuoteIdent(col.Name), store.QuoteIdent(table),
	)
	rows, err := st.Query(ctx, q)
	if err != nil {
		return cp, err
	}
	defer rows.Close()

	if !rows.Next() {
		return cp, rows.Err()
	}

	var nonNull, distinct interface{}
	var entropy interface{}
	var minVal, maxVal interface{}
	if err := rows.Scan(&nonNull, &distinct, &entropy, &minVal, &maxVal); err != nil {
		return cp, errors.SQLError(err)
	}

	cp.NullCount = rowCount - toInt64(nonNull)
	cp.DistinctCount = toInt64(distinct)
	cp.Entropy = toFloat64(entropy)
	cp.Min = stringify(minVal)
	cp.Max = stringify(maxVal)
	return cp, rows.Err()
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// stringify renders a bound value for the payload; nulls stay null.
func stringify(v interface{}) *string {
	if v == nil {
		return nil
	}
	var s string
	if b, ok := v.([]byte); ok {
		s = string(b)
	} else {
		s = fmt.Sprint(v)
	}
	return &s
}
