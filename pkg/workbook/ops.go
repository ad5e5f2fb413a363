package workbook

import (
	"context"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/store"
	"github.com/fileforge/fileforge/pkg/telemetry"
)

// ListDatasets returns the canonical dataset listing. Row counts and
// schemas are re-read from the store because verbatim SQL may have
// mutated the tables since import.
func (w *Workbook) ListDatasets(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := listDatasetsPayload{Sheets: make([]sheetPayload, 0, len(w.order))}
	for _, name := range w.order {
		meta := w.datasets[name]
		w.refreshLocked(ctx, meta)
		payload.Sheets = append(payload.Sheets, sheetForMeta(meta))
	}
	return marshal(payload)
}

// DescribeDataset returns the listing entry for one dataset.
func (w *Workbook) DescribeDataset(ctx context.Context, name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	meta, ok := w.datasets[name]
	if !ok {
		return "", errors.UnknownDataset(name)
	}
	w.refreshLocked(ctx, meta)
	return marshal(sheetForMeta(meta))
}

// Query forwards sql verbatim to the store and encodes the result.
func (w *Workbook) Query(ctx context.Context, sql string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "workbook.query")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()

	rows, viewName, err := w.st.QueryView(ctx, sql)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	schema := rows.Columns()
	payload := queryPayload{
		Columns: make([]columnPayload, len(schema)),
		Rows:    [][]interface{}{},
		Meta:    queryMetaPayload{RuntimeViewName: optional(viewName)},
	}
	for i, c := range schema {
		payload.Columns[i] = columnPayload{Name: c.Name, Type: store.TypeLabel(c.Type)}
	}

	values := make([]interface{}, len(schema))
	ptrs := make([]interface{}, len(schema))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", errors.SQLError(err)
		}
		row := make([]interface{}, len(schema))
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			} else {
				row[i] = v
			}
		}
		payload.Rows = append(payload.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return "", errors.SQLError(err)
	}

	return marshal(payload)
}

// ListDatasetSources returns provenance for every dataset.
func (w *Workbook) ListDatasetSources(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := listDatasetSourcesPayload{Datasets: make([]datasetSourcePayload, 0, len(w.order))}
	for _, name := range w.order {
		meta := w.datasets[name]
		payload.Datasets = append(payload.Datasets, datasetSourcePayload{
			TechnicalName:    meta.TechnicalName,
			SourceFilePath:   meta.SourcePath,
			SourceObjectName: optional(meta.ObjectName),
		})
	}
	return marshal(payload)
}

// SourcePaths returns the logical paths in attach order.
func (w *Workbook) SourcePaths(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := sourcePathsPayload{Paths: make([]string, len(w.sources))}
	for i, s := range w.sources {
		payload.Paths[i] = s.Path
	}
	return marshal(payload)
}

// MemoryStats returns per-workbook memory accounting. The total is
// the sum of the two components.
func (w *Workbook) MemoryStats(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dbBytes, err := w.st.DatabaseBytes(ctx)
	if err != nil {
		dbBytes = 0
	}

	payload := workbookMemoryPayload{
		ApproxDbBytes: dbBytes,
		Sources:       make([]sourceMemoryPayload, 0, len(w.sources)),
	}
	for _, s := range w.sources {
		payload.ApproxFileBufferBytes += s.ApproxBytes
		payload.Sources = append(payload.Sources, sourceMemoryPayload{
			SourceFilePath:   s.Path,
			SourceObjectName: sourceObject(w, s),
			ApproxBytes:      s.ApproxBytes,
		})
	}
	payload.ApproxTotalBytes = payload.ApproxDbBytes + payload.ApproxFileBufferBytes
	return marshal(payload)
}

// DatasetMemoryStats returns per-dataset memory accounting.
func (w *Workbook) DatasetMemoryStats(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	payload := listDatasetMemoryPayload{Datasets: make([]datasetMemoryPayload, 0, len(w.order))}
	for _, name := range w.order {
		meta := w.datasets[name]
		if approx, err := w.st.ObjectBytes(ctx, meta.TechnicalName); err == nil && approx > 0 {
			meta.ApproxBytes = approx
		}
		payload.Datasets = append(payload.Datasets, datasetMemoryPayload{
			TechnicalName:    meta.TechnicalName,
			SourceFilePath:   meta.SourcePath,
			SourceObjectName: optional(meta.ObjectName),
			ApproxBytes:      meta.ApproxBytes,
		})
	}
	return marshal(payload)
}

// TotalApproxBytes is the eviction-facing resident cost of this
// workbook: file buffers plus store bytes.
func (w *Workbook) TotalApproxBytes(ctx context.Context) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total int64
	for _, s := range w.sources {
		total += s.ApproxBytes
	}
	if dbBytes, err := w.st.DatabaseBytes(ctx); err == nil {
		total += dbBytes
	}
	return total
}

// refreshLocked re-reads schema and row count for one dataset,
// keeping cached values when the store cannot answer.
func (w *Workbook) refreshLocked(ctx context.Context, meta *DatasetMeta) {
	if cols, err := w.st.Describe(ctx, meta.TechnicalName); err == nil && len(cols) > 0 {
		meta.Columns = cols
	}
	if n, err := w.st.RowCount(ctx, meta.TechnicalName); err == nil {
		meta.RowCount = n
	}
}

// sheetForMeta builds the listing entry for one dataset.
func sheetForMeta(meta *DatasetMeta) sheetPayload {
	cols := make([]columnPayload, len(meta.Columns))
	for i, c := range meta.Columns {
		cols[i] = columnPayload{Name: c.Name, Type: store.TypeLabel(c.Type)}
	}
	return sheetPayload{
		Name:        meta.TechnicalName,
		RowCount:    meta.RowCount,
		ColumnCount: len(meta.Columns),
		Columns:     cols,
	}
}

// sourceObject reports the object name when a source produced exactly
// one object-scoped dataset, otherwise null.
func sourceObject(w *Workbook, s *Source) *string {
	if len(s.Datasets) != 1 {
		return nil
	}
	meta, ok := w.datasets[s.Datasets[0]]
	if !ok {
		return nil
	}
	return optional(meta.ObjectName)
}
