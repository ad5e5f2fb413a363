package workbook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/store"
)

// fakeTable is one in-memory object in the fake store.
type fakeTable struct {
	cols []store.Column
	rows [][]interface{}
}

// fakeStore implements store.Store entirely in memory.
type fakeStore struct {
	tables map[string]*fakeTable

	dbBytes     int64
	objectBytes map[string]int64

	queryRows *fakeRows
	viewName  string

	failRename map[string]bool
	failDrop   map[string]bool

	closed int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tables:      make(map[string]*fakeTable),
		objectBytes: make(map[string]int64),
		failRename:  make(map[string]bool),
		failDrop:    make(map[string]bool),
	}
}

func (s *fakeStore) Exec(ctx context.Context, sql string, args ...interface{}) error {
	return nil
}

func (s *fakeStore) Query(ctx context.Context, sql string, args ...interface{}) (store.Rows, error) {
	if s.queryRows == nil {
		return nil, errors.SQLError(fmt.Errorf("no result configured"))
	}
	return s.queryRows, nil
}

func (s *fakeStore) QueryView(ctx context.Context, sql string) (store.Rows, string, error) {
	if s.queryRows == nil {
		return nil, "", errors.SQLError(fmt.Errorf("no result configured"))
	}
	return s.queryRows, s.viewName, nil
}

func (s *fakeStore) CreateTable(ctx context.Context, name string, cols []store.Column) error {
	s.tables[name] = &fakeTable{cols: cols}
	return nil
}

func (s *fakeStore) DropObject(ctx context.Context, name string) error {
	if s.failDrop[name] {
		return errors.SQLError(fmt.Errorf("drop refused: %s", name))
	}
	delete(s.tables, name)
	return nil
}

func (s *fakeStore) RenameObject(ctx context.Context, oldName, newName string) error {
	if s.failRename[newName] {
		return errors.SQLError(fmt.Errorf("rename refused: %s", newName))
	}
	t, ok := s.tables[oldName]
	if !ok {
		return errors.SQLError(fmt.Errorf("no such object: %s", oldName))
	}
	delete(s.tables, oldName)
	s.tables[newName] = t
	return nil
}

func (s *fakeStore) Describe(ctx context.Context, name string) ([]store.Column, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, errors.SQLError(fmt.Errorf("no such object: %s", name))
	}
	return t.cols, nil
}

func (s *fakeStore) RowCount(ctx context.Context, name string) (int64, error) {
	t, ok := s.tables[name]
	if !ok {
		return 0, errors.SQLError(fmt.Errorf("no such object: %s", name))
	}
	return int64(len(t.rows)), nil
}

func (s *fakeStore) ObjectBytes(ctx context.Context, name string) (int64, error) {
	return s.objectBytes[name], nil
}

func (s *fakeStore) DatabaseBytes(ctx context.Context) (int64, error) {
	return s.dbBytes, nil
}

func (s *fakeStore) HasObject(ctx context.Context, name string) (bool, error) {
	_, ok := s.tables[name]
	return ok, nil
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

// fakeRows serves a fixed result set.
type fakeRows struct {
	cols   []store.Column
	rows   [][]interface{}
	pos    int
	err    error
	closed bool
}

func (r *fakeRows) Columns() []store.Column { return r.cols }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.rows[r.pos-1]
	for i := range dest {
		*(dest[i].(*interface{})) = row[i]
	}
	return nil
}

func (r *fakeRows) Err() error   { return r.err }
func (r *fakeRows) Close() error { r.closed = true; return nil }

// fakeImporter stages one table per configured dataset name.
type fakeImporter struct {
	datasets []importer.Dataset
	err      error
	staged   int
}

func (f *fakeImporter) Formats() []format.Format {
	return []format.Format{format.Csv}
}

func (f *fakeImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts importer.Options) (*importer.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]importer.Dataset, len(f.datasets))
	for i, ds := range f.datasets {
		f.staged++
		staging := fmt.Sprintf("ff_stage_test%d", f.staged)
		cols := ds.Columns
		if cols == nil {
			cols = []store.Column{{Name: "id", Type: "BIGINT"}, {Name: "val", Type: "VARCHAR"}}
		}
		if err := st.CreateTable(ctx, staging, cols); err != nil {
			return nil, err
		}
		out[i] = ds
		out[i].StagingTable = staging
		out[i].Columns = cols
	}
	return &importer.Result{Datasets: out, ApproxBytes: int64(len(buf))}, nil
}

func newTestWorkbook(st *fakeStore, imp *fakeImporter) *Workbook {
	reg := importer.NewRegistry()
	reg.Register(imp)
	return New(st, reg)
}

func TestAttachRegistersDatasets(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{
		{DefaultName: "orders"},
	}}
	wb := newTestWorkbook(st, imp)

	buf := []byte("id,val\n1,a\n")
	if err := wb.Attach(context.Background(), buf, "orders.csv", format.Auto, importer.Options{HasHeaderRow: true}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	names := wb.DatasetNames()
	if len(names) != 1 || names[0] != "orders" {
		t.Fatalf("dataset names = %v, want [orders]", names)
	}
	if ok, _ := st.HasObject(context.Background(), "orders"); !ok {
		t.Fatal("final table not present in store")
	}
	if ok, _ := st.HasObject(context.Background(), "ff_stage_test1"); ok {
		t.Fatal("staging table survived promotion")
	}

	srcs := wb.Sources()
	if len(srcs) != 1 || srcs[0].Path != "orders.csv" {
		t.Fatalf("sources = %+v", srcs)
	}
	if srcs[0].ApproxBytes != int64(len(buf)) {
		t.Fatalf("ApproxBytes = %d, want %d", srcs[0].ApproxBytes, len(buf))
	}
}

func TestAttachDuplicateSource(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{{DefaultName: "a"}}}
	wb := newTestWorkbook(st, imp)

	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "a.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	err := wb.Attach(ctx, []byte("x"), "a.csv", format.Auto, importer.Options{})
	if !errors.IsCode(err, errors.CodeDuplicateSource) {
		t.Fatalf("second Attach err = %v, want %s", err, errors.CodeDuplicateSource)
	}
}

func TestAttachCrossSourceCollision(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{{DefaultName: "orders"}}}
	wb := newTestWorkbook(st, imp)

	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "orders.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	err := wb.Attach(ctx, []byte("y"), "other/orders.csv", format.Auto, importer.Options{})
	if !errors.IsCode(err, errors.CodeDuplicateDataset) {
		t.Fatalf("err = %v, want %s", err, errors.CodeDuplicateDataset)
	}
	if ok, _ := st.HasObject(ctx, "ff_stage_test2"); ok {
		t.Fatal("staged table not dropped after collision")
	}
	if len(wb.Sources()) != 1 {
		t.Fatalf("sources = %d, want 1", len(wb.Sources()))
	}
}

func TestAttachPromotionRollback(t *testing.T) {
	st := newFakeStore()
	st.failRename["b"] = true
	imp := &fakeImporter{datasets: []importer.Dataset{
		{DefaultName: "a"},
		{DefaultName: "b"},
	}}
	wb := newTestWorkbook(st, imp)

	ctx := context.Background()
	err := wb.Attach(ctx, []byte("x"), "ab.csv", format.Auto, importer.Options{})
	if !errors.IsCode(err, errors.CodeImportFailed) {
		t.Fatalf("err = %v, want %s", err, errors.CodeImportFailed)
	}
	for _, name := range []string{"a", "b", "ff_stage_test1", "ff_stage_test2"} {
		if ok, _ := st.HasObject(ctx, name); ok {
			t.Errorf("object %q survived rollback", name)
		}
	}
	if len(wb.DatasetNames()) != 0 {
		t.Fatalf("datasets registered despite failure: %v", wb.DatasetNames())
	}
}

func TestAttachSameImportCollisionSuffix(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{
		{DefaultName: "data", ObjectName: "Sheet1"},
		{DefaultName: "data", ObjectName: "Sheet2"},
	}}
	wb := newTestWorkbook(st, imp)

	if err := wb.Attach(context.Background(), []byte("x"), "book.xlsx", format.Csv, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	names := wb.DatasetNames()
	want := []string{"data", "data_2"}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("names = %v, want %v", names, want)
	}
}

func TestDetachCascade(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{
		{DefaultName: "a"},
		{DefaultName: "b"},
	}}
	wb := newTestWorkbook(st, imp)

	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "ab.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	st.failDrop["a"] = true

	err := wb.Detach(ctx, "ab.csv")
	if err == nil {
		t.Fatal("Detach returned nil despite drop failure")
	}
	if strings.Count(err.Error(), "\n") != 0 && !strings.Contains(err.Error(), "drop refused") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if len(wb.Sources()) != 0 {
		t.Fatal("source not removed after failed cascade")
	}
	if len(wb.DatasetNames()) != 0 {
		t.Fatalf("registry entries survived detach: %v", wb.DatasetNames())
	}
}

func TestDetachUnknownSource(t *testing.T) {
	wb := newTestWorkbook(newFakeStore(), &fakeImporter{})
	err := wb.Detach(context.Background(), "missing.csv")
	if !errors.IsCode(err, errors.CodeUnknownSource) {
		t.Fatalf("err = %v, want %s", err, errors.CodeUnknownSource)
	}
}

func TestRename(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{
		{DefaultName: "a"},
		{DefaultName: "b"},
	}}
	wb := newTestWorkbook(st, imp)
	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "ab.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	tests := []struct {
		name     string
		from, to string
		wantCode errors.Code
	}{
		{"bad characters", "a", "has space", errors.CodeInvalidName},
		{"leading digit", "a", "1abc", errors.CodeInvalidName},
		{"reserved word", "a", "select", errors.CodeInvalidName},
		{"unknown dataset", "zzz", "ok_name", errors.CodeUnknownDataset},
		{"taken name", "a", "b", errors.CodeDuplicateDataset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wb.Rename(ctx, tt.from, tt.to)
			if !errors.IsCode(err, tt.wantCode) {
				t.Fatalf("Rename(%q, %q) = %v, want %s", tt.from, tt.to, err, tt.wantCode)
			}
		})
	}

	if err := wb.Rename(ctx, "a", "alpha"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	names := wb.DatasetNames()
	if names[0] != "alpha" || names[1] != "b" {
		t.Fatalf("order after rename = %v", names)
	}
	if ok, _ := st.HasObject(ctx, "alpha"); !ok {
		t.Fatal("store object not renamed")
	}
	meta, ok := wb.Dataset("alpha")
	if !ok || meta.DefaultName != "a" {
		t.Fatalf("meta = %+v, ok=%v", meta, ok)
	}
	srcs := wb.Sources()
	if srcs[0].Datasets[0] != "alpha" {
		t.Fatalf("source dataset list = %v", srcs[0].Datasets)
	}

	// Renaming back restores the original name.
	if err := wb.Rename(ctx, "alpha", "a"); err != nil {
		t.Fatalf("Rename back: %v", err)
	}
	if err := wb.Rename(ctx, "a", "a"); err != nil {
		t.Fatalf("same-name rename should be a no-op, got %v", err)
	}
}

func TestListDatasetsPayload(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{{DefaultName: "orders"}}}
	wb := newTestWorkbook(st, imp)
	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "orders.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	st.tables["orders"].rows = [][]interface{}{{1, "a"}, {2, "b"}, {3, "c"}}

	out, err := wb.ListDatasets(ctx)
	if err != nil {
		t.Fatalf("ListDatasets: %v", err)
	}
	var payload struct {
		Sheets []struct {
			Name        string `json:"name"`
			RowCount    int64  `json:"rowCount"`
			ColumnCount int    `json:"columnCount"`
			Columns     []struct {
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"columns"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Sheets) != 1 {
		t.Fatalf("sheets = %d, want 1", len(payload.Sheets))
	}
	sh := payload.Sheets[0]
	if sh.Name != "orders" || sh.RowCount != 3 || sh.ColumnCount != 2 {
		t.Fatalf("sheet = %+v", sh)
	}
	if sh.Columns[0].Name != "id" || sh.Columns[0].Type != "int" {
		t.Fatalf("columns = %+v", sh.Columns)
	}
}

func TestDescribeUnknownDataset(t *testing.T) {
	wb := newTestWorkbook(newFakeStore(), &fakeImporter{})
	_, err := wb.DescribeDataset(context.Background(), "nope")
	if !errors.IsCode(err, errors.CodeUnknownDataset) {
		t.Fatalf("err = %v, want %s", err, errors.CodeUnknownDataset)
	}
}

func TestQueryPayload(t *testing.T) {
	st := newFakeStore()
	st.queryRows = &fakeRows{
		cols: []store.Column{
			{Name: "name", Type: "VARCHAR"},
			{Name: "total", Type: "BIGINT"},
		},
		rows: [][]interface{}{
			{[]byte("widgets"), int64(7)},
			{[]byte("gears"), int64(2)},
		},
	}
	st.viewName = "ff_result_deadbeef"
	wb := newTestWorkbook(st, &fakeImporter{})

	out, err := wb.Query(context.Background(), "SELECT name, total FROM orders")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var payload struct {
		Columns []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"columns"`
		Rows [][]interface{} `json:"rows"`
		Meta struct {
			RuntimeViewName *string `json:"runtimeViewName"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Columns[1].Type != "int" {
		t.Fatalf("columns = %+v", payload.Columns)
	}
	if payload.Rows[0][0] != "widgets" {
		t.Fatalf("byte column not decoded to string: %v", payload.Rows[0][0])
	}
	if payload.Meta.RuntimeViewName == nil || *payload.Meta.RuntimeViewName != "ff_result_deadbeef" {
		t.Fatalf("runtimeViewName = %v", payload.Meta.RuntimeViewName)
	}
	if !st.queryRows.closed {
		t.Fatal("result cursor not closed")
	}
}

func TestQueryEmptyResultAndNullView(t *testing.T) {
	st := newFakeStore()
	st.queryRows = &fakeRows{cols: []store.Column{{Name: "n", Type: "BIGINT"}}}
	wb := newTestWorkbook(st, &fakeImporter{})

	out, err := wb.Query(context.Background(), "SELECT 1 WHERE false")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if !strings.Contains(out, `"rows":[]`) {
		t.Fatalf("empty result must encode rows as [], got %s", out)
	}
	if !strings.Contains(out, `"runtimeViewName":null`) {
		t.Fatalf("missing null view name: %s", out)
	}
}

func TestMemoryStatsTotals(t *testing.T) {
	st := newFakeStore()
	st.dbBytes = 1000
	imp := &fakeImporter{datasets: []importer.Dataset{{DefaultName: "a"}}}
	wb := newTestWorkbook(st, imp)
	ctx := context.Background()
	buf := make([]byte, 250)
	if err := wb.Attach(ctx, buf, "a.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	out, err := wb.MemoryStats(ctx)
	if err != nil {
		t.Fatalf("MemoryStats: %v", err)
	}
	var payload struct {
		ApproxDbBytes         int64 `json:"approxDbBytes"`
		ApproxFileBufferBytes int64 `json:"approxFileBufferBytes"`
		ApproxTotalBytes      int64 `json:"approxTotalBytes"`
		Sources               []struct {
			SourceFilePath   string  `json:"sourceFilePath"`
			SourceObjectName *string `json:"sourceObjectName"`
			ApproxBytes      int64   `json:"approxBytes"`
		} `json:"sources"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.ApproxDbBytes != 1000 || payload.ApproxFileBufferBytes != 250 {
		t.Fatalf("components = %d/%d", payload.ApproxDbBytes, payload.ApproxFileBufferBytes)
	}
	if payload.ApproxTotalBytes != payload.ApproxDbBytes+payload.ApproxFileBufferBytes {
		t.Fatalf("total %d is not the sum of components", payload.ApproxTotalBytes)
	}
	if len(payload.Sources) != 1 || payload.Sources[0].SourceFilePath != "a.csv" {
		t.Fatalf("sources = %+v", payload.Sources)
	}

	if got := wb.TotalApproxBytes(ctx); got != 1250 {
		t.Fatalf("TotalApproxBytes = %d, want 1250", got)
	}
}

func TestSourcePathsOrder(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{{DefaultName: "a"}}}
	wb := newTestWorkbook(st, imp)
	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "first.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	imp.datasets = []importer.Dataset{{DefaultName: "b"}}
	if err := wb.Attach(ctx, []byte("y"), "second.csv", format.Auto, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	out, err := wb.SourcePaths(ctx)
	if err != nil {
		t.Fatalf("SourcePaths: %v", err)
	}
	var payload struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Paths) != 2 || payload.Paths[0] != "first.csv" || payload.Paths[1] != "second.csv" {
		t.Fatalf("paths = %v", payload.Paths)
	}
}

func TestListDatasetSourcesObjectName(t *testing.T) {
	st := newFakeStore()
	imp := &fakeImporter{datasets: []importer.Dataset{
		{DefaultName: "book__sheet1", ObjectName: "Sheet1"},
	}}
	wb := newTestWorkbook(st, imp)
	ctx := context.Background()
	if err := wb.Attach(ctx, []byte("x"), "book.xlsx", format.Csv, importer.Options{}); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	out, err := wb.ListDatasetSources(ctx)
	if err != nil {
		t.Fatalf("ListDatasetSources: %v", err)
	}
	var payload struct {
		Datasets []struct {
			TechnicalName    string  `json:"technicalName"`
			SourceFilePath   string  `json:"sourceFilePath"`
			SourceObjectName *string `json:"sourceObjectName"`
		} `json:"datasets"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	ds := payload.Datasets[0]
	if ds.TechnicalName != "book__sheet1" || ds.SourceFilePath != "book.xlsx" {
		t.Fatalf("dataset = %+v", ds)
	}
	if ds.SourceObjectName == nil || *ds.SourceObjectName != "Sheet1" {
		t.Fatalf("sourceObjectName = %v", ds.SourceObjectName)
	}
}

func TestCloseIdempotent(t *testing.T) {
	st := newFakeStore()
	wb := newTestWorkbook(st, &fakeImporter{})
	if err := wb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := wb.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if st.closed != 1 {
		t.Fatalf("store closed %d times, want 1", st.closed)
	}
	err := wb.Attach(context.Background(), []byte("x"), "a.csv", format.Auto, importer.Options{})
	if err == nil {
		t.Fatal("Attach on closed workbook succeeded")
	}
}

func TestLastSlots(t *testing.T) {
	wb := newTestWorkbook(newFakeStore(), &fakeImporter{})
	wb.SetLastError("boom")
	wb.SetLastJSON(`{"ok":true}`)
	if wb.LastError() != "boom" {
		t.Fatalf("LastError = %q", wb.LastError())
	}
	if wb.LastJSON() != `{"ok":true}` {
		t.Fatalf("LastJSON = %q", wb.LastJSON())
	}
}
