package abi

import (
	"context"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/handle"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/store"
)

type fakeRows struct {
	cols []store.Column
	rows [][]interface{}
	pos  int
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
func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

type fakeStore struct {
	objects map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string]bool)}
}

func (s *fakeStore) Exec(ctx context.Context, sql string, args ...interface{}) error { return nil }
func (s *fakeStore) Query(ctx context.Context, sql string, args ...interface{}) (store.Rows, error) {
	return &fakeRows{
		cols: []store.Column{{Name: "v", Type: "VARCHAR"}},
		rows: [][]interface{}{{"one"}},
	}, nil
}
func (s *fakeStore) QueryView(ctx context.Context, sql string) (store.Rows, string, error) {
	rows, err := s.Query(ctx, sql)
	return rows, "ff_result_1", err
}
func (s *fakeStore) CreateTable(ctx context.Context, name string, cols []store.Column) error {
	s.objects[name] = true
	return nil
}
func (s *fakeStore) DropObject(ctx context.Context, name string) error {
	delete(s.objects, name)
	return nil
}
func (s *fakeStore) RenameObject(ctx context.Context, oldName, newName string) error {
	delete(s.objects, oldName)
	s.objects[newName] = true
	return nil
}
func (s *fakeStore) Describe(ctx context.Context, name string) ([]store.Column, error) {
	return []store.Column{{Name: "v", Type: "VARCHAR"}}, nil
}
func (s *fakeStore) RowCount(ctx context.Context, name string) (int64, error)    { return 1, nil }
func (s *fakeStore) ObjectBytes(ctx context.Context, name string) (int64, error) { return 10, nil }
func (s *fakeStore) DatabaseBytes(ctx context.Context) (int64, error)            { return 100, nil }
func (s *fakeStore) HasObject(ctx context.Context, name string) (bool, error) {
	return s.objects[name], nil
}
func (s *fakeStore) Close() error { return nil }

type fakeImporter struct{}

func (f *fakeImporter) Formats() []format.Format { return []format.Format{format.Csv} }

func (f *fakeImporter) Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts importer.Options) (*importer.Result, error) {
	staging := "ff_stage_1"
	if err := st.CreateTable(ctx, staging, []store.Column{{Name: "v", Type: "VARCHAR"}}); err != nil {
		return nil, err
	}
	return &importer.Result{
		Datasets: []importer.Dataset{{
			DefaultName:  importer.DefaultName(fileName, ""),
			StagingTable: staging,
			Columns:      []store.Column{{Name: "v", Type: "VARCHAR"}},
			RowCount:     1,
		}},
		ApproxBytes: int64(len(buf)),
	}, nil
}

func initTestEngine(t *testing.T) {
	t.Helper()
	reg := importer.NewRegistry()
	reg.Register(&fakeImporter{})
	InitWithManager(handle.NewManager(handle.Config{
		MaxWorkbooks:     8,
		MaxResidentBytes: 1 << 30,
		StoreFactory: func() (store.Store, error) {
			return newFakeStore(), nil
		},
		Registry: reg,
	}))
	t.Cleanup(Shutdown)
}

func TestOpenFileReturnsHandle(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "orders.csv", int32(format.Csv), 0, true)
	if id == 0 {
		t.Fatalf("open failed: %s", GetLastError())
	}
	if got := GetLastError(); got != "" {
		t.Fatalf("last error = %q, want empty", got)
	}
}

func TestOpenFileBadFormatCode(t *testing.T) {
	initTestEngine(t)

	if id := OpenFile(nil, "orders.bin", 99, 0, true); id != 0 {
		t.Fatalf("id = %d, want 0", id)
	}
	if GetLastError() == "" {
		t.Fatal("last error should be set")
	}
	if got := GetLastJson(); got != "{}" {
		t.Fatalf("last json = %q, want {}", got)
	}
}

func TestPayloadFlowsThroughLastJson(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "orders.csv", int32(format.Csv), 0, true)
	if id == 0 {
		t.Fatalf("open failed: %s", GetLastError())
	}

	out := ListDatasets(id)
	if out == "{}" {
		t.Fatalf("list failed: %s", GetLastError())
	}
	if GetLastJson() != out {
		t.Fatal("last json does not match returned payload")
	}

	var doc struct {
		Sheets []struct {
			Name string `json:"name"`
		} `json:"sheets"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if len(doc.Sheets) != 1 || doc.Sheets[0].Name != "orders" {
		t.Fatalf("sheets = %+v", doc.Sheets)
	}
}

func TestInvalidHandleYieldsEmptyPayload(t *testing.T) {
	initTestEngine(t)

	if out := ListDatasets(42); out != "{}" {
		t.Fatalf("payload = %q, want {}", out)
	}
	if !strings.Contains(GetLastError(), "42") {
		t.Fatalf("last error = %q, want handle id", GetLastError())
	}
	if GetLastJson() != "{}" {
		t.Fatalf("last json = %q, want {}", GetLastJson())
	}
}

func TestStatusOps(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "orders.csv", int32(format.Csv), 0, true)
	if id == 0 {
		t.Fatalf("open failed: %s", GetLastError())
	}

	if got := RenameDataset(id, "orders", "sales"); got != StatusSuccess {
		t.Fatalf("rename status = %d: %s", got, GetLastError())
	}
	if got := RenameDataset(id, "orders", "again"); got != StatusFailure {
		t.Fatal("rename of missing dataset should fail")
	}
	if GetLastError() == "" {
		t.Fatal("failed rename should set last error")
	}

	if got := DetachSource(id, "orders.csv"); got != StatusSuccess {
		t.Fatalf("detach status = %d: %s", got, GetLastError())
	}
	if got := DetachSource(id, "orders.csv"); got != StatusFailure {
		t.Fatal("detach of unknown source should fail")
	}
}

func TestAttachFileGrowsWorkbook(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "a.csv", int32(format.Csv), 0, true)
	if id == 0 {
		t.Fatalf("open failed: %s", GetLastError())
	}
	if got := AttachFile(id, []byte("v\n2\n"), "b.csv", int32(format.Csv), 0, true); got != StatusSuccess {
		t.Fatalf("attach status = %d: %s", got, GetLastError())
	}
	if got := AttachFile(id, []byte("v\n3\n"), "a.csv", int32(format.Csv), 0, true); got != StatusFailure {
		t.Fatal("duplicate source should fail")
	}

	var doc struct {
		Paths []string `json:"paths"`
	}
	if err := json.Unmarshal([]byte(GetWorkbookSourcePaths(id)), &doc); err != nil {
		t.Fatalf("paths payload: %v", err)
	}
	if len(doc.Paths) != 2 || doc.Paths[0] != "a.csv" || doc.Paths[1] != "b.csv" {
		t.Fatalf("paths = %v", doc.Paths)
	}
}

func TestQueryPayload(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "a.csv", int32(format.Csv), 0, true)
	out := Query(id, "SELECT * FROM a")
	if out == "{}" {
		t.Fatalf("query failed: %s", GetLastError())
	}
	var doc struct {
		Rows [][]interface{} `json:"rows"`
		Meta struct {
			RuntimeViewName *string `json:"runtimeViewName"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("query payload: %v", err)
	}
	if len(doc.Rows) != 1 {
		t.Fatalf("rows = %v", doc.Rows)
	}
	if doc.Meta.RuntimeViewName == nil || *doc.Meta.RuntimeViewName != "ff_result_1" {
		t.Fatalf("view name = %v", doc.Meta.RuntimeViewName)
	}
}

func TestEvaluateQualityRules(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "a.csv", int32(format.Csv), 0, true)
	out := EvaluateQualityRules(id, "a", `{"rules":[{"type":"not_null","column":"v"}]}`)
	if out == "{}" {
		t.Fatalf("evaluate failed: %s", GetLastError())
	}
	var doc struct {
		Passed bool `json:"passed"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("report payload: %v", err)
	}
	if !doc.Passed {
		t.Fatal("report should pass")
	}

	if out := EvaluateQualityRules(id, "a", `{"rules":[]}`); out != "{}" {
		t.Fatalf("empty rules payload = %q, want {}", out)
	}
}

func TestExportProjectManifest(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "data/a.csv", int32(format.Csv), 0, true)
	out := ExportProjectManifest(id, "")
	if out == "{}" {
		t.Fatalf("export failed: %s", GetLastError())
	}
	var doc struct {
		SchemaVersion int    `json:"schemaVersion"`
		ProjectName   string `json:"projectName"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("manifest payload: %v", err)
	}
	if doc.SchemaVersion != 1 {
		t.Fatalf("schemaVersion = %d, want 1", doc.SchemaVersion)
	}
	if doc.ProjectName != "a" {
		t.Fatalf("projectName = %q, want a", doc.ProjectName)
	}
}

func TestCloseFileIdempotent(t *testing.T) {
	initTestEngine(t)

	id := OpenFile([]byte("v\n1\n"), "a.csv", int32(format.Csv), 0, true)
	if got := CloseFile(id); got != StatusSuccess {
		t.Fatalf("close status = %d", got)
	}
	if got := CloseFile(id); got != StatusSuccess {
		t.Fatal("closing an unknown handle should succeed")
	}
	if out := ListDatasets(id); out != "{}" {
		t.Fatalf("payload after close = %q, want {}", out)
	}
}

func TestUninitializedEngine(t *testing.T) {
	InitWithManager(nil)
	t.Cleanup(Shutdown)

	if id := OpenFile(nil, "a.csv", int32(format.Csv), 0, true); id != 0 {
		t.Fatalf("id = %d, want 0", id)
	}
	if !strings.Contains(GetLastError(), "not initialized") {
		t.Fatalf("last error = %q", GetLastError())
	}
}
