// Package workbook implements the engine context: one embedded store,
// the ordered source table, the dataset registry, and the last-error
// and last-json slots every ABI call writes through.
package workbook

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/store"
	"github.com/fileforge/fileforge/pkg/telemetry"
)

// Source is one attached file in insertion order.
type Source struct {
	Path        string
	Format      format.Format
	Options     importer.Options
	ApproxBytes int64
	Datasets    []string // technical names, kept current across renames
}

// DatasetMeta is the registry entry for one dataset.
type DatasetMeta struct {
	TechnicalName string
	DefaultName   string
	SourcePath    string
	ObjectName    string // empty for single-table sources
	Columns       []store.Column
	RowCount      int64
	ApproxBytes   int64
}

// Workbook owns one embedded store plus the bookkeeping around it.
// All operations serialize on an internal mutex; different workbooks
// can run concurrently.
type Workbook struct {
	mu       sync.Mutex
	st       store.Store
	registry *importer.Registry

	sources  []*Source
	datasets map[string]*DatasetMeta
	order    []string // technical names in registration order

	lastErr  string
	lastJSON string

	createdAt time.Time
	closed    bool
}

// New creates an empty workbook over st.
func New(st store.Store, reg *importer.Registry) *Workbook {
	if reg == nil {
		reg = importer.DefaultRegistry()
	}
	return &Workbook{
		st:        st,
		registry:  reg,
		datasets:  make(map[string]*DatasetMeta),
		createdAt: time.Now(),
	}
}

// Store exposes the embedded store for profiling and quality checks.
func (w *Workbook) Store() store.Store {
	return w.st
}

// Close releases the embedded store. Safe to call twice.
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.st.Close()
}

// SetLastError writes the error slot.
func (w *Workbook) SetLastError(msg string) {
	w.mu.Lock()
	w.lastErr = msg
	w.mu.Unlock()
}

// LastError reads the error slot.
func (w *Workbook) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// SetLastJSON writes the payload slot.
func (w *Workbook) SetLastJSON(payload string) {
	w.mu.Lock()
	w.lastJSON = payload
	w.mu.Unlock()
}

// LastJSON reads the payload slot.
func (w *Workbook) LastJSON() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastJSON
}

// Attach imports buf as a new source at the end of the source table.
// The import is atomic: either every dataset of the source registers,
// or nothing does.
func (w *Workbook) Attach(ctx context.Context, buf []byte, path string, declared format.Format, opts importer.Options) error {
	ctx, span := telemetry.StartSpan(ctx, "workbook.attach")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New(errors.CodeInternal, "workbook is closed")
	}

	for _, s := range w.sources {
		if s.Path == path {
			return errors.DuplicateSource(path)
		}
	}

	f, err := format.Resolve(path, declared)
	if err != nil {
		return err
	}

	imp, err := w.registry.Get(f)
	if err != nil {
		return err
	}

	res, err := imp.Import(ctx, w.st, buf, path, opts)
	if err != nil {
		return err
	}

	dropStaged := func() {
		for _, ds := range res.Datasets {
			w.st.DropObject(ctx, ds.StagingTable)
		}
	}

	// Resolve collisions within this import, then reject cross-source
	// collisions outright.
	names := make([]string, len(res.Datasets))
	for i, ds := range res.Datasets {
		names[i] = ds.DefaultName
	}
	names = importer.EnsureUnique(names)

	for _, name := range names {
		if _, exists := w.datasets[name]; exists {
			dropStaged()
			return errors.DuplicateDataset(name)
		}
	}

	// Promote staged tables to their final names.
	promoted := make([]string, 0, len(names))
	for i, ds := range res.Datasets {
		if err := w.st.RenameObject(ctx, ds.StagingTable, names[i]); err != nil {
			for _, p := range promoted {
				w.st.DropObject(ctx, p)
			}
			dropStaged()
			return errors.Wrap(err, errors.CodeImportFailed, "failed to finalize dataset").
				WithContext("dataset", names[i])
		}
		promoted = append(promoted, names[i])
	}

	src := &Source{
		Path:        path,
		Format:      f,
		Options:     opts,
		ApproxBytes: res.ApproxBytes,
	}
	perDataset := int64(0)
	if n := int64(len(res.Datasets)); n > 0 {
		perDataset = res.ApproxBytes / n
	}
	for i, ds := range res.Datasets {
		approx, berr := w.st.ObjectBytes(ctx, names[i])
		if berr != nil || approx == 0 {
			approx = perDataset
		}
		meta := &DatasetMeta{
			TechnicalName: names[i],
			DefaultName:   names[i],
			SourcePath:    path,
			ObjectName:    ds.ObjectName,
			Columns:       ds.Columns,
			RowCount:      ds.RowCount,
			ApproxBytes:   approx,
		}
		w.datasets[names[i]] = meta
		w.order = append(w.order, names[i])
		src.Datasets = append(src.Datasets, names[i])
	}
	w.sources = append(w.sources, src)

	return nil
}

// Detach removes a source and best-effort drops its datasets. Drop
// failures accumulate into one newline-joined error; the source entry
// and registry entries are removed regardless.
func (w *Workbook) Detach(ctx context.Context, path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := -1
	for i, s := range w.sources {
		if s.Path == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.UnknownSource(path)
	}

	var multi errors.MultiError
	for _, name := range w.sources[idx].Datasets {
		if err := w.st.DropObject(ctx, name); err != nil {
			multi.Add(err)
		}
		delete(w.datasets, name)
		w.removeFromOrder(name)
	}

	w.sources = append(w.sources[:idx], w.sources[idx+1:]...)
	return multi.Combined()
}

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Rename changes a dataset's technical name. The store renames first;
// the registry updates only after the store succeeds.
func (w *Workbook) Rename(ctx context.Context, oldName, newName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !validName.MatchString(newName) {
		return errors.InvalidName(newName, "must match [A-Za-z_][A-Za-z0-9_]*")
	}
	if store.IsReservedWord(newName) {
		return errors.InvalidName(newName, "reserved SQL keyword")
	}

	meta, ok := w.datasets[oldName]
	if !ok {
		return errors.UnknownDataset(oldName)
	}
	if newName == oldName {
		return nil
	}
	if _, taken := w.datasets[newName]; taken {
		return errors.DuplicateDataset(newName)
	}

	if err := w.st.RenameObject(ctx, oldName, newName); err != nil {
		return err
	}

	delete(w.datasets, oldName)
	meta.TechnicalName = newName
	w.datasets[newName] = meta

	for i, n := range w.order {
		if n == oldName {
			w.order[i] = newName
			break
		}
	}
	for _, s := range w.sources {
		for i, n := range s.Datasets {
			if n == oldName {
				s.Datasets[i] = newName
			}
		}
	}
	return nil
}

// removeFromOrder drops one technical name from the ordered list.
func (w *Workbook) removeFromOrder(name string) {
	for i, n := range w.order {
		if n == name {
			w.order = append(w.order[:i], w.order[i+1:]...)
			return
		}
	}
}

// Sources returns the attached sources in insertion order.
func (w *Workbook) Sources() []Source {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Source, len(w.sources))
	for i, s := range w.sources {
		out[i] = *s
		out[i].Datasets = append([]string(nil), s.Datasets...)
	}
	return out
}

// Dataset returns the registry entry for a technical name.
func (w *Workbook) Dataset(name string) (DatasetMeta, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	meta, ok := w.datasets[name]
	if !ok {
		return DatasetMeta{}, false
	}
	return *meta, true
}

// DatasetNames returns technical names in registration order.
func (w *Workbook) DatasetNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.order...)
}
