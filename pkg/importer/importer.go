// Package importer turns raw file buffers into staged tables in the
// embedded store. Importers register per format; the workbook layer
// finalizes or discards the staged tables.
package importer

import (
	"context"
	"strings"
	"sync"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/store"
)

// ObjectKind filters which spreadsheet objects an import considers.
type ObjectKind uint8

const (
	ObjectAny ObjectKind = iota
	ObjectSheet
	ObjectNamedRange
	ObjectTable
)

// String returns the kind name.
func (k ObjectKind) String() string {
	switch k {
	case ObjectSheet:
		return "sheet"
	case ObjectNamedRange:
		return "namedRange"
	case ObjectTable:
		return "table"
	default:
		return "any"
	}
}

// ParseObjectKind parses a kind string as used in manifests.
func ParseObjectKind(s string) (ObjectKind, error) {
	switch strings.ToLower(s) {
	case "", "any":
		return ObjectAny, nil
	case "sheet":
		return ObjectSheet, nil
	case "namedrange", "named_range":
		return ObjectNamedRange, nil
	case "table":
		return ObjectTable, nil
	default:
		return ObjectAny, errors.New(errors.CodeMalformedInput, "unknown object kind").
			WithContext("kind", s)
	}
}

// Options carries per-import settings. Zero values mean defaults.
type Options struct {
	// Delimiter overrides the format's field delimiter.
	Delimiter byte

	// HasHeaderRow marks the first row as column names.
	HasHeaderRow bool

	// ObjectKind restricts spreadsheet imports to one object class.
	ObjectKind ObjectKind

	// ObjectNames restricts spreadsheet imports to the named objects,
	// imported in the given order.
	ObjectNames []string
}

// Dataset describes one staged table produced by an import.
type Dataset struct {
	// DefaultName is the derived registry name before dedup.
	DefaultName string

	// ObjectName is the source-internal object, empty for single-table
	// formats.
	ObjectName string

	// StagingTable is the temporary table holding the rows.
	StagingTable string

	// Columns is the staged schema.
	Columns []store.Column

	// RowCount is the number of imported rows.
	RowCount int64
}

// Result is the outcome of one import.
type Result struct {
	Datasets []Dataset

	// ApproxBytes is the size of the caller's buffer, charged to the
	// source for accounting.
	ApproxBytes int64
}

// Importer stages the contents of one file format into the store.
// Implementations must not register anything outside their staging
// tables and must drop those tables themselves on failure.
type Importer interface {
	// Formats returns the formats this importer handles.
	Formats() []format.Format

	// Import stages buf into st and describes the staged datasets.
	Import(ctx context.Context, st store.Store, buf []byte, fileName string, opts Options) (*Result, error)
}

// Registry maps formats to importers.
type Registry struct {
	mu        sync.RWMutex
	importers map[format.Format]Importer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{importers: make(map[format.Format]Importer)}
}

// Register adds an importer for all its formats.
func (r *Registry) Register(imp Importer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range imp.Formats() {
		r.importers[f] = imp
	}
}

// Get returns the importer for a format, or an UnsupportedFormat error
// when none is registered. Resolution covers more formats than import;
// the gap surfaces here.
func (r *Registry) Get(f format.Format) (Importer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	imp, ok := r.importers[f]
	if !ok {
		return nil, errors.New(errors.CodeUnsupportedFormat, "no importer registered").
			WithContext("format", f.String())
	}
	return imp, nil
}

// Formats returns the formats with a registered importer.
func (r *Registry) Formats() []format.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]format.Format, 0, len(r.importers))
	for f := range r.importers {
		out = append(out, f)
	}
	return out
}

var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(NewDelimitedImporter())
	r.Register(NewJSONImporter())
	r.Register(NewParquetImporter())
	r.Register(NewExcelImporter())
	r.Register(NewSqliteImporter())
	r.Register(NewDuckDbImporter())
	return r
}()

// DefaultRegistry returns the registry with all built-in importers.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
