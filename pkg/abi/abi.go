// Package abi exposes the flat engine surface consumed by host
// bindings. Every call resolves a workbook handle, runs one operation,
// and writes the workbook's last-error slot; payload calls also write
// its last-json slot. Status
// functions return 0 on success and 1 on failure; payload functions
// return the canonical JSON document or "{}" on failure.
package abi

import (
	"context"
	"sync"

	"github.com/fileforge/fileforge/pkg/config"
	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/handle"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/manifest"
	"github.com/fileforge/fileforge/pkg/profile"
	"github.com/fileforge/fileforge/pkg/quality"
	"github.com/fileforge/fileforge/pkg/telemetry"
	"github.com/fileforge/fileforge/pkg/workbook"
)

const (
	// StatusSuccess reports a completed status operation.
	StatusSuccess int32 = 0

	// StatusFailure reports a failed status operation.
	StatusFailure int32 = 1

	// emptyPayload is returned by payload operations on failure.
	emptyPayload = "{}"
)

var (
	mu  sync.Mutex
	mgr *handle.Manager

	// fallback slots serve calls that never reached a workbook:
	// failed opens, invalid handles, calls before Init.
	fallbackErr  string
	fallbackJSON string

	telemetryShutdown func(context.Context) error
)

// Init builds the engine from the global configuration. Calling Init
// again installs the new manager and then closes the previous one.
func Init() int32 {
	cfg := config.Global().Get()

	m := handle.NewManager(handle.Config{
		MaxWorkbooks:     cfg.Limits.MaxWorkbooks,
		MaxResidentBytes: cfg.MaxResidentBytes(),
	})

	var shutdown func(context.Context) error
	if cfg.Telemetry.Enabled {
		tc := telemetry.DefaultConfig()
		tc.Endpoint = cfg.Telemetry.Endpoint
		tc.SamplingRatio = cfg.Telemetry.Sampling
		fn, err := telemetry.Init(context.Background(), tc)
		if err != nil {
			setFallback(errors.Wrap(err, errors.CodeInternal, "telemetry init failed"))
			return StatusFailure
		}
		shutdown = fn
	}

	mu.Lock()
	old := mgr
	mgr = m
	telemetryShutdown = shutdown
	fallbackErr = ""
	fallbackJSON = ""
	mu.Unlock()

	if old != nil {
		old.CloseAll()
	}
	return StatusSuccess
}

// InitWithManager installs a prebuilt manager. Tests use it to run the
// surface over fake stores.
func InitWithManager(m *handle.Manager) {
	mu.Lock()
	old := mgr
	mgr = m
	fallbackErr = ""
	fallbackJSON = ""
	mu.Unlock()

	if old != nil {
		old.CloseAll()
	}
}

// Shutdown closes every workbook and flushes telemetry.
func Shutdown() {
	mu.Lock()
	m := mgr
	mgr = nil
	shutdown := telemetryShutdown
	telemetryShutdown = nil
	mu.Unlock()

	if m != nil {
		m.CloseAll()
	}
	if shutdown != nil {
		_ = shutdown(context.Background())
	}
}

func manager() *handle.Manager {
	mu.Lock()
	defer mu.Unlock()
	return mgr
}

// setFallback records an error that has no workbook to carry it.
func setFallback(err error) {
	mu.Lock()
	fallbackErr = err.Error()
	fallbackJSON = emptyPayload
	mu.Unlock()
}

// clearFallback runs after any call that reached a workbook, so the
// last-error reads come from the workbook slots again.
func clearFallback() {
	mu.Lock()
	fallbackErr = ""
	fallbackJSON = ""
	mu.Unlock()
}

// options builds importer options from the flat argument triple.
func options(f format.Format, delimiter byte, hasHeaderRow bool) importer.Options {
	opts := importer.Options{
		Delimiter:    delimiter,
		HasHeaderRow: hasHeaderRow,
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = format.DefaultDelimiter(f)
	}
	return opts
}

// OpenFile creates a workbook from a file buffer and returns its
// handle, or 0 on failure.
func OpenFile(buf []byte, fileName string, formatCode int32, delimiter byte, hasHeaderRow bool) uint64 {
	m := manager()
	if m == nil {
		setFallback(errors.New(errors.CodeInternal, "engine not initialized"))
		return 0
	}

	f, err := format.FromCode(formatCode)
	if err != nil {
		setFallback(err)
		return 0
	}

	id, err := m.Open(context.Background(), buf, fileName, f, options(f, delimiter, hasHeaderRow))
	if err != nil {
		setFallback(err)
		return 0
	}
	clearFallback()
	if wb, werr := m.Get(id); werr == nil {
		wb.SetLastError("")
	}
	return id
}

// statusOp resolves the handle, runs op, and maps the outcome to a
// status code while keeping the workbook slots current.
func statusOp(id uint64, op func(ctx context.Context, wb *workbook.Workbook) error) int32 {
	m := manager()
	if m == nil {
		setFallback(errors.New(errors.CodeInternal, "engine not initialized"))
		return StatusFailure
	}
	wb, err := m.Get(id)
	if err != nil {
		setFallback(err)
		return StatusFailure
	}
	clearFallback()

	if err := op(context.Background(), wb); err != nil {
		wb.SetLastError(err.Error())
		return StatusFailure
	}
	wb.SetLastError("")
	return StatusSuccess
}

// payloadOp resolves the handle, runs op, and returns the payload or
// "{}" while keeping the workbook slots current.
func payloadOp(id uint64, op func(ctx context.Context, wb *workbook.Workbook) (string, error)) string {
	m := manager()
	if m == nil {
		setFallback(errors.New(errors.CodeInternal, "engine not initialized"))
		return emptyPayload
	}
	wb, err := m.Get(id)
	if err != nil {
		setFallback(err)
		return emptyPayload
	}
	clearFallback()

	out, err := op(context.Background(), wb)
	if err != nil {
		wb.SetLastError(err.Error())
		wb.SetLastJSON(emptyPayload)
		return emptyPayload
	}
	wb.SetLastError("")
	wb.SetLastJSON(out)
	return out
}

// AttachFile imports another file into an open workbook.
func AttachFile(id uint64, buf []byte, fileName string, formatCode int32, delimiter byte, hasHeaderRow bool) int32 {
	m := manager()
	if m == nil {
		setFallback(errors.New(errors.CodeInternal, "engine not initialized"))
		return StatusFailure
	}
	wb, err := m.Get(id)
	if err != nil {
		setFallback(err)
		return StatusFailure
	}
	clearFallback()

	f, err := format.FromCode(formatCode)
	if err != nil {
		wb.SetLastError(err.Error())
		return StatusFailure
	}
	if err := m.Attach(context.Background(), id, buf, fileName, f, options(f, delimiter, hasHeaderRow)); err != nil {
		wb.SetLastError(err.Error())
		return StatusFailure
	}
	wb.SetLastError("")
	return StatusSuccess
}

// DetachSource removes a source and its datasets from a workbook.
func DetachSource(id uint64, path string) int32 {
	return statusOp(id, func(ctx context.Context, wb *workbook.Workbook) error {
		return wb.Detach(ctx, path)
	})
}

// RenameDataset changes a dataset's technical name.
func RenameDataset(id uint64, oldName, newName string) int32 {
	return statusOp(id, func(ctx context.Context, wb *workbook.Workbook) error {
		return wb.Rename(ctx, oldName, newName)
	})
}

// ListDatasets returns the dataset listing payload.
func ListDatasets(id uint64) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.ListDatasets(ctx)
	})
}

// DescribeDataset returns the listing entry for one dataset.
func DescribeDataset(id uint64, name string) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.DescribeDataset(ctx, name)
	})
}

// Query runs sql verbatim against the workbook store.
func Query(id uint64, sql string) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.Query(ctx, sql)
	})
}

// ProfileDataset computes per-column statistics for one dataset.
func ProfileDataset(id uint64, name string) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return profile.Dataset(ctx, wb, name)
	})
}

// EvaluateQualityRules runs a JSON rule configuration against one
// dataset and returns the evaluation report.
func EvaluateQualityRules(id uint64, name, rulesJSON string) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return quality.Evaluate(ctx, wb, name, []byte(rulesJSON))
	})
}

// ListDatasetSources returns provenance for every dataset.
func ListDatasetSources(id uint64) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.ListDatasetSources(ctx)
	})
}

// GetWorkbookSourcePaths returns the attached paths in order.
func GetWorkbookSourcePaths(id uint64) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.SourcePaths(ctx)
	})
}

// GetWorkbookMemoryStats returns per-workbook memory accounting.
func GetWorkbookMemoryStats(id uint64) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.MemoryStats(ctx)
	})
}

// ListDatasetMemoryStats returns per-dataset memory accounting.
func ListDatasetMemoryStats(id uint64) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		return wb.DatasetMemoryStats(ctx)
	})
}

// ExportProjectManifest serializes the workbook's sources and renames
// as a manifest document.
func ExportProjectManifest(id uint64, projectName string) string {
	return payloadOp(id, func(ctx context.Context, wb *workbook.Workbook) (string, error) {
		m, err := manifest.Export(wb, projectName)
		if err != nil {
			return "", err
		}
		return m.Encode()
	})
}

// CloseFile releases a workbook. Closing an unknown handle succeeds.
func CloseFile(id uint64) int32 {
	m := manager()
	if m == nil {
		setFallback(errors.New(errors.CodeInternal, "engine not initialized"))
		return StatusFailure
	}
	m.Close(id)
	return StatusSuccess
}

// GetLastError returns the error message of the most recent failing
// call, or the empty string after a success.
func GetLastError() string {
	mu.Lock()
	fe := fallbackErr
	m := mgr
	mu.Unlock()

	if fe != "" {
		return fe
	}
	if m == nil {
		return ""
	}
	if wb := m.LastTouched(); wb != nil {
		return wb.LastError()
	}
	return ""
}

// GetLastJson returns the payload of the most recent payload call on
// the most recently touched workbook.
func GetLastJson() string {
	mu.Lock()
	fj := fallbackJSON
	m := mgr
	mu.Unlock()

	if fj != "" {
		return fj
	}
	if m == nil {
		return emptyPayload
	}
	if wb := m.LastTouched(); wb != nil {
		if j := wb.LastJSON(); j != "" {
			return j
		}
	}
	return emptyPayload
}
