// Package handle maps opaque uint64 handles to workbooks and bounds
// the resident set with LRU eviction.
package handle

import (
	"context"
	"sync"

	"github.com/fileforge/fileforge/pkg/errors"
	"github.com/fileforge/fileforge/pkg/format"
	"github.com/fileforge/fileforge/pkg/importer"
	"github.com/fileforge/fileforge/pkg/store"
	"github.com/fileforge/fileforge/pkg/workbook"
)

const (
	// DefaultMaxWorkbooks bounds the number of resident workbooks.
	DefaultMaxWorkbooks = 4

	// DefaultMaxResidentBytes bounds total approximate resident bytes.
	DefaultMaxResidentBytes = 256 << 20
)

// Config tunes the manager.
type Config struct {
	MaxWorkbooks     int
	MaxResidentBytes int64

	// StoreFactory creates the embedded store for each new workbook.
	StoreFactory func() (store.Store, error)

	// Registry supplies the importers; nil means the default set.
	Registry *importer.Registry
}

// DefaultConfig returns the standard limits over the embedded store.
func DefaultConfig() Config {
	return Config{
		MaxWorkbooks:     DefaultMaxWorkbooks,
		MaxResidentBytes: DefaultMaxResidentBytes,
		StoreFactory: func() (store.Store, error) {
			return store.NewDuckStore()
		},
	}
}

type entry struct {
	wb       *workbook.Workbook
	lastUsed uint64
	bytes    int64
}

// Manager is the process-wide handle table. Handle ids are
// monotonically increasing and never reused; 0 signals open failure.
type Manager struct {
	mu  sync.Mutex
	cfg Config

	entries map[uint64]*entry
	nextID  uint64
	clock   uint64 // monotonic touch counter

	lastTouched *workbook.Workbook
}

// NewManager creates a manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.MaxWorkbooks <= 0 {
		cfg.MaxWorkbooks = DefaultMaxWorkbooks
	}
	if cfg.MaxResidentBytes <= 0 {
		cfg.MaxResidentBytes = DefaultMaxResidentBytes
	}
	if cfg.StoreFactory == nil {
		cfg.StoreFactory = func() (store.Store, error) {
			return store.NewDuckStore()
		}
	}
	return &Manager{
		cfg:     cfg,
		entries: make(map[uint64]*entry),
	}
}

// Open creates a workbook from a base file and returns its handle.
// On failure the handle is 0. The just-opened workbook is exempt from
// the eviction pass triggered by its own open.
func (m *Manager) Open(ctx context.Context, buf []byte, path string, declared format.Format, opts importer.Options) (uint64, error) {
	st, err := m.cfg.StoreFactory()
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeOpenFailed, "failed to create store")
	}

	wb := workbook.New(st, m.cfg.Registry)
	if err := wb.Attach(ctx, buf, path, declared, opts); err != nil {
		wb.Close()
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := m.nextID
	m.clock++
	m.entries[id] = &entry{
		wb:       wb,
		lastUsed: m.clock,
		bytes:    wb.TotalApproxBytes(ctx),
	}
	m.lastTouched = wb
	m.evictLocked(ctx, id)
	return id, nil
}

// Get resolves a handle and touches its last-used time.
func (m *Manager) Get(id uint64) (*workbook.Workbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, errors.InvalidHandle(id)
	}
	m.clock++
	e.lastUsed = m.clock
	m.lastTouched = e.wb
	return e.wb, nil
}

// Attach attaches another source to an open workbook and re-runs the
// eviction pass with the grown workbook protected.
func (m *Manager) Attach(ctx context.Context, id uint64, buf []byte, path string, declared format.Format, opts importer.Options) error {
	wb, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := wb.Attach(ctx, buf, path, declared, opts); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.bytes = wb.TotalApproxBytes(ctx)
		m.evictLocked(ctx, id)
	}
	return nil
}

// Close releases a workbook. Closing an unknown handle is a no-op.
func (m *Manager) Close(id uint64) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()

	if ok {
		e.wb.Close()
	}
}

// CloseAll releases every workbook.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = make(map[uint64]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.wb.Close()
	}
}

// Count returns the number of resident workbooks.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// LastTouched returns the most recently used workbook, if any. The
// global last-error and last-json reads go through it.
func (m *Manager) LastTouched() *workbook.Workbook {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTouched
}

// evictLocked closes least-recently-used workbooks until both bounds
// hold. The protected handle is never chosen, so a workbook cannot be
// evicted by the call that created or grew it.
func (m *Manager) evictLocked(ctx context.Context, protect uint64) {
	for {
		var total int64
		for _, e := range m.entries {
			total += e.bytes
		}
		if len(m.entries) <= m.cfg.MaxWorkbooks && total <= m.cfg.MaxResidentBytes {
			return
		}

		victim := uint64(0)
		var oldest uint64
		for id, e := range m.entries {
			if id == protect {
				continue
			}
			if victim == 0 || e.lastUsed < oldest {
				victim = id
				oldest = e.lastUsed
			}
		}
		if victim == 0 {
			return
		}

		e := m.entries[victim]
		delete(m.entries, victim)
		e.wb.Close()
	}
}
