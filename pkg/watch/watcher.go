// Package watch monitors attached source files and re-imports them
// into their workbook when they change on disk.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces rapid write bursts into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher monitors source files for changes and triggers reloads.
type Watcher struct {
	watcher  *fsnotify.Watcher
	sources  map[string]*sourceState
	mu       sync.RWMutex
	debounce time.Duration

	// OnChange runs after a watched file settles; the path is absolute.
	OnChange func(path string) error

	// OnError receives stat and reload failures.
	OnError func(path string, err error)
}

type sourceState struct {
	path         string
	lastModified time.Time
	size         int64
	reloading    bool
}

// NewWatcher creates a watcher with the default debounce window.
func NewWatcher() (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		watcher:  fsWatcher,
		sources:  make(map[string]*sourceState),
		debounce: DefaultDebounce,
	}, nil
}

// Watch registers one source file. The containing directory is
// watched; rename-and-replace writes still produce events that way.
func (w *Watcher) Watch(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	w.mu.Lock()
	w.sources[absPath] = &sourceState{
		path:         absPath,
		lastModified: stat.ModTime(),
		size:         stat.Size(),
	}
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(absPath)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	return nil
}

// Run drives the event loop. Blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	debounceTimers := make(map[string]*time.Timer)
	var timerMu sync.Mutex

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			absPath, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}

			w.mu.RLock()
			state, isWatched := w.sources[absPath]
			w.mu.RUnlock()
			if !isWatched {
				continue
			}

			timerMu.Lock()
			if timer, exists := debounceTimers[absPath]; exists {
				timer.Stop()
			}
			debounceTimers[absPath] = time.AfterFunc(w.debounce, func() {
				w.handleChange(absPath, state)
			})
			timerMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError("", err)
			}
		}
	}
}

func (w *Watcher) handleChange(path string, state *sourceState) {
	w.mu.Lock()
	if state.reloading {
		w.mu.Unlock()
		return
	}
	state.reloading = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.reloading = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(path)
	if err != nil {
		if w.OnError != nil {
			w.OnError(path, err)
		}
		return
	}

	if stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size {
		return
	}

	w.mu.Lock()
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()

	if w.OnChange != nil {
		if err := w.OnChange(path); err != nil {
			if w.OnError != nil {
				w.OnError(path, err)
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
