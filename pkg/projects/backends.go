// Package projects persists exported project manifests so a workbook
// can be rebuilt later from its manifest plus the source files.
package projects

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fileforge/fileforge/pkg/manifest"
)

// Backend stores manifest documents keyed by project name.
// Implementations can keep them on local disk, in Redis, or in S3.
type Backend interface {
	// Save persists a manifest under the project name.
	Save(ctx context.Context, name string, m *manifest.Manifest) error

	// Load retrieves a manifest by project name. A missing project
	// reports os.ErrNotExist.
	Load(ctx context.Context, name string) (*manifest.Manifest, error)

	// Delete removes a stored manifest.
	Delete(ctx context.Context, name string) error

	// List returns the stored project names.
	List(ctx context.Context) ([]string, error)

	// Name returns the backend name for logging/debugging.
	Name() string
}

const fileSuffix = ".fileforge.json"

// sanitizeName keeps project names safe as file and key components.
func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// FileBackend keeps manifests as JSON files in one directory.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed and returns a backend
// over it.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create projects directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// path returns the file path for a project name.
func (b *FileBackend) path(name string) string {
	return filepath.Join(b.dir, sanitizeName(name)+fileSuffix)
}

// Save writes the manifest to disk.
func (b *FileBackend) Save(ctx context.Context, name string, m *manifest.Manifest) error {
	doc, err := m.Encode()
	if err != nil {
		return err
	}
	tmp := b.path(name) + ".tmp"
	if err := os.WriteFile(tmp, []byte(doc), 0o644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tmp, b.path(name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize manifest: %w", err)
	}
	return nil
}

// Load reads and parses a stored manifest.
func (b *FileBackend) Load(ctx context.Context, name string) (*manifest.Manifest, error) {
	data, err := os.ReadFile(b.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return manifest.Parse(data)
}

// Delete removes a stored manifest. Deleting a missing project is a
// no-op.
func (b *FileBackend) Delete(ctx context.Context, name string) error {
	err := os.Remove(b.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete manifest: %w", err)
	}
	return nil
}

// List returns the project names found in the directory.
func (b *FileBackend) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	return names, nil
}

// Name returns "file".
func (b *FileBackend) Name() string {
	return "file"
}
