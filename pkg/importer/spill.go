package importer

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/fileforge/fileforge/pkg/errors"
)

// spillDir is where native readers find spilled buffers. Overridable
// with SetSpillDir.
var spillDir = os.TempDir()

// SetSpillDir changes the spill directory for native-reader imports.
func SetSpillDir(dir string) {
	if dir != "" {
		spillDir = dir
	}
}

// spill writes buf to a uniquely named temp file so the embedded
// engine's native readers can scan it. The caller must invoke cleanup.
func spill(buf []byte, suffix string) (path string, cleanup func(), err error) {
	name := "ff_spill_" + uuid.New().String() + suffix
	path = filepath.Join(spillDir, name)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return "", nil, errors.Wrap(err, errors.CodeImportFailed, "failed to spill buffer").
			WithContext("path", path)
	}
	return path, func() { os.Remove(path) }, nil
}

// stagingName returns a fresh staging table name.
func stagingName() string {
	return "ff_stage_" + uuid.New().String()[:8]
}
