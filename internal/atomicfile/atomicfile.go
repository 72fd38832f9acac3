// Package atomicfile provides a write-then-rename helper shared by every
// package that persists a JSON/YAML sidecar next to a cache or prefix.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// WriteFile writes data to a temporary file in the same directory as path,
// then renames it into place. The rename is atomic on the same filesystem,
// so readers never observe a partially written file.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", filepath.Base(path), uuid.NewString()))

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("atomicfile: writing temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("atomicfile: renaming temp file into %s: %w", path, err)
	}
	return nil
}
