// Package archive unpacks conda package archives (legacy ".tar.bz2" and
// the zip-based ".conda" format) into a destination directory, the
// concrete Extractor implementation internal/pkgcache delegates to.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Extractor unpacks ".tar.bz2" and ".conda" archives, satisfying
// internal/pkgcache.Extractor.
type Extractor struct{}

// Extract unpacks archivePath into destDir, dispatching on extension.
func (Extractor) Extract(archivePath, destDir string) error {
	if strings.HasSuffix(archivePath, ".conda") {
		return extractConda(archivePath, destDir)
	}
	return extractTarBz2(archivePath, destDir)
}

func extractTarBz2(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", archivePath, err)
	}
	defer f.Close()

	return extractTar(tar.NewReader(bzip2.NewReader(f)), destDir)
}

// extractConda unpacks a ".conda" archive: a zip file containing a
// "metadata.json" entry, an "info-<stem>.tar.zst" entry, and a
// "pkg-<stem>.tar.zst" entry. Both inner tarballs are extracted into the
// same destination directory, matching how the legacy .tar.bz2 layout
// mixes info/ and package content together.
func extractConda(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", archivePath, err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if !strings.HasSuffix(zf.Name, ".tar.zst") {
			continue
		}
		if err := extractInnerZstTar(zf, destDir); err != nil {
			return fmt.Errorf("archive: extracting %s: %w", zf.Name, err)
		}
	}
	return nil
}

func extractInnerZstTar(zf *zip.File, destDir string) error {
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	zr, err := zstd.NewReader(rc)
	if err != nil {
		return err
	}
	defer zr.Close()

	return extractTar(tar.NewReader(zr), destDir)
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: reading tar entry: %w", err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(header.Mode&0o777))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// safeJoin joins destDir and name, rejecting an entry whose resolved path
// would escape destDir (a zip-slip style path traversal).
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if target != destDir && !strings.HasPrefix(target, destDir+string(filepath.Separator)) {
		return "", fmt.Errorf("archive: entry %q escapes destination directory", name)
	}
	return target, nil
}
