package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mamba-org/rattler/internal/pkgcache"
	"github.com/mamba-org/rattler/internal/repodata"
)

// pathType mirrors the "path_type" values an archive's info/paths.json
// uses to describe how each file should be materialized into a prefix.
type pathType string

const (
	pathHardLink  pathType = "hardlink"
	pathSoftLink  pathType = "softlink"
	pathCopy      pathType = "copy"
	pathDirectory pathType = "directory"
)

type pathsEntry struct {
	RelativePath string   `json:"_path"`
	PathType     pathType `json:"path_type"`
	SHA256       string   `json:"sha256,omitempty"`
	SizeInBytes  int64    `json:"size_in_bytes,omitempty"`
}

type pathsJSON struct {
	Paths []pathsEntry `json:"paths"`
}

// CacheLinker is a Linker that fetches a package's archive through
// internal/pkgcache (downloading and extracting it as needed) and
// materializes its info/paths.json into the prefix as hardlinks,
// symlinks, or copies, matching conda's own linking policy.
type CacheLinker struct {
	Cache       *pkgcache.Cache
	RetryPolicy pkgcache.RetryPolicy
}

// ResolvePaths implements the install.Linker interface: it fetches (or
// hits the cache for) rec's archive and reports every relative path it
// contains, without writing anything into a prefix. The archive stays
// extracted in the cache for Place to read a second time, so a cache hit
// here costs no network traffic either way.
func (l *CacheLinker) ResolvePaths(rec repodata.RepoDataRecord) ([]string, error) {
	extractedDir, err := l.Cache.GetOrFetchFromURL(context.Background(), rec, rec.URL, l.RetryPolicy)
	if err != nil {
		return nil, fmt.Errorf("linker: fetching %s: %w", rec.Name, err)
	}

	manifest, err := readPathsManifest(extractedDir)
	if err != nil {
		return nil, fmt.Errorf("linker: reading paths manifest for %s: %w", rec.Name, err)
	}

	paths := make([]string, 0, len(manifest.Paths))
	for _, entry := range manifest.Paths {
		if entry.PathType == pathDirectory {
			continue
		}
		paths = append(paths, entry.RelativePath)
	}
	return paths, nil
}

// Place implements the install.Linker interface. By the time it is
// called, the driver has already registered every path ResolvePaths
// reported and knows which ones must land at a clobber-suffixed name
// instead of their canonical one — so no canonical path occupied by a
// still-registered owner is ever touched here.
func (l *CacheLinker) Place(prefixDir string, rec repodata.RepoDataRecord, renames map[string]string) error {
	extractedDir, err := l.Cache.GetOrFetchFromURL(context.Background(), rec, rec.URL, l.RetryPolicy)
	if err != nil {
		return fmt.Errorf("linker: fetching %s: %w", rec.Name, err)
	}

	manifest, err := readPathsManifest(extractedDir)
	if err != nil {
		return fmt.Errorf("linker: reading paths manifest for %s: %w", rec.Name, err)
	}

	for _, entry := range manifest.Paths {
		if entry.PathType == pathDirectory {
			continue
		}

		destRel := entry.RelativePath
		if to, ok := renames[destRel]; ok {
			destRel = to
		}

		src := filepath.Join(extractedDir, entry.RelativePath)
		dest := filepath.Join(prefixDir, destRel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("linker: creating directory for %s: %w", destRel, err)
		}
		if err := linkOne(src, dest, entry.PathType); err != nil {
			return fmt.Errorf("linker: placing %s: %w", destRel, err)
		}
	}
	return nil
}

func linkOne(src, dest string, kind pathType) error {
	os.Remove(dest)

	switch kind {
	case pathSoftLink:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dest)
	case pathHardLink, "":
		if err := os.Link(src, dest); err == nil {
			return nil
		}
		// Cross-device links (or any other hardlink failure) fall back to
		// a plain copy, the same degradation conda's own linker performs.
		return copyFile(src, dest)
	default:
		return copyFile(src, dest)
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func readPathsManifest(extractedDir string) (*pathsJSON, error) {
	data, err := os.ReadFile(filepath.Join(extractedDir, "info", "paths.json"))
	if err != nil {
		return nil, err
	}
	var manifest pathsJSON
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}
