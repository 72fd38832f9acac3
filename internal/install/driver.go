// Package install executes a transaction plan against a prefix directory:
// it links or unlinks each package's files, arbitrates shared paths
// through a clobber registry, and persists the resulting conda-meta/
// records.
package install

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/mamba-org/rattler/internal/atomicfile"
	"github.com/mamba-org/rattler/internal/clobber"
	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/transaction"
)

// Linker places a package's payload into a prefix in two phases so the
// driver can register clobber ownership before anything is written: a
// path another package already owns must never be briefly overwritten on
// its way to being renamed aside.
type Linker interface {
	// ResolvePaths fetches/extracts rec's archive as needed and reports
	// every prefix-relative path it would write, without writing any of
	// them.
	ResolvePaths(rec repodata.RepoDataRecord) (paths []string, err error)
	// Place writes rec's payload into prefixDir. renames maps a subset
	// of the paths ResolvePaths returned to the clobber-suffixed name
	// the driver decided they must land at instead of their canonical
	// one.
	Place(prefixDir string, rec repodata.RepoDataRecord, renames map[string]string) error
}

// Driver executes Operations against one prefix directory, maintaining a
// clobber registry across the whole transaction so shared-path arbitration
// is consistent for every package it touches.
type Driver struct {
	PrefixDir string
	Registry  *clobber.Registry

	guard *postProcessRequired
}

// NewDriver builds a driver rooted at prefixDir, rebuilding its clobber
// registry from installed so path ownership established by a previous
// invocation is not forgotten (installed may be nil for an empty prefix).
func NewDriver(prefixDir string, installed []repodata.PrefixRecord) *Driver {
	d := &Driver{PrefixDir: prefixDir, Registry: clobber.FromPrefixRecords(installed)}
	d.guard = newPostProcessRequired()
	return d
}

// Execute links every Install and Change operation, removes every Remove
// operation's files, and returns one PrefixRecord per installed or changed
// package (removed packages produce none), in the order the operations
// were applied, which is sorted by name.
// PostProcess must be called on the result before it is considered final;
// Execute does not call it itself so callers can batch several Execute
// calls before a single post-process pass.
func (d *Driver) Execute(ops []transaction.Operation, linker Linker) ([]repodata.PrefixRecord, error) {
	// Clobber ownership is keyed to registration order, so re-sort here
	// (stable, by name) even though Plan already emits canonical order:
	// the outcome must depend only on the installed set, never on the
	// order callers happen to submit operations in.
	ops = append([]transaction.Operation(nil), ops...)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })

	var records []repodata.PrefixRecord

	for _, op := range ops {
		switch op.Kind {
		case transaction.OpRemove:
			if err := d.removePackage(*op.Old); err != nil {
				return nil, fmt.Errorf("install: removing %s: %w", op.Name, err)
			}
		case transaction.OpChange:
			if err := d.removePackage(*op.Old); err != nil {
				return nil, fmt.Errorf("install: removing old %s for change: %w", op.Name, err)
			}
			rec, err := d.linkPackage(*op.New, linker)
			if err != nil {
				return nil, fmt.Errorf("install: changing %s: %w", op.Name, err)
			}
			records = append(records, rec)
		case transaction.OpInstall:
			rec, err := d.linkPackage(*op.New, linker)
			if err != nil {
				return nil, fmt.Errorf("install: installing %s: %w", op.Name, err)
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (d *Driver) linkPackage(rec repodata.RepoDataRecord, linker Linker) (repodata.PrefixRecord, error) {
	paths, err := linker.ResolvePaths(rec)
	if err != nil {
		return repodata.PrefixRecord{}, err
	}

	renames := d.Registry.RegisterPaths(rec.Name, paths)
	renameSet := make(map[string]string, len(renames))
	pathsData := make([]repodata.PathEntry, 0, len(paths))
	files := make([]string, 0, len(paths))
	for _, p := range paths {
		entry := repodata.PathEntry{RelativePath: p}
		for _, r := range renames {
			if r.From == p {
				renameSet[p] = r.To
				entry.RelativePath = r.To
				entry.OriginalPath = p
				slog.Warn("clobber detected, parking file", "package", rec.Name, "path", p, "parked_as", r.To)
				break
			}
		}
		pathsData = append(pathsData, entry)
		files = append(files, entry.RelativePath)
	}

	if err := linker.Place(d.PrefixDir, rec, renameSet); err != nil {
		return repodata.PrefixRecord{}, err
	}

	prefixRec := repodata.PrefixRecord{
		RepoDataRecord: rec,
		Files:          files,
		PathsData:      pathsData,
	}
	if err := d.writeMeta(prefixRec); err != nil {
		return repodata.PrefixRecord{}, err
	}
	return prefixRec, nil
}

func (d *Driver) removePackage(rec repodata.PrefixRecord) error {
	for _, entry := range rec.PathsData {
		if err := os.Remove(filepath.Join(d.PrefixDir, entry.RelativePath)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", entry.RelativePath, err)
		}
	}
	metaPath := filepath.Join(d.PrefixDir, "conda-meta", rec.MetaFileName())
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing metadata %s: %w", metaPath, err)
	}
	return nil
}

func (d *Driver) writeMeta(rec repodata.PrefixRecord) error {
	data, err := marshalMeta(rec)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", rec.Name, err)
	}
	metaDir := filepath.Join(d.PrefixDir, "conda-meta")
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return fmt.Errorf("creating conda-meta: %w", err)
	}
	return atomicfile.WriteFile(filepath.Join(metaDir, rec.MetaFileName()), data, 0o644)
}

func renameTolerant(from, to string) error {
	if err := os.Rename(from, to); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}
