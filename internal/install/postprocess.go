package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mamba-org/rattler/internal/atomicfile"
	"github.com/mamba-org/rattler/internal/clobber"
	"github.com/mamba-org/rattler/internal/repodata"
)

// PostProcess reconciles every clobbered path against records, the
// prefix's complete post-transaction package set: for each path more
// than one package wrote, the winner is the last survivor of
// clobbers[path] projected onto records sorted by name — a function of
// the installed set only, never of registration or invocation order —
// and every other registrant sits at its clobber-suffixed name. Calling
// PostProcess marks the driver's scoped completion guard as satisfied.
func (d *Driver) PostProcess(records []repodata.PrefixRecord) ([]repodata.PrefixRecord, error) {
	defer d.guard.markDone()

	byName := make(map[string]int, len(records))
	for i, r := range records {
		byName[r.Name] = i
	}

	// Descending by name: the first-registered owner of a canonical path
	// is conda's default winner (first writer keeps it), and a later
	// clobberer only inherits it once that owner is removed. Sorting the
	// projection descending and taking its last element keeps the
	// alphabetically-earliest surviving registrant on top, matching
	// spec.md §8 S1/S2's worked examples (clobber-1, then clobber-2 once
	// clobber-1 is removed) while staying a pure function of the
	// installed set's names.
	sorted := append([]repodata.PrefixRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name > sorted[j].Name })

	for _, path := range d.Registry.ClobberedPaths() {
		idxs := d.Registry.Clobbers(path)
		if len(idxs) < 2 {
			continue
		}

		present := presentInSortedOrder(d.Registry, idxs, sorted)
		if len(present) == 0 {
			continue
		}
		winnerIdx := present[len(present)-1]
		provisionalIdx := idxs[0]
		if winnerIdx == provisionalIdx {
			continue
		}

		winnerName := d.Registry.PackageName(winnerIdx)
		provisionalName := d.Registry.PackageName(provisionalIdx)

		if err := d.promote(records, byName, path, provisionalName, winnerName); err != nil {
			return nil, fmt.Errorf("install: reconciling clobbered path %s: %w", path, err)
		}
	}
	return records, nil
}

// presentInSortedOrder projects idxs (clobbers[path], in original
// registration order) onto sorted (records in the driver's canonical
// order for this reconciliation pass), keeping only the indices whose
// package is still present and ordering them the way sorted does, not
// the way they were registered. Its last element is the winner.
func presentInSortedOrder(reg *clobber.Registry, idxs []int, sorted []repodata.PrefixRecord) []int {
	present := make(map[int]bool, len(idxs))
	for _, idx := range idxs {
		present[idx] = true
	}

	var ordered []int
	for _, rec := range sorted {
		idx, ok := reg.IndexOf(rec.Name)
		if ok && present[idx] {
			ordered = append(ordered, idx)
		}
	}
	return ordered
}

func (d *Driver) promote(records []repodata.PrefixRecord, byName map[string]int, path, provisionalName, winnerName string) error {
	winnerIdx, ok := byName[winnerName]
	if !ok {
		return nil
	}

	displaced := clobber.ClobberFileName(path, provisionalName)
	parked := clobber.ClobberFileName(path, winnerName)

	// The provisional holder's own file may already be gone — e.g. it
	// was removed earlier in this same transaction — in which case there
	// is nothing to park and renameTolerant is a no-op.
	if err := renameTolerant(filepath.Join(d.PrefixDir, path), filepath.Join(d.PrefixDir, displaced)); err != nil {
		return fmt.Errorf("parking %s: %w", provisionalName, err)
	}
	if err := renameTolerant(filepath.Join(d.PrefixDir, parked), filepath.Join(d.PrefixDir, path)); err != nil {
		return fmt.Errorf("promoting %s: %w", winnerName, err)
	}

	if provisionalIdx, ok := byName[provisionalName]; ok {
		relinkPathEntry(&records[provisionalIdx], path, displaced, path)
		if err := d.rewriteMeta(records[provisionalIdx]); err != nil {
			return err
		}
	}

	relinkPathEntry(&records[winnerIdx], parked, path, "")
	return d.rewriteMeta(records[winnerIdx])
}

// relinkPathEntry finds the PathsData entry currently at oldRel and
// updates it to newRel/newOriginal, also mirroring the change into Files.
func relinkPathEntry(rec *repodata.PrefixRecord, oldRel, newRel, newOriginal string) {
	for i := range rec.PathsData {
		if rec.PathsData[i].RelativePath == oldRel {
			rec.PathsData[i].RelativePath = newRel
			rec.PathsData[i].OriginalPath = newOriginal
			break
		}
	}
	for i := range rec.Files {
		if rec.Files[i] == oldRel {
			rec.Files[i] = newRel
			break
		}
	}
}

func (d *Driver) rewriteMeta(rec repodata.PrefixRecord) error {
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

func marshalMeta(rec repodata.PrefixRecord) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}
