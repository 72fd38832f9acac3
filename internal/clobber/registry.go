// Package clobber implements the install driver's path-ownership registry:
// an inverted index over prefix-relative paths that arbitrates which
// package's contribution to a shared path is canonical.
package clobber

import (
	"fmt"
	"sync"

	"github.com/mamba-org/rattler/internal/repodata"
)

// Rename is an instruction the linker must apply: move the file that
// would have landed at From to To instead, because some other package
// already owns From.
type Rename struct {
	From, To string
}

// Registry holds the three structures spec.md §3 describes: an ordered,
// index-stable list of package names, a path → owning-package-index map,
// and a path → ordered list of every package index that ever wrote there.
type Registry struct {
	mu sync.Mutex

	packages []string
	indexOf  map[string]int

	owner    map[string]int
	clobbers map[string][]int
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		indexOf:  make(map[string]int),
		owner:    make(map[string]int),
		clobbers: make(map[string][]int),
	}
}

// FromPrefixRecords rebuilds a registry from a prefix's already-installed
// state, so path ownership survives across separate driver invocations
// instead of resetting every time the CLI runs. Every record's package is
// registered in order; a path with a non-empty OriginalPath is evidence a
// prior invocation already clobbered it and is queued to join the
// clobbers list once every package index is known.
func FromPrefixRecords(records []repodata.PrefixRecord) *Registry {
	r := New()

	type pendingClobber struct {
		path string
		name string
	}
	var pending []pendingClobber

	for _, rec := range records {
		idx := r.indexFor(rec.Name)
		for _, p := range rec.PathsData {
			if p.OriginalPath != "" {
				pending = append(pending, pendingClobber{path: p.OriginalPath, name: rec.Name})
				continue
			}
			r.owner[p.RelativePath] = idx
		}
	}

	for _, pc := range pending {
		idx := r.indexOf[pc.name]
		if _, ok := r.clobbers[pc.path]; !ok {
			if ownerIdx, ok := r.owner[pc.path]; ok {
				r.clobbers[pc.path] = []int{ownerIdx}
			}
		}
		r.clobbers[pc.path] = append(r.clobbers[pc.path], idx)
	}

	return r
}

func (r *Registry) indexFor(name string) int {
	if i, ok := r.indexOf[name]; ok {
		return i
	}
	i := len(r.packages)
	r.packages = append(r.packages, name)
	r.indexOf[name] = i
	return i
}

// RegisterPaths records that package name is about to link paths into the
// prefix, returning the renames the linker must apply for any path
// another package already owns. The install loop is sequential, so this
// is the registry's only mutator and needs no external synchronization
// beyond its own mutex.
func (r *Registry) RegisterPaths(name string, paths []string) []Rename {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexFor(name)
	var renames []Rename

	for _, path := range paths {
		if existing, ok := r.owner[path]; ok {
			if existing == idx {
				// Self-clobber: this package already owns the path from an
				// earlier registration in the same session. Skip silently.
				continue
			}
			r.clobbers[path] = append(r.clobbers[path], idx)
			renames = append(renames, Rename{From: path, To: clobberName(path, name)})
			continue
		}
		r.owner[path] = idx
		r.clobbers[path] = append(r.clobbers[path], idx)
	}
	return renames
}

func clobberName(path, name string) string {
	return fmt.Sprintf("%s__clobber-from-%s", path, name)
}

// PackageName returns the name registered at index idx.
func (r *Registry) PackageName(idx int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packages[idx]
}

// IndexOf returns the index registered for name, if any.
func (r *Registry) IndexOf(name string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexOf[name]
	return idx, ok
}

// Owner returns the index currently recorded as owning path.
func (r *Registry) Owner(path string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.owner[path]
	return idx, ok
}

// ClobberedPaths returns every path with more than one package index
// recorded against it — the set post-process must reconcile.
func (r *Registry) ClobberedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var paths []string
	for path, idxs := range r.clobbers {
		if len(idxs) > 1 {
			paths = append(paths, path)
		}
	}
	return paths
}

// Clobbers returns the full, original registration-order list of package
// indices that ever wrote to path (canonical owner first).
func (r *Registry) Clobbers(path string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.clobbers[path]...)
}

// ClobberFileName renders the displaced-variant file name for path as
// written by package name.
func ClobberFileName(path, name string) string { return clobberName(path, name) }
