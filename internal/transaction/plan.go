// Package transaction computes the symmetric difference between an
// installed package set and a solver outcome, emitting Remove, Change,
// and Install operations in a canonical, deterministic order.
package transaction

import (
	"sort"

	"github.com/mamba-org/rattler/internal/repodata"
)

// OpKind classifies one transaction operation.
type OpKind int

const (
	OpRemove OpKind = iota
	OpChange
	OpInstall
)

func (k OpKind) String() string {
	switch k {
	case OpRemove:
		return "remove"
	case OpChange:
		return "change"
	case OpInstall:
		return "install"
	default:
		return "unknown"
	}
}

// Operation is one step of a transaction. Old is populated for Remove and
// Change; New is populated for Change and Install.
type Operation struct {
	Kind OpKind
	Name string
	Old  *repodata.PrefixRecord
	New  *repodata.RepoDataRecord
}

// Plan diffs installed against solved and returns operations in canonical
// order: every Remove, then every Change, then every Install. A Change
// carries both records so the executor can reassign shared paths without
// exposing an intermediate, files-missing state.
func Plan(installed []repodata.PrefixRecord, solved []repodata.RepoDataRecord) []Operation {
	oldByName := make(map[string]repodata.PrefixRecord, len(installed))
	for _, r := range installed {
		oldByName[repodata.NormalizeName(r.Name)] = r
	}
	newByName := make(map[string]repodata.RepoDataRecord, len(solved))
	for _, r := range solved {
		newByName[repodata.NormalizeName(r.Name)] = r
	}

	var removes, changes, installs []Operation

	for name, old := range oldByName {
		if newRec, ok := newByName[name]; ok {
			if old.Key() != newRec.Key() {
				o, n := old, newRec
				changes = append(changes, Operation{Kind: OpChange, Name: name, Old: &o, New: &n})
			}
			continue
		}
		o := old
		removes = append(removes, Operation{Kind: OpRemove, Name: name, Old: &o})
	}
	for name, newRec := range newByName {
		if _, ok := oldByName[name]; ok {
			continue
		}
		n := newRec
		installs = append(installs, Operation{Kind: OpInstall, Name: name, New: &n})
	}

	sortOpsByName(removes)
	sortOpsByName(changes)
	sortOpsByName(installs)

	ops := make([]Operation, 0, len(removes)+len(changes)+len(installs))
	ops = append(ops, removes...)
	ops = append(ops, changes...)
	ops = append(ops, installs...)
	return ops
}

func sortOpsByName(ops []Operation) {
	sort.Slice(ops, func(i, j int) bool { return ops[i].Name < ops[j].Name })
}

// IsEmpty reports whether a plan has no operations, i.e. executing it and
// re-solving against the result would again yield an empty plan.
func IsEmpty(ops []Operation) bool { return len(ops) == 0 }
