package solver

import (
	"fmt"
	"time"

	"github.com/mamba-org/rattler/internal/matchspec"
	"github.com/mamba-org/rattler/internal/repodata"
)

// searchState is the per-branch solving state. Every trial candidate
// clones the maps it touches before recursing, so a failed branch never
// needs explicit undo bookkeeping.
type searchState struct {
	byName       map[string][]*Candidate
	chosen       map[string]*Candidate
	requirements map[string][]matchspec.NamelessMatchSpec
	queued       map[string]bool
	removed      map[string]bool
	deadline     *time.Time
	conflicts    []conflictNote
}

type conflictNote struct {
	name   string
	reason string
}

func (s *searchState) clone() *searchState {
	next := &searchState{
		byName:       s.byName,
		chosen:       make(map[string]*Candidate, len(s.chosen)),
		requirements: make(map[string][]matchspec.NamelessMatchSpec, len(s.requirements)),
		queued:       make(map[string]bool, len(s.queued)),
		removed:      s.removed,
		deadline:     s.deadline,
		conflicts:    s.conflicts,
	}
	for k, v := range s.chosen {
		next.chosen[k] = v
	}
	for k, v := range s.requirements {
		next.requirements[k] = append([]matchspec.NamelessMatchSpec(nil), v...)
	}
	for k, v := range s.queued {
		next.queued[k] = v
	}
	return next
}

func (s *searchState) deadlineExceeded() bool {
	return s.deadline != nil && time.Now().After(*s.deadline)
}

// solveNames resolves every name in queue, expanding dependencies and
// constrains as candidates are tentatively chosen. It returns the final
// chosen set or a conflict error rooted at the name that ran out of
// candidates.
func solveNames(state *searchState, queue []string) (*searchState, error) {
	if state.deadlineExceeded() {
		return nil, &CancelledError{}
	}
	if len(queue) == 0 {
		return state, nil
	}

	name := queue[0]
	rest := queue[1:]

	if _, ok := state.chosen[name]; ok {
		return solveNames(state, rest)
	}
	if state.removed[name] {
		return nil, fmt.Errorf("solver: %s is required but was requested for removal", name)
	}

	reqs := state.requirements[name]
	candidates := filterMatching(state.byName[name], reqs)
	if len(candidates) == 0 {
		return nil, conflictErr(name, reqs, state.byName[name])
	}

	var lastErr error
	for _, cand := range candidates {
		trial := state.clone()
		trial.chosen[name] = cand

		newNames, err := expand(trial, name, cand)
		if err != nil {
			lastErr = err
			continue
		}

		result, err := solveNames(trial, append(append([]string(nil), newNames...), rest...))
		if err != nil {
			lastErr = err
			continue
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = conflictErr(name, reqs, state.byName[name])
	}
	return nil, lastErr
}

// expand applies a tentatively chosen candidate's dependencies and
// constrains, returning the names newly required and not yet decided.
func expand(state *searchState, name string, cand *Candidate) ([]string, error) {
	var newNames []string

	for _, dep := range cand.Record.Depends {
		spec, err := matchspec.Parse(dep)
		if err != nil {
			continue
		}
		depName := repodata.NormalizeName(spec.Name)
		state.requirements[depName] = append(state.requirements[depName], spec.NamelessMatchSpec)

		if chosen, ok := state.chosen[depName]; ok {
			if !spec.NamelessMatchSpec.Matches(chosen.Record) {
				return nil, fmt.Errorf("solver: %s requires %s which conflicts with already-chosen %s %s",
					name, dep, chosen.Record.Name, chosen.Record.Version)
			}
			continue
		}
		if !state.queued[depName] {
			state.queued[depName] = true
			newNames = append(newNames, depName)
		}
	}

	for _, constrain := range cand.Record.Constrains {
		spec, err := matchspec.Parse(constrain)
		if err != nil {
			continue
		}
		consName := repodata.NormalizeName(spec.Name)
		if chosen, ok := state.chosen[consName]; ok {
			if !spec.NamelessMatchSpec.Matches(chosen.Record) {
				return nil, fmt.Errorf("solver: %s constrains %s which conflicts with already-chosen %s %s",
					name, constrain, chosen.Record.Name, chosen.Record.Version)
			}
			continue
		}
		state.requirements[consName] = append(state.requirements[consName], spec.NamelessMatchSpec)
	}

	return newNames, nil
}

func filterMatching(candidates []*Candidate, reqs []matchspec.NamelessMatchSpec) []*Candidate {
	var out []*Candidate
	for _, c := range candidates {
		if c.Excluded {
			continue
		}
		matchesAll := true
		for _, r := range reqs {
			if !r.Matches(c.Record) {
				matchesAll = false
				break
			}
		}
		if matchesAll {
			out = append(out, c)
		}
	}
	return out
}
