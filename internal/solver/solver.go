package solver

import (
	"github.com/mamba-org/rattler/internal/matchspec"
	"github.com/mamba-org/rattler/internal/repodata"
)

// Solve resolves input into a consistent set of records, one per name that
// ends up required. Root requirements come from every already-installed
// name (kept unless explicitly removed) and every top-level request.
func Solve(input Input) (*Outcome, error) {
	byName, err := buildCandidates(input)
	if err != nil {
		return nil, err
	}

	state := &searchState{
		byName:       byName,
		chosen:       make(map[string]*Candidate),
		requirements: make(map[string][]matchspec.NamelessMatchSpec),
		queued:       make(map[string]bool),
		removed:      make(map[string]bool),
		deadline:     input.Config.Deadline,
	}

	var queue []string
	enqueue := func(name string) {
		name = repodata.NormalizeName(name)
		if !state.queued[name] {
			state.queued[name] = true
			queue = append(queue, name)
		}
	}

	for _, req := range input.Requests {
		name := repodata.NormalizeName(req.Spec.Name)
		switch req.Action {
		case ActionRemove:
			state.removed[name] = true
		case ActionInstall, ActionUpdate:
			state.requirements[name] = append(state.requirements[name], req.Spec.NamelessMatchSpec)
			enqueue(name)
		}
	}

	for _, rec := range input.Installed {
		name := repodata.NormalizeName(rec.Name)
		if state.removed[name] {
			continue
		}
		enqueue(name)
	}

	final, err := solveNames(state, queue)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{}
	for _, c := range final.chosen {
		if c.Virtual {
			continue
		}
		outcome.Records = append(outcome.Records, c.Record)
	}
	return outcome, nil
}

// ParseRequest parses a raw match-spec string into a Request for the given
// action, for callers (the CLI) building Requests from user input.
func ParseRequest(raw string, action Action) (Request, error) {
	spec, err := matchspec.Parse(raw)
	if err != nil {
		return Request{}, err
	}
	return Request{Spec: spec, Action: action}, nil
}
