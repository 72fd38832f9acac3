package solver

import (
	"sort"

	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/version"
)

// Candidate is one record under consideration, annotated with why it was
// excluded (if at all) and the preferences that bias its ordering.
type Candidate struct {
	Record       repodata.RepoDataRecord
	ChannelIndex int
	Virtual      bool
	Excluded     bool
	ExcludeWhy   string
	Favored      bool
	Locked       bool

	parsedVersion version.Version
}

// buildCandidates collects, dedups, and filters every record for every
// name referenced anywhere in the input (available records plus virtual
// packages), grouped by normalized name.
func buildCandidates(input Input) (map[string][]*Candidate, error) {
	byName := make(map[string][]*Candidate)
	firstChannelForName := make(map[string]int)

	for ci, records := range input.Available {
		deduped := repodata.DedupRecords(records)
		seenKeys := make(map[string]bool, len(deduped))
		for _, r := range deduped {
			if seenKeys[r.Key()] {
				return nil, &DuplicateRecordsError{Name: r.Name, Subdir: r.Subdir}
			}
			seenKeys[r.Key()] = true
		}
		for _, r := range deduped {
			name := repodata.NormalizeName(r.Name)
			if _, ok := firstChannelForName[name]; !ok {
				firstChannelForName[name] = ci
			}
			v, err := version.Parse(r.Version)
			if err != nil {
				// A single malformed record does not poison the whole solve.
				continue
			}
			byName[name] = append(byName[name], &Candidate{
				Record:        r,
				ChannelIndex:  ci,
				parsedVersion: v,
			})
		}
	}

	for _, vp := range input.Virtual {
		name := repodata.NormalizeName(vp.Name)
		v, err := version.Parse(vp.Version)
		if err != nil {
			continue
		}
		byName[name] = append(byName[name], &Candidate{
			Record:        repodata.RepoDataRecord{PackageRecord: vp},
			Virtual:       true,
			parsedVersion: v,
		})
	}

	markFavoredAndLocked(byName, input.Favored, true, false)
	markFavoredAndLocked(byName, input.Locked, false, true)

	for name, cands := range byName {
		applyExclusions(cands, input.Config, firstChannelForName[name])
	}

	directNames := make(map[string]bool, len(input.Requests))
	for _, req := range input.Requests {
		directNames[repodata.NormalizeName(req.Spec.Name)] = true
	}

	for name, cands := range byName {
		sortCandidates(cands, effectiveStrategy(input.Config.Strategy, directNames[name]))
	}

	return byName, nil
}

// effectiveStrategy resolves LowestVersionDirect into a per-name choice:
// LowestVersion for names requested directly at the top level, Highest for
// everything pulled in transitively.
func effectiveStrategy(configured Strategy, isDirect bool) Strategy {
	if configured != LowestVersionDirect {
		return configured
	}
	if isDirect {
		return LowestVersion
	}
	return Highest
}

func markFavoredAndLocked(byName map[string][]*Candidate, records []repodata.RepoDataRecord, favored, locked bool) {
	for _, r := range records {
		name := repodata.NormalizeName(r.Name)
		for _, c := range byName[name] {
			if c.Record.Key() == r.Key() {
				if favored {
					c.Favored = true
				}
				if locked {
					c.Locked = true
				}
			}
		}
	}
}

func applyExclusions(cands []*Candidate, cfg Config, firstChannel int) {
	for _, c := range cands {
		if c.Virtual {
			continue
		}
		if cfg.ExcludeNewer != nil && c.Record.Timestamp > 0 {
			ts := c.Record.Timestamp
			// repodata timestamps are milliseconds since epoch.
			if ts/1000 > cfg.ExcludeNewer.Unix() {
				c.Excluded = true
				c.ExcludeWhy = "excluded by exclude_newer cutoff"
				continue
			}
		}
		if cfg.ChannelPriority == ChannelPriorityStrict && c.ChannelIndex != firstChannel {
			c.Excluded = true
			c.ExcludeWhy = "excluded by strict channel priority"
		}
	}
}

func sortCandidates(cands []*Candidate, strategy Strategy) {
	lowest := strategy == LowestVersion
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Favored != b.Favored {
			return a.Favored
		}
		if a.Locked != b.Locked {
			return a.Locked
		}
		if len(a.Record.TrackFeatures) != len(b.Record.TrackFeatures) {
			return len(a.Record.TrackFeatures) < len(b.Record.TrackFeatures)
		}
		if cmp := a.parsedVersion.Compare(b.parsedVersion); cmp != 0 {
			if lowest {
				return cmp < 0
			}
			return cmp > 0
		}
		if a.Record.BuildNumber != b.Record.BuildNumber {
			return a.Record.BuildNumber > b.Record.BuildNumber
		}
		if a.Record.Timestamp != b.Record.Timestamp {
			return a.Record.Timestamp > b.Record.Timestamp
		}
		return a.ChannelIndex < b.ChannelIndex
	})
}
