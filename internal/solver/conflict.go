package solver

import (
	"fmt"
	"strings"

	"github.com/mamba-org/rattler/internal/matchspec"
)

// conflictErr renders the "Because ... requires ..., and no version of ...
// matches" tree for a name that has no remaining candidates under its
// accumulated requirements.
func conflictErr(name string, reqs []matchspec.NamelessMatchSpec, all []*Candidate) *UnsatisfiableError {
	var b strings.Builder
	fmt.Fprintf(&b, "Because no version of %s matches:\n", name)
	for _, r := range reqs {
		fmt.Fprintf(&b, "  - %s\n", r.String())
	}
	if len(all) == 0 {
		fmt.Fprintf(&b, "(no candidates for %s exist in any configured channel)\n", name)
	} else {
		fmt.Fprintf(&b, "available candidates for %s:\n", name)
		for _, c := range all {
			status := "excluded"
			if !c.Excluded {
				status = "does not satisfy all requirements"
			} else if c.ExcludeWhy != "" {
				status = c.ExcludeWhy
			}
			fmt.Fprintf(&b, "  - %s %s (build %s): %s\n", c.Record.Name, c.Record.Version, c.Record.BuildString, status)
		}
	}
	return &UnsatisfiableError{Report: b.String()}
}
