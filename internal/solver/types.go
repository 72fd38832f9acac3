// Package solver resolves conda match-specs against a universe of package
// records grouped by channel and platform with a depth-first backtracking
// search: candidates are tried in preference order and a failed branch is
// discarded. It does no clause learning.
package solver

import (
	"time"

	"github.com/mamba-org/rattler/internal/matchspec"
	"github.com/mamba-org/rattler/internal/repodata"
)

// Action is what a top-level request asks the solver to do with a name.
type Action int

const (
	ActionInstall Action = iota
	ActionRemove
	ActionUpdate
)

// Strategy controls candidate ordering within a package name.
type Strategy int

const (
	Highest Strategy = iota
	LowestVersion
	LowestVersionDirect
)

// ChannelPriority controls whether a name is pinned to the first channel
// it appeared in.
type ChannelPriority int

const (
	ChannelPriorityDisabled ChannelPriority = iota
	ChannelPriorityStrict
)

// Request is one top-level (MatchSpec, action) pair from the user.
type Request struct {
	Spec   matchspec.MatchSpec
	Action Action
}

// Config bundles the solver's tunable behavior.
type Config struct {
	ChannelPriority ChannelPriority
	Strategy        Strategy
	ExcludeNewer    *time.Time
	Deadline        *time.Time
}

// Input is everything the solver needs for one resolution run.
type Input struct {
	// Available holds candidate records per channel, in channel-priority
	// order (Available[0] is the highest-priority channel).
	Available [][]repodata.RepoDataRecord
	Installed []repodata.RepoDataRecord
	Locked    []repodata.RepoDataRecord
	Favored   []repodata.RepoDataRecord
	Virtual   []repodata.PackageRecord
	Requests  []Request
	Config    Config
}

// Outcome is a successful solve: one chosen record per installed name.
type Outcome struct {
	Records []repodata.RepoDataRecord
}
