package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mamba-org/rattler/internal/jlap"
	"github.com/mamba-org/rattler/internal/pkgcache"
	"github.com/mamba-org/rattler/internal/solver"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"generic", errors.New("boom"), 1},
		{"unsatisfiable", &solver.UnsatisfiableError{Report: "conflict"}, 2},
		{"cancelled", &solver.CancelledError{}, 4},
		{"checksum mismatch", &pkgcache.ChecksumMismatchError{Name: "numpy"}, 3},
		{"jlap integrity", &jlap.IntegrityError{Code: "HASHES_NOT_MATCHING"}, 3},
		{"wrapped unsatisfiable", fmt.Errorf("solve failed: %w", &solver.UnsatisfiableError{}), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCodeFor(tt.err); got != tt.want {
				t.Errorf("exitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSolverStrategy(t *testing.T) {
	cases := map[string]solver.Strategy{
		"highest":       solver.Highest,
		"lowest":        solver.LowestVersion,
		"lowest-direct": solver.LowestVersionDirect,
		"":              solver.Highest,
	}
	for raw, want := range cases {
		if got := solverStrategy(raw); got != want {
			t.Errorf("solverStrategy(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestChannelPriority(t *testing.T) {
	if got := channelPriority("disabled"); got != solver.ChannelPriorityDisabled {
		t.Errorf("channelPriority(disabled) = %v, want disabled", got)
	}
	if got := channelPriority("strict"); got != solver.ChannelPriorityStrict {
		t.Errorf("channelPriority(strict) = %v, want strict", got)
	}
}
