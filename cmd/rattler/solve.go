package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/solver"
	"github.com/mamba-org/rattler/internal/virtualpkg"
)

var solveCmd = &cobra.Command{
	Use:   "solve <spec>...",
	Short: "Resolve a set of match-specs to a consistent package set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		requests := make([]solver.Request, 0, len(args))
		for _, raw := range args {
			req, err := solver.ParseRequest(raw, solver.ActionInstall)
			if err != nil {
				return fmt.Errorf("parsing %q: %w", raw, err)
			}
			requests = append(requests, req)
		}

		gwc := &gatewayCtx{ctx: context.Background(), gw: buildGateway(cfg), channels: cfg.Channels, platforms: cfg.Platforms}
		available, err := availableRecords(gwc, nil, requests)
		if err != nil {
			return err
		}

		outcome, err := solver.Solve(solver.Input{
			Available: available,
			Requests:  requests,
			Virtual:   virtualpkg.Detect(),
			Config:    solverConfig(cfg),
		})
		if err != nil {
			return err
		}

		printRecords(outcome.Records)
		return nil
	},
}

func printRecords(records []repodata.RepoDataRecord) {
	sorted := append([]repodata.RepoDataRecord(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, r := range sorted {
		fmt.Printf("%-30s %-15s %-20s %s\n", r.Name, r.Version, r.BuildString, r.Channel)
	}
}
