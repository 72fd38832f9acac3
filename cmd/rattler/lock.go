package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mamba-org/rattler/internal/lockfile"
	"github.com/mamba-org/rattler/internal/solver"
	"github.com/mamba-org/rattler/internal/virtualpkg"
)

var (
	flagLockOutput      string
	flagLockEnvironment string
)

var lockCmd = &cobra.Command{
	Use:   "lock <spec>...",
	Short: "Solve a set of match-specs and write a reproducible lockfile",
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

		lf, err := lockfile.Read(flagLockOutput)
		if err != nil {
			return err
		}

		for _, platform := range cfg.Platforms {
			packages := lockfile.FromRecords(outcome.Records)
			lf.SetEnvironment(flagLockEnvironment, platform, cfg.Channels, packages)
		}

		if err := lf.Write(flagLockOutput); err != nil {
			return err
		}
		fmt.Printf("wrote %d package(s) to %s\n", len(outcome.Records), flagLockOutput)
		return nil
	},
}

func init() {
	lockCmd.Flags().StringVarP(&flagLockOutput, "output", "o", "rattler.lock.yml", "lockfile path to write")
	lockCmd.Flags().StringVarP(&flagLockEnvironment, "environment", "e", "default", "environment name within the lockfile")
}
