package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mamba-org/rattler/internal/install"
	"github.com/mamba-org/rattler/internal/pkgcache"
	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/solver"
	"github.com/mamba-org/rattler/internal/transaction"
	"github.com/mamba-org/rattler/internal/virtualpkg"
)

var installCmd = &cobra.Command{
	Use:   "install <spec>...",
	Short: "Solve and install a set of match-specs into a prefix",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransaction(args, solver.ActionInstall)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>...",
	Short: "Remove packages from a prefix",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransaction(args, solver.ActionRemove)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <name>...",
	Short: "Update packages already installed in a prefix to the best available version",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransaction(args, solver.ActionUpdate)
	},
}

func runTransaction(args []string, action solver.Action) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	installed, err := install.ReadState(flagPrefix)
	if err != nil {
		return err
	}

	requests := make([]solver.Request, 0, len(args))
	for _, raw := range args {
		req, err := solver.ParseRequest(raw, action)
		if err != nil {
			return fmt.Errorf("parsing %q: %w", raw, err)
		}
		requests = append(requests, req)
	}

	gwc := &gatewayCtx{ctx: context.Background(), gw: buildGateway(cfg), channels: cfg.Channels, platforms: cfg.Platforms}
	available, err := availableRecords(gwc, installed, requests)
	if err != nil {
		return err
	}

	installedRecords := make([]repodata.RepoDataRecord, len(installed))
	for i, r := range installed {
		installedRecords[i] = r.RepoDataRecord
	}

	outcome, err := solver.Solve(solver.Input{
		Available: available,
		Installed: installedRecords,
		Favored:   installedRecords,
		Requests:  requests,
		Virtual:   virtualpkg.Detect(),
		Config:    solverConfig(cfg),
	})
	if err != nil {
		return err
	}

	ops := transaction.Plan(installed, outcome.Records)
	if transaction.IsEmpty(ops) {
		fmt.Println("nothing to do")
		return nil
	}

	cache, err := buildCache(cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	linker := &install.CacheLinker{Cache: cache, RetryPolicy: pkgcache.DefaultRetryPolicy()}
	driver := install.NewDriver(flagPrefix, installed)

	touched, err := driver.Execute(ops, linker)
	if err != nil {
		return err
	}

	final := unchangedRecords(installed, ops)
	final = append(final, touched...)
	if _, err := driver.PostProcess(final); err != nil {
		return err
	}

	for _, op := range ops {
		fmt.Printf("%-8s %s\n", op.Kind, op.Name)
	}
	return nil
}

// unchangedRecords returns the subset of installed whose name isn't the
// subject of any op, so PostProcess always sees the prefix's complete
// post-transaction package set, not just the ones this invocation touched.
func unchangedRecords(installed []repodata.PrefixRecord, ops []transaction.Operation) []repodata.PrefixRecord {
	touched := make(map[string]bool, len(ops))
	for _, op := range ops {
		touched[op.Name] = true
	}
	out := make([]repodata.PrefixRecord, 0, len(installed))
	for _, rec := range installed {
		if !touched[rec.Name] {
			out = append(out, rec)
		}
	}
	return out
}
