package main

import (
	"context"
	"errors"

	"github.com/mamba-org/rattler/internal/archive"
	"github.com/mamba-org/rattler/internal/config"
	"github.com/mamba-org/rattler/internal/gateway"
	"github.com/mamba-org/rattler/internal/jlap"
	"github.com/mamba-org/rattler/internal/pkgcache"
	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/solver"
)

// gatewayCtx bundles a Gateway with the context and channel/platform set a
// command resolves against, so helpers don't need a long parameter list.
type gatewayCtx struct {
	ctx       context.Context
	gw        *gateway.Gateway
	channels  []string
	platforms []string
}

func buildGateway(cfg *config.Config) *gateway.Gateway {
	fetcher := gateway.NewHTTPFetcher(cfg.CacheDir)
	fetcher.UseJLAP = cfg.Gateway.UseJLAP
	return gateway.New(fetcher)
}

func buildCache(cfg *config.Config) (*pkgcache.Cache, error) {
	return pkgcache.New(cfg.CacheDir, archive.Extractor{})
}

func solverStrategy(s string) solver.Strategy {
	switch s {
	case "lowest":
		return solver.LowestVersion
	case "lowest-direct":
		return solver.LowestVersionDirect
	default:
		return solver.Highest
	}
}

func channelPriority(s string) solver.ChannelPriority {
	if s == "disabled" {
		return solver.ChannelPriorityDisabled
	}
	return solver.ChannelPriorityStrict
}

func solverConfig(cfg *config.Config) solver.Config {
	return solver.Config{
		ChannelPriority: channelPriority(cfg.ChannelPriority),
		Strategy:        solverStrategy(cfg.Strategy),
		ExcludeNewer:    cfg.ExcludeNewer,
	}
}

// availableRecords loads candidate records, one slice per channel, for the
// transitive dependency closure rooted at every installed package plus
// every request's package name.
func availableRecords(gw *gatewayCtx, installed []repodata.PrefixRecord, requests []solver.Request) ([][]repodata.RepoDataRecord, error) {
	seen := make(map[string]bool)
	var seeds []string
	addSeed := func(name string) {
		name = repodata.NormalizeName(name)
		if !seen[name] {
			seen[name] = true
			seeds = append(seeds, name)
		}
	}
	for _, r := range installed {
		addSeed(r.Name)
	}
	for _, req := range requests {
		addSeed(req.Spec.Name)
	}
	return gw.gw.LoadRecordsRecursive(gw.ctx, gw.channels, gw.platforms, seeds)
}

// exitCodeFor maps an error into the process exit code spec.md §6
// defines: 0 success, 1 generic failure, 2 unsatisfiable solve, 3
// integrity failure, 4 cancellation.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var unsat *solver.UnsatisfiableError
	if errors.As(err, &unsat) {
		return 2
	}
	var cancelled *solver.CancelledError
	if errors.As(err, &cancelled) {
		return 4
	}
	var checksum *pkgcache.ChecksumMismatchError
	if errors.As(err, &checksum) {
		return 3
	}
	var integrity *jlap.IntegrityError
	if errors.As(err, &integrity) {
		return 3
	}
	return 1
}
