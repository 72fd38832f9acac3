package gateway

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mamba-org/rattler/internal/repodata"
)

// LoadRecordsRecursive walks the dependency closure of seedNames across
// every (channel, platform) pair, breadth-first, fanning out concurrently
// with a bounded worker pool. It returns one record slice per channel,
// preserving the input channel ordering; within a channel, no ordering
// between platforms or names is promised.
func (g *Gateway) LoadRecordsRecursive(ctx context.Context, channels, platforms, seedNames []string) ([][]repodata.RepoDataRecord, error) {
	results := make([][]repodata.RepoDataRecord, len(channels))
	var resultsMu sync.Mutex

	var seenMu sync.Mutex
	seen := make(map[string]bool, len(seedNames))
	queue := append([]string(nil), seedNames...)
	for _, n := range queue {
		seen[repodata.NormalizeName(n)] = true
	}

	const maxConcurrency = 16
	for len(queue) > 0 {
		batch := queue
		queue = nil

		discovered := make(map[string]bool)
		var discoveredMu sync.Mutex

		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(maxConcurrency)

		for ci, channel := range channels {
			for _, platform := range platforms {
				for _, name := range batch {
					ci, channel, platform, name := ci, channel, platform, name
					eg.Go(func() error {
						records, err := g.LoadRecords(egCtx, channel, platform, name)
						if err != nil {
							return err
						}
						if len(records) == 0 {
							return nil
						}

						resultsMu.Lock()
						results[ci] = append(results[ci], records...)
						resultsMu.Unlock()

						for _, r := range records {
							for _, dep := range r.Depends {
								depName := repodata.NormalizeName(repodata.DependencyName(dep))
								discoveredMu.Lock()
								discovered[depName] = true
								discoveredMu.Unlock()
							}
						}
						return nil
					})
				}
			}
		}

		if err := eg.Wait(); err != nil {
			return nil, err
		}

		seenMu.Lock()
		for name := range discovered {
			if !seen[name] {
				seen[name] = true
				queue = append(queue, name)
			}
		}
		seenMu.Unlock()
	}

	return results, nil
}
