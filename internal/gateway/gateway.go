// Package gateway implements a concurrent, per-(channel, platform) subdir
// cache that coalesces duplicate fetches and walks a dependency closure
// breadth-first while records stream in from many subdirs in parallel.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mamba-org/rattler/internal/repodata"
)

// SubdirFetcher loads one subdir's repodata (decompressing .zst/.bz2 as
// needed) and builds its sparse index. Implementations dispatch to plain
// HTTP or, for "oci://" channel URLs, to internal/ociclient.
type SubdirFetcher interface {
	FetchSubdir(ctx context.Context, channel, platform string) (*repodata.SparseIndex, error)
}

// Subdir is a ready, queryable handle on one (channel, platform) index.
type Subdir struct {
	Channel  string
	Platform string
	Index    *repodata.SparseIndex // nil for a not-found, non-noarch subdir
}

type subdirKey struct {
	channel  string
	platform string
}

// Gateway is the entry point: construct once per solve/install session and
// reuse across every subdir and name lookup so fetches coalesce.
type Gateway struct {
	fetcher SubdirFetcher

	mu      sync.Mutex
	entries map[subdirKey]*Subdir

	group singleflight.Group
}

// New builds a Gateway around a SubdirFetcher.
func New(fetcher SubdirFetcher) *Gateway {
	return &Gateway{
		fetcher: fetcher,
		entries: make(map[subdirKey]*Subdir),
	}
}

// getSubdir resolves (channel, platform) to a ready Subdir, coalescing
// concurrent requests for the same key into one fetch. A 404 on a
// non-noarch platform is cached as a permanent empty subdir (not an
// error); any other fetch failure is returned to every waiter and is not
// cached, so a later call retries.
func (g *Gateway) getSubdir(ctx context.Context, channel, platform string) (*Subdir, error) {
	key := subdirKey{channel: channel, platform: platform}

	g.mu.Lock()
	if sd, ok := g.entries[key]; ok {
		g.mu.Unlock()
		return sd, nil
	}
	g.mu.Unlock()

	sfKey := channel + "\x00" + platform
	v, err, _ := g.group.Do(sfKey, func() (v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				v, err = nil, &CoalescedFailureError{Channel: channel, Platform: platform, Cause: fmt.Errorf("loader panicked: %v", r)}
			}
		}()
		idx, ferr := g.fetcher.FetchSubdir(ctx, channel, platform)
		if ferr != nil {
			var nf *NotFoundError
			if errors.As(ferr, &nf) && platform != "noarch" {
				sd := &Subdir{Channel: channel, Platform: platform, Index: nil}
				g.mu.Lock()
				g.entries[key] = sd
				g.mu.Unlock()
				return sd, nil
			}
			return nil, &CoalescedFailureError{Channel: channel, Platform: platform, Cause: ferr}
		}
		sd := &Subdir{Channel: channel, Platform: platform, Index: idx}
		g.mu.Lock()
		g.entries[key] = sd
		g.mu.Unlock()
		return sd, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Subdir), nil
}

// LoadRecords fetches (coalesced) every RepoDataRecord for name in one
// (channel, platform), or nil if the subdir doesn't exist or doesn't
// carry that name.
func (g *Gateway) LoadRecords(ctx context.Context, channel, platform, name string) ([]repodata.RepoDataRecord, error) {
	sd, err := g.getSubdir(ctx, channel, platform)
	if err != nil {
		return nil, fmt.Errorf("gateway: loading %s/%s: %w", channel, platform, err)
	}
	if sd.Index == nil {
		return nil, nil
	}
	records, err := sd.Index.LoadRecords(name)
	if err != nil {
		return nil, fmt.Errorf("gateway: decoding %s in %s/%s: %w", name, channel, platform, err)
	}
	for i := range records {
		records[i].Channel = channel
	}
	return records, nil
}
