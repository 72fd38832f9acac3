// Package pkgcache is a content-addressed, single-flighted cache of
// extracted conda package archives: concurrent requests for the same
// digest share one download, and a successfully verified archive is
// extracted once into a directory keyed by (name, version, build).
package pkgcache

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"

	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/utils"
)

// Extractor unpacks a downloaded archive (.tar.bz2 or .conda) into destDir.
// Archive extraction itself is an external collaborator (spec.md §1's
// non-goal) — pkgcache only verifies the digest and arbitrates concurrent
// fetches around whatever Extractor implementation the caller supplies.
type Extractor interface {
	Extract(archivePath, destDir string) error
}

// RetryPolicy bounds the download retry loop: exponential backoff with
// jitter, capped by a maximum attempt count and a maximum total elapsed
// time.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy is a reasonable default for flaky channel mirrors.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	return eb
}

// Cache is a content-addressed store of extracted package directories,
// rooted at a single directory on disk.
type Cache struct {
	Dir       string
	client    *http.Client
	extractor Extractor
	idx       *index
	group     singleflight.Group
}

// New opens (creating if necessary) a Cache rooted at dir, backed by a
// SQLite index of digest -> extracted path.
func New(dir string, extractor Extractor) (*Cache, error) {
	idx, err := openIndex(dir)
	if err != nil {
		return nil, err
	}
	return &Cache{
		Dir:       dir,
		client:    http.DefaultClient,
		extractor: extractor,
		idx:       idx,
	}, nil
}

// Close releases the cache's index database handle.
func (c *Cache) Close() error { return c.idx.close() }

// recordDigest returns the record's preferred digest (SHA256, falling
// back to MD5) and which algorithm it came from.
func recordDigest(rec repodata.PackageRecord) (algo, digest string, err error) {
	if rec.SHA256 != "" {
		return "sha256", strings.ToLower(rec.SHA256), nil
	}
	if rec.MD5 != "" {
		return "md5", strings.ToLower(rec.MD5), nil
	}
	return "", "", &NoDigestError{Name: rec.Name}
}

// GetOrFetchFromURL returns the extraction directory for rec, downloading
// and extracting archiveURL if it isn't already cached. Concurrent calls
// for the same digest share one download.
func (c *Cache) GetOrFetchFromURL(ctx context.Context, rec repodata.RepoDataRecord, archiveURL string, policy RetryPolicy) (string, error) {
	algo, digest, err := recordDigest(rec.PackageRecord)
	if err != nil {
		return "", err
	}

	if e, ok, err := c.idx.lookup(digest); err != nil {
		return "", err
	} else if ok {
		if _, statErr := os.Stat(e.ExtractedPath); statErr == nil {
			_ = c.idx.touch(digest)
			return e.ExtractedPath, nil
		}
		// The index claims a path that no longer exists on disk; treat as
		// absent and refetch (staleness-tolerant per spec.md §5).
		_ = c.idx.delete(digest)
	}

	v, err, _ := c.group.Do(digest, func() (any, error) {
		return c.fetchAndExtract(ctx, rec, archiveURL, algo, digest, policy)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) fetchAndExtract(ctx context.Context, rec repodata.RepoDataRecord, archiveURL, algo, digest string, policy RetryPolicy) (string, error) {
	destDir := filepath.Join(c.Dir, fmt.Sprintf("%s-%s-%s", rec.Name, rec.Version, rec.BuildString))
	archivePath := filepath.Join(c.Dir, ".downloads", digest+extFromURL(archiveURL))

	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return "", fmt.Errorf("pkgcache: creating download directory: %w", err)
	}
	defer os.Remove(archivePath)

	op := func() (string, error) {
		got, err := downloadAndVerify(ctx, c.client, archiveURL, archivePath, algo)
		if err != nil {
			return "", err
		}
		if got != digest {
			os.Remove(archivePath)
			return "", backoff.Permanent(errChecksumMismatch(rec.Name, digest, got))
		}
		return archivePath, nil
	}

	opts := []backoff.RetryOption{backoff.WithBackOff(policy.backOff())}
	if policy.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(policy.MaxAttempts))
	}
	if policy.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(policy.MaxElapsedTime))
	}

	if _, err := backoff.Retry(ctx, op, opts...); err != nil {
		return "", err
	}

	if err := os.RemoveAll(destDir); err != nil {
		return "", fmt.Errorf("pkgcache: clearing stale extraction directory: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("pkgcache: creating extraction directory: %w", err)
	}
	if err := c.extractor.Extract(archivePath, destDir); err != nil {
		os.RemoveAll(destDir)
		return "", fmt.Errorf("pkgcache: extracting %s: %w", rec.Name, err)
	}

	size, _ := utils.GetDirectorySize(destDir)
	if err := c.idx.upsert(entry{
		Digest:        digest,
		Name:          rec.Name,
		ExtractedPath: destDir,
		SizeBytes:     size,
		LastUsedAt:    time.Now(),
	}); err != nil {
		return "", err
	}

	return destDir, nil
}

func newHasher(algo string) hash.Hash {
	if algo == "md5" {
		return md5.New()
	}
	return sha256.New()
}

func downloadAndVerify(ctx context.Context, client *http.Client, url, destPath, algo string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("pkgcache: building request for %s: %w", url, err))
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pkgcache: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("pkgcache: fetching %s: unexpected status %d", url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	f, err := os.Create(destPath)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("pkgcache: creating %s: %w", destPath, err))
	}
	defer f.Close()

	h := newHasher(algo)
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return "", fmt.Errorf("pkgcache: writing %s: %w", destPath, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func extFromURL(url string) string {
	if strings.HasSuffix(url, ".conda") {
		return ".conda"
	}
	return ".tar.bz2"
}

// Clean removes every extracted package directory not used since
// olderThan, returning the number of bytes reclaimed.
func (c *Cache) Clean(olderThan time.Time) (int64, error) {
	entries, err := c.idx.all()
	if err != nil {
		return 0, err
	}

	var reclaimed int64
	for _, e := range entries {
		if e.LastUsedAt.After(olderThan) {
			continue
		}
		if err := os.RemoveAll(e.ExtractedPath); err != nil {
			return reclaimed, fmt.Errorf("pkgcache: removing %s: %w", e.ExtractedPath, err)
		}
		if err := c.idx.delete(e.Digest); err != nil {
			return reclaimed, err
		}
		reclaimed += e.SizeBytes
	}
	return reclaimed, nil
}

// Info summarizes the cache's current contents for introspection.
type Info struct {
	PackageCount int
	TotalBytes   int64
}

// Stat reports how many packages are cached and their total extracted
// size.
func (c *Cache) Stat() (Info, error) {
	entries, err := c.idx.all()
	if err != nil {
		return Info{}, err
	}
	info := Info{PackageCount: len(entries)}
	for _, e := range entries {
		info.TotalBytes += e.SizeBytes
	}
	return info, nil
}
