package gateway

import (
	"compress/bzip2"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mamba-org/rattler/internal/atomicfile"
	"github.com/mamba-org/rattler/internal/credstore"
	"github.com/mamba-org/rattler/internal/jlap"
	"github.com/mamba-org/rattler/internal/ociclient"
	"github.com/mamba-org/rattler/internal/repodata"
)

// sidecarState is the on-disk ".state.json" persisted next to a cached
// repodata.json: the conditional-GET validators plus the JLAP descriptor
// needed to resume incremental patching.
type sidecarState struct {
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	ContentHash  string     `json:"blake2b_256,omitempty"`
	JLAP         jlap.State `json:"jlap"`
}

// HTTPFetcher implements SubdirFetcher over plain HTTP channels and, via
// internal/ociclient, "oci://" channels. It caches each subdir's
// repodata.json on disk and refreshes it incrementally through JLAP
// before falling back to a full conditional GET.
type HTTPFetcher struct {
	Client      *http.Client
	CacheDir    string
	Credentials *credstore.Store
	OCI         *ociclient.Client
	UseJLAP     bool
}

// NewHTTPFetcher builds a fetcher rooted at cacheDir, loading (but not
// requiring) a credential store for authenticated channels.
func NewHTTPFetcher(cacheDir string) *HTTPFetcher {
	creds, _ := credstore.Load()
	return &HTTPFetcher{
		Client:      http.DefaultClient,
		CacheDir:    cacheDir,
		Credentials: creds,
		OCI:         ociclient.New(false),
		UseJLAP:     true,
	}
}

func subdirCacheDir(root, channel, platform string) string {
	sum := sha1.Sum([]byte(channel))
	return filepath.Join(root, hex.EncodeToString(sum[:])[:16], platform)
}

// FetchSubdir loads one (channel, platform) subdir's repodata, using a
// cached copy plus an incremental JLAP refresh when possible.
func (f *HTTPFetcher) FetchSubdir(ctx context.Context, channel, platform string) (*repodata.SparseIndex, error) {
	if ociclient.IsOCIChannel(channel) {
		return f.fetchOCISubdir(ctx, channel, platform)
	}

	dir := subdirCacheDir(f.CacheDir, channel, platform)
	repoPath := filepath.Join(dir, "repodata.json")
	statePath := filepath.Join(dir, ".state.json")

	cached, _ := os.ReadFile(repoPath)
	state := loadSidecar(statePath)

	if f.UseJLAP && len(cached) > 0 {
		if data, newState, err := f.syncJLAP(ctx, channel, platform, state, cached); err == nil {
			if writeErr := f.persist(dir, repoPath, statePath, data, newState); writeErr == nil {
				return repodata.BuildSparseIndex(platform, data)
			}
		}
		// Any JLAP failure (network, protocol, integrity) falls back to a
		// full fetch below; the gateway treats JLAP as a cache
		// optimization, never a hard dependency.
	}

	data, newState, err := f.fullFetch(ctx, channel, platform, state)
	if err != nil {
		return nil, err
	}
	if data == nil {
		// 304 Not Modified: the cache on disk is already current.
		return repodata.BuildSparseIndex(platform, cached)
	}
	if err := f.persist(dir, repoPath, statePath, data, newState); err != nil {
		return nil, err
	}
	return repodata.BuildSparseIndex(platform, data)
}

func (f *HTTPFetcher) syncJLAP(ctx context.Context, channel, platform string, state sidecarState, cached []byte) ([]byte, sidecarState, error) {
	jlapURL := strings.TrimRight(channel, "/") + "/" + platform + "/repodata.jlap"
	fetcher := &jlap.Fetcher{Client: f.authenticatedClient(channel)}

	patched, newJLAP, err := jlap.Sync(ctx, fetcher, jlapURL, state.JLAP, cached)
	if err != nil {
		return nil, state, err
	}
	state.JLAP = newJLAP
	state.ContentHash = newJLAP.ContentHash
	return patched, state, nil
}

func (f *HTTPFetcher) fullFetch(ctx context.Context, channel, platform string, state sidecarState) ([]byte, sidecarState, error) {
	url := strings.TrimRight(channel, "/") + "/" + platform + "/repodata.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, state, fmt.Errorf("gateway: building request for %s: %w", url, err)
	}
	if state.ETag != "" {
		req.Header.Set("If-None-Match", state.ETag)
	}
	if state.LastModified != "" {
		req.Header.Set("If-Modified-Since", state.LastModified)
	}

	resp, err := f.authenticatedClient(channel).Do(req)
	if err != nil {
		return nil, state, fmt.Errorf("gateway: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return nil, state, nil
	case http.StatusNotFound:
		return nil, state, &NotFoundError{Channel: channel, Platform: platform}
	default:
		return nil, state, fmt.Errorf("gateway: fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := decompress(resp.Header.Get("Content-Type"), url, resp.Body)
	if err != nil {
		return nil, state, fmt.Errorf("gateway: decompressing %s: %w", url, err)
	}

	state.ETag = resp.Header.Get("ETag")
	state.LastModified = resp.Header.Get("Last-Modified")
	state.ContentHash = jlap.ContentHash(body)
	state.JLAP = jlap.State{ContentHash: state.ContentHash}

	return body, state, nil
}

func (f *HTTPFetcher) authenticatedClient(channel string) *http.Client {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	if f.Credentials == nil {
		return client
	}
	cred, ok := f.Credentials.Get(channel)
	if !ok || cred.Token == "" {
		return client
	}
	return &http.Client{
		Transport: &bearerTokenTransport{base: client.Transport, token: cred.Token},
		Timeout:   client.Timeout,
	}
}

type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return base.RoundTrip(req)
}

func decompress(contentType, url string, body io.Reader) ([]byte, error) {
	switch {
	case strings.HasSuffix(url, ".zst") || strings.Contains(contentType, "zstd"):
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case strings.HasSuffix(url, ".bz2") || strings.Contains(contentType, "bzip2"):
		return io.ReadAll(bzip2.NewReader(body))
	default:
		return io.ReadAll(body)
	}
}

func (f *HTTPFetcher) persist(dir, repoPath, statePath string, data []byte, state sidecarState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gateway: creating cache directory %s: %w", dir, err)
	}
	if err := atomicfile.WriteFile(repoPath, data, 0o644); err != nil {
		return err
	}
	stateData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("gateway: marshaling subdir state: %w", err)
	}
	return atomicfile.WriteFile(statePath, stateData, 0o644)
}

func loadSidecar(path string) sidecarState {
	data, err := os.ReadFile(path)
	if err != nil {
		return sidecarState{}
	}
	var s sidecarState
	if err := json.Unmarshal(data, &s); err != nil {
		return sidecarState{}
	}
	return s
}

func (f *HTTPFetcher) fetchOCISubdir(ctx context.Context, channel, platform string) (*repodata.SparseIndex, error) {
	ref := ociclient.StripScheme(channel)
	var cred ociclient.Credential
	if f.Credentials != nil {
		if c, ok := f.Credentials.Get(channel); ok {
			cred = ociclient.Credential{Username: c.Username, Password: c.Token}
		}
	}

	manifest, err := f.OCI.FetchSubdirManifest(ctx, ref, platform, cred)
	if err != nil {
		return nil, &NotFoundError{Channel: channel, Platform: platform}
	}

	for _, layer := range manifest.Layers {
		if layer.MediaType != ociclient.MediaTypeRepodata {
			continue
		}
		rc, err := f.OCI.FetchLayer(ctx, ref, layer, cred)
		if err != nil {
			return nil, fmt.Errorf("gateway: fetching repodata layer from %s: %w", channel, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("gateway: reading repodata layer from %s: %w", channel, err)
		}
		return repodata.BuildSparseIndex(platform, data)
	}
	return nil, fmt.Errorf("gateway: no repodata layer found in %s:%s manifest", channel, platform)
}
