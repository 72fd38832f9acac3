package jlap

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/crypto/blake2b"
)

// State is the small descriptor a client persists per subdir: the byte
// offset already consumed from the JLAP log, the running MAC iv, the last
// footer seen, and the content hash of the cached repodata.json it
// applies against.
type State struct {
	Position    int64  `json:"jlap_position"`
	IV          string `json:"iv"`
	Footer      Footer `json:"footer"`
	ContentHash string `json:"content_hash"`
}

// HTTPDoer is satisfied by *http.Client; abstracted so tests can supply a
// scripted transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher runs the JLAP HTTP protocol: a ranged GET, a single retry from
// byte 0 on 416, and fatal propagation of any other HTTP failure.
type Fetcher struct {
	Client HTTPDoer
}

// Fetch issues "GET <jlapURL>" with "Range: bytes=<pos>-". On HTTP 416 with
// pos > 0 it retries once from "bytes=0-", resetting pos to 0 for the
// caller. Any other non-2xx response is a fatal *ProtocolError.
func (f *Fetcher) Fetch(ctx context.Context, jlapURL string, pos int64) (body []byte, newPos int64, err error) {
	body, status, err := f.rangedGet(ctx, jlapURL, pos)
	if err != nil {
		return nil, pos, err
	}
	if status == http.StatusRequestedRangeNotSatisfiable && pos > 0 {
		body, status, err = f.rangedGet(ctx, jlapURL, 0)
		if err != nil {
			return nil, 0, err
		}
		pos = 0
	}
	if status < 200 || status >= 300 {
		return nil, pos, errProtocol("GET %s: unexpected status %d", jlapURL, status)
	}
	return body, pos, nil
}

func (f *Fetcher) rangedGet(ctx context.Context, url string, pos int64) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("jlap: building request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", pos))

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("jlap: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("jlap: reading response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// ContentHash returns the hex-encoded Blake2b-256 hash of a repodata.json
// document. Unlike the JLAP chain's keyed MAC, this is an unkeyed digest
// used only to identify "which version of repodata.json do I have".
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sync runs one JLAP sync cycle: fetch from state.Position, parse, verify
// the MAC chain, and apply the applicable patches to cachedRepodata.
//
// On a NO_HASH_FOUND *IntegrityError the returned state has Position reset to 0 so the next
// sync restarts the JLAP log from scratch; the caller is still responsible
// for falling back to a full repodata refetch, since a patch chain restart
// alone cannot recover a cache that has diverged from every hash the
// server still has patches for.
func Sync(ctx context.Context, fetcher *Fetcher, jlapURL string, state State, cachedRepodata []byte) (newRepodata []byte, newState State, err error) {
	body, pos, err := fetcher.Fetch(ctx, jlapURL, state.Position)
	if err != nil {
		return nil, state, err
	}
	state.Position = pos

	doc, err := Parse(body, state.IV)
	if err != nil {
		return nil, state, err
	}
	if err := doc.Verify(); err != nil {
		return nil, state, err
	}

	currentHash := state.ContentHash
	if currentHash == "" {
		currentHash = ContentHash(cachedRepodata)
	}

	patched, _, err := doc.Apply(cachedRepodata, currentHash)
	if err != nil {
		var integrity *IntegrityError
		if errors.As(err, &integrity) && integrity.Code == "NO_HASH_FOUND" {
			state.Position = 0
			return nil, state, err
		}
		return nil, state, err
	}

	newHash := ContentHash(patched)
	if doc.Footer.Latest != "" && newHash != doc.Footer.Latest {
		return nil, state, errHashesNotMatching(fmt.Sprintf("expected %s, got %s", doc.Footer.Latest, newHash))
	}

	state.Position += doc.ConsumedBytes()
	state.IV = doc.FinalIV()
	state.Footer = doc.Footer
	state.ContentHash = newHash

	return patched, state, nil
}

