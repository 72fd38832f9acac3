package gateway

import (
	"bytes"
	"compress/bzip2"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/mamba-org/rattler/internal/credstore"
)

func TestFullFetchConditionalGET(t *testing.T) {
	const body = `{"packages":{},"packages.conda":{}}`
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc"`)
		w.Write([]byte(body))
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: srv.Client(), CacheDir: t.TempDir()}

	data, state, err := f.fullFetch(context.Background(), srv.URL, "linux-64", sidecarState{})
	if err != nil {
		t.Fatalf("fullFetch: %v", err)
	}
	if string(data) != body {
		t.Errorf("got body %q, want %q", data, body)
	}
	if state.ETag != `"abc"` {
		t.Errorf("got ETag %q, want %q", state.ETag, `"abc"`)
	}

	data2, _, err := f.fullFetch(context.Background(), srv.URL, "linux-64", state)
	if err != nil {
		t.Fatalf("fullFetch (conditional): %v", err)
	}
	if data2 != nil {
		t.Errorf("expected nil body on 304, got %q", data2)
	}
	if requests != 2 {
		t.Errorf("expected 2 requests, got %d", requests)
	}
}

func TestFullFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: srv.Client(), CacheDir: t.TempDir()}
	_, _, err := f.fullFetch(context.Background(), srv.URL, "osx-arm64", sidecarState{})

	var nf *NotFoundError
	if err == nil {
		t.Fatal("expected NotFoundError, got nil")
	}
	if !asNotFound(err, &nf) {
		t.Errorf("expected *NotFoundError, got %T: %v", err, err)
	}
}

func asNotFound(err error, target **NotFoundError) bool {
	nf, ok := err.(*NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

func TestDecompressBz2(t *testing.T) {
	want := []byte(`{"packages":{}}`)
	compressed := compressBzip2(t, want)

	got, err := decompress("application/x-bzip2", "https://example.com/linux-64/repodata.json.bz2", bytes.NewReader(compressed))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecompressPassthrough(t *testing.T) {
	want := []byte(`{"packages":{}}`)
	got, err := decompress("application/json", "https://example.com/linux-64/repodata.json", bytes.NewReader(want))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestAuthenticatedClientAddsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	store := &credstore.Store{Channels: map[string]credstore.Credential{
		srv.URL: {Username: "user", Token: "s3cr3t"},
	}}
	f := &HTTPFetcher{Client: srv.Client(), Credentials: store}

	client := f.authenticatedClient(srv.URL)
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	if gotAuth != "Bearer s3cr3t" {
		t.Errorf("got Authorization %q, want %q", gotAuth, "Bearer s3cr3t")
	}
}

func TestAuthenticatedClientNoCredential(t *testing.T) {
	f := &HTTPFetcher{Client: http.DefaultClient, Credentials: &credstore.Store{Channels: map[string]credstore.Credential{}}}
	if client := f.authenticatedClient("https://example.com"); client != http.DefaultClient {
		t.Errorf("expected base client unchanged when no credential is stored")
	}
}

func TestSubdirCacheDirDeterministic(t *testing.T) {
	a := subdirCacheDir("/cache", "https://conda.anaconda.org/conda-forge", "linux-64")
	b := subdirCacheDir("/cache", "https://conda.anaconda.org/conda-forge", "linux-64")
	if a != b {
		t.Errorf("subdirCacheDir is not deterministic: %q != %q", a, b)
	}
	other := subdirCacheDir("/cache", "https://conda.anaconda.org/bioconda", "linux-64")
	if a == other {
		t.Errorf("expected different channels to hash to different directories")
	}
}

func TestPersistAndLoadSidecar(t *testing.T) {
	dir := t.TempDir()
	f := &HTTPFetcher{}
	state := sidecarState{ETag: `"xyz"`, ContentHash: "deadbeef"}

	repoPath := filepath.Join(dir, "repodata.json")
	statePath := filepath.Join(dir, ".state.json")
	if err := f.persist(dir, repoPath, statePath, []byte(`{}`), state); err != nil {
		t.Fatalf("persist: %v", err)
	}

	got := loadSidecar(statePath)
	if got.ETag != state.ETag || got.ContentHash != state.ContentHash {
		t.Errorf("loadSidecar roundtrip mismatch: got %+v, want %+v", got, state)
	}

	if loaded := loadSidecar(filepath.Join(dir, "missing.json")); loaded != (sidecarState{}) {
		t.Errorf("expected empty sidecarState for a missing file, got %+v", loaded)
	}
}

// compressBzip2 shells out to bzip2 since the standard library only
// implements bzip2 decompression.
func compressBzip2(t *testing.T, data []byte) []byte {
	t.Helper()
	if _, err := exec.LookPath("bzip2"); err != nil {
		t.Skip("bzip2 binary not available")
	}

	cmd := exec.Command("bzip2", "-z", "-c")
	cmd.Stdin = bytes.NewReader(data)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		t.Fatalf("compressing test fixture: %v", err)
	}

	// Sanity-check our own fixture decodes back to the input before using
	// it to exercise decompress().
	r := bzip2.NewReader(bytes.NewReader(out.Bytes()))
	roundTrip, err := io.ReadAll(r)
	if err != nil || !bytes.Equal(roundTrip, data) {
		t.Fatalf("bzip2 fixture round-trip failed: %v", err)
	}
	return out.Bytes()
}
