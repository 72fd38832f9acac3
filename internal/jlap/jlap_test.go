package jlap

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"golang.org/x/crypto/blake2b"
)

// buildLog constructs a valid JLAP log body from an iv and a list of
// {from,to,patch} triples, computing the MAC chain and checksum so tests
// don't have to hand-compute Blake2b digests.
func buildLog(t *testing.T, iv string, patches []patchSpec, footer Footer) string {
	t.Helper()
	ivBytes, err := hex.DecodeString(iv)
	if err != nil {
		t.Fatalf("bad iv in test fixture: %v", err)
	}

	var lines []string
	lines = append(lines, iv)
	running := ivBytes
	for _, p := range patches {
		line, err := json.Marshal(map[string]any{
			"from":  p.From,
			"to":    p.To,
			"patch": json.RawMessage(p.Patch),
		})
		if err != nil {
			t.Fatalf("marshal patch line: %v", err)
		}
		next, err := macStep(running, line)
		if err != nil {
			t.Fatalf("macStep: %v", err)
		}
		running = next
		lines = append(lines, string(line))
	}
	footerLine, err := json.Marshal(footer)
	if err != nil {
		t.Fatalf("marshal footer: %v", err)
	}
	lines = append(lines, string(footerLine))
	lines = append(lines, hex.EncodeToString(running))
	return strings.Join(lines, "\n") + "\n"
}

type patchSpec struct {
	From, To, Patch string
}

func contentHashOf(doc string) string {
	sum := blake2b.Sum256([]byte(doc))
	return hex.EncodeToString(sum[:])
}

func TestParseAndVerifyChain(t *testing.T) {
	doc0 := `{"packages":{}}`
	h0 := contentHashOf(doc0)
	doc1 := `{"packages":{"zstd-1.5.5.tar.bz2":{"name":"zstd","version":"1.5.5"}}}`
	h1 := contentHashOf(doc1)

	iv := strings.Repeat("00", 32)
	body := buildLog(t, iv, []patchSpec{
		{From: h0, To: h1, Patch: `[{"op":"add","path":"/packages/zstd-1.5.5.tar.bz2","value":{"name":"zstd","version":"1.5.5"}}]`},
	}, Footer{URL: "repodata.json", Latest: h1})

	doc, err := Parse([]byte(body), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := doc.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(doc.Patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(doc.Patches))
	}
}

func TestVerifyDetectsChecksumMismatch(t *testing.T) {
	doc0 := `{"packages":{}}`
	h0 := contentHashOf(doc0)
	body := buildLog(t, strings.Repeat("00", 32), []patchSpec{
		{From: h0, To: "ff", Patch: `[]`},
	}, Footer{URL: "repodata.json", Latest: "ff"})

	// Corrupt the checksum line.
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	lines[len(lines)-1] = strings.Repeat("ab", 32)
	corrupted := strings.Join(lines, "\n") + "\n"

	doc, err := Parse([]byte(corrupted), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err = doc.Verify()
	if err == nil {
		t.Fatalf("expected checksum verification to fail")
	}
	if ie, ok := err.(*IntegrityError); !ok || ie.Code != "CHECKSUM_MISMATCH" {
		t.Fatalf("expected CHECKSUM_MISMATCH, got %v", err)
	}
}

// TestApplyInitialPatch covers scenario S4: a single patch from H0 to H1.
func TestApplyInitialPatch(t *testing.T) {
	doc0 := []byte(`{"packages":{},"packages.conda":{}}`)
	h0 := contentHashOf(string(doc0))

	patched := `{"packages":{"zstd-1.5.5.tar.bz2":{"name":"zstd","version":"1.5.5"}},"packages.conda":{}}`
	h1 := contentHashOf(patched)

	body := buildLog(t, strings.Repeat("00", 32), []patchSpec{
		{From: h0, To: h1, Patch: `[{"op":"add","path":"/packages/zstd-1.5.5.tar.bz2","value":{"name":"zstd","version":"1.5.5"}}]`},
	}, Footer{URL: "repodata.json", Latest: h1})

	doc, err := Parse([]byte(body), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := doc.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	out, applied, err := doc.Apply(doc0, h0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 patch applied, got %d", applied)
	}
	if contentHashOf(string(out)) != h1 {
		t.Fatalf("patched document hash mismatch: got %s want %s", contentHashOf(string(out)), h1)
	}
	if !bytes.Contains(out, []byte("zstd")) {
		t.Fatalf("expected patched document to contain zstd, got %s", out)
	}
}

// TestApplyPartialPatch covers scenario S5: the client already consumed the
// first patch in a prior session; only the second, newer patch applies.
func TestApplyPartialPatch(t *testing.T) {
	doc0 := `{"packages":{}}`
	h0 := contentHashOf(doc0)
	doc1 := `{"packages":{"a-1.tar.bz2":{"name":"a","version":"1"}}}`
	h1 := contentHashOf(doc1)
	doc2 := `{"packages":{"a-1.tar.bz2":{"name":"a","version":"1"},"b-1.tar.bz2":{"name":"b","version":"1"}}}`
	h2 := contentHashOf(doc2)

	body := buildLog(t, strings.Repeat("00", 32), []patchSpec{
		{From: h0, To: h1, Patch: `[{"op":"add","path":"/packages/a-1.tar.bz2","value":{"name":"a","version":"1"}}]`},
		{From: h1, To: h2, Patch: `[{"op":"add","path":"/packages/b-1.tar.bz2","value":{"name":"b","version":"1"}}]`},
	}, Footer{URL: "repodata.json", Latest: h2})

	doc, err := Parse([]byte(body), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := doc.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The client's cache is already at h1 (it applied the first patch in an
	// earlier session); only the second patch should apply now.
	out, applied, err := doc.Apply([]byte(doc1), h1)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected exactly 1 patch applied, got %d", applied)
	}
	if contentHashOf(string(out)) != h2 {
		t.Fatalf("patched document hash mismatch: got %s want %s", contentHashOf(string(out)), h2)
	}
}

func TestApplyNoHashFound(t *testing.T) {
	body := buildLog(t, strings.Repeat("00", 32), []patchSpec{
		{From: "aa", To: "bb", Patch: `[]`},
	}, Footer{URL: "repodata.json", Latest: "bb"})

	doc, err := Parse([]byte(body), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, _, err = doc.Apply([]byte(`{}`), "does-not-exist")
	if err == nil {
		t.Fatalf("expected NO_HASH_FOUND")
	}
	ie, ok := err.(*IntegrityError)
	if !ok || ie.Code != "NO_HASH_FOUND" {
		t.Fatalf("expected NO_HASH_FOUND, got %v", err)
	}
}

func TestApplyAlreadyLatest(t *testing.T) {
	doc0 := `{"packages":{}}`
	h0 := contentHashOf(doc0)
	body := buildLog(t, strings.Repeat("00", 32), []patchSpec{
		{From: "prev", To: h0, Patch: `[]`},
	}, Footer{URL: "repodata.json", Latest: h0})

	doc, err := Parse([]byte(body), "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	out, applied, err := doc.Apply([]byte(doc0), h0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if applied != 0 {
		t.Fatalf("expected 0 patches applied when already at latest, got %d", applied)
	}
	if string(out) != doc0 {
		t.Fatalf("expected document unchanged")
	}
}

type scriptedTransport struct {
	responses []*http.Response
	calls     int
}

func (s *scriptedTransport) Do(req *http.Request) (*http.Response, error) {
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func newResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{},
	}
}

func TestFetchRetriesFromZeroOn416(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*http.Response{
			newResponse(http.StatusRequestedRangeNotSatisfiable, ""),
			newResponse(http.StatusOK, "fresh-log-body\n"),
		},
	}
	fetcher := &Fetcher{Client: transport}

	body, pos, err := fetcher.Fetch(context.Background(), "https://example.test/linux-64/repodata.jlap", 4096)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if pos != 0 {
		t.Fatalf("expected position reset to 0, got %d", pos)
	}
	if string(body) != "fresh-log-body\n" {
		t.Fatalf("unexpected body: %q", body)
	}
	if transport.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", transport.calls)
	}
}

func TestFetchFatalOnOtherStatus(t *testing.T) {
	transport := &scriptedTransport{
		responses: []*http.Response{
			newResponse(http.StatusInternalServerError, ""),
		},
	}
	fetcher := &Fetcher{Client: transport}
	_, _, err := fetcher.Fetch(context.Background(), "https://example.test/linux-64/repodata.jlap", 0)
	if err == nil {
		t.Fatalf("expected a fatal protocol error")
	}
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected *ProtocolError, got %T", err)
	}
}
