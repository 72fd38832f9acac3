// Package jlap implements an incremental repodata patch protocol: a
// newline-delimited log of checksum-chained RFC-6902 JSON patches that
// lets a client keep its cached repodata.json current without refetching
// the full (often 10-100MB) index.
package jlap

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"golang.org/x/crypto/blake2b"
)

// Footer is the JLAP log's penultimate line.
type Footer struct {
	URL    string `json:"url"`
	Latest string `json:"latest"`
}

// patchLine is one decoded "{from, to, patch}" entry, plus the raw bytes of
// its source line (needed, undecoded, to compute the MAC chain).
type patchLine struct {
	From  string          `json:"from"`
	To    string          `json:"to"`
	Patch json.RawMessage `json:"patch"`
	raw   []byte
	// byteLen includes the trailing newline that separated this line from
	// the next, used to compute State.Position advances.
	byteLen int
}

// Document is a parsed, not-yet-verified JLAP log.
type Document struct {
	IV       string
	Patches  []patchLine
	Footer   Footer
	Checksum string
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Parse splits a JLAP response body into iv/patches/footer/checksum.
// priorIV is the caller's persisted iv, used when the body doesn't start
// with a fresh one (i.e. this is a partial, range-started response).
func Parse(body []byte, priorIV string) (*Document, error) {
	lines := bytes.Split(body, []byte{'\n'})
	// A trailing newline produces one spurious empty final element.
	if len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	if len(lines) < 2 {
		return nil, errProtocol("response too short to contain a footer and checksum")
	}

	doc := &Document{IV: priorIV}
	idx := 0
	if isHex64(string(lines[0])) && len(lines) >= 3 {
		doc.IV = string(lines[0])
		idx = 1
	}
	if doc.IV == "" {
		return nil, errProtocol("no iv available: body had none and no prior state was supplied")
	}

	checksumLine := lines[len(lines)-1]
	footerLine := lines[len(lines)-2]
	patchLines := lines[idx : len(lines)-2]

	doc.Checksum = string(bytes.TrimSpace(checksumLine))
	if !isHex64(doc.Checksum) {
		return nil, errProtocol("checksum line is not 64 hex digits")
	}

	var footer Footer
	if err := json.Unmarshal(footerLine, &footer); err != nil {
		return nil, errProtocol("bad footer JSON: %v", err)
	}
	doc.Footer = footer

	for _, l := range patchLines {
		if len(l) == 0 {
			continue
		}
		var pl patchLine
		if err := json.Unmarshal(l, &pl); err != nil {
			return nil, errProtocol("bad patch line JSON: %v", err)
		}
		pl.raw = l
		pl.byteLen = len(l) + 1 // + newline
		doc.Patches = append(doc.Patches, pl)
	}
	return doc, nil
}

// Verify walks the Blake2b-256 MAC chain: s0 = iv, s[i] = MAC(s[i-1],
// bytes(patch[i])), and requires the final running value to equal the
// trailing checksum line.
func (d *Document) Verify() error {
	running, err := hex.DecodeString(d.IV)
	if err != nil {
		return errProtocol("iv is not valid hex: %v", err)
	}
	for i, p := range d.Patches {
		next, err := macStep(running, p.raw)
		if err != nil {
			return errProtocol("computing MAC for patch %d: %v", i, err)
		}
		running = next
		if i > 0 && d.Patches[i-1].To != p.From {
			return errProtocol("patch chain discontinuity at index %d: %s != %s", i, d.Patches[i-1].To, p.From)
		}
	}
	got := hex.EncodeToString(running)
	if got != d.Checksum {
		return errChecksumMismatch(fmt.Sprintf("expected %s, computed %s", d.Checksum, got))
	}
	return nil
}

func macStep(key, message []byte) ([]byte, error) {
	h, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	h.Write(message)
	return h.Sum(nil), nil
}

// FinalIV returns the running MAC value after the last patch, i.e. the
// state transition's new iv when patches were applied.
func (d *Document) FinalIV() string {
	if len(d.Patches) == 0 {
		return d.IV
	}
	return d.Checksum
}

// ConsumedBytes returns the byte length (including newlines) of every
// patch line in the document, used to advance State.Position.
func (d *Document) ConsumedBytes() int64 {
	var total int64
	for _, p := range d.Patches {
		total += int64(p.byteLen)
	}
	return total
}

// Apply finds the patch whose "from" hash equals currentHash and applies
// it and every later patch, in order, to doc (a repodata.json document).
// It returns the patched document, the number of patches actually applied,
// and an error. Sync advances State.Position by ConsumedBytes, not by this
// count.
//
// If currentHash isn't the "from" of any patch, it returns an
// *IntegrityError with Code NO_HASH_FOUND; callers must reset their JLAP
// position to 0 and fall back to a full repodata fetch.
func (d *Document) Apply(doc []byte, currentHash string) ([]byte, int, error) {
	if d.Footer.Latest == currentHash {
		return doc, 0, nil
	}
	start := -1
	for i, p := range d.Patches {
		if p.From == currentHash {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, 0, errNoHashFound(fmt.Sprintf("no patch in this batch starts from %s", currentHash))
	}

	out := doc
	for i := start; i < len(d.Patches); i++ {
		patch, err := jsonpatch.DecodePatch(d.Patches[i].Patch)
		if err != nil {
			return nil, 0, errProtocol("decoding RFC-6902 patch %d: %v", i, err)
		}
		out, err = patch.Apply(out)
		if err != nil {
			return nil, 0, fmt.Errorf("jlap: applying patch %d: %w", i, err)
		}
	}
	return out, len(d.Patches) - start, nil
}
