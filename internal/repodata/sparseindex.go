package repodata

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SparseIndex is a subdir's repodata.json, optimized for "give me every
// record for package name N" without decoding the whole document. It scans
// the raw JSON once to find the byte span of each top-level package entry,
// grouped by normalized package name, and decodes only the spans a caller
// requests.
type SparseIndex struct {
	subdir  string
	dicts   [2][]byte // raw "packages" and "packages.conda" objects; a span indexes dicts[0] or dicts[1] by isConda
	byName  map[string][]span
}

type span struct {
	fileName string
	isConda  bool
	start    int
	end      int
}

// rawPackage mirrors the fields of a single repodata.json package entry
// that PackageRecord needs; unknown fields are ignored by encoding/json.
type rawPackage struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Build         string   `json:"build"`
	BuildNumber   int64    `json:"build_number"`
	Depends       []string `json:"depends"`
	Constrains    []string `json:"constrains"`
	TrackFeatures []string `json:"track_features"`
	Noarch        any      `json:"noarch"`
	Timestamp     int64    `json:"timestamp"`
	Size          int64    `json:"size"`
	MD5           string   `json:"md5"`
	SHA256        string   `json:"sha256"`
	LegacyBz2MD5  string   `json:"legacy_bz2_md5"`
}

func parseNoarch(v any) NoarchKind {
	switch t := v.(type) {
	case string:
		switch t {
		case "python":
			return NoarchPython
		case "generic":
			return NoarchGeneric
		}
	case bool:
		if t {
			return NoarchGeneric
		}
	}
	return NoarchNone
}

// BuildSparseIndex scans a repodata.json document (the "packages" and
// "packages.conda" dictionaries) and builds a byte-offset map keyed by
// normalized package name, without fully decoding any package's body.
func BuildSparseIndex(subdir string, raw []byte) (*SparseIndex, error) {
	idx := &SparseIndex{subdir: subdir, byName: make(map[string][]span)}

	var doc struct {
		Packages      json.RawMessage `json:"packages"`
		PackagesConda json.RawMessage `json:"packages.conda"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("repodata: parsing repodata.json for %s: %w", subdir, err)
	}
	idx.dicts = [2][]byte{doc.Packages, doc.PackagesConda}

	if err := idx.scanDict(doc.Packages, false); err != nil {
		return nil, err
	}
	if err := idx.scanDict(doc.PackagesConda, true); err != nil {
		return nil, err
	}
	return idx, nil
}

// scanDict walks a "packages"/"packages.conda" object and records, for
// each entry, the byte span of its value within that dictionary's bytes and
// the package name extracted from a first-pass decode of just that span.
func (idx *SparseIndex) scanDict(dict json.RawMessage, isConda bool) error {
	if len(dict) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(dict))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("repodata: bad dict: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("repodata: expected object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("repodata: bad key: %w", err)
		}
		fileName, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("repodata: bad value for %s: %w", fileName, err)
		}
		endOffset := dec.InputOffset()
		startOffset := endOffset - int64(len(raw))

		var pkg rawPackage
		if err := json.Unmarshal(raw, &pkg); err != nil {
			// A single malformed record does not poison the subdir: skip it.
			continue
		}
		name := NormalizeName(pkg.Name)
		idx.byName[name] = append(idx.byName[name], span{
			fileName: fileName,
			isConda:  isConda,
			start:    int(startOffset),
			end:      int(endOffset),
		})
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("repodata: bad dict terminator: %w", err)
	}
	return nil
}

// Names returns every normalized package name present in the index.
func (idx *SparseIndex) Names() []string {
	names := make([]string, 0, len(idx.byName))
	for n := range idx.byName {
		names = append(names, n)
	}
	return names
}

// LoadRecords decodes only the spans belonging to the given normalized
// package name, preferring .conda over .tar.bz2 on a stem collision
// before returning.
func (idx *SparseIndex) LoadRecords(name string) ([]RepoDataRecord, error) {
	spans, ok := idx.byName[NormalizeName(name)]
	if !ok {
		return nil, nil
	}
	records := make([]RepoDataRecord, 0, len(spans))
	for _, sp := range spans {
		src := idx.dicts[0]
		if sp.isConda {
			src = idx.dicts[1]
		}
		raw := src[sp.start:sp.end]
		var pkg rawPackage
		if err := json.Unmarshal(raw, &pkg); err != nil {
			continue
		}
		rec := RepoDataRecord{
			PackageRecord: PackageRecord{
				Name:          pkg.Name,
				Version:       pkg.Version,
				BuildString:   pkg.Build,
				BuildNumber:   pkg.BuildNumber,
				Subdir:        idx.subdir,
				Depends:       pkg.Depends,
				Constrains:    pkg.Constrains,
				TrackFeatures: pkg.TrackFeatures,
				Noarch:        parseNoarch(pkg.Noarch),
				Timestamp:     pkg.Timestamp,
				Size:          pkg.Size,
				MD5:           pkg.MD5,
				SHA256:        pkg.SHA256,
				LegacyBz2MD5:  pkg.LegacyBz2MD5,
				FileName:      sp.fileName,
			},
		}
		records = append(records, rec)
	}
	return DedupRecords(records), nil
}
