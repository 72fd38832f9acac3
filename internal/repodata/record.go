// Package repodata models the package records published in a channel
// subdirectory's repodata.json, and provides a sparse index that decodes
// only the records for package names a caller actually asks about.
package repodata

import (
	"strings"
)

// NoarchKind distinguishes platform-independent packages.
type NoarchKind int

const (
	NoarchNone NoarchKind = iota
	NoarchGeneric
	NoarchPython
)

func (k NoarchKind) String() string {
	switch k {
	case NoarchGeneric:
		return "generic"
	case NoarchPython:
		return "python"
	default:
		return ""
	}
}

// PackageRecord is the identifying tuple (name, version, build, subdir)
// plus the attributes a solver and installer need to reason about a
// package. It is immutable after construction.
type PackageRecord struct {
	Name            string     `json:"name"`
	Version         string     `json:"version"`
	BuildString     string     `json:"build"`
	BuildNumber     int64      `json:"build_number"`
	Subdir          string     `json:"subdir"`
	Depends         []string   `json:"depends,omitempty"`
	Constrains      []string   `json:"constrains,omitempty"`
	TrackFeatures   []string   `json:"track_features,omitempty"`
	Noarch          NoarchKind `json:"-"`
	Timestamp       int64      `json:"timestamp,omitempty"`
	Size            int64      `json:"size,omitempty"`
	MD5             string     `json:"md5,omitempty"`
	SHA256          string     `json:"sha256,omitempty"`
	LegacyBz2MD5    string     `json:"legacy_bz2_md5,omitempty"`
	FileName        string     `json:"fn"`
}

// NormalizeName lowercases a package name and unifies "-", "_", "." as the
// separator conda treats as equivalent in package names.
func NormalizeName(name string) string {
	lower := strings.ToLower(name)
	return strings.NewReplacer("_", "-", ".", "-").Replace(lower)
}

// Key returns the (name, version, build, subdir) identifying tuple as a
// single comparable string, useful as a map key for dedup passes.
func (r PackageRecord) Key() string {
	return NormalizeName(r.Name) + "|" + r.Version + "|" + r.BuildString + "|" + r.Subdir
}

// RepoDataRecord is a PackageRecord plus provenance: the channel it came
// from, and its canonical download URL. FileName is inherited from the
// embedded PackageRecord.
type RepoDataRecord struct {
	PackageRecord
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// Stem returns the archive file name without its ".tar.bz2" or ".conda"
// extension, used to dedup the same logical package published in both
// legacy and modern archive formats.
func Stem(fileName string) string {
	switch {
	case strings.HasSuffix(fileName, ".conda"):
		return strings.TrimSuffix(fileName, ".conda")
	case strings.HasSuffix(fileName, ".tar.bz2"):
		return strings.TrimSuffix(fileName, ".tar.bz2")
	default:
		return fileName
	}
}

// IsConda reports whether fileName uses the newer .conda archive format.
func IsConda(fileName string) bool {
	return strings.HasSuffix(fileName, ".conda")
}

// DependencyName extracts the package name portion of a match-spec-shaped
// dependency string: everything up to the first space.
func DependencyName(dep string) string {
	if idx := strings.IndexByte(dep, ' '); idx >= 0 {
		return dep[:idx]
	}
	return dep
}

// DedupRecords dedups a list of RepoDataRecords for a single package name:
// when both ".conda" and ".tar.bz2" forms of the same file stem are
// present, keep the ".conda" form.
func DedupRecords(records []RepoDataRecord) []RepoDataRecord {
	byStem := make(map[string][]RepoDataRecord, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		stem := Stem(r.FileName)
		if _, ok := byStem[stem]; !ok {
			order = append(order, stem)
		}
		byStem[stem] = append(byStem[stem], r)
	}
	out := make([]RepoDataRecord, 0, len(records))
	for _, stem := range order {
		variants := byStem[stem]
		if len(variants) == 1 {
			out = append(out, variants[0])
			continue
		}
		var chosen *RepoDataRecord
		for i := range variants {
			if IsConda(variants[i].FileName) {
				chosen = &variants[i]
				break
			}
		}
		if chosen == nil {
			chosen = &variants[0]
		}
		out = append(out, *chosen)
	}
	return out
}
