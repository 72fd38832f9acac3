// Package lockfile models the per-environment YAML manifest that pins a
// solved package set (conda and PyPI) so an environment can be
// reproduced without re-running the solver.
package lockfile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/mamba-org/rattler/internal/atomicfile"
	"github.com/mamba-org/rattler/internal/repodata"
)

// CurrentVersion is the lockfile schema version this package writes.
const CurrentVersion = 1

// PackageKind distinguishes a conda package from a PyPI one within a
// locked environment's package list.
type PackageKind string

const (
	KindConda PackageKind = "conda"
	KindPyPI  PackageKind = "pypi"
)

// LockedPackage is one resolved package pinned into an environment's
// platform-specific package list.
type LockedPackage struct {
	Name    string      `yaml:"name"`
	Version string      `yaml:"version"`
	Build   string      `yaml:"build,omitempty"`
	Subdir  string      `yaml:"subdir,omitempty"`
	URL     string      `yaml:"url"`
	SHA256  string      `yaml:"sha256,omitempty"`
	MD5     string      `yaml:"md5,omitempty"`
	Depends []string    `yaml:"depends,omitempty"`
	Kind    PackageKind `yaml:"kind"`
}

// Environment is one named environment's channel set and per-platform
// package lists.
type Environment struct {
	Channels []string                   `yaml:"channels"`
	Packages map[string][]LockedPackage `yaml:"packages"`
}

// Lockfile is the top-level document: schema version plus every named
// environment it describes.
type Lockfile struct {
	Version      int                    `yaml:"version"`
	Environments map[string]Environment `yaml:"environments"`
}

// Empty returns a version-tagged Lockfile with no environments, the value
// Read returns for a missing file.
func Empty() *Lockfile {
	return &Lockfile{Version: CurrentVersion, Environments: make(map[string]Environment)}
}

// Read loads a lockfile from path. A missing file is not an error: it
// yields Empty().
func Read(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("lockfile: reading %s: %w", path, err)
	}

	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("lockfile: parsing %s: %w", path, err)
	}
	if lf.Environments == nil {
		lf.Environments = make(map[string]Environment)
	}
	if lf.Version == 0 {
		lf.Version = CurrentVersion
	}
	return &lf, nil
}

// Write serializes the lockfile to path via write-then-rename.
func (lf *Lockfile) Write(path string) error {
	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("lockfile: marshaling: %w", err)
	}
	return atomicfile.WriteFile(path, data, 0o644)
}

// FromRecords builds the LockedPackage list for one platform from a
// solved RepoDataRecord set, sorted by name for deterministic output.
func FromRecords(records []repodata.RepoDataRecord) []LockedPackage {
	out := make([]LockedPackage, 0, len(records))
	for _, r := range records {
		out = append(out, LockedPackage{
			Name:    r.Name,
			Version: r.Version,
			Build:   r.BuildString,
			Subdir:  r.Subdir,
			URL:     r.URL,
			SHA256:  r.SHA256,
			MD5:     r.MD5,
			Depends: append([]string(nil), r.Depends...),
			Kind:    KindConda,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetEnvironment replaces (or adds) one platform's package list within a
// named environment, creating the environment if it doesn't exist yet.
func (lf *Lockfile) SetEnvironment(name, platform string, channels []string, packages []LockedPackage) {
	env, ok := lf.Environments[name]
	if !ok {
		env = Environment{Packages: make(map[string][]LockedPackage)}
	}
	env.Channels = append([]string(nil), channels...)
	if env.Packages == nil {
		env.Packages = make(map[string][]LockedPackage)
	}
	env.Packages[platform] = packages
	lf.Environments[name] = env
}

// ContentHash computes a stable SHA-256 digest over the sorted, canonical
// inputs that determine whether a lockfile is stale relative to the
// specs that produced it: the platform, the input match-spec strings,
// and the channel list.
func ContentHash(platform string, specs, channels []string) string {
	sortedSpecs := append([]string(nil), specs...)
	sort.Strings(sortedSpecs)
	sortedChannels := append([]string(nil), channels...)
	sort.Strings(sortedChannels)

	payload := struct {
		Platform string   `json:"platform"`
		Specs    []string `json:"specs"`
		Channels []string `json:"channels"`
	}{Platform: platform, Specs: sortedSpecs, Channels: sortedChannels}

	// json.Marshal is deterministic for this shape: struct field order is
	// fixed and both slices were sorted above.
	data, err := json.Marshal(payload)
	if err != nil {
		// Unreachable for this payload shape; keep ContentHash infallible
		// for callers since a hash mismatch is never a caller bug.
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
