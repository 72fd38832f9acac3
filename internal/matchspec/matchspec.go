// Package matchspec parses and evaluates Conda match-specs: the
// channel/name/version/build constraint strings used both as user-facing
// install specs and as the dependency strings inside a PackageRecord.
package matchspec

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/version"
)

// Operator is a version (or build-number) comparison operator.
type Operator int

const (
	OpEq Operator = iota
	OpNe
	OpGe
	OpGt
	OpLe
	OpLt
	OpCompatible // ~=
	OpGlob       // trailing or embedded "*"
)

func (op Operator) String() string {
	switch op {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpGe:
		return ">="
	case OpGt:
		return ">"
	case OpLe:
		return "<="
	case OpLt:
		return "<"
	case OpCompatible:
		return "~="
	case OpGlob:
		return ""
	default:
		return "?"
	}
}

// VersionClause is a single "<op><version>" term.
type VersionClause struct {
	Op      Operator
	Version version.Version
	Glob    string // raw textual pattern, only set when Op == OpGlob
}

// VersionAlt is an AND-group of clauses (comma-separated in the source
// text). VersionSet is an OR of such groups ("|"-separated).
type VersionAlt []VersionClause
type VersionSet []VersionAlt

// Matches reports whether rawVersion (the record's literal version string,
// needed for glob clauses) and its parsed form satisfy the set.
func (vs VersionSet) Matches(rawVersion string, parsed version.Version) bool {
	if len(vs) == 0 {
		return true
	}
	for _, alt := range vs {
		if alt.matches(rawVersion, parsed) {
			return true
		}
	}
	return false
}

func (alt VersionAlt) matches(rawVersion string, parsed version.Version) bool {
	for _, c := range alt {
		if !c.matches(rawVersion, parsed) {
			return false
		}
	}
	return true
}

func (c VersionClause) matches(rawVersion string, parsed version.Version) bool {
	switch c.Op {
	case OpEq:
		return parsed.Equal(c.Version)
	case OpNe:
		return !parsed.Equal(c.Version)
	case OpGe:
		return !parsed.Less(c.Version)
	case OpGt:
		return parsed.Greater(c.Version)
	case OpLe:
		return !parsed.Greater(c.Version)
	case OpLt:
		return parsed.Less(c.Version)
	case OpCompatible:
		upper, ok := c.Version.Bump()
		if !ok {
			return !parsed.Less(c.Version)
		}
		return !parsed.Less(c.Version) && parsed.Less(upper)
	case OpGlob:
		return matchVersionGlob(c.Glob, rawVersion)
	default:
		return false
	}
}

// matchVersionGlob matches a "*"-wildcarded version pattern against a
// record's literal version string: dot-separated components of the
// pattern are matched one-for-one, with "*" matching any single component
// and a trailing ".*" matching any number of trailing components.
func matchVersionGlob(pattern, actual string) bool {
	if pattern == "*" {
		return true
	}
	patParts := strings.Split(pattern, ".")
	actParts := strings.Split(actual, ".")
	trailingWildcard := len(patParts) > 0 && patParts[len(patParts)-1] == "*"
	if trailingWildcard {
		patParts = patParts[:len(patParts)-1]
		if len(actParts) < len(patParts) {
			return false
		}
		actParts = actParts[:len(patParts)]
	} else if len(patParts) != len(actParts) {
		return false
	}
	for i, p := range patParts {
		if p == "*" {
			continue
		}
		if p != actParts[i] {
			return false
		}
	}
	return true
}

// NumberClause bounds a build number.
type NumberClause struct {
	Op    Operator
	Value int64
}

func (c NumberClause) matches(n int64) bool {
	switch c.Op {
	case OpEq:
		return n == c.Value
	case OpNe:
		return n != c.Value
	case OpGe:
		return n >= c.Value
	case OpGt:
		return n > c.Value
	case OpLe:
		return n <= c.Value
	case OpLt:
		return n < c.Value
	default:
		return false
	}
}

// NamelessMatchSpec is a MatchSpec with no name: the "body" of a dependency
// string after the name has been factored out.
type NamelessMatchSpec struct {
	VersionSet  VersionSet
	Build       string // glob
	BuildNumber *NumberClause
	FileName    string
	Channel     string
	Subdir      string
	MD5         string
	SHA256      string
}

// MatchSpec is a NamelessMatchSpec plus the package name it constrains.
type MatchSpec struct {
	Name string
	NamelessMatchSpec
}

// Matches reports whether rec satisfies every attribute s fixes: name,
// version set, build string, build number, file name, channel, subdir,
// and package hashes.
func (s MatchSpec) Matches(rec repodata.RepoDataRecord) bool {
	if s.Name != "" && repodata.NormalizeName(s.Name) != repodata.NormalizeName(rec.Name) {
		return false
	}
	return s.NamelessMatchSpec.Matches(rec)
}

// Matches evaluates every attribute of a NamelessMatchSpec against rec.
func (s NamelessMatchSpec) Matches(rec repodata.RepoDataRecord) bool {
	if len(s.VersionSet) > 0 {
		v, err := version.Parse(rec.Version)
		if err != nil || !s.VersionSet.Matches(rec.Version, v) {
			return false
		}
	}
	if s.Build != "" {
		ok, err := doublestar.Match(s.Build, rec.BuildString)
		if err != nil || !ok {
			return false
		}
	}
	if s.BuildNumber != nil && !s.BuildNumber.matches(rec.BuildNumber) {
		return false
	}
	if s.FileName != "" && s.FileName != rec.FileName {
		return false
	}
	if s.Channel != "" && normalizeChannel(s.Channel) != normalizeChannel(rec.Channel) {
		return false
	}
	if s.Subdir != "" && s.Subdir != rec.Subdir {
		return false
	}
	if s.MD5 != "" && !strings.EqualFold(s.MD5, rec.MD5) {
		return false
	}
	if s.SHA256 != "" && !strings.EqualFold(s.SHA256, rec.SHA256) {
		return false
	}
	return true
}

func normalizeChannel(c string) string {
	return strings.TrimRight(strings.TrimSpace(c), "/")
}

// Parse parses a match-spec string of the form
//
//	[channel::]name[ version][[key=value,...]]
//
// e.g. "numpy >=1.20,<2.0", "conda-forge::python ~=3.11", "numpy[build=py*,
// build_number=3]".
func Parse(raw string) (MatchSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return MatchSpec{}, newErr(ErrBadVersion, raw, "empty match-spec")
	}

	var spec MatchSpec

	// Extract a trailing "[key=value,...]" selector block first, since it
	// may itself contain spaces or commas that would confuse the
	// whitespace-delimited name/version split.
	body := s
	var bracket string
	if idx := strings.IndexByte(s, '['); idx >= 0 {
		if !strings.HasSuffix(s, "]") {
			return MatchSpec{}, newErr(ErrUnknownSelector, raw, "unterminated [selector]")
		}
		bracket = s[idx+1 : len(s)-1]
		body = strings.TrimSpace(s[:idx])
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return MatchSpec{}, newErr(ErrBadVersion, raw, "missing package name")
	}

	namePart := fields[0]
	if idx := strings.Index(namePart, "::"); idx >= 0 {
		spec.Channel = namePart[:idx]
		namePart = namePart[idx+2:]
	}
	spec.Name = namePart

	if len(fields) > 1 {
		versionText := strings.Join(fields[1:], " ")
		vs, err := parseVersionSet(versionText)
		if err != nil {
			return MatchSpec{}, fmt.Errorf("matchspec %q: %w", raw, err)
		}
		spec.VersionSet = vs
	}

	if bracket != "" {
		if err := applySelectors(&spec.NamelessMatchSpec, bracket, raw); err != nil {
			return MatchSpec{}, err
		}
	}

	return spec, nil
}

func parseVersionSet(text string) (VersionSet, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "*" {
		return nil, nil
	}
	var set VersionSet
	for _, altText := range strings.Split(text, "|") {
		alt, err := parseVersionAlt(altText)
		if err != nil {
			return nil, err
		}
		set = append(set, alt)
	}
	return set, nil
}

func parseVersionAlt(text string) (VersionAlt, error) {
	var alt VersionAlt
	for _, clauseText := range strings.Split(text, ",") {
		clauseText = strings.TrimSpace(clauseText)
		if clauseText == "" {
			continue
		}
		clause, err := parseVersionClause(clauseText)
		if err != nil {
			return nil, err
		}
		alt = append(alt, clause)
	}
	return alt, nil
}

var operatorsByLength = []struct {
	text string
	op   Operator
}{
	{">=", OpGe}, {"<=", OpLe}, {"==", OpEq}, {"!=", OpNe}, {"~=", OpCompatible},
	{">", OpGt}, {"<", OpLt}, {"=", OpEq},
}

func parseVersionClause(text string) (VersionClause, error) {
	for _, cand := range operatorsByLength {
		if strings.HasPrefix(text, cand.text) {
			rest := strings.TrimSpace(text[len(cand.text):])
			if strings.Contains(rest, "*") {
				return VersionClause{Op: OpGlob, Glob: rest}, nil
			}
			v, err := version.Parse(rest)
			if err != nil {
				return VersionClause{}, fmt.Errorf("bad version %q: %w", rest, err)
			}
			return VersionClause{Op: cand.op, Version: v}, nil
		}
	}
	if strings.Contains(text, "*") {
		return VersionClause{Op: OpGlob, Glob: text}, nil
	}
	v, err := version.Parse(text)
	if err != nil {
		return VersionClause{}, fmt.Errorf("bad version clause %q: %w", text, err)
	}
	return VersionClause{Op: OpEq, Version: v}, nil
}

func applySelectors(s *NamelessMatchSpec, bracket, raw string) error {
	for _, kv := range strings.Split(bracket, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			return newErr(ErrUnknownSelector, raw, "selector missing '=': "+kv)
		}
		key := strings.TrimSpace(kv[:eq])
		val := strings.TrimSpace(kv[eq+1:])
		switch key {
		case "build":
			s.Build = val
		case "build_number":
			nc, err := parseNumberClause(val)
			if err != nil {
				return fmt.Errorf("matchspec %q: %w", raw, err)
			}
			s.BuildNumber = &nc
		case "fn":
			s.FileName = val
		case "channel":
			s.Channel = val
		case "subdir":
			s.Subdir = val
		case "md5":
			if len(val) != 32 {
				return newErr(ErrInvalidHash, raw, "md5 must be 32 hex chars")
			}
			s.MD5 = val
		case "sha256":
			if len(val) != 64 {
				return newErr(ErrInvalidHash, raw, "sha256 must be 64 hex chars")
			}
			s.SHA256 = val
		default:
			return newErr(ErrUnknownSelector, raw, "unknown selector key: "+key)
		}
	}
	return nil
}

func parseNumberClause(text string) (NumberClause, error) {
	for _, cand := range operatorsByLength {
		if cand.op == OpCompatible || cand.op == OpGlob {
			continue
		}
		if strings.HasPrefix(text, cand.text) {
			n, err := strconv.ParseInt(strings.TrimSpace(text[len(cand.text):]), 10, 64)
			if err != nil {
				return NumberClause{}, fmt.Errorf("bad build_number %q", text)
			}
			return NumberClause{Op: cand.op, Value: n}, nil
		}
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return NumberClause{}, fmt.Errorf("bad build_number %q", text)
	}
	return NumberClause{Op: OpEq, Value: n}, nil
}

// String renders the match-spec back to parseable text. Render(Parse(s))
// need not equal s byte-for-byte but Parse(Render(s)) must equal s up to
// normalization.
func (s MatchSpec) String() string {
	var b strings.Builder
	if s.Channel != "" {
		b.WriteString(s.Channel)
		b.WriteString("::")
	}
	b.WriteString(s.Name)
	if vs := s.VersionSet.String(); vs != "" {
		b.WriteByte(' ')
		b.WriteString(vs)
	}
	if sel := renderSelectors(s.NamelessMatchSpec); sel != "" {
		b.WriteByte('[')
		b.WriteString(sel)
		b.WriteByte(']')
	}
	return b.String()
}

// String renders the nameless body of a match-spec: its version set plus
// any selectors, without a package name.
func (s NamelessMatchSpec) String() string {
	var b strings.Builder
	if vs := s.VersionSet.String(); vs != "" {
		b.WriteString(vs)
	}
	if sel := renderSelectors(s); sel != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('[')
		b.WriteString(sel)
		b.WriteByte(']')
	}
	return b.String()
}

func (vs VersionSet) String() string {
	alts := make([]string, 0, len(vs))
	for _, alt := range vs {
		clauses := make([]string, 0, len(alt))
		for _, c := range alt {
			if c.Op == OpGlob {
				clauses = append(clauses, c.Glob)
			} else {
				clauses = append(clauses, c.Op.String()+c.Version.String())
			}
		}
		alts = append(alts, strings.Join(clauses, ","))
	}
	return strings.Join(alts, "|")
}

func renderSelectors(s NamelessMatchSpec) string {
	var parts []string
	if s.Build != "" {
		parts = append(parts, "build="+s.Build)
	}
	if s.BuildNumber != nil {
		parts = append(parts, fmt.Sprintf("build_number=%s%d", s.BuildNumber.Op, s.BuildNumber.Value))
	}
	if s.FileName != "" {
		parts = append(parts, "fn="+s.FileName)
	}
	if s.Subdir != "" {
		parts = append(parts, "subdir="+s.Subdir)
	}
	if s.MD5 != "" {
		parts = append(parts, "md5="+s.MD5)
	}
	if s.SHA256 != "" {
		parts = append(parts, "sha256="+s.SHA256)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
