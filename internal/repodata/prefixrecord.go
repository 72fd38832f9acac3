package repodata

// PathEntry describes one file a package contributed to a prefix.
// OriginalPath, when non-empty, is the clobber-suffixed name this file
// occupied before post-process promoted or displaced it.
type PathEntry struct {
	RelativePath string `json:"relative_path"`
	OriginalPath string `json:"original_path,omitempty"`
}

// PrefixRecord is a RepoDataRecord plus the realized on-disk state of an
// installed package: one JSON file per package lives at
// <prefix>/conda-meta/<name>-<version>-<build>.json.
type PrefixRecord struct {
	RepoDataRecord
	Files     []string    `json:"files"`
	PathsData []PathEntry `json:"paths_data"`
}

// MetaFileName returns the conda-meta/ basename for this record.
func (p PrefixRecord) MetaFileName() string {
	return p.Name + "-" + p.Version + "-" + p.BuildString + ".json"
}
