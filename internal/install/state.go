package install

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mamba-org/rattler/internal/repodata"
)

// ReadState loads every installed package's PrefixRecord from
// <prefixDir>/conda-meta, returning an empty (not nil) slice for a prefix
// that doesn't exist yet or has never had a package linked into it.
func ReadState(prefixDir string) ([]repodata.PrefixRecord, error) {
	metaDir := filepath.Join(prefixDir, "conda-meta")
	entries, err := os.ReadDir(metaDir)
	if os.IsNotExist(err) {
		return []repodata.PrefixRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("install: reading %s: %w", metaDir, err)
	}

	records := make([]repodata.PrefixRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(metaDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("install: reading %s: %w", e.Name(), err)
		}
		var rec repodata.PrefixRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("install: parsing %s: %w", e.Name(), err)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}
