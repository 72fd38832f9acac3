package install

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mamba-org/rattler/internal/repodata"
	"github.com/mamba-org/rattler/internal/transaction"
)

// clobberLinker is a Linker whose every package writes a single file,
// clobber.txt, with contents equal to the package's name followed by a
// newline. It never touches a network or cache, so the driver's
// resolve-then-place ordering is exercised against real files on disk.
type clobberLinker struct{}

func (clobberLinker) ResolvePaths(rec repodata.RepoDataRecord) ([]string, error) {
	return []string{"clobber.txt"}, nil
}

func (clobberLinker) Place(prefixDir string, rec repodata.RepoDataRecord, renames map[string]string) error {
	dest := "clobber.txt"
	if to, ok := renames[dest]; ok {
		dest = to
	}
	return os.WriteFile(filepath.Join(prefixDir, dest), []byte(rec.Name+"\n"), 0o644)
}

func clobberRec(name string) repodata.RepoDataRecord {
	return repodata.RepoDataRecord{
		PackageRecord: repodata.PackageRecord{Name: name, Version: "1.0", BuildString: "0", Subdir: "linux-64"},
	}
}

func readFile(t *testing.T, prefixDir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(prefixDir, rel))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func mustExist(t *testing.T, prefixDir, rel string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(prefixDir, rel)); err != nil {
		t.Fatalf("expected %s to exist: %v", rel, err)
	}
}

func mustNotExist(t *testing.T, prefixDir, rel string) {
	t.Helper()
	if _, err := os.Stat(filepath.Join(prefixDir, rel)); err == nil {
		t.Fatalf("expected %s not to exist", rel)
	}
}

func installOp(name string) transaction.Operation {
	rec := clobberRec(name)
	return transaction.Operation{Kind: transaction.OpInstall, Name: name, New: &rec}
}

// unchanged mirrors cmd/rattler's unchangedRecords: the subset of installed
// untouched by ops, so PostProcess always sees the prefix's complete
// post-transaction package set.
func unchanged(installed []repodata.PrefixRecord, ops []transaction.Operation) []repodata.PrefixRecord {
	touched := make(map[string]bool, len(ops))
	for _, op := range ops {
		touched[op.Name] = true
	}
	out := make([]repodata.PrefixRecord, 0, len(installed))
	for _, rec := range installed {
		if !touched[rec.Name] {
			out = append(out, rec)
		}
	}
	return out
}

func byName(records []repodata.PrefixRecord, name string) repodata.PrefixRecord {
	for _, r := range records {
		if r.Name == name {
			return r
		}
	}
	return repodata.PrefixRecord{}
}

// TestClobberResolutionPermutations covers scenario S1: three packages all
// write clobber.txt. Execute re-sorts by name before registering, so the
// outcome must be identical no matter what order the operations are
// submitted in.
func TestClobberResolutionPermutations(t *testing.T) {
	permutations := [][]string{
		{"clobber-1", "clobber-2", "clobber-3"},
		{"clobber-1", "clobber-3", "clobber-2"},
		{"clobber-2", "clobber-1", "clobber-3"},
		{"clobber-2", "clobber-3", "clobber-1"},
		{"clobber-3", "clobber-1", "clobber-2"},
		{"clobber-3", "clobber-2", "clobber-1"},
	}

	for _, order := range permutations {
		prefixDir := t.TempDir()
		ops := make([]transaction.Operation, len(order))
		for i, name := range order {
			ops[i] = installOp(name)
		}

		driver := NewDriver(prefixDir, nil)
		touched, err := driver.Execute(ops, clobberLinker{})
		if err != nil {
			t.Fatalf("order %v: Execute: %v", order, err)
		}
		final, err := driver.PostProcess(touched)
		if err != nil {
			t.Fatalf("order %v: PostProcess: %v", order, err)
		}

		mustExist(t, prefixDir, "clobber.txt")
		mustExist(t, prefixDir, "clobber.txt__clobber-from-clobber-2")
		mustExist(t, prefixDir, "clobber.txt__clobber-from-clobber-3")
		mustNotExist(t, prefixDir, "clobber.txt__clobber-from-clobber-1")

		if got := readFile(t, prefixDir, "clobber.txt"); got != "clobber-1\n" {
			t.Fatalf("order %v: clobber.txt = %q, want clobber-1", order, got)
		}

		winner := byName(final, "clobber-1")
		if len(winner.Files) != 1 || winner.Files[0] != "clobber.txt" {
			t.Fatalf("order %v: clobber-1 record files = %v", order, winner.Files)
		}
		if winner.PathsData[0].OriginalPath != "" {
			t.Fatalf("order %v: clobber-1 should carry no original_path, got %q", order, winner.PathsData[0].OriginalPath)
		}
	}
}

// TestClobberAfterRemove covers scenario S2: starting from S1's outcome,
// removing clobber-1 promotes clobber-2 to the canonical path.
func TestClobberAfterRemove(t *testing.T) {
	prefixDir := t.TempDir()

	s1ops := []transaction.Operation{installOp("clobber-1"), installOp("clobber-2"), installOp("clobber-3")}
	driver1 := NewDriver(prefixDir, nil)
	touched1, err := driver1.Execute(s1ops, clobberLinker{})
	if err != nil {
		t.Fatalf("S1 Execute: %v", err)
	}
	installed, err := driver1.PostProcess(touched1)
	if err != nil {
		t.Fatalf("S1 PostProcess: %v", err)
	}

	removeOp := transaction.Operation{Kind: transaction.OpRemove, Name: "clobber-1", Old: ref(byName(installed, "clobber-1"))}
	ops := []transaction.Operation{removeOp}

	driver2 := NewDriver(prefixDir, installed)
	touched2, err := driver2.Execute(ops, clobberLinker{})
	if err != nil {
		t.Fatalf("S2 Execute: %v", err)
	}

	final := unchanged(installed, ops)
	final = append(final, touched2...)
	final, err = driver2.PostProcess(final)
	if err != nil {
		t.Fatalf("S2 PostProcess: %v", err)
	}

	mustNotExist(t, prefixDir, "clobber.txt__clobber-from-clobber-2")
	mustExist(t, prefixDir, "clobber.txt__clobber-from-clobber-3")
	if got := readFile(t, prefixDir, "clobber.txt"); got != "clobber-2\n" {
		t.Fatalf("clobber.txt = %q, want clobber-2", got)
	}

	winner := byName(final, "clobber-2")
	if len(winner.Files) != 1 || winner.Files[0] != "clobber.txt" || winner.PathsData[0].OriginalPath != "" {
		t.Fatalf("clobber-2 record = %+v", winner)
	}
	loser := byName(final, "clobber-3")
	if len(loser.Files) != 1 || loser.Files[0] != "clobber.txt__clobber-from-clobber-3" {
		t.Fatalf("clobber-3 record = %+v", loser)
	}
	if loser.PathsData[0].OriginalPath != "clobber.txt" {
		t.Fatalf("clobber-3 original_path = %q, want clobber.txt", loser.PathsData[0].OriginalPath)
	}
}

// TestClobberUnderUpdate covers scenario S3: updating the winning package
// in place leaves the clobbered file set unchanged.
func TestClobberUnderUpdate(t *testing.T) {
	prefixDir := t.TempDir()

	s1ops := []transaction.Operation{installOp("clobber-1"), installOp("clobber-2"), installOp("clobber-3")}
	driver1 := NewDriver(prefixDir, nil)
	touched1, err := driver1.Execute(s1ops, clobberLinker{})
	if err != nil {
		t.Fatalf("S1 Execute: %v", err)
	}
	installed, err := driver1.PostProcess(touched1)
	if err != nil {
		t.Fatalf("S1 PostProcess: %v", err)
	}

	newRec := clobberRec("clobber-1")
	newRec.Version = "2.0"
	changeOp := transaction.Operation{Kind: transaction.OpChange, Name: "clobber-1", Old: ref(byName(installed, "clobber-1")), New: &newRec}
	ops := []transaction.Operation{changeOp}

	driver2 := NewDriver(prefixDir, installed)
	touched2, err := driver2.Execute(ops, updateLinker{})
	if err != nil {
		t.Fatalf("S3 Execute: %v", err)
	}

	final := unchanged(installed, ops)
	final = append(final, touched2...)
	final, err = driver2.PostProcess(final)
	if err != nil {
		t.Fatalf("S3 PostProcess: %v", err)
	}

	mustExist(t, prefixDir, "clobber.txt")
	mustExist(t, prefixDir, "clobber.txt__clobber-from-clobber-2")
	mustExist(t, prefixDir, "clobber.txt__clobber-from-clobber-3")
	if got := readFile(t, prefixDir, "clobber.txt"); got != "clobber-1 v2\n" {
		t.Fatalf("clobber.txt = %q, want clobber-1 v2", got)
	}

	winner := byName(final, "clobber-1")
	if len(winner.Files) != 1 || winner.Files[0] != "clobber.txt" || winner.PathsData[0].OriginalPath != "" {
		t.Fatalf("clobber-1 record = %+v", winner)
	}
}

// updateLinker is clobberLinker except it writes "<name> v2" for
// clobber-1's second version, distinguishing the update's content from the
// original install without needing a second package name.
type updateLinker struct{}

func (updateLinker) ResolvePaths(rec repodata.RepoDataRecord) ([]string, error) {
	return []string{"clobber.txt"}, nil
}

func (updateLinker) Place(prefixDir string, rec repodata.RepoDataRecord, renames map[string]string) error {
	dest := "clobber.txt"
	if to, ok := renames[dest]; ok {
		dest = to
	}
	content := rec.Name + "\n"
	if rec.Version == "2.0" {
		content = rec.Name + " v2\n"
	}
	return os.WriteFile(filepath.Join(prefixDir, dest), []byte(content), 0o644)
}

func ref(r repodata.PrefixRecord) *repodata.PrefixRecord { return &r }
