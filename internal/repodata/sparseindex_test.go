package repodata

import "testing"

const sampleRepodata = `{
  "packages": {
    "numpy-1.24.0-py310h1.tar.bz2": {"name": "numpy", "version": "1.24.0", "build": "py310h1", "build_number": 0, "depends": ["python >=3.10"]}
  },
  "packages.conda": {
    "numpy-1.24.0-py310h1.conda": {"name": "numpy", "version": "1.24.0", "build": "py310h1", "build_number": 0, "depends": ["python >=3.10"], "sha256": "abc123"},
    "scipy-1.10.0-py310h2.conda": {"name": "scipy", "version": "1.10.0", "build": "py310h2", "build_number": 0, "depends": ["numpy >=1.20"]}
  }
}`

func TestSparseIndexLoadRecords(t *testing.T) {
	idx, err := BuildSparseIndex("linux-64", []byte(sampleRepodata))
	if err != nil {
		t.Fatalf("BuildSparseIndex: %v", err)
	}

	numpy, err := idx.LoadRecords("numpy")
	if err != nil {
		t.Fatalf("LoadRecords(numpy): %v", err)
	}
	if len(numpy) != 1 {
		t.Fatalf("expected dedup to leave exactly 1 numpy record, got %d", len(numpy))
	}
	if !IsConda(numpy[0].FileName) {
		t.Fatalf("expected the .conda variant to win dedup, got %s", numpy[0].FileName)
	}
	if numpy[0].SHA256 != "abc123" {
		t.Fatalf("expected SHA256 to be decoded from the .conda span")
	}

	scipy, err := idx.LoadRecords("scipy")
	if err != nil {
		t.Fatalf("LoadRecords(scipy): %v", err)
	}
	if len(scipy) != 1 || scipy[0].Name != "scipy" {
		t.Fatalf("unexpected scipy records: %+v", scipy)
	}

	missing, err := idx.LoadRecords("does-not-exist")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for a missing name, got %v, %v", missing, err)
	}
}

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"NumPy":     "numpy",
		"py_test":   "py-test",
		"py.test":   "py-test",
		"Already-Ok": "already-ok",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDependencyName(t *testing.T) {
	if got := DependencyName("numpy >=1.20"); got != "numpy" {
		t.Errorf("DependencyName = %q, want numpy", got)
	}
	if got := DependencyName("numpy"); got != "numpy" {
		t.Errorf("DependencyName = %q, want numpy", got)
	}
}
