package clobber

import "testing"

func TestRegisterPathsFirstWriterOwns(t *testing.T) {
	r := New()
	renames := r.RegisterPaths("alpha", []string{"bin/tool", "share/doc.txt"})
	if len(renames) != 0 {
		t.Fatalf("first writer should own its paths outright, got renames %+v", renames)
	}
	owner, ok := r.Owner("bin/tool")
	if !ok || r.PackageName(owner) != "alpha" {
		t.Fatalf("expected alpha to own bin/tool, owner=%d ok=%v", owner, ok)
	}
}

func TestRegisterPathsSelfClobberSkipped(t *testing.T) {
	r := New()
	r.RegisterPaths("alpha", []string{"bin/tool"})
	renames := r.RegisterPaths("alpha", []string{"bin/tool"})
	if len(renames) != 0 {
		t.Fatalf("re-registering a path a package already owns must not produce a rename, got %+v", renames)
	}
	if len(r.Clobbers("bin/tool")) != 1 {
		t.Fatalf("self-clobber must not grow the clobber list, got %v", r.Clobbers("bin/tool"))
	}
}

// TestRegisterPathsThreeWayClobber covers scenario S1: three packages all
// write clobber.txt. Registration order determines the displaced-variant
// naming; arbitration of who ultimately wins is the install driver's job.
func TestRegisterPathsThreeWayClobber(t *testing.T) {
	r := New()
	r.RegisterPaths("alpha", []string{"clobber.txt"})
	renamesBeta := r.RegisterPaths("beta", []string{"clobber.txt"})
	renamesGamma := r.RegisterPaths("gamma", []string{"clobber.txt"})

	if len(renamesBeta) != 1 || renamesBeta[0].To != "clobber.txt__clobber-from-beta" {
		t.Fatalf("expected beta's write parked as a clobber variant, got %+v", renamesBeta)
	}
	if len(renamesGamma) != 1 || renamesGamma[0].To != "clobber.txt__clobber-from-gamma" {
		t.Fatalf("expected gamma's write parked as a clobber variant, got %+v", renamesGamma)
	}

	idxs := r.Clobbers("clobber.txt")
	if len(idxs) != 3 {
		t.Fatalf("expected all three packages recorded against clobber.txt, got %v", idxs)
	}
	names := []string{r.PackageName(idxs[0]), r.PackageName(idxs[1]), r.PackageName(idxs[2])}
	if names[0] != "alpha" || names[1] != "beta" || names[2] != "gamma" {
		t.Fatalf("expected registration order alpha,beta,gamma, got %v", names)
	}

	owner, _ := r.Owner("clobber.txt")
	if r.PackageName(owner) != "alpha" {
		t.Fatalf("expected alpha to remain the nominal owner until post-process runs, got %s", r.PackageName(owner))
	}
}

// TestRegisterPathsDeterministic covers property 4: running the same
// sequence of registrations twice against independent registries produces
// identical clobber orderings.
func TestRegisterPathsDeterministic(t *testing.T) {
	run := func() []int {
		r := New()
		r.RegisterPaths("alpha", []string{"clobber.txt"})
		r.RegisterPaths("beta", []string{"clobber.txt"})
		r.RegisterPaths("gamma", []string{"clobber.txt"})
		return r.Clobbers("clobber.txt")
	}
	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("non-deterministic clobber list lengths: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("non-deterministic clobber ordering at %d: %v vs %v", i, first, second)
		}
	}
}
