package transaction

import (
	"testing"

	"github.com/mamba-org/rattler/internal/repodata"
)

func prefixRec(name, ver, build string) repodata.PrefixRecord {
	return repodata.PrefixRecord{
		RepoDataRecord: repodata.RepoDataRecord{
			PackageRecord: repodata.PackageRecord{Name: name, Version: ver, BuildString: build, Subdir: "linux-64"},
		},
	}
}

func solvedRec(name, ver, build string) repodata.RepoDataRecord {
	return repodata.RepoDataRecord{
		PackageRecord: repodata.PackageRecord{Name: name, Version: ver, BuildString: build, Subdir: "linux-64"},
	}
}

func TestPlanInstallOnly(t *testing.T) {
	ops := Plan(nil, []repodata.RepoDataRecord{solvedRec("numpy", "1.24.0", "h1")})
	if len(ops) != 1 || ops[0].Kind != OpInstall || ops[0].Name != "numpy" {
		t.Fatalf("expected a single install op, got %+v", ops)
	}
}

func TestPlanRemoveOnly(t *testing.T) {
	ops := Plan([]repodata.PrefixRecord{prefixRec("numpy", "1.24.0", "h1")}, nil)
	if len(ops) != 1 || ops[0].Kind != OpRemove || ops[0].Name != "numpy" {
		t.Fatalf("expected a single remove op, got %+v", ops)
	}
}

func TestPlanChangeWhenVersionDiffers(t *testing.T) {
	ops := Plan(
		[]repodata.PrefixRecord{prefixRec("numpy", "1.24.0", "h1")},
		[]repodata.RepoDataRecord{solvedRec("numpy", "1.25.0", "h1")},
	)
	if len(ops) != 1 || ops[0].Kind != OpChange {
		t.Fatalf("expected a single change op, got %+v", ops)
	}
	if ops[0].Old.Version != "1.24.0" || ops[0].New.Version != "1.25.0" {
		t.Fatalf("change op carries wrong records: %+v", ops[0])
	}
}

func TestPlanNoOpWhenIdentical(t *testing.T) {
	ops := Plan(
		[]repodata.PrefixRecord{prefixRec("numpy", "1.24.0", "h1")},
		[]repodata.RepoDataRecord{solvedRec("numpy", "1.24.0", "h1")},
	)
	if !IsEmpty(ops) {
		t.Fatalf("expected no operations when installed matches solved, got %+v", ops)
	}
}

// TestPlanCanonicalOrder covers property 8's canonical-order half: removes
// before changes before installs, regardless of map iteration order.
func TestPlanCanonicalOrder(t *testing.T) {
	installed := []repodata.PrefixRecord{
		prefixRec("removeme", "1.0", "h1"),
		prefixRec("changeme", "1.0", "h1"),
	}
	solved := []repodata.RepoDataRecord{
		solvedRec("changeme", "2.0", "h1"),
		solvedRec("installme", "1.0", "h1"),
	}
	ops := Plan(installed, solved)
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d: %+v", len(ops), ops)
	}
	if ops[0].Kind != OpRemove || ops[1].Kind != OpChange || ops[2].Kind != OpInstall {
		t.Fatalf("expected remove, change, install order, got %v, %v, %v", ops[0].Kind, ops[1].Kind, ops[2].Kind)
	}
}

// TestTransactionIdempotence covers property 8: executing a transaction
// (simulated here by applying Plan's intent directly) and re-planning
// against the resulting installed set yields an empty plan.
func TestTransactionIdempotence(t *testing.T) {
	solved := []repodata.RepoDataRecord{solvedRec("numpy", "1.24.0", "h1")}
	installed := []repodata.PrefixRecord{prefixRec("numpy", "1.24.0", "h1")} // result of executing Plan(nil, solved)

	ops := Plan(installed, solved)
	if !IsEmpty(ops) {
		t.Fatalf("expected re-solving against the executed result to be a no-op, got %+v", ops)
	}
}
