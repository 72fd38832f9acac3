package solver

import "fmt"

// UnsatisfiableError carries a rendered conflict tree rooted at the
// requirements that could not be satisfied simultaneously.
type UnsatisfiableError struct {
	Report string
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("solver: unsatisfiable:\n%s", e.Report)
}

// CancelledError is returned when the configured deadline fires before a
// decision could be reached.
type CancelledError struct{}

func (e *CancelledError) Error() string { return "solver: cancelled" }

// DuplicateRecordsError fires when two records in one channel share the
// same normalized name, version, build string and subdir after the
// .conda/.tar.bz2 deduplication (for example under different file names).
type DuplicateRecordsError struct {
	Name, Subdir string
}

func (e *DuplicateRecordsError) Error() string {
	return fmt.Sprintf("solver: duplicate records for %s in %s", e.Name, e.Subdir)
}
