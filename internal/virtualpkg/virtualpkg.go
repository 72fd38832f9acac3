// Package virtualpkg does best-effort detection of the synthetic
// "virtual package" facts (OS, CPU architecture, libc, CUDA driver) that
// the solver treats as candidates nothing can install but that can still
// satisfy a dependency.
package virtualpkg

import (
	"bufio"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mamba-org/rattler/internal/repodata"
)

// Detect probes the current host and returns every virtual package it was
// able to determine. A failed individual probe just omits that package;
// Detect never returns an error.
func Detect() []repodata.PackageRecord {
	var records []repodata.PackageRecord

	if rec, ok := detectOS(); ok {
		records = append(records, rec)
	}
	if rec, ok := detectArchspec(); ok {
		records = append(records, rec)
	}
	if rec, ok := detectGlibc(); ok {
		records = append(records, rec)
	}
	if rec, ok := detectCUDA(); ok {
		records = append(records, rec)
	}
	records = append(records, unixOrWin()...)

	return records
}

func virtualRecord(name, version string) repodata.PackageRecord {
	return repodata.PackageRecord{
		Name:        name,
		Version:     version,
		BuildString: "0",
		Subdir:      platformSubdir(),
		FileName:    name + "-" + version + "-0.tar.bz2",
	}
}

func platformSubdir() string {
	arch := runtime.GOARCH
	switch runtime.GOOS {
	case "linux":
		switch arch {
		case "amd64":
			return "linux-64"
		case "arm64":
			return "linux-aarch64"
		default:
			return "linux-" + arch
		}
	case "darwin":
		if arch == "arm64" {
			return "osx-arm64"
		}
		return "osx-64"
	case "windows":
		return "win-64"
	default:
		return "noarch"
	}
}

func detectOS() (repodata.PackageRecord, bool) {
	switch runtime.GOOS {
	case "linux":
		return virtualRecord("__linux", linuxKernelVersion()), true
	case "darwin":
		return virtualRecord("__osx", darwinVersion()), true
	case "windows":
		return virtualRecord("__win", "0"), true
	default:
		return repodata.PackageRecord{}, false
	}
}

func linuxKernelVersion() string {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return "0"
	}
	v := strings.TrimSpace(string(out))
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return "0"
	}
	return v
}

func darwinVersion() string {
	out, err := exec.Command("sw_vers", "-productVersion").Output()
	if err != nil {
		return "0"
	}
	v := strings.TrimSpace(string(out))
	if v == "" {
		return "0"
	}
	return v
}

func detectArchspec() (repodata.PackageRecord, bool) {
	// Best effort: conda's __archspec carries a microarchitecture level
	// as a build string; without a CPUID probe library in scope, report
	// the bare machine architecture only.
	arch := runtime.GOARCH
	if arch == "" {
		return repodata.PackageRecord{}, false
	}
	rec := virtualRecord("__archspec", "1")
	rec.BuildString = arch
	return rec, true
}

func detectGlibc() (repodata.PackageRecord, bool) {
	if runtime.GOOS != "linux" {
		return repodata.PackageRecord{}, false
	}
	out, err := exec.Command("getconf", "GNU_LIBC_VERSION").Output()
	if err != nil {
		return repodata.PackageRecord{}, false
	}
	// Expected form: "glibc 2.35"
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return repodata.PackageRecord{}, false
	}
	return virtualRecord("__glibc", fields[1]), true
}

func detectCUDA() (repodata.PackageRecord, bool) {
	f, err := os.Open("/proc/driver/nvidia/version")
	if err != nil {
		return repodata.PackageRecord{}, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "Kernel Module")
		if idx < 0 {
			continue
		}
		fields := strings.Fields(line[idx:])
		if len(fields) >= 3 {
			return virtualRecord("__cuda", fields[2]), true
		}
	}
	return repodata.PackageRecord{}, false
}

func unixOrWin() []repodata.PackageRecord {
	if runtime.GOOS == "windows" {
		return nil
	}
	return []repodata.PackageRecord{virtualRecord("__unix", "0")}
}
