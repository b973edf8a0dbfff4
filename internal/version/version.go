// Package version carries the build identity stamped into the binary.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set via ldflags at build time:
//
//	-X github.com/fyrsmithlabs/recalld/internal/version.Version=v0.3.0
//	-X github.com/fyrsmithlabs/recalld/internal/version.Commit=$(git rev-parse --short HEAD)
//	-X github.com/fyrsmithlabs/recalld/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the get_version payload. NeedsRebuild is present only when
// the caller supplied a commit to compare against.
type Info struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	BuildDate    string `json:"build_date"`
	GoVersion    string `json:"go_version"`
	NeedsRebuild *bool  `json:"needs_rebuild,omitempty"`
}

// Get reports the build identity. A non-empty expectedCommit, typically
// the caller's local HEAD, also answers whether the running binary was
// built from a different commit.
func Get(expectedCommit string) Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		BuildDate: Date,
		GoVersion: runtime.Version(),
	}
	if expectedCommit = strings.TrimSpace(expectedCommit); expectedCommit != "" {
		needs := !sameCommit(Commit, expectedCommit)
		info.NeedsRebuild = &needs
	}
	return info
}

// String is the one-line form the version subcommand prints.
func String() string {
	return fmt.Sprintf("recalld %s (commit %s, built %s, %s)", Version, Commit, Date, runtime.Version())
}

// sameCommit compares prefix-wise so the short hash stamped at build
// time matches a full local HEAD. A binary built without a commit never
// matches; the honest answer is that a rebuild is needed.
func sameCommit(built, expected string) bool {
	if built == "" || built == "unknown" {
		return false
	}
	built, expected = strings.ToLower(built), strings.ToLower(expected)
	if len(built) > len(expected) {
		return strings.HasPrefix(built, expected)
	}
	return strings.HasPrefix(expected, built)
}
