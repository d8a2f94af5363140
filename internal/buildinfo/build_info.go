// Package buildinfo describes the build of the dbsp command.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// BuildInfo holds all sorts of information about the build of an executable artifact.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
	GoVersion  string
}

// New returns the build info from the linker-set values. A missing commit hash is taken from
// the VCS stamp of the binary, if any.
func New(version, commitHash, buildDate string) BuildInfo {
	i := BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate, GoVersion: runtime.Version()}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && (i.CommitHash == "" || i.CommitHash == "n/a") {
				i.CommitHash = s.Value
			}
		}
	}
	return i
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s with %s", i.Version, i.CommitHash, i.BuildDate, i.GoVersion)
}
