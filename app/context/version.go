package context

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// VersionInfo holds build information about the running binary.
type VersionInfo struct {
	Semantic  string
	Commit    string
	Dirty     bool
	GoVersion string
}

// String returns the version in "v1.2.3 (abc1234-dirty, go1.24.2)" format.
func (v *VersionInfo) String() string {
	if v == nil {
		return "unknown"
	}

	commit := v.Commit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if v.Dirty {
		commit += "-dirty"
	}

	var meta []string
	if commit != "" {
		meta = append(meta, commit)
	}
	if v.GoVersion != "" {
		meta = append(meta, v.GoVersion)
	}
	if len(meta) == 0 {
		return v.Semantic
	}

	return fmt.Sprintf("%s (%s)", v.Semantic, strings.Join(meta, ", "))
}

// GetVersion extracts the version from the build information embedded in the
// binary. It returns a placeholder version if the information is unavailable,
// e.g. when running tests.
func GetVersion() *VersionInfo {
	v := &VersionInfo{Semantic: "(devel)"}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}

	if info.Main.Version != "" {
		v.Semantic = info.Main.Version
	}
	v.GoVersion = info.GoVersion
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Commit = s.Value
		case "vcs.modified":
			v.Dirty = s.Value == "true"
		}
	}

	return v
}
