package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the release of polypack, set with -ldflags "-X .../version.Version=...".
	Version = ""
	// Commit is the short git SHA embedded at build time.
	Commit = ""
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = ""
)

// develVersion is reported by builds that carry neither ldflags nor module info.
const develVersion = "0.0.0-devel"

// Short returns the release: the ldflags value, else the module version
// recorded by `go install`, else develVersion.
func Short() string {
	if Version != "" {
		return Version
	}

	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return develVersion
}

// Full returns the release with commit, build time and the toolchain.
func Full() string {
	commit, built := Commit, BuildTime

	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			switch {
			case setting.Key == "vcs.revision" && commit == "":
				commit = shorten(setting.Value)
			case setting.Key == "vcs.time" && built == "":
				built = setting.Value
			}
		}
	}

	if commit == "" {
		commit = "none"
	}

	if built == "" {
		built = "unknown"
	}

	return fmt.Sprintf("polypack %s (commit %s, built %s, %s %s/%s)",
		Short(), commit, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent with every request to an update host.
func UserAgent() string {
	return "polypack/" + Short()
}

func shorten(revision string) string {
	const shortRevision = 12
	if len(revision) > shortRevision {
		return revision[:shortRevision]
	}

	return revision
}
