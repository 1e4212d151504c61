// Package version derives the build identity stamped into logs, health
// responses, and telemetry resource attributes.
package version

import "runtime/debug"

// AppName identifies this binary in version strings and service metadata.
const AppName = "parley"

// commitOverride may be injected with -ldflags for builds that lack VCS
// stamping (container builds from a source tarball).
var commitOverride string

// GitCommit is the abbreviated commit this binary was built from. A
// locally modified tree gets a "+dirty" suffix; builds without VCS
// metadata (go test, tarball builds with no override) report "dev".
var GitCommit = resolve()

func resolve() string {
	if commitOverride != "" {
		return abbrev(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var rev string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if rev == "" {
		return "dev"
	}
	if dirty {
		return abbrev(rev) + "+dirty"
	}
	return abbrev(rev)
}

func abbrev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "parley/<commit>", suitable for user-agent strings.
func Full() string {
	return AppName + "/" + GitCommit
}
