// Package version reports the build the server is running.
//
// The commit comes from -ldflags when set, else from the VCS stamp in
// debug.BuildInfo, else "dev". A build from a modified tree gets a "-dirty"
// suffix.
package version

import "runtime/debug"

// AppName prefixes the version string.
const AppName = "agentrun"

// commitOverride is set with -ldflags "-X .../pkg/version.commitOverride=<sha>"
// for builds made without .git.
var commitOverride string

// GitCommit is the short commit hash of the running build.
var GitCommit = resolveCommit(commitOverride, readSettings())

func readSettings() map[string]string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	return settings
}

func resolveCommit(override string, settings map[string]string) string {
	if override != "" {
		return short(override)
	}
	rev := settings["vcs.revision"]
	if rev == "" {
		return "dev"
	}
	if settings["vcs.modified"] == "true" {
		return short(rev) + "-dirty"
	}
	return short(rev)
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "agentrun/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
