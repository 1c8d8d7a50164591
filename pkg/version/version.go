// Package version identifies the build a running binary was cut from.
// The commit hash comes from an -ldflags override when one was injected,
// falls back to the VCS stamp Go embeds in module builds, and degrades to
// "dev" for go test runs and builds from an exported tree.
package version

import "runtime/debug"

// AppName prefixes version strings in health payloads, log lines, and the
// outbound provider User-Agent.
const AppName = "loom"

// commitOverride is injected with
// -ldflags "-X .../pkg/version.commitOverride=<hash>" by container builds
// that have no .git directory to stamp from.
var commitOverride string

const shortHashLen = 8

// Commit is the short hash identifying this build, or "dev" when no
// build metadata is available.
var Commit = resolveCommit()

func resolveCommit() string {
	if commitOverride != "" {
		return shortHash(commitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return shortHash(setting.Value)
		}
	}
	return "dev"
}

func shortHash(rev string) string {
	if len(rev) > shortHashLen {
		return rev[:shortHashLen]
	}
	return rev
}

// Full renders "loom/<commit>" for the health payload and startup log.
func Full() string { return AppName + "/" + Commit }
