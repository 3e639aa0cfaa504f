// Package version exposes build-time version metadata.
package version

import "runtime"

// Set at build time via -ldflags "-X github.com/sagaflow/sagaflow/pkg/version.Version=...".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
	GoVersion = runtime.Version()
)

// Info returns the build metadata as a flat map for health endpoints
// and startup logs.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
		"go_version": GoVersion,
	}
}
