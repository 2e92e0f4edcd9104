// Package version carries the build metadata the release pipeline stamps
// into every zarzoom-core binary via -ldflags -X.
package version

import "runtime"

// Defaults describe a local, unstamped build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// GoVersion reports the toolchain this binary was compiled with.
func GoVersion() string { return runtime.Version() }
