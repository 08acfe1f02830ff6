// Package version carries build metadata stamped in with -ldflags -X.
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build metadata for the start-up log line.
func String() string {
	return fmt.Sprintf("canfd-gateway %s (%s, built %s)", Version, GitSHA, BuildTime)
}
