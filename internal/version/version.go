// Package version carries build metadata stamped in with -ldflags.
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

// UserAgent is the User-Agent sent with uploads.
func UserAgent() string {
	return "motion.report/" + Version
}

// String summarises the build for startup logs.
func String() string {
	return fmt.Sprintf("motion.report %s (%s, built %s)", Version, GitSHA, BuildTime)
}
