// Package version carries build metadata stamped in with -ldflags -X.
package version

var (
	// Version is the release tag of the posefusion build.
	Version = "dev"
	// GitSHA is the commit the binaries were built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)
