// Package version holds build-time version information injected via ldflags.
package version

// Set at build time:
//
//	go build -ldflags "-X .../internal/version.Version=v1.2.3 -X .../internal/version.Commit=abc1234"
var (
	// Version is the semantic version of the build.
	Version = "dev"
	// Commit is the git commit hash of the build.
	Commit = "unknown"
)
