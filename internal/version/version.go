// Package version holds the build version of redis-to-cluster.
package version

import "fmt"

// Version is set at build time:
//
//	go build -ldflags "-X github.com/eager/redis-to-cluster/internal/version.Version=1.2.0"
var Version = "dev"

// Commit is the VCS revision, set the same way as Version.
var Commit = "unknown"

// String returns the version line printed by --version.
func String() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
